// spider runs the quadruped: servos, camera, voice commands, reasoning and
// the web dashboard.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/teslashibe/go-spider/internal/config"
	"github.com/teslashibe/go-spider/internal/log"
	"github.com/teslashibe/go-spider/pkg/spider"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "spider: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.StringP("config", "c", "", "YAML config file (or SPIDER_CONFIG)")
	mock := flag.Bool("mock", false, "simulated servos, camera and reasoning")
	logLevel := flag.String("log-level", "", "debug, info, warn or error")
	addr := flag.String("addr", "", "dashboard listen address, e.g. 0.0.0.0:8080")
	port := flag.IntP("port", "p", 0, "dashboard port; shorthand for --addr :PORT")
	voiceURL := flag.String("voice-url", "", "transcript websocket URL")
	autonomous := flag.Bool("autonomy", false, "think and guard while idle")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	switch {
	case *addr != "":
		cfg.Web.Addr = *addr
	case *port > 0:
		cfg.Web.Addr = fmt.Sprintf(":%d", *port)
	}
	if *voiceURL != "" {
		cfg.Voice.URL = *voiceURL
	}
	if flag.CommandLine.Changed("autonomy") {
		cfg.Autonomy.Enabled = *autonomous
	}
	if *mock {
		cfg.Robot.Driver = "sim"
	}
	log.Init(cfg.Log.Level, cfg.Log.Format)

	var opts []spider.Option
	if *mock {
		opts = append(opts, spider.WithMock())
	}
	app, err := spider.New(cfg, opts...)
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	if err := app.Init(); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer app.Shutdown()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
