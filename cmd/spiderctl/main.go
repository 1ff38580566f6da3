// spiderctl watches and drives a running spider from the terminal.
//
//	spiderctl                    live status panel with key bindings
//	spiderctl status             print the panel once
//	spiderctl send walk forward  submit a command
//	spiderctl decisions          list recent outcomes
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	flag "github.com/spf13/pflag"

	"github.com/teslashibe/go-spider/pkg/display"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "spiderctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("spiderctl", flag.ContinueOnError)
	url := fs.StringP("url", "u", envOr("SPIDER_URL", "http://localhost:8080"), "dashboard base URL")
	interval := fs.Duration("interval", 500*time.Millisecond, "status poll interval")
	limit := fs.IntP("limit", "n", 10, "decisions to list")
	readOnly := fs.Bool("read-only", false, "disable key bindings")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c := newClient(*url)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rest := fs.Args()
	if len(rest) == 0 {
		send := display.SendFunc(c.Send)
		if *readOnly {
			send = nil
		}
		_, err := tea.NewProgram(display.NewModel(c.Status, send, *interval), tea.WithAltScreen()).Run()
		return err
	}

	switch rest[0] {
	case "status":
		st, err := c.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Println(display.Panel(st, 0))
	case "send":
		text := strings.Join(rest[1:], " ")
		if text == "" {
			return errors.New("send: command text required")
		}
		resp, err := c.send(ctx, text)
		if err != nil {
			return err
		}
		fmt.Printf("queued %s (%s), %d pending\n", resp.Command, resp.ID, resp.Pending)
	case "decisions":
		out, err := c.Decisions(ctx, *limit)
		if err != nil {
			return err
		}
		for _, o := range out {
			fmt.Printf("%s  %-6s  %s\n", o.At.Format(time.TimeOnly), o.Source, o.Summary())
		}
	default:
		return fmt.Errorf("unknown command %q", rest[0])
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
