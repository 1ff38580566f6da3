package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-spider/internal/log"
	"github.com/teslashibe/go-spider/pkg/command"
	"github.com/teslashibe/go-spider/pkg/status"
)

// ErrNoURL is returned by Run when no transcript endpoint is configured.
var ErrNoURL = errors.New("voice: no transcript url configured")

// Config configures a Listener.
type Config struct {
	URL        string
	WakePhrase string
	// Header is sent with the WebSocket handshake (e.g. Authorization).
	Header http.Header

	HandshakeTimeout time.Duration
	MinBackoff       time.Duration
	MaxBackoff       time.Duration
	Logger           *slog.Logger
}

// HealthSink receives connection health.
type HealthSink interface {
	SetHealth(component string, health status.Health, detail string)
}

// Listener reads transcripts and emits wake-phrase commands.
type Listener struct {
	cfg    Config
	health HealthSink
	log    *slog.Logger
	stats  counters
}

// NewListener returns a listener. Zero fields in cfg take defaults.
func NewListener(cfg Config) *Listener {
	if cfg.WakePhrase == "" {
		cfg.WakePhrase = DefaultWakePhrase
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &Listener{cfg: cfg, log: log.Or(cfg.Logger).With("component", "voice")}
}

// SetHealthSink reports connection state to s.
func (l *Listener) SetHealthSink(s HealthSink) { l.health = s }

// Stats returns the listener counters.
func (l *Listener) Stats() Stats { return l.stats.snapshot() }

type frame struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Final *bool  `json:"final"`
}

// Run dials the transcript stream and forwards commands to out until
// ctx is done. Connection failures are retried with exponential
// backoff.
func (l *Listener) Run(ctx context.Context, out chan<- command.Input) error {
	if l.cfg.URL == "" {
		return ErrNoURL
	}
	backoff := l.cfg.MinBackoff
	for {
		started := time.Now()
		err := l.session(ctx, out)
		l.stats.connected.Store(false)
		if ctx.Err() != nil {
			return nil
		}
		l.setHealth(status.Degraded, err.Error())
		l.log.Warn("transcript stream lost", "error", err, "retry_in", backoff)

		// a session that stayed up for a while resets the backoff
		if time.Since(started) > l.cfg.MaxBackoff {
			backoff = l.cfg.MinBackoff
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		l.stats.reconnects.Add(1)
		backoff = min(backoff*2, l.cfg.MaxBackoff)
	}
}

func (l *Listener) session(ctx context.Context, out chan<- command.Input) error {
	dialer := websocket.Dialer{HandshakeTimeout: l.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, l.cfg.URL, l.cfg.Header)
	if err != nil {
		return fmt.Errorf("voice: dial: %w", err)
	}
	defer conn.Close()

	l.stats.connected.Store(true)
	l.setHealth(status.Healthy, "")
	l.log.Info("transcript stream connected", "url", l.cfg.URL)

	// unblock ReadMessage on shutdown
	stop := context.AfterFunc(ctx, func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("voice: read: %w", err)
		}
		text, ok := decodeFrame(msg)
		if !ok {
			continue
		}
		in, ok := l.handle(text)
		if !ok {
			continue
		}
		select {
		case out <- in:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// decodeFrame returns the final transcript text in msg.
func decodeFrame(msg []byte) (string, bool) {
	trimmed := strings.TrimSpace(string(msg))
	if trimmed == "" {
		return "", false
	}
	if !strings.HasPrefix(trimmed, "{") {
		return trimmed, true
	}
	var f frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return "", false
	}
	if f.Type != "" && f.Type != "transcript" {
		return "", false
	}
	if f.Final != nil && !*f.Final {
		return "", false
	}
	return f.Text, strings.TrimSpace(f.Text) != ""
}

// handle applies the wake phrase to one transcript.
func (l *Listener) handle(text string) (command.Input, bool) {
	l.stats.heard.Add(1)
	l.stats.lastHeard.Store(time.Now().UnixNano())

	cmd, ok := extract(text, l.cfg.WakePhrase)
	switch {
	case !ok:
		l.log.Debug("ignored transcript", "text", text)
		return command.Input{}, false
	case cmd == "":
		l.stats.falsePositives.Add(1)
		l.log.Info("wake phrase without command")
		return command.Input{}, false
	}
	l.stats.commands.Add(1)
	l.log.Info("voice command", "text", cmd)
	return command.Input{Text: cmd, Source: command.SourceVoice}, true
}

func (l *Listener) setHealth(h status.Health, detail string) {
	if l.health != nil {
		l.health.SetHealth(status.Voice, h, detail)
	}
}
