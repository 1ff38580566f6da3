package voice

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-spider/internal/log"
	"github.com/teslashibe/go-spider/pkg/command"
	"github.com/teslashibe/go-spider/pkg/status"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		text   string
		want   string
		wantOK bool
	}{
		{"Hey Spider walk forward", "walk forward", true},
		{"hey spider, take a photo!", "take a photo", true},
		{"ok hey spider dance", "ok dance", true},
		{"hey spider", "", true},
		{"walk forward", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := extract(tt.text, DefaultWakePhrase)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("extract(%q): got (%q, %v), want (%q, %v)", tt.text, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name   string
		msg    string
		want   string
		wantOK bool
	}{
		{"plain", "hey spider sit", "hey spider sit", true},
		{"final json", `{"type":"transcript","text":"hey spider sit","final":true}`, "hey spider sit", true},
		{"no final flag", `{"text":"hey spider sit"}`, "hey spider sit", true},
		{"partial", `{"type":"transcript","text":"hey spi","final":false}`, "", false},
		{"other type", `{"type":"vad","text":"x"}`, "", false},
		{"bad json", `{"type":`, "", false},
		{"blank", "  ", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := decodeFrame([]byte(tt.msg))
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("got (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

type healthRec struct {
	mu   sync.Mutex
	last status.Health
}

func (h *healthRec) SetHealth(component string, health status.Health, detail string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = health
}

func (h *healthRec) get() status.Health {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// transcriptServer writes frames to every connection then holds it open.
func transcriptServer(t *testing.T, frames ...string) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range frames {
			conn.WriteMessage(websocket.TextMessage, []byte(f))
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestListener_Run(t *testing.T) {
	srv := transcriptServer(t,
		"hey spider walk forward",
		`{"type":"transcript","text":"hey spider","final":true}`,
		`{"type":"transcript","text":"hey spider wa","final":false}`,
		"the weather is nice",
		`{"type":"transcript","text":"Hey Spider take a photo","final":true}`,
	)

	l := NewListener(Config{URL: wsURL(srv), Logger: log.Discard()})
	h := &healthRec{}
	l.SetHealthSink(h)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan command.Input, 4)
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx, out) }()

	want := []string{"walk forward", "take a photo"}
	for _, w := range want {
		select {
		case in := <-out:
			if in.Text != w || in.Source != command.SourceVoice {
				t.Errorf("input: got %+v, want %q from voice", in, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", w)
		}
	}

	st := l.Stats()
	if st.Heard != 4 || st.Commands != 2 || st.FalsePositives != 1 {
		t.Errorf("stats: got %+v", st)
	}
	if !st.Connected || h.get() != status.Healthy {
		t.Errorf("connected: got %v, health %q", st.Connected, h.get())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: got %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestListener_Reconnects(t *testing.T) {
	var (
		mu    sync.Mutex
		dials int
	)
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		dials++
		n := dials
		mu.Unlock()
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if n == 1 {
			// drop the first session immediately
			conn.Close()
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte("hey spider stop"))
		conn.ReadMessage()
		conn.Close()
	}))
	defer srv.Close()

	h := &healthRec{}
	l := NewListener(Config{URL: wsURL(srv), MinBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond, Logger: log.Discard()})
	l.SetHealthSink(h)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	out := make(chan command.Input, 1)
	go l.Run(ctx, out)

	select {
	case in := <-out:
		if in.Text != "stop" {
			t.Errorf("text: got %q, want %q", in.Text, "stop")
		}
	case <-ctx.Done():
		t.Fatal("no command after reconnect")
	}
	if l.Stats().Reconnects < 1 {
		t.Errorf("reconnects: got %d, want >= 1", l.Stats().Reconnects)
	}
}

func TestListener_NoURL(t *testing.T) {
	l := NewListener(Config{Logger: log.Discard()})
	if err := l.Run(context.Background(), make(chan command.Input)); !errors.Is(err, ErrNoURL) {
		t.Errorf("got %v, want ErrNoURL", err)
	}
}
