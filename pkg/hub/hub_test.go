package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-spider/internal/log"
)

// fakeConn records writes; ReadMessage blocks until Close.
type fakeConn struct {
	mu     sync.Mutex
	writes [][]byte
	kinds  []int
	closed chan struct{}
	once   sync.Once
	wrote  chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{closed: make(chan struct{}), wrote: make(chan struct{}, 16)}
}

func (f *fakeConn) SetReadLimit(int64)                {}
func (f *fakeConn) SetReadDeadline(time.Time) error   { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error  { return nil }
func (f *fakeConn) SetPongHandler(func(string) error) {}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	<-f.closed
	return 0, nil, errors.New("closed")
}

func (f *fakeConn) WriteMessage(kind int, data []byte) error {
	f.mu.Lock()
	f.kinds = append(f.kinds, kind)
	f.writes = append(f.writes, append([]byte(nil), data...))
	f.mu.Unlock()
	select {
	case f.wrote <- struct{}{}:
	default:
	}
	return nil
}

func (f *fakeConn) last() (int, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		return -1, ""
	}
	return f.kinds[len(f.kinds)-1], string(f.writes[len(f.writes)-1])
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_Broadcast(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := New("status", log.Discard())
	go h.Run(ctx)

	a, b := newFakeConn(), newFakeConn()
	for _, conn := range []*fakeConn{a, b} {
		c := NewClient(h, conn)
		go c.Run()
	}
	waitFor(t, func() bool { return h.ClientCount() == 2 })

	if err := h.BroadcastJSON(map[string]string{"mode": "idle"}); err != nil {
		t.Fatal(err)
	}
	for _, conn := range []*fakeConn{a, b} {
		<-conn.wrote
		kind, data := conn.last()
		if kind != websocket.TextMessage || data != `{"mode":"idle"}` {
			t.Errorf("write: got (%d, %s)", kind, data)
		}
	}

	h.BroadcastBinary([]byte{0xff, 0xd8})
	<-a.wrote
	if kind, _ := a.last(); kind != websocket.BinaryMessage {
		t.Errorf("binary kind: got %d, want %d", kind, websocket.BinaryMessage)
	}
}

func TestHub_Disconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := New("camera", log.Discard())
	go h.Run(ctx)

	conn := newFakeConn()
	c := NewClient(h, conn)
	done := make(chan struct{})
	go func() {
		c.Run()
		close(done)
	}()
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	conn.Close()
	<-done
	waitFor(t, func() bool { return h.ClientCount() == 0 })
}

func TestHub_StopClosesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := New("status", log.Discard())
	go h.Run(ctx)

	conn := newFakeConn()
	c := NewClient(h, conn)
	done := make(chan struct{})
	go func() {
		c.Run()
		close(done)
	}()
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("client still running after hub stopped")
	}
	if NewClient(h, newFakeConn()) != nil {
		t.Error("NewClient on stopped hub: got client, want nil")
	}
}
