package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-spider/internal/log"
	"github.com/teslashibe/go-spider/pkg/perception"
)

// viewer plays the browser: it offers a "camera" channel and reassembles frames.
type viewer struct {
	pc     *webrtc.PeerConnection
	opened chan struct{}
	frames chan []byte
}

func newViewer(t *testing.T) (*viewer, webrtc.SessionDescription) {
	t.Helper()
	se := webrtc.SettingEngine{}
	se.SetIncludeLoopbackCandidate(true)
	pc, err := webrtc.NewAPI(webrtc.WithSettingEngine(se)).NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pc.Close() })

	v := &viewer{pc: pc, opened: make(chan struct{}), frames: make(chan []byte, 4)}
	dc, err := pc.CreateDataChannel(Label, nil)
	if err != nil {
		t.Fatal(err)
	}
	dc.OnOpen(func() { close(v.opened) })

	var (
		mu  sync.Mutex
		hdr Header
		buf bytes.Buffer
	)
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		mu.Lock()
		defer mu.Unlock()
		if msg.IsString {
			json.Unmarshal(msg.Data, &hdr)
			buf.Reset()
			return
		}
		buf.Write(msg.Data)
		if buf.Len() == hdr.Size {
			v.frames <- append([]byte(nil), buf.Bytes()...)
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.Fatal(err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		t.Fatal(err)
	}
	<-gathered
	return v, *pc.LocalDescription()
}

func TestRelay_DeliversFrames(t *testing.T) {
	r := NewRelay(WithLogger(log.Discard()))
	defer r.Close()

	v, offer := newViewer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	answer, err := r.Answer(ctx, offer)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if err := v.pc.SetRemoteDescription(answer); err != nil {
		t.Fatal(err)
	}
	select {
	case <-v.opened:
	case <-ctx.Done():
		t.Fatal("data channel never opened")
	}

	// larger than one chunk
	frame := bytes.Repeat([]byte{0xff, 0xd8, 0x42}, chunkSize)
	deadline := time.Now().Add(5 * time.Second)
	for {
		r.Publish(frame)
		select {
		case got := <-v.frames:
			if !bytes.Equal(got, frame) {
				t.Fatalf("frame: got %d bytes, want %d", len(got), len(frame))
			}
			if r.Peers() != 1 || r.Sent() == 0 {
				t.Errorf("peers %d sent %d", r.Peers(), r.Sent())
			}
			return
		case <-time.After(100 * time.Millisecond):
			// the relay side may not have seen OnOpen yet
			if time.Now().After(deadline) {
				t.Fatal("no frame delivered")
			}
		}
	}
}

func TestRelay_RejectsBadOffer(t *testing.T) {
	r := NewRelay(WithLogger(log.Discard()))
	defer r.Close()

	tests := []webrtc.SessionDescription{
		{Type: webrtc.SDPTypeAnswer, SDP: "v=0"},
		{Type: webrtc.SDPTypeOffer},
		{Type: webrtc.SDPTypeOffer, SDP: "not sdp"},
	}
	for _, sd := range tests {
		if _, err := r.Answer(context.Background(), sd); !errors.Is(err, ErrBadOffer) {
			t.Errorf("Answer(%v): got %v, want ErrBadOffer", sd.Type, err)
		}
	}
}

func TestRelay_Closed(t *testing.T) {
	r := NewRelay(WithLogger(log.Discard()))
	r.Close()
	_, err := r.Answer(context.Background(), webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("got %v, want ErrClosed", err)
	}
}

type frameSrc struct {
	mu sync.Mutex
	f  perception.Frame
	ok bool
}

func (s *frameSrc) set(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.f = perception.Frame{JPEG: b, At: time.Now()}
	s.ok = true
}

func (s *frameSrc) LatestFrame() (perception.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f, s.ok
}

func TestPump_ForwardsEachFrameOnce(t *testing.T) {
	src := &frameSrc{}
	got := make(chan string, 8)
	sink := FrameSinkFunc(func(b []byte) { got <- string(b) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Pump(ctx, src, 5*time.Millisecond, sink)

	src.set([]byte("one"))
	if f := <-got; f != "one" {
		t.Fatalf("first: got %q", f)
	}
	time.Sleep(30 * time.Millisecond)
	select {
	case f := <-got:
		t.Fatalf("duplicate frame %q", f)
	default:
	}

	time.Sleep(2 * time.Millisecond)
	src.set([]byte("two"))
	select {
	case f := <-got:
		if f != "two" {
			t.Errorf("second: got %q", f)
		}
	case <-time.After(time.Second):
		t.Fatal("second frame not forwarded")
	}
}
