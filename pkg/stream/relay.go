// Package stream relays camera frames to browsers over WebRTC data
// channels. The browser sends an SDP offer with a data channel labelled
// "camera"; each frame then arrives as one JSON header followed by
// binary chunks.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-spider/internal/log"
)

// Label is the data channel label the relay serves.
const Label = "camera"

const (
	chunkSize = 16 * 1024
	// frames are skipped for a peer whose send buffer is above this
	maxBuffered = 1 << 20

	gatherTimeout = 5 * time.Second
)

var (
	ErrClosed       = errors.New("stream: relay closed")
	ErrBadOffer     = errors.New("stream: invalid offer")
	ErrTooManyPeers = errors.New("stream: too many peers")
)

// Header precedes the chunks of one frame.
type Header struct {
	Seq    uint64 `json:"seq"`
	Size   int    `json:"size"`
	Chunks int    `json:"chunks"`
}

type peer struct {
	id string
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel
}

// Relay owns the peer connections.
type Relay struct {
	api      *webrtc.API
	config   webrtc.Configuration
	maxPeers int
	log      *slog.Logger

	mu     sync.Mutex
	peers  map[string]*peer
	seq    uint64
	sent   uint64
	closed bool
	nextID int
}

// Option configures a Relay.
type Option func(*Relay)

// WithICEServers sets STUN/TURN servers. None are needed on a LAN.
func WithICEServers(urls ...string) Option {
	return func(r *Relay) {
		if len(urls) > 0 {
			r.config.ICEServers = []webrtc.ICEServer{{URLs: urls}}
		}
	}
}

// WithMaxPeers caps concurrent viewers.
func WithMaxPeers(n int) Option { return func(r *Relay) { r.maxPeers = n } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Relay) { r.log = l } }

// NewRelay returns an empty relay.
func NewRelay(opts ...Option) *Relay {
	se := webrtc.SettingEngine{}
	se.SetIncludeLoopbackCandidate(true)
	r := &Relay{
		api:      webrtc.NewAPI(webrtc.WithSettingEngine(se)),
		maxPeers: 4,
		peers:    map[string]*peer{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = log.Or(r.log).With("component", "stream")
	return r
}

// Answer accepts a browser offer and returns the complete answer SDP,
// with ICE candidates gathered.
func (r *Relay) Answer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if offer.Type != webrtc.SDPTypeOffer || offer.SDP == "" {
		return webrtc.SessionDescription{}, ErrBadOffer
	}
	r.mu.Lock()
	switch {
	case r.closed:
		r.mu.Unlock()
		return webrtc.SessionDescription{}, ErrClosed
	case len(r.peers) >= r.maxPeers:
		r.mu.Unlock()
		return webrtc.SessionDescription{}, ErrTooManyPeers
	}
	r.nextID++
	id := fmt.Sprintf("peer-%d", r.nextID)
	r.mu.Unlock()

	pc, err := r.api.NewPeerConnection(r.config)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("stream: peer connection: %w", err)
	}
	p := &peer{id: id, pc: pc}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != Label {
			r.log.Debug("ignoring data channel", "label", dc.Label(), "peer", id)
			return
		}
		dc.OnOpen(func() {
			r.mu.Lock()
			p.dc = dc
			r.mu.Unlock()
			r.log.Info("viewer connected", "peer", id)
		})
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			r.remove(id)
		}
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %v", ErrBadOffer, err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return webrtc.SessionDescription{}, fmt.Errorf("stream: create answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return webrtc.SessionDescription{}, fmt.Errorf("stream: set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-time.After(gatherTimeout):
		pc.Close()
		return webrtc.SessionDescription{}, fmt.Errorf("stream: ICE gathering timed out after %s", gatherTimeout)
	case <-ctx.Done():
		pc.Close()
		return webrtc.SessionDescription{}, ctx.Err()
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		pc.Close()
		return webrtc.SessionDescription{}, ErrClosed
	}
	r.peers[id] = p
	r.mu.Unlock()
	return *pc.LocalDescription(), nil
}

func (r *Relay) remove(id string) {
	r.mu.Lock()
	p, ok := r.peers[id]
	delete(r.peers, id)
	r.mu.Unlock()
	if ok {
		p.pc.Close()
		r.log.Info("viewer disconnected", "peer", id)
	}
}

// Peers returns the number of connected viewers.
func (r *Relay) Peers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// Publish sends one JPEG frame to every open channel. Peers that are
// behind are skipped for this frame.
func (r *Relay) Publish(jpeg []byte) {
	if len(jpeg) == 0 {
		return
	}
	r.mu.Lock()
	r.seq++
	seq := r.seq
	var open []*peer
	for _, p := range r.peers {
		if p.dc != nil && p.dc.ReadyState() == webrtc.DataChannelStateOpen {
			open = append(open, p)
		}
	}
	r.mu.Unlock()

	if len(open) == 0 {
		return
	}
	hdr, _ := json.Marshal(Header{Seq: seq, Size: len(jpeg), Chunks: (len(jpeg) + chunkSize - 1) / chunkSize})
	for _, p := range open {
		if p.dc.BufferedAmount() > maxBuffered {
			continue
		}
		if err := send(p.dc, hdr, jpeg); err != nil {
			r.log.Debug("send frame", "peer", p.id, "error", err)
			continue
		}
		r.mu.Lock()
		r.sent++
		r.mu.Unlock()
	}
}

func send(dc *webrtc.DataChannel, hdr, jpeg []byte) error {
	if err := dc.SendText(string(hdr)); err != nil {
		return err
	}
	for off := 0; off < len(jpeg); off += chunkSize {
		end := min(off+chunkSize, len(jpeg))
		if err := dc.Send(jpeg[off:end]); err != nil {
			return err
		}
	}
	return nil
}

// Sent returns how many frames have been delivered across all peers.
func (r *Relay) Sent() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent
}

// Close disconnects every peer.
func (r *Relay) Close() error {
	r.mu.Lock()
	r.closed = true
	peers := r.peers
	r.peers = map[string]*peer{}
	r.mu.Unlock()
	for _, p := range peers {
		p.pc.Close()
	}
	return nil
}
