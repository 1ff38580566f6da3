// Package perception runs the periodic capture-and-detect loop and
// publishes the latest detection snapshot without blocking readers.
package perception

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-spider/internal/log"
	"github.com/teslashibe/go-spider/pkg/detection"
	"github.com/teslashibe/go-spider/pkg/photos"
	"github.com/teslashibe/go-spider/pkg/robot"
	"github.com/teslashibe/go-spider/pkg/status"
)

var (
	// ErrCapture wraps camera failures.
	ErrCapture = errors.New("perception: capture failed")
	// ErrDetection wraps detector failures.
	ErrDetection = errors.New("perception: detection failed")
	// ErrNoArchive is returned by CaptureStill when no photo store is configured.
	ErrNoArchive = errors.New("perception: no photo archive")
)

// Defaults.
const (
	DefaultFPS              = 5.0
	DefaultFailureThreshold = 3
)

// Sink receives snapshots, health and frame rate.
type Sink interface {
	SetDetections(detection.Snapshot)
	SetHealth(component string, health status.Health, detail string)
	SetFPS(fps float64)
}

// PhotoStore persists stills.
type PhotoStore interface {
	Save(ctx context.Context, jpeg []byte) (photos.Photo, error)
}

// Frame is the most recent raw camera frame.
type Frame struct {
	JPEG []byte
	At   time.Time
}

// Stats are running counters.
type Stats struct {
	Cycles   uint64  `json:"cycles"`
	Skipped  uint64  `json:"skipped"`
	Failures uint64  `json:"failures"`
	FPS      float64 `json:"fps"`
}

// Pipeline owns the camera.
type Pipeline struct {
	cam       robot.FrameSource
	det       detection.Detector
	sink      Sink
	store     PhotoStore
	period    time.Duration
	threshold int
	log       *slog.Logger

	camMu sync.Mutex

	latest atomic.Pointer[detection.Snapshot]
	frame  atomic.Pointer[Frame]

	// owned by the Run goroutine
	consecutive int
	degraded    bool
	reported    bool
	windowStart time.Time
	windowCount int

	cycles   atomic.Uint64
	skipped  atomic.Uint64
	failures atomic.Uint64
	fps      atomic.Uint64 // math.Float64bits
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithFPS sets the target cycle rate.
func WithFPS(fps float64) Option {
	return func(p *Pipeline) {
		if fps > 0 {
			p.period = time.Duration(float64(time.Second) / fps)
		}
	}
}

// WithFailureThreshold sets how many consecutive failures mark the
// pipeline degraded.
func WithFailureThreshold(n int) Option { return func(p *Pipeline) { p.threshold = n } }

// WithSink publishes results to s.
func WithSink(s Sink) Option { return func(p *Pipeline) { p.sink = s } }

// WithPhotoStore enables CaptureStill.
func WithPhotoStore(s PhotoStore) Option { return func(p *Pipeline) { p.store = s } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(p *Pipeline) { p.log = l } }

// New returns a pipeline reading cam and running det. det may be nil, in
// which case frames are captured but nothing is detected.
func New(cam robot.FrameSource, det detection.Detector, opts ...Option) *Pipeline {
	p := &Pipeline{
		cam:       cam,
		det:       det,
		period:    time.Duration(float64(time.Second) / DefaultFPS),
		threshold: DefaultFailureThreshold,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = log.Or(p.log).With("component", "perception")
	return p
}

// Run captures and detects once per period until ctx is done. A cycle
// that could not start within its period is skipped rather than queued.
func (p *Pipeline) Run(ctx context.Context) {
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()
	p.windowStart = time.Now()

	p.log.Info("perception started", "period", p.period)
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			if lag := time.Since(tick); lag >= p.period {
				p.skipped.Add(1)
				p.log.Debug("stale cycle skipped", "lag", lag)
				continue
			}
			p.cycle(ctx)
		}
	}
}

// cycle runs one capture/detect pass.
func (p *Pipeline) cycle(ctx context.Context) {
	p.cycles.Add(1)
	cctx, cancel := context.WithTimeout(ctx, 2*p.period)
	defer cancel()

	start := time.Now()
	jpeg, err := p.capture(cctx)
	if err != nil {
		p.fail(fmt.Errorf("%w: %v", ErrCapture, err))
		return
	}

	var dets []detection.Detection
	if p.det != nil {
		dets, err = p.det.Detect(cctx, jpeg)
		if err != nil {
			p.fail(fmt.Errorf("%w: %v", ErrDetection, err))
			return
		}
	}

	snap := &detection.Snapshot{
		FrameID:    uuid.NewString(),
		Timestamp:  time.Now(),
		Detections: dets,
		Latency:    time.Since(start),
	}
	p.latest.Store(snap)
	if p.sink != nil {
		p.sink.SetDetections(*snap)
	}
	p.succeed()
}

// Step runs a single cycle synchronously. It must not be called while
// Run is active.
func (p *Pipeline) Step(ctx context.Context) {
	if p.windowStart.IsZero() {
		p.windowStart = time.Now()
	}
	p.cycle(ctx)
}

func (p *Pipeline) capture(ctx context.Context) ([]byte, error) {
	p.camMu.Lock()
	defer p.camMu.Unlock()
	jpeg, err := p.cam.CaptureFrame(ctx)
	if err != nil {
		return nil, err
	}
	p.frame.Store(&Frame{JPEG: jpeg, At: time.Now()})
	return jpeg, nil
}

func (p *Pipeline) fail(err error) {
	p.failures.Add(1)
	p.consecutive++
	p.log.Warn("perception cycle failed", "error", err, "consecutive", p.consecutive)
	if p.consecutive >= p.threshold && !p.degraded {
		p.degraded = true
		p.log.Error("perception degraded", "failures", p.consecutive)
		if p.sink != nil {
			p.sink.SetHealth(status.Perception, status.Degraded, err.Error())
		}
	}
}

func (p *Pipeline) succeed() {
	p.consecutive = 0
	if p.degraded || !p.reported {
		if p.degraded {
			p.log.Info("perception recovered")
		}
		p.degraded = false
		p.reported = true
		if p.sink != nil {
			p.sink.SetHealth(status.Perception, status.Healthy, "")
		}
	}

	p.windowCount++
	if elapsed := time.Since(p.windowStart); elapsed >= time.Second {
		fps := float64(p.windowCount) / elapsed.Seconds()
		p.fps.Store(math.Float64bits(fps))
		if p.sink != nil {
			p.sink.SetFPS(fps)
		}
		p.windowStart = time.Now()
		p.windowCount = 0
	}
}

// Latest returns the most recent snapshot without blocking.
func (p *Pipeline) Latest() (detection.Snapshot, bool) {
	s := p.latest.Load()
	if s == nil {
		return detection.Snapshot{}, false
	}
	return *s, true
}

// LatestFrame returns the most recent raw frame, if any.
func (p *Pipeline) LatestFrame() (Frame, bool) {
	f := p.frame.Load()
	if f == nil {
		return Frame{}, false
	}
	return *f, true
}

// CaptureStill takes a photo, sharing the camera with the periodic loop,
// and stores it.
func (p *Pipeline) CaptureStill(ctx context.Context) (photos.Photo, error) {
	if p.store == nil {
		return photos.Photo{}, ErrNoArchive
	}
	jpeg, err := p.capture(ctx)
	if err != nil {
		return photos.Photo{}, fmt.Errorf("%w: %v", ErrCapture, err)
	}
	return p.store.Save(ctx, jpeg)
}

// Stats returns the running counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Cycles:   p.cycles.Load(),
		Skipped:  p.skipped.Load(),
		Failures: p.failures.Load(),
		FPS:      math.Float64frombits(p.fps.Load()),
	}
}
