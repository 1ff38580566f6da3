// Package actuator serializes every joint write to the servo hardware.
//
// All pose submissions flow through one Bus. A single goroutine (Run)
// serves them strictly in arrival order, validates bounds and per-joint
// step limits, and is the only writer of the current pose.
package actuator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-spider/internal/log"
	"github.com/teslashibe/go-spider/pkg/robot"
	"github.com/teslashibe/go-spider/pkg/status"
)

// Errors returned by Submit.
var (
	// ErrRateLimitExceeded: a joint would move further than its step limit.
	ErrRateLimitExceeded = errors.New("actuator: rate limit exceeded")
	// ErrOutOfBounds is a rate-limit class rejection for a joint outside its range.
	ErrOutOfBounds = fmt.Errorf("%w: joint out of bounds", ErrRateLimitExceeded)
	// ErrHardwareFault: the driver failed or timed out. The bus is now degraded.
	ErrHardwareFault = errors.New("actuator: hardware fault")
	// ErrBusUnavailable: the bus is degraded or stopped.
	ErrBusUnavailable = errors.New("actuator: bus unavailable")
)

// Defaults.
const (
	DefaultWriteTimeout     = 500 * time.Millisecond
	DefaultRecoveryInterval = 2 * time.Second
)

// StateSink receives accepted poses and bus health.
type StateSink interface {
	SetPose(robot.Pose)
	SetHealth(component string, health status.Health, detail string)
}

// Ack confirms an accepted pose.
type Ack struct {
	Revision uint64
	At       time.Time
}

// Stats are running counters for diagnostics.
type Stats struct {
	Writes   uint64 `json:"writes"`
	Rejected uint64 `json:"rejected"`
	Faults   uint64 `json:"faults"`
	Degraded bool   `json:"degraded"`
}

type request struct {
	ctx      context.Context
	pose     robot.Pose
	recovery bool
	reply    chan result
}

type result struct {
	ack Ack
	err error
}

// Bus owns the servo hardware.
type Bus struct {
	hw               robot.JointWriter
	limits           robot.Limits
	sink             StateSink
	timeout          time.Duration
	recoveryInterval time.Duration
	log              *slog.Logger

	reqs chan request
	done chan struct{}
	once sync.Once

	mu       sync.RWMutex
	current  robot.Pose
	degraded bool

	writes   atomic.Uint64
	rejected atomic.Uint64
	faults   atomic.Uint64
}

// Option configures a Bus.
type Option func(*Bus)

// WithLimits sets joint bounds and step limits.
func WithLimits(l robot.Limits) Option { return func(b *Bus) { b.limits = l } }

// WithWriteTimeout bounds every hardware write.
func WithWriteTimeout(d time.Duration) Option { return func(b *Bus) { b.timeout = d } }

// WithRecoveryInterval sets how often a degraded bus retries the hardware.
func WithRecoveryInterval(d time.Duration) Option {
	return func(b *Bus) { b.recoveryInterval = d }
}

// WithSink reports poses and health to sink.
func WithSink(s StateSink) Option { return func(b *Bus) { b.sink = s } }

// WithInitialPose sets the pose the hardware is assumed to hold at start.
func WithInitialPose(p robot.Pose) Option { return func(b *Bus) { b.current = p } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(b *Bus) { b.log = l } }

// New creates a bus for hw. Call Run to start serving submissions.
func New(hw robot.JointWriter, opts ...Option) *Bus {
	b := &Bus{
		hw:               hw,
		limits:           robot.DefaultLimits(),
		timeout:          DefaultWriteTimeout,
		recoveryInterval: DefaultRecoveryInterval,
		current:          robot.Home(),
		reqs:             make(chan request),
		done:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = log.Or(b.log).With("component", "actuator")
	return b
}

// Run serves submissions until ctx is done. It must be called exactly once.
func (b *Bus) Run(ctx context.Context) {
	defer b.once.Do(func() { close(b.done) })

	b.mu.RLock()
	initial := b.current
	b.mu.RUnlock()
	if b.sink != nil {
		b.sink.SetPose(initial)
		b.sink.SetHealth(status.Actuators, status.Healthy, "")
	}

	ticker := time.NewTicker(b.recoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-b.reqs:
			ack, err := b.serve(req)
			req.reply <- result{ack: ack, err: err}
		case <-ticker.C:
			if b.Degraded() {
				b.rewriteCurrent(ctx)
			}
		}
	}
}

// Submit asks the bus to move to pose. It blocks until the pose is
// written, rejected, or ctx is done. Submissions are served FIFO.
func (b *Bus) Submit(ctx context.Context, pose robot.Pose) (Ack, error) {
	return b.do(ctx, request{ctx: ctx, pose: pose})
}

// Recover tests the hardware by re-writing the current pose.
// On success a degraded bus becomes available again.
func (b *Bus) Recover(ctx context.Context) error {
	_, err := b.do(ctx, request{ctx: ctx, recovery: true})
	return err
}

func (b *Bus) do(ctx context.Context, req request) (Ack, error) {
	req.reply = make(chan result, 1)
	select {
	case b.reqs <- req:
	case <-b.done:
		return Ack{}, ErrBusUnavailable
	case <-ctx.Done():
		return Ack{}, ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res.ack, res.err
	case <-ctx.Done():
		return Ack{}, ctx.Err()
	}
}

func (b *Bus) serve(req request) (Ack, error) {
	if req.recovery {
		return Ack{}, b.rewriteCurrent(req.ctx)
	}
	if err := req.ctx.Err(); err != nil {
		return Ack{}, err
	}
	if b.Degraded() {
		return Ack{}, ErrBusUnavailable
	}

	b.mu.RLock()
	cur := b.current
	b.mu.RUnlock()

	if j := b.limits.OutOfBounds(req.pose); j >= 0 {
		b.rejected.Add(1)
		return Ack{}, fmt.Errorf("%w: %s=%.1f outside [%.0f, %.0f]",
			ErrOutOfBounds, robot.JointName(j), req.pose.Angles[j], b.limits.Min[j], b.limits.Max[j])
	}
	if j := b.limits.TooFast(cur, req.pose); j >= 0 {
		b.rejected.Add(1)
		return Ack{}, fmt.Errorf("%w: %s moves %.1f, limit %.1f",
			ErrRateLimitExceeded, robot.JointName(j), abs(req.pose.Angles[j]-cur.Angles[j]), b.limits.MaxStep[j])
	}

	if err := b.write(req.ctx, req.pose.Angles); err != nil {
		if cerr := req.ctx.Err(); cerr != nil {
			return Ack{}, cerr
		}
		b.fault(err)
		return Ack{}, fmt.Errorf("%w: %v", ErrHardwareFault, err)
	}

	b.mu.Lock()
	b.current = robot.Pose{Angles: req.pose.Angles, Revision: cur.Revision + 1}
	next := b.current
	b.mu.Unlock()
	b.writes.Add(1)

	if b.sink != nil {
		b.sink.SetPose(next)
	}
	return Ack{Revision: next.Revision, At: time.Now()}, nil
}

func (b *Bus) write(ctx context.Context, angles [robot.NumJoints]float64) error {
	wctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	err := b.hw.WriteJointAngles(wctx, angles)
	if err == nil && ctx.Err() == nil && wctx.Err() != nil {
		// the driver ignored the deadline; treat a late write as a timeout
		return fmt.Errorf("write exceeded %s: %w", b.timeout, wctx.Err())
	}
	return err
}

func (b *Bus) fault(err error) {
	b.faults.Add(1)
	b.mu.Lock()
	was := b.degraded
	b.degraded = true
	b.mu.Unlock()
	if !was {
		b.log.Error("hardware fault, bus degraded", "error", err)
	}
	if b.sink != nil {
		b.sink.SetHealth(status.Actuators, status.Degraded, err.Error())
	}
}

// rewriteCurrent re-writes the current pose. Called only from the Run goroutine.
func (b *Bus) rewriteCurrent(ctx context.Context) error {
	b.mu.RLock()
	cur := b.current
	b.mu.RUnlock()

	if err := b.write(ctx, cur.Angles); err != nil {
		b.faults.Add(1)
		b.log.Debug("recovery write failed", "error", err)
		return fmt.Errorf("%w: %v", ErrHardwareFault, err)
	}

	b.mu.Lock()
	was := b.degraded
	b.degraded = false
	b.mu.Unlock()
	if was {
		b.log.Info("bus recovered")
		if b.sink != nil {
			b.sink.SetHealth(status.Actuators, status.Healthy, "")
		}
	}
	return nil
}

// Current returns the last accepted pose.
func (b *Bus) Current() robot.Pose {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current
}

// Degraded reports whether the bus is refusing submissions after a fault.
func (b *Bus) Degraded() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.degraded
}

// Limits returns the configured joint limits.
func (b *Bus) Limits() robot.Limits { return b.limits }

// Stats returns the running counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Writes:   b.writes.Load(),
		Rejected: b.rejected.Load(),
		Faults:   b.faults.Load(),
		Degraded: b.Degraded(),
	}
}

// abs returns the absolute value of x.
func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
