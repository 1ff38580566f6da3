package gait

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-spider/internal/log"
	"github.com/teslashibe/go-spider/pkg/actuator"
	"github.com/teslashibe/go-spider/pkg/robot"
)

var (
	// ErrBusy is returned when a program is already running.
	ErrBusy = errors.New("gait: engine busy")
	// ErrStopped is returned when Stop interrupted a program.
	ErrStopped = errors.New("gait: stopped")
)

// AbortedError reports a program aborted because the bus rejected a step.
type AbortedError struct {
	Maneuver string
	AtStep   int
	Err      error
}

func (e *AbortedError) Error() string {
	return fmt.Sprintf("gait: %s aborted at step %d: %v", e.Maneuver, e.AtStep, e.Err)
}

func (e *AbortedError) Unwrap() error { return e.Err }

// Bus is the subset of the actuator bus the engine drives.
type Bus interface {
	Submit(ctx context.Context, pose robot.Pose) (actuator.Ack, error)
	Current() robot.Pose
}

var _ Bus = (*actuator.Bus)(nil)

// haltTimeout bounds the return to neutral after Stop or cancellation.
const haltTimeout = 5 * time.Second

// Engine runs at most one program at a time.
type Engine struct {
	bus      Bus
	limits   robot.Limits
	geometry Geometry
	hold     time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	running string
	stop    chan struct{}
	done    chan struct{}
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithGeometry sets the stride geometry used for walks and turns.
func WithGeometry(g Geometry) EngineOption { return func(e *Engine) { e.geometry = g } }

// WithHold sets the default pause after each pose.
func WithHold(d time.Duration) EngineOption { return func(e *Engine) { e.hold = d } }

// WithLimits sets the limits used to plan approach and halt paths.
func WithLimits(l robot.Limits) EngineOption { return func(e *Engine) { e.limits = l } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) EngineOption { return func(e *Engine) { e.log = l } }

// NewEngine returns an engine driving bus.
func NewEngine(bus Bus, opts ...EngineOption) *Engine {
	e := &Engine{
		bus:      bus,
		limits:   robot.DefaultLimits(),
		geometry: DefaultGeometry(),
		hold:     DefaultHold,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = log.Or(e.log).With("component", "gait")
	return e
}

// Running returns the name of the running maneuver, or "".
func (e *Engine) Running() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Plan expands name and interpolates from the current pose into the
// first step, and between template steps, so no transition exceeds the
// configured step limit. Approach poses are labelled LabelSettle and
// in-program ones LabelBlend.
func (e *Engine) Plan(name string, p Params) (Program, error) {
	if p.Geometry == (Geometry{}) {
		p.Geometry = e.geometry
	}
	if p.Hold <= 0 {
		p.Hold = e.hold
	}
	prog, err := Expand(name, p)
	if err != nil {
		return Program{}, err
	}
	if len(prog.Steps) == 0 {
		return prog, nil
	}
	maxStep := e.limits.MinStep()
	prev := e.bus.Current()
	steps := make([]Step, 0, len(prog.Steps))
	for i, st := range prog.Steps {
		label := LabelBlend
		if i == 0 {
			label = LabelSettle
		}
		path := robot.Path(prev, st.Pose, maxStep)
		for j := 0; j < len(path)-1; j++ {
			steps = append(steps, Step{Pose: path[j], Hold: p.Hold, Label: label})
		}
		steps = append(steps, st)
		prev = st.Pose
	}
	prog.Steps = steps
	return prog, nil
}

func (e *Engine) acquire(name string) (stop, done chan struct{}, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running != "" {
		return nil, nil, fmt.Errorf("%w: running %s", ErrBusy, e.running)
	}
	e.running = name
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	return e.stop, e.done, nil
}

func (e *Engine) release() {
	e.mu.Lock()
	close(e.done)
	e.running = ""
	e.stop = nil
	e.mu.Unlock()
}

// Run expands and executes a maneuver, blocking until it completes.
//
// A second Run while one is active fails immediately with ErrBusy. A
// rejected step aborts the program with *AbortedError after one attempt
// to return to neutral. Stop (or ctx cancellation) is honored between
// steps and during holds; the engine then walks back to neutral and Run
// returns ErrStopped (or the context error).
func (e *Engine) Run(ctx context.Context, name string, p Params) error {
	if _, ok := templates[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownManeuver, name)
	}
	stop, _, err := e.acquire(name)
	if err != nil {
		return err
	}
	defer e.release()

	prog, err := e.Plan(name, p)
	if err != nil {
		return err
	}
	e.log.Debug("run", "maneuver", name, "steps", len(prog.Steps))

	for i, st := range prog.Steps {
		select {
		case <-stop:
			return e.halt(ctx, ErrStopped)
		case <-ctx.Done():
			return e.halt(ctx, ctx.Err())
		default:
		}

		if _, err := e.bus.Submit(ctx, st.Pose); err != nil {
			if ctx.Err() != nil {
				return e.halt(ctx, ctx.Err())
			}
			e.log.Warn("step rejected, aborting", "maneuver", name, "step", i, "error", err)
			e.toNeutral(ctx)
			return &AbortedError{Maneuver: name, AtStep: i, Err: err}
		}

		if st.Hold > 0 {
			t := time.NewTimer(st.Hold)
			select {
			case <-t.C:
			case <-stop:
				t.Stop()
				return e.halt(ctx, ErrStopped)
			case <-ctx.Done():
				t.Stop()
				return e.halt(ctx, ctx.Err())
			}
		}
	}
	return nil
}

// Stop asks the running program to halt. It returns immediately and is
// a no-op when idle.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	closeOnce(e.stop)
}

func closeOnce(ch chan struct{}) {
	if ch == nil {
		return
	}
	select {
	case <-ch:
	default:
		close(ch)
	}
}

// Halt stops any running program and waits until the robot is back at
// neutral. When idle it drives to neutral itself.
func (e *Engine) Halt(ctx context.Context) error {
	e.mu.Lock()
	done := e.done
	running := e.running != ""
	if running {
		// only the program observed here is stopped; one acquired after
		// the unlock gets a fresh channel
		closeOnce(e.stop)
	}
	e.mu.Unlock()

	if running {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if _, _, err := e.acquire("halt"); err != nil {
		// a program started in between; stop it instead
		return e.Halt(ctx)
	}
	defer e.release()
	return e.toNeutral(ctx)
}

func (e *Engine) halt(ctx context.Context, cause error) error {
	e.log.Info("halting to neutral", "cause", cause)
	e.toNeutral(ctx)
	return cause
}

// toNeutral walks to neutral along a rate-limited path, giving up at the
// first rejected pose. It survives cancellation of ctx.
func (e *Engine) toNeutral(ctx context.Context) error {
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), haltTimeout)
	defer cancel()
	for _, pose := range robot.Path(e.bus.Current(), robot.Neutral(), e.limits.MinStep()) {
		if _, err := e.bus.Submit(hctx, pose); err != nil {
			e.log.Warn("return to neutral failed", "error", err)
			return err
		}
	}
	return nil
}
