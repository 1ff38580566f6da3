// Package decision turns the command stream into actions. One command is
// handled at a time; the rest wait in arrival order, except Stop, which
// cancels the command in flight and clears the queue.
package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/teslashibe/go-spider/internal/log"
	"github.com/teslashibe/go-spider/pkg/command"
	"github.com/teslashibe/go-spider/pkg/detection"
	"github.com/teslashibe/go-spider/pkg/gait"
	"github.com/teslashibe/go-spider/pkg/photos"
	"github.com/teslashibe/go-spider/pkg/reasoning"
	"github.com/teslashibe/go-spider/pkg/status"
)

var (
	// ErrQueueFull is returned by Submit when the pending queue is at capacity.
	ErrQueueFull = errors.New("decision: queue full")
	// ErrClosed is returned by Submit once Run has returned.
	ErrClosed = errors.New("decision: loop stopped")
)

// Rejection reasons.
const (
	ReasonTimeout   = "timeout"
	ReasonQueueFull = "queue full"
	ReasonStopped   = "stopped"
	ReasonCancelled = "cancelled by stop"
	ReasonBusy      = "busy"
	ReasonShutdown  = "shutting down"
	ReasonNoCamera  = "no camera"
)

// ManeuverNeutral names the outcome of a Stop.
const ManeuverNeutral = "neutral"

// Defaults.
const (
	DefaultQueueSize        = 16
	DefaultReasoningTimeout = 5 * time.Second

	maxSteps    = 20
	maxAngle    = 360.0
	haltTimeout = 10 * time.Second
)

// Engine runs maneuvers.
type Engine interface {
	Run(ctx context.Context, name string, p gait.Params) error
	Halt(ctx context.Context) error
	Stop()
}

// Perception provides the latest snapshot and on-demand stills.
type Perception interface {
	Latest() (detection.Snapshot, bool)
	CaptureStill(ctx context.Context) (photos.Photo, error)
}

// Sink receives the loop's view of the robot state.
type Sink interface {
	SetOutcome(o command.Outcome)
	SetLastCommand(c string)
	SetMode(mode string)
	SetPhoto(name string)
	SetHealth(component string, h status.Health, detail string)
}

// Journal persists outcomes.
type Journal interface {
	RecordOutcome(ctx context.Context, o command.Outcome) error
}

// Loop is the single consumer of commands.
type Loop struct {
	engine       Engine
	reasoner     reasoning.Service
	percept      Perception
	sink         Sink
	journal      Journal
	params       gait.Params
	timeout      time.Duration
	size         int
	onTransition func(from, to State)
	log          *slog.Logger

	wake    chan struct{}
	records sync.WaitGroup

	mu     sync.Mutex
	state  State
	queue  []command.Command
	cancel context.CancelFunc
	closed bool
}

// Option configures a Loop.
type Option func(*Loop)

// WithReasoner sets the service consulted for queries. Without one,
// queries are answered from the latest snapshot.
func WithReasoner(r reasoning.Service) Option { return func(l *Loop) { l.reasoner = r } }

// WithPerception sets the snapshot and still source.
func WithPerception(p Perception) Option { return func(l *Loop) { l.percept = p } }

// WithSink publishes state to s.
func WithSink(s Sink) Option { return func(l *Loop) { l.sink = s } }

// WithJournal records every outcome.
func WithJournal(j Journal) Option { return func(l *Loop) { l.journal = j } }

// WithQueueSize bounds the pending queue.
func WithQueueSize(n int) Option { return func(l *Loop) { l.size = n } }

// WithReasoningTimeout bounds each reasoning call.
func WithReasoningTimeout(d time.Duration) Option { return func(l *Loop) { l.timeout = d } }

// WithParams sets the maneuver defaults (steps, turn angle, hold).
func WithParams(p gait.Params) Option { return func(l *Loop) { l.params = p } }

// WithTransitionHook is called after every state change.
func WithTransitionHook(fn func(from, to State)) Option {
	return func(l *Loop) { l.onTransition = fn }
}

// WithLogger sets the logger.
func WithLogger(lg *slog.Logger) Option { return func(l *Loop) { l.log = lg } }

// New returns an idle loop driving engine.
func New(engine Engine, opts ...Option) *Loop {
	l := &Loop{
		engine:  engine,
		size:    DefaultQueueSize,
		timeout: DefaultReasoningTimeout,
		wake:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.sink == nil {
		l.sink = nopSink{}
	}
	if l.size <= 0 {
		l.size = DefaultQueueSize
	}
	l.log = log.Or(l.log).With("component", "decision")
	return l
}

// State returns the current state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Pending returns the number of queued commands.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Submit enqueues cmd. It never blocks: rejections it produces reach the
// sink at once and the journal in the background. Stop jumps the queue,
// cancels whatever is in flight and rejects everything that was waiting.
func (l *Loop) Submit(cmd command.Command) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}

	if cmd.Kind == command.KindStop {
		dropped := l.queue
		l.queue = []command.Command{cmd}
		cancel := l.cancel
		l.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		l.engine.Stop()
		for _, c := range dropped {
			l.publishAsync(command.RejectedOutcome(c, ReasonCancelled))
		}
		l.log.Info("stop received", "source", cmd.Source, "dropped", len(dropped))
		l.signal()
		return nil
	}

	if len(l.queue) >= l.size {
		l.mu.Unlock()
		l.publishAsync(command.RejectedOutcome(cmd, ReasonQueueFull))
		return ErrQueueFull
	}
	l.queue = append(l.queue, cmd)
	l.mu.Unlock()
	l.signal()
	return nil
}

// Consume submits every command from in until it closes or ctx is done.
func (l *Loop) Consume(ctx context.Context, in <-chan command.Command) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-in:
			if !ok {
				return
			}
			if err := l.Submit(cmd); err != nil {
				l.log.Warn("command dropped", "command", cmd.String(), "error", err)
			}
		}
	}
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run processes commands until ctx is done. Commands still queued at
// that point are rejected.
func (l *Loop) Run(ctx context.Context) {
	l.log.Info("decision loop started", "queue_size", l.size, "reasoning_timeout", l.timeout)
	defer l.shutdown()
	for {
		cmd, cctx, ok := l.next(ctx)
		if !ok {
			return
		}
		l.process(cctx, cmd)
	}
}

// next dequeues the oldest command. The cancel func for its context is
// installed under the same lock so a concurrent Stop always sees it.
func (l *Loop) next(ctx context.Context) (command.Command, context.Context, bool) {
	for {
		if ctx.Err() != nil {
			return command.Command{}, nil, false
		}
		l.mu.Lock()
		if len(l.queue) > 0 {
			cmd := l.queue[0]
			l.queue = l.queue[1:]
			cctx, cancel := context.WithCancel(ctx)
			l.cancel = cancel
			l.mu.Unlock()
			return cmd, cctx, true
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return command.Command{}, nil, false
		case <-l.wake:
		}
	}
}

func (l *Loop) shutdown() {
	l.mu.Lock()
	l.closed = true
	rest := l.queue
	l.queue = nil
	l.mu.Unlock()
	for _, c := range rest {
		l.publish(command.RejectedOutcome(c, ReasonShutdown))
	}
	l.records.Wait()
	l.log.Info("decision loop stopped")
}

func (l *Loop) process(ctx context.Context, cmd command.Command) {
	defer func() {
		l.mu.Lock()
		if l.cancel != nil {
			l.cancel()
			l.cancel = nil
		}
		l.mu.Unlock()
	}()

	l.transition(Evaluating)
	l.sink.SetLastCommand(cmd.String())
	l.log.Debug("evaluating", "command", cmd.String(), "source", cmd.Source)

	var o command.Outcome
	if cmd.Kind == command.KindQuery {
		o = l.evaluate(ctx, cmd)
	} else {
		o = l.perform(ctx, cmd, cmd, "")
	}
	l.publish(o)
	l.transition(Idle)
}

// evaluate consults the reasoner about a query and acts on or answers it.
func (l *Loop) evaluate(ctx context.Context, cmd command.Command) command.Outcome {
	var rc reasoning.Context
	if l.percept != nil {
		rc.Snapshot, rc.HasSnapshot = l.percept.Latest()
	}
	if l.reasoner == nil {
		l.transition(Responding)
		return command.AnsweredOutcome(cmd, localAnswer(rc))
	}

	rctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	out, err := l.infer(rctx, cmd.Text, rc)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return command.RejectedOutcome(cmd, ReasonStopped)
		case errors.Is(err, reasoning.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
			l.log.Warn("reasoning timed out", "command", cmd.String(), "timeout", l.timeout)
			l.sink.SetHealth(status.Reasoning, status.Degraded, "timeout")
			return command.RejectedOutcome(cmd, ReasonTimeout)
		default:
			l.log.Warn("reasoning failed", "command", cmd.String(), "error", err)
			l.sink.SetHealth(status.Reasoning, status.Degraded, err.Error())
			return command.RejectedOutcome(cmd, "reasoning failed: "+err.Error())
		}
	}
	l.sink.SetHealth(status.Reasoning, status.Healthy, "")

	if out.Acts() {
		if act, ok := ActionCommand(out.Action, cmd.Source); ok {
			return l.perform(ctx, cmd, act, out.Response)
		}
	}
	l.transition(Responding)
	text := out.Response
	if text == "" {
		text = localAnswer(rc)
	}
	return command.AnsweredOutcome(cmd, text)
}

// infer enforces the deadline even against a service that ignores it.
func (l *Loop) infer(ctx context.Context, text string, rc reasoning.Context) (reasoning.Outcome, error) {
	type result struct {
		out reasoning.Outcome
		err error
	}
	ch := make(chan result, 1)
	go func() {
		out, err := l.reasoner.Infer(ctx, text, rc)
		ch <- result{out, err}
	}()
	select {
	case r := <-ch:
		return r.out, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return reasoning.Outcome{}, reasoning.ErrTimeout
		}
		return reasoning.Outcome{}, ctx.Err()
	}
}

// perform carries out act on behalf of cmd. say is the reasoner's reply,
// if any, attached to the outcome.
func (l *Loop) perform(ctx context.Context, cmd, act command.Command, say string) command.Outcome {
	switch act.Kind {
	case command.KindStop:
		l.transition(Executing)
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), haltTimeout)
		defer cancel()
		if err := l.engine.Halt(hctx); err != nil {
			return command.RejectedOutcome(cmd, "halt failed: "+err.Error())
		}
		return withText(command.ExecutedOutcome(cmd, ManeuverNeutral), say)

	case command.KindMove, command.KindGesture:
		name, p, err := l.maneuver(act)
		if err != nil {
			return command.RejectedOutcome(cmd, err.Error())
		}
		if act.ID != cmd.ID {
			// a query that turned into a maneuver
			l.sink.SetLastCommand(act.String())
		}
		l.transition(Executing)
		return l.execute(ctx, cmd, name, p, say)

	case command.KindCapture:
		if l.percept == nil {
			return command.RejectedOutcome(cmd, ReasonNoCamera)
		}
		l.transition(Executing)
		photo, err := l.percept.CaptureStill(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return command.RejectedOutcome(cmd, ReasonStopped)
			}
			return command.RejectedOutcome(cmd, "capture failed: "+err.Error())
		}
		l.sink.SetPhoto(photo.Name)
		if say == "" {
			say = "Saved " + photo.Name
		}
		return withText(command.ExecutedOutcome(cmd, "capture"), say)
	}
	return command.RejectedOutcome(cmd, fmt.Sprintf("unsupported command %q", act.Kind))
}

func (l *Loop) execute(ctx context.Context, cmd command.Command, name string, p gait.Params, say string) command.Outcome {
	err := l.engine.Run(ctx, name, p)
	var aborted *gait.AbortedError
	switch {
	case err == nil:
		return withText(command.ExecutedOutcome(cmd, name), say)
	case errors.Is(err, gait.ErrStopped), ctx.Err() != nil:
		return command.RejectedOutcome(cmd, ReasonStopped)
	case errors.Is(err, gait.ErrBusy):
		return command.RejectedOutcome(cmd, ReasonBusy)
	case errors.As(err, &aborted):
		l.log.Warn("maneuver aborted", "maneuver", name, "step", aborted.AtStep, "error", aborted.Err)
		return command.RejectedOutcome(cmd, fmt.Sprintf("aborted at step %d: %v", aborted.AtStep, aborted.Err))
	default:
		return command.RejectedOutcome(cmd, err.Error())
	}
}

// maneuver maps a Move or Gesture to a template and its parameters.
func (l *Loop) maneuver(c command.Command) (string, gait.Params, error) {
	p := l.params
	if c.Kind == command.KindGesture {
		if !slices.Contains(gait.Names(), c.Gesture) {
			return "", p, fmt.Errorf("unknown gesture %q", c.Gesture)
		}
		return c.Gesture, p, nil
	}

	steps := int(math.Round(math.Min(c.Magnitude, maxSteps)))
	angle := math.Min(c.Magnitude, maxAngle)
	switch c.Direction {
	case command.Forward, command.Backward:
		if steps > 0 {
			p.Steps = steps
		}
		if c.Direction == command.Forward {
			return gait.WalkForward, p, nil
		}
		return gait.WalkBackward, p, nil
	case command.Left, command.Right:
		if angle > 0 {
			p.Angle = angle
		}
		if c.Direction == command.Left {
			return gait.TurnLeft, p, nil
		}
		return gait.TurnRight, p, nil
	}
	return "", p, fmt.Errorf("unknown direction %q", c.Direction)
}

func (l *Loop) transition(to State) {
	l.mu.Lock()
	from := l.state
	if !IsValidTransition(from, to) {
		l.mu.Unlock()
		l.log.Error("invalid transition", "from", from, "to", to)
		return
	}
	l.state = to
	l.mu.Unlock()

	l.sink.SetMode(to.String())
	if l.onTransition != nil {
		l.onTransition(from, to)
	}
}

func (l *Loop) publish(o command.Outcome) {
	l.announce(o)
	l.record(o)
}

// publishAsync leaves the journal write to a goroutine that shutdown
// waits for.
func (l *Loop) publishAsync(o command.Outcome) {
	l.announce(o)
	if l.journal == nil {
		return
	}
	l.records.Add(1)
	go func() {
		defer l.records.Done()
		l.record(o)
	}()
}

func (l *Loop) announce(o command.Outcome) {
	l.log.Info("outcome", "command", o.Command, "source", o.Source, "result", o.Summary())
	l.sink.SetOutcome(o)
}

func (l *Loop) record(o command.Outcome) {
	if l.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.journal.RecordOutcome(ctx, o); err != nil {
		l.log.Warn("journal write failed", "error", err)
	}
}

// ActionCommand maps a reasoning action to the command that performs it.
func ActionCommand(action string, src command.Source) (command.Command, bool) {
	switch action {
	case reasoning.ActionWalkForward:
		return command.Move(command.Forward, 0, src), true
	case reasoning.ActionWalkBackward:
		return command.Move(command.Backward, 0, src), true
	case reasoning.ActionTurnLeft:
		return command.Move(command.Left, 0, src), true
	case reasoning.ActionTurnRight:
		return command.Move(command.Right, 0, src), true
	case reasoning.ActionDance, reasoning.ActionWave, reasoning.ActionSit,
		reasoning.ActionStand, reasoning.ActionHome:
		return command.Gesture(action, src), true
	case reasoning.ActionTakePhoto:
		return command.Capture(src), true
	case reasoning.ActionStop:
		return command.Stop(src), true
	}
	return command.Command{}, false
}

func localAnswer(rc reasoning.Context) string {
	if !rc.HasSnapshot {
		return "My camera isn't ready yet."
	}
	return rc.Snapshot.Describe()
}

func withText(o command.Outcome, text string) command.Outcome {
	o.Text = text
	return o
}

type nopSink struct{}

func (nopSink) SetOutcome(command.Outcome)              {}
func (nopSink) SetLastCommand(string)                   {}
func (nopSink) SetMode(string)                          {}
func (nopSink) SetPhoto(string)                         {}
func (nopSink) SetHealth(string, status.Health, string) {}
