// Package autonomy gives the robot a life of its own: a periodic
// thinking loop that narrates (and may act on) what the camera sees,
// and an obstacle guard that stops forward walking near walls.
//
// Both produce ordinary autonomous commands; they never touch the
// actuators directly.
package autonomy

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-spider/internal/log"
	"github.com/teslashibe/go-spider/pkg/command"
	"github.com/teslashibe/go-spider/pkg/decision"
	"github.com/teslashibe/go-spider/pkg/detection"
	"github.com/teslashibe/go-spider/pkg/journal"
	"github.com/teslashibe/go-spider/pkg/reasoning"
	"github.com/teslashibe/go-spider/pkg/robot"
	"github.com/teslashibe/go-spider/pkg/status"
)

// Thinker produces idle thoughts.
type Thinker interface {
	Think(ctx context.Context, c reasoning.Context) (reasoning.Thought, error)
}

// Submitter accepts commands, normally the decision loop.
type Submitter interface {
	Submit(cmd command.Command) error
}

// Perception exposes the latest detection snapshot.
type Perception interface {
	Latest() (detection.Snapshot, bool)
}

// State is the status hub as seen by the explorer.
type State interface {
	Snapshot() status.RobotState
	SetThought(thought, emotion string)
	SetDistance(cm float64)
	SetHealth(component string, health status.Health, detail string)
}

// ThoughtRecorder persists thoughts.
type ThoughtRecorder interface {
	RecordThought(ctx context.Context, th journal.Thought) error
}

// Config tunes the explorer.
type Config struct {
	// Interval between thoughts. Zero disables thinking.
	Interval time.Duration
	// ThinkTimeout bounds one Think call.
	ThinkTimeout time.Duration
	// ActOnThoughts turns suggested actions into commands.
	ActOnThoughts bool

	// ObstacleStop is the distance in cm below which forward walking is
	// stopped. Zero disables the guard.
	ObstacleStop float64
	DistancePoll time.Duration
}

// Explorer runs the thinking loop and the obstacle guard.
type Explorer struct {
	cfg      Config
	submit   Submitter
	state    State
	thinker  Thinker
	percept  Perception
	sensor   robot.DistanceSensor
	recorder ThoughtRecorder
	log      *slog.Logger

	mu       sync.Mutex
	thoughts int
	stops    int
}

// Option configures an Explorer.
type Option func(*Explorer)

// WithThinker enables the thinking loop.
func WithThinker(t Thinker) Option { return func(e *Explorer) { e.thinker = t } }

// WithPerception supplies detections for thoughts.
func WithPerception(p Perception) Option { return func(e *Explorer) { e.percept = p } }

// WithDistanceSensor enables the obstacle guard.
func WithDistanceSensor(s robot.DistanceSensor) Option { return func(e *Explorer) { e.sensor = s } }

// WithRecorder persists every thought.
func WithRecorder(r ThoughtRecorder) Option { return func(e *Explorer) { e.recorder = r } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(e *Explorer) { e.log = l } }

// New returns an explorer submitting to submit and reporting to state.
func New(cfg Config, submit Submitter, state State, opts ...Option) *Explorer {
	if cfg.ThinkTimeout <= 0 {
		cfg.ThinkTimeout = 10 * time.Second
	}
	if cfg.DistancePoll <= 0 {
		cfg.DistancePoll = 200 * time.Millisecond
	}
	e := &Explorer{cfg: cfg, submit: submit, state: state}
	for _, opt := range opts {
		opt(e)
	}
	e.log = log.Or(e.log).With("component", "autonomy")
	return e
}

// Stats counts explorer activity.
type Stats struct {
	Thoughts int `json:"thoughts"`
	Stops    int `json:"obstacle_stops"`
}

// Stats reports how many thoughts and obstacle stops have happened.
func (e *Explorer) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{Thoughts: e.thoughts, Stops: e.stops}
}

// Run starts whichever loops are configured and blocks until ctx is done.
func (e *Explorer) Run(ctx context.Context) {
	var wg sync.WaitGroup
	if e.thinker != nil && e.cfg.Interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.thinkLoop(ctx)
		}()
	}
	if e.sensor != nil && e.cfg.ObstacleStop > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.guardLoop(ctx)
		}()
	}
	wg.Wait()
}

func (e *Explorer) thinkLoop(ctx context.Context) {
	e.log.Info("thinking loop started", "interval", e.cfg.Interval)
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Think(ctx)
		}
	}
}

// Think runs one thinking cycle. It skips while a command is in flight.
func (e *Explorer) Think(ctx context.Context) {
	if e.thinker == nil {
		return
	}
	st := e.state.Snapshot()
	if st.Mode != decision.Idle.String() {
		e.log.Debug("busy, not thinking", "mode", st.Mode)
		return
	}

	rc := reasoning.Context{Mode: st.Mode, DistanceCM: st.Distance}
	if e.percept != nil {
		rc.Snapshot, rc.HasSnapshot = e.percept.Latest()
	}

	tctx, cancel := context.WithTimeout(ctx, e.cfg.ThinkTimeout)
	th, err := e.thinker.Think(tctx, rc)
	cancel()
	if err != nil {
		if ctx.Err() == nil {
			e.log.Warn("think failed", "error", err)
			e.state.SetHealth(status.Reasoning, status.Degraded, err.Error())
		}
		return
	}
	e.state.SetHealth(status.Reasoning, status.Healthy, "")
	e.state.SetThought(th.Thought, th.Emotion)
	e.log.Info("thought", "thought", th.Thought, "emotion", th.Emotion, "action", th.Action)

	e.mu.Lock()
	e.thoughts++
	e.mu.Unlock()

	if e.recorder != nil {
		rec := journal.Thought{Thought: th.Thought, Emotion: th.Emotion, Action: th.Action, At: time.Now()}
		if err := e.recorder.RecordThought(ctx, rec); err != nil {
			e.log.Warn("record thought", "error", err)
		}
	}

	if !e.cfg.ActOnThoughts {
		return
	}
	if cmd, ok := decision.ActionCommand(th.Action, command.SourceAutonomous); ok {
		if err := e.submit.Submit(cmd); err != nil {
			e.log.Warn("autonomous command not accepted", "command", cmd.String(), "error", err)
		}
	}
}

func (e *Explorer) guardLoop(ctx context.Context) {
	e.log.Info("obstacle guard started", "stop_cm", e.cfg.ObstacleStop)
	ticker := time.NewTicker(e.cfg.DistancePoll)
	defer ticker.Stop()

	var tripped bool
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		var err error
		tripped, err = e.Guard(ctx, tripped)
		if errors.Is(err, robot.ErrNoSensor) {
			e.log.Warn("no distance sensor, obstacle guard off")
			return
		}
	}
}

// Guard takes one distance reading and stops forward walking when an
// obstacle is closer than the threshold. tripped is true while a stop
// has been issued for the current approach; pass back the returned
// value on the next call so one approach yields one Stop.
func (e *Explorer) Guard(ctx context.Context, tripped bool) (bool, error) {
	cm, err := e.sensor.ReadDistance(ctx)
	if err != nil {
		if !errors.Is(err, robot.ErrNoSensor) && ctx.Err() == nil {
			e.log.Debug("distance read failed", "error", err)
		}
		return tripped, err
	}
	e.state.SetDistance(cm)

	if cm >= e.cfg.ObstacleStop || !walkingForward(e.state.Snapshot()) {
		return false, nil
	}
	if tripped {
		return true, nil
	}

	e.log.Warn("obstacle ahead, stopping", "distance_cm", cm)
	if err := e.submit.Submit(command.Stop(command.SourceAutonomous)); err != nil {
		e.log.Error("obstacle stop not accepted", "error", err)
		return false, err
	}
	e.mu.Lock()
	e.stops++
	e.mu.Unlock()
	return true, nil
}

func walkingForward(s status.RobotState) bool {
	return s.Mode == decision.Executing.String() &&
		strings.HasPrefix(s.LastCommand, "move "+string(command.Forward))
}
