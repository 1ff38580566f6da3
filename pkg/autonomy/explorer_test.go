package autonomy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-spider/internal/log"
	"github.com/teslashibe/go-spider/pkg/command"
	"github.com/teslashibe/go-spider/pkg/detection"
	"github.com/teslashibe/go-spider/pkg/journal"
	"github.com/teslashibe/go-spider/pkg/reasoning"
	"github.com/teslashibe/go-spider/pkg/robot"
	"github.com/teslashibe/go-spider/pkg/status"
)

type fakeThinker struct {
	mu      sync.Mutex
	thought reasoning.Thought
	err     error
	seen    []reasoning.Context
}

func (f *fakeThinker) Think(ctx context.Context, c reasoning.Context) (reasoning.Thought, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, c)
	return f.thought, f.err
}

type fakeSubmitter struct {
	mu   sync.Mutex
	cmds []command.Command
	err  error
}

func (f *fakeSubmitter) Submit(cmd command.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.cmds = append(f.cmds, cmd)
	return nil
}

func (f *fakeSubmitter) all() []command.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]command.Command(nil), f.cmds...)
}

type fakePerception struct{ snap detection.Snapshot }

func (f fakePerception) Latest() (detection.Snapshot, bool) { return f.snap, true }

type fakeRecorder struct {
	mu       sync.Mutex
	thoughts []journal.Thought
}

func (f *fakeRecorder) RecordThought(ctx context.Context, th journal.Thought) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.thoughts = append(f.thoughts, th)
	return nil
}

type sensor struct {
	mu  sync.Mutex
	cm  float64
	err error
}

func (s *sensor) set(cm float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cm = cm
}

func (s *sensor) ReadDistance(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cm, s.err
}

func TestThink_PublishesAndActs(t *testing.T) {
	hub := status.NewHub()
	th := &fakeThinker{thought: reasoning.Thought{Thought: "A cat! Hello?", Emotion: "happy", Action: reasoning.ActionWave}}
	sub := &fakeSubmitter{}
	rec := &fakeRecorder{}
	snap := detection.Snapshot{Detections: []detection.Detection{{Label: "cat", Confidence: 0.9}}}

	e := New(Config{ActOnThoughts: true}, sub, hub,
		WithThinker(th), WithPerception(fakePerception{snap}), WithRecorder(rec), WithLogger(log.Discard()))
	e.Think(context.Background())

	st := hub.Snapshot()
	if st.Thought != "A cat! Hello?" || st.Emotion != "happy" {
		t.Errorf("state: got %q/%q", st.Thought, st.Emotion)
	}
	cmds := sub.all()
	if len(cmds) != 1 || cmds[0].Kind != command.KindGesture || cmds[0].Gesture != command.GestureWave {
		t.Fatalf("commands: got %+v", cmds)
	}
	if cmds[0].Source != command.SourceAutonomous {
		t.Errorf("source: got %q, want autonomous", cmds[0].Source)
	}
	if len(rec.thoughts) != 1 || rec.thoughts[0].Action != reasoning.ActionWave {
		t.Errorf("recorded: got %+v", rec.thoughts)
	}
	if len(th.seen) != 1 || !th.seen[0].HasSnapshot || !th.seen[0].Snapshot.Has("cat") {
		t.Errorf("context: got %+v", th.seen)
	}
	if n := e.Stats().Thoughts; n != 1 {
		t.Errorf("thoughts: got %d, want 1", n)
	}
}

func TestThink_NoActionWhenDisabled(t *testing.T) {
	hub := status.NewHub()
	th := &fakeThinker{thought: reasoning.Thought{Thought: "Time to dance.", Emotion: "happy", Action: reasoning.ActionDance}}
	sub := &fakeSubmitter{}

	New(Config{}, sub, hub, WithThinker(th), WithLogger(log.Discard())).Think(context.Background())

	if len(sub.all()) != 0 {
		t.Errorf("commands: got %d, want 0", len(sub.all()))
	}
	if hub.Snapshot().Thought != "Time to dance." {
		t.Errorf("thought not published")
	}
}

func TestThink_SkipsWhenBusy(t *testing.T) {
	hub := status.NewHub()
	hub.SetMode("executing")
	th := &fakeThinker{}

	New(Config{}, &fakeSubmitter{}, hub, WithThinker(th), WithLogger(log.Discard())).Think(context.Background())

	if len(th.seen) != 0 {
		t.Errorf("thinker called while busy")
	}
}

func TestThink_ErrorDegradesReasoning(t *testing.T) {
	hub := status.NewHub()
	th := &fakeThinker{err: errors.New("provider down")}

	New(Config{}, &fakeSubmitter{}, hub, WithThinker(th), WithLogger(log.Discard())).Think(context.Background())

	if got := hub.Health(status.Reasoning); got != status.Degraded {
		t.Errorf("health: got %q, want degraded", got)
	}
}

func TestGuard(t *testing.T) {
	hub := status.NewHub()
	s := &sensor{cm: 40}
	sub := &fakeSubmitter{}
	e := New(Config{ObstacleStop: 15}, sub, hub, WithDistanceSensor(s), WithLogger(log.Discard()))
	ctx := context.Background()

	walk := command.Move(command.Forward, 5, command.SourceWeb)
	hub.SetMode("executing")
	hub.SetLastCommand(walk.String())

	tripped, _ := e.Guard(ctx, false)
	if tripped || len(sub.all()) != 0 {
		t.Fatalf("clear path: tripped %v, commands %d", tripped, len(sub.all()))
	}
	if hub.Snapshot().Distance != 40 {
		t.Errorf("distance: got %v, want 40", hub.Snapshot().Distance)
	}

	s.set(10)
	tripped, _ = e.Guard(ctx, tripped)
	tripped, _ = e.Guard(ctx, tripped)
	cmds := sub.all()
	if !tripped || len(cmds) != 1 || cmds[0].Kind != command.KindStop {
		t.Fatalf("obstacle: tripped %v, commands %+v", tripped, cmds)
	}

	// walking backward is not guarded
	hub.SetLastCommand(command.Move(command.Backward, 2, command.SourceWeb).String())
	tripped, _ = e.Guard(ctx, false)
	if tripped || len(sub.all()) != 1 {
		t.Errorf("backward: tripped %v, commands %d", tripped, len(sub.all()))
	}
	if stops := e.Stats().Stops; stops != 1 {
		t.Errorf("stops: got %d, want 1", stops)
	}
}

func TestRun_GuardExitsWithoutSensor(t *testing.T) {
	hub := status.NewHub()
	s := &sensor{err: robot.ErrNoSensor}
	e := New(Config{ObstacleStop: 15, DistancePoll: 5 * time.Millisecond}, &fakeSubmitter{}, hub,
		WithDistanceSensor(s), WithLogger(log.Discard()))

	done := make(chan struct{})
	go func() {
		e.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return without a sensor")
	}
}
