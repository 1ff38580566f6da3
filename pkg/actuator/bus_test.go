package actuator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-spider/internal/log"
	"github.com/teslashibe/go-spider/pkg/robot"
	"github.com/teslashibe/go-spider/pkg/status"
)

func startBus(t *testing.T, hw robot.JointWriter, opts ...Option) (*Bus, *status.Hub) {
	t.Helper()
	hub := status.NewHub()
	opts = append([]Option{WithSink(hub), WithLogger(log.Discard())}, opts...)
	b := New(hw, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return b, hub
}

func TestSubmit_Accepts(t *testing.T) {
	sim := robot.NewSimDriver()
	b, hub := startBus(t, sim)

	target := robot.Home().Offset(robot.FrontRight, robot.Shoulder, 20)
	ack, err := b.Submit(context.Background(), target)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if ack.Revision != 1 {
		t.Errorf("Revision: got %d, want 1", ack.Revision)
	}
	if sim.Angles() != target.Angles {
		t.Error("hardware did not receive the pose")
	}
	if got := hub.Snapshot().Pose; got.Revision != 1 || !got.SameAngles(target) {
		t.Errorf("status pose: got rev %d", got.Revision)
	}
}

func TestSubmit_RejectsWithoutMutation(t *testing.T) {
	tests := []struct {
		name string
		pose robot.Pose
		want error
	}{
		{"out of bounds", robot.Home().With(robot.BackLeft, robot.Foot, 200), ErrOutOfBounds},
		{"negative", robot.Home().With(robot.FrontLeft, robot.Shoulder, -5), ErrOutOfBounds},
		{"too fast", robot.Home().Offset(robot.FrontRight, robot.Elbow, 45), ErrRateLimitExceeded},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sim := robot.NewSimDriver()
			b, _ := startBus(t, sim)
			before := b.Current()

			_, err := b.Submit(context.Background(), tc.pose)
			if !errors.Is(err, tc.want) {
				t.Fatalf("Submit: got %v, want %v", err, tc.want)
			}
			if !errors.Is(err, ErrRateLimitExceeded) {
				t.Errorf("every limit rejection should match ErrRateLimitExceeded: %v", err)
			}
			if sim.WriteCount() != 0 {
				t.Errorf("hardware written %d times", sim.WriteCount())
			}
			if after := b.Current(); after != before {
				t.Errorf("pose mutated: %+v", after)
			}
			if b.Stats().Rejected != 1 {
				t.Errorf("Rejected: got %d", b.Stats().Rejected)
			}
		})
	}
}

func TestSubmit_HardwareFaultDegrades(t *testing.T) {
	sim := robot.NewSimDriver()
	b, hub := startBus(t, sim, WithRecoveryInterval(time.Hour))
	ctx := context.Background()

	sim.Break()
	_, err := b.Submit(ctx, robot.Home())
	if !errors.Is(err, ErrHardwareFault) {
		t.Fatalf("Submit: got %v, want ErrHardwareFault", err)
	}
	if !b.Degraded() {
		t.Fatal("bus should be degraded")
	}
	if hub.Health(status.Actuators) != status.Degraded {
		t.Errorf("status health: got %s", hub.Health(status.Actuators))
	}

	// Fails fast even after the hardware is fixed, until a recovery write succeeds.
	sim.Repair()
	if _, err := b.Submit(ctx, robot.Home()); !errors.Is(err, ErrBusUnavailable) {
		t.Fatalf("Submit while degraded: got %v, want ErrBusUnavailable", err)
	}
	if err := b.Recover(ctx); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if b.Degraded() {
		t.Fatal("bus should have recovered")
	}
	if hub.Health(status.Actuators) != status.Healthy {
		t.Errorf("status health after recovery: got %s", hub.Health(status.Actuators))
	}
	if _, err := b.Submit(ctx, robot.Home()); err != nil {
		t.Errorf("Submit after recovery: %v", err)
	}
}

func TestSubmit_Timeout(t *testing.T) {
	sim := robot.NewSimDriver()
	sim.SetLatency(200 * time.Millisecond)
	b, _ := startBus(t, sim, WithWriteTimeout(20*time.Millisecond), WithRecoveryInterval(time.Hour))

	start := time.Now()
	_, err := b.Submit(context.Background(), robot.Home())
	if !errors.Is(err, ErrHardwareFault) {
		t.Fatalf("Submit: got %v, want ErrHardwareFault", err)
	}
	if time.Since(start) > 150*time.Millisecond {
		t.Errorf("timeout not enforced: took %v", time.Since(start))
	}
	if !b.Degraded() {
		t.Error("timeout should degrade the bus")
	}
}

func TestRun_AutoRecovery(t *testing.T) {
	sim := robot.NewSimDriver()
	b, _ := startBus(t, sim, WithRecoveryInterval(10*time.Millisecond))

	sim.FailNext(1)
	if _, err := b.Submit(context.Background(), robot.Home()); !errors.Is(err, ErrHardwareFault) {
		t.Fatalf("Submit: got %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for b.Degraded() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if b.Degraded() {
		t.Error("bus did not recover on its own")
	}
}

func TestSubmit_FIFOAndSingleWriter(t *testing.T) {
	sim := robot.NewSimDriver()
	b, _ := startBus(t, sim)
	ctx := context.Background()

	// Concurrent submitters must each get a distinct revision.
	var wg sync.WaitGroup
	var mu sync.Mutex
	var revs []uint64
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := b.Current()
			ack, err := b.Submit(ctx, p)
			if err != nil {
				t.Errorf("Submit: %v", err)
				return
			}
			mu.Lock()
			revs = append(revs, ack.Revision)
			mu.Unlock()
		}()
	}
	wg.Wait()

	seen := map[uint64]bool{}
	for _, r := range revs {
		if seen[r] {
			t.Errorf("revision %d assigned twice", r)
		}
		seen[r] = true
	}
	if b.Current().Revision != 20 {
		t.Errorf("final revision: got %d, want 20", b.Current().Revision)
	}
}

func TestSubmit_AfterStop(t *testing.T) {
	sim := robot.NewSimDriver()
	b := New(sim, WithLogger(log.Discard()))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	_, err := b.Submit(context.Background(), robot.Home())
	if !errors.Is(err, ErrBusUnavailable) {
		t.Errorf("Submit after stop: got %v, want ErrBusUnavailable", err)
	}
}
