package perception

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/go-spider/internal/log"
	"github.com/teslashibe/go-spider/pkg/detection"
	"github.com/teslashibe/go-spider/pkg/photos"
	"github.com/teslashibe/go-spider/pkg/status"
)

type fakeCamera struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (c *fakeCamera) CaptureFrame(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return []byte{0xff, 0xd8, byte(c.calls)}, nil
}

type fakeDetector struct {
	mu     sync.Mutex
	labels []string
	err    error
	delay  time.Duration
	block  chan struct{}
}

func (d *fakeDetector) Detect(ctx context.Context, jpeg []byte) ([]detection.Detection, error) {
	d.mu.Lock()
	labels, err, delay, block := d.labels, d.err, d.delay, d.block
	d.mu.Unlock()
	if block != nil {
		<-block
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	var out []detection.Detection
	for _, l := range labels {
		out = append(out, detection.Detection{Label: l, Confidence: 0.9})
	}
	return out, nil
}

func (d *fakeDetector) Close() error { return nil }

func (d *fakeDetector) set(labels []string, err error) {
	d.mu.Lock()
	d.labels, d.err = labels, err
	d.mu.Unlock()
}

type fakeStore struct {
	saved [][]byte
}

func (s *fakeStore) Save(ctx context.Context, jpeg []byte) (photos.Photo, error) {
	s.saved = append(s.saved, jpeg)
	return photos.Photo{Name: "photo_test.jpg", Size: len(jpeg)}, nil
}

func TestStep_PublishesSnapshot(t *testing.T) {
	hub := status.NewHub()
	det := &fakeDetector{labels: []string{"cat", "person"}}
	p := New(&fakeCamera{}, det, WithSink(hub), WithLogger(log.Discard()))

	if _, ok := p.Latest(); ok {
		t.Fatal("Latest should be empty before the first cycle")
	}
	p.Step(context.Background())

	snap, ok := p.Latest()
	if !ok {
		t.Fatal("no snapshot published")
	}
	if !snap.Has("cat") || len(snap.Detections) != 2 {
		t.Errorf("snapshot: got %+v", snap.Detections)
	}
	if snap.FrameID == "" {
		t.Error("FrameID not set")
	}
	if got := hub.Snapshot().Detections.FrameID; got != snap.FrameID {
		t.Errorf("status snapshot: got %q, want %q", got, snap.FrameID)
	}
	if _, ok := p.LatestFrame(); !ok {
		t.Error("frame not retained")
	}
}

func TestStep_DegradedAfterThreeFailures(t *testing.T) {
	hub := status.NewHub()
	det := &fakeDetector{}
	p := New(&fakeCamera{}, det, WithSink(hub), WithLogger(log.Discard()))
	ctx := context.Background()

	det.set([]string{"dog"}, nil)
	p.Step(ctx)
	first, _ := p.Latest()

	det.set(nil, errors.New("model crashed"))
	for i := 1; i <= 3; i++ {
		p.Step(ctx)
		want := status.Healthy
		if i == 3 {
			want = status.Degraded
		}
		if got := hub.Health(status.Perception); got != want {
			t.Fatalf("after %d failures: got %s, want %s", i, got, want)
		}
	}
	// the last good snapshot stays readable
	if snap, _ := p.Latest(); snap.FrameID != first.FrameID {
		t.Error("failed cycles must not replace the snapshot")
	}

	det.set([]string{"cat"}, nil)
	p.Step(ctx)
	if got := hub.Health(status.Perception); got != status.Healthy {
		t.Errorf("after success: got %s, want healthy", got)
	}
	if p.Stats().Failures != 3 {
		t.Errorf("Failures: got %d", p.Stats().Failures)
	}
}

func TestStep_CaptureFailure(t *testing.T) {
	hub := status.NewHub()
	cam := &fakeCamera{err: errors.New("unplugged")}
	p := New(cam, &fakeDetector{}, WithSink(hub), WithFailureThreshold(2), WithLogger(log.Discard()))

	p.Step(context.Background())
	p.Step(context.Background())
	if got := hub.Health(status.Perception); got != status.Degraded {
		t.Errorf("health: got %s, want degraded", got)
	}
}

func TestLatest_NonBlockingDuringDetection(t *testing.T) {
	det := &fakeDetector{labels: []string{"cat"}}
	p := New(&fakeCamera{}, det, WithLogger(log.Discard()))
	p.Step(context.Background())

	det.mu.Lock()
	det.block = make(chan struct{})
	block := det.block
	det.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.Step(context.Background())
		close(done)
	}()

	start := time.Now()
	for i := 0; i < 1000; i++ {
		if snap, ok := p.Latest(); !ok || !snap.Has("cat") {
			t.Fatal("reader saw a missing or partial snapshot")
		}
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("Latest blocked on detection")
	}
	close(block)
	<-done
}

// seqDetector returns n%5+1 detections on its nth call, all labelled n.
type seqDetector struct {
	calls atomic.Int64
}

func (d *seqDetector) Detect(ctx context.Context, jpeg []byte) ([]detection.Detection, error) {
	n := d.calls.Add(1)
	out := make([]detection.Detection, n%5+1)
	for i := range out {
		out[i] = detection.Detection{Label: strconv.FormatInt(n, 10), ClassID: int(n), Confidence: 0.5}
	}
	return out, nil
}

func (d *seqDetector) Close() error { return nil }

func checkSnapshot(snap detection.Snapshot) error {
	if len(snap.Detections) == 0 {
		return errors.New("empty snapshot")
	}
	n, err := strconv.ParseInt(snap.Detections[0].Label, 10, 64)
	if err != nil {
		return err
	}
	if want := int(n%5 + 1); len(snap.Detections) != want {
		return fmt.Errorf("call %d: got %d detections, want %d", n, len(snap.Detections), want)
	}
	for _, d := range snap.Detections {
		if d.ClassID != int(n) {
			return fmt.Errorf("call %d: mixed in detection from call %d", n, d.ClassID)
		}
	}
	if snap.FrameID == "" {
		return fmt.Errorf("call %d: no frame id", n)
	}
	return nil
}

func TestLatest_ConsistentUnderConcurrentSteps(t *testing.T) {
	hub := status.NewHub()
	p := New(&fakeCamera{}, &seqDetector{}, WithSink(hub), WithLogger(log.Discard()))
	p.Step(context.Background())

	stop := make(chan struct{})
	var wg sync.WaitGroup
	errc := make(chan error, 8)
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			frames := map[string]string{}
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap, ok := p.Latest()
				if !ok {
					errc <- errors.New("snapshot disappeared")
					return
				}
				if err := checkSnapshot(snap); err != nil {
					errc <- err
					return
				}
				// a frame id always maps to the same detections
				label := snap.Detections[0].Label
				if prev, seen := frames[snap.FrameID]; seen && prev != label {
					errc <- fmt.Errorf("frame %s: got call %s, was %s", snap.FrameID, label, prev)
					return
				}
				frames[snap.FrameID] = label
				if err := checkSnapshot(hub.Snapshot().Detections); err != nil {
					errc <- fmt.Errorf("hub: %w", err)
					return
				}
			}
		}()
	}

	for i := 0; i < 500; i++ {
		p.Step(context.Background())
	}
	close(stop)
	wg.Wait()
	close(errc)
	for err := range errc {
		t.Error(err)
	}

	snap, _ := p.Latest()
	if got := snap.Detections[0].Label; got != "501" {
		t.Errorf("latest: got call %s, want 501", got)
	}
}

func TestRun_SkipsStaleCycles(t *testing.T) {
	det := &fakeDetector{labels: []string{"cat"}, delay: 35 * time.Millisecond}
	p := New(&fakeCamera{}, det, WithFPS(100), WithLogger(log.Discard()))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	st := p.Stats()
	if st.Skipped == 0 {
		t.Errorf("expected skipped cycles, got %+v", st)
	}
	// 300ms of 35ms cycles can never exceed ~9 completed cycles
	if st.Cycles > 10 {
		t.Errorf("cycles queued up instead of being skipped: %d", st.Cycles)
	}
}

func TestCaptureStill(t *testing.T) {
	store := &fakeStore{}
	p := New(&fakeCamera{}, nil, WithPhotoStore(store), WithLogger(log.Discard()))

	photo, err := p.CaptureStill(context.Background())
	if err != nil {
		t.Fatalf("CaptureStill: %v", err)
	}
	if photo.Name == "" || len(store.saved) != 1 {
		t.Errorf("photo not stored: %+v", photo)
	}

	p = New(&fakeCamera{}, nil, WithLogger(log.Discard()))
	if _, err := p.CaptureStill(context.Background()); !errors.Is(err, ErrNoArchive) {
		t.Errorf("got %v, want ErrNoArchive", err)
	}

	p = New(&fakeCamera{err: errors.New("busy")}, nil, WithPhotoStore(store), WithLogger(log.Discard()))
	if _, err := p.CaptureStill(context.Background()); !errors.Is(err, ErrCapture) {
		t.Errorf("got %v, want ErrCapture", err)
	}
}
