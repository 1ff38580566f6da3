package robot

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

const floatTolerance = 1e-9

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < floatTolerance
}

func TestIndex(t *testing.T) {
	if got := Index(FrontRight, Shoulder); got != 0 {
		t.Errorf("FrontRight.Shoulder: got %d, want 0", got)
	}
	if got := Index(BackLeft, Foot); got != 11 {
		t.Errorf("BackLeft.Foot: got %d, want 11", got)
	}
	if got := JointName(4); got != "front_left.elbow" {
		t.Errorf("JointName(4): got %q", got)
	}
}

func TestHome(t *testing.T) {
	h := Home()
	if h.Get(FrontLeft, Elbow) != 120 || h.Get(FrontLeft, Foot) != 60 {
		t.Errorf("front leg home: got %v/%v", h.Get(FrontLeft, Elbow), h.Get(FrontLeft, Foot))
	}
	if h.Get(BackRight, Elbow) != 60 || h.Get(BackRight, Foot) != 120 {
		t.Errorf("back leg home: got %v/%v", h.Get(BackRight, Elbow), h.Get(BackRight, Foot))
	}
	if i := DefaultLimits().OutOfBounds(h); i != -1 {
		t.Errorf("home out of bounds at %s", JointName(i))
	}
}

func TestLimits(t *testing.T) {
	l := DefaultLimits()
	p := Home().With(BackLeft, Foot, 181)
	if got := l.OutOfBounds(p); got != Index(BackLeft, Foot) {
		t.Errorf("OutOfBounds: got %d", got)
	}
	q := Home().Offset(FrontRight, Elbow, 30)
	if got := l.TooFast(Home(), q); got != -1 {
		t.Errorf("30 degree step should be allowed, got joint %d", got)
	}
	q = Home().Offset(FrontRight, Elbow, 31)
	if got := l.TooFast(Home(), q); got != Index(FrontRight, Elbow) {
		t.Errorf("31 degree step: got %d", got)
	}
	c := l.Clamp(Home().With(FrontRight, Foot, -20))
	if c.Get(FrontRight, Foot) != 0 {
		t.Errorf("Clamp: got %v, want 0", c.Get(FrontRight, Foot))
	}
}

func TestPath(t *testing.T) {
	tests := []struct {
		name  string
		delta float64
		step  float64
		want  int
	}{
		{"none", 0, 30, 0},
		{"single", 25, 30, 1},
		{"exact", 60, 30, 2},
		{"partial", 65, 30, 3},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := Home()
			b := a.Offset(FrontRight, Shoulder, tc.delta)
			path := Path(a, b, tc.step)
			if len(path) != tc.want {
				t.Fatalf("len: got %d, want %d", len(path), tc.want)
			}
			prev := a
			for i, p := range path {
				if d := prev.MaxDelta(p); d > tc.step+floatTolerance {
					t.Errorf("step %d: delta %v exceeds %v", i, d, tc.step)
				}
				prev = p
			}
			if len(path) > 0 && !path[len(path)-1].SameAngles(b) {
				t.Errorf("path does not end at target")
			}
		})
	}
}

func TestLerp(t *testing.T) {
	a := Home()
	b := a.Offset(FrontLeft, Shoulder, 20)
	mid := Lerp(a, b, 0.5)
	if !floatEquals(mid.Get(FrontLeft, Shoulder), 100) {
		t.Errorf("mid: got %v, want 100", mid.Get(FrontLeft, Shoulder))
	}
	if !Lerp(a, b, 2).SameAngles(b) {
		t.Errorf("t > 1 should clamp to b")
	}
}

func TestDegreesToTicks(t *testing.T) {
	if got := degreesToTicks(90, false); got != 2048 {
		t.Errorf("center: got %d", got)
	}
	if got := degreesToTicks(180, false); got != 3072 {
		t.Errorf("180: got %d, want 3072", got)
	}
	if got := degreesToTicks(180, true); got != 1024 {
		t.Errorf("180 inverted: got %d, want 1024", got)
	}
	if got := ticksToDegrees(degreesToTicks(47, true), true); math.Abs(got-47) > 0.1 {
		t.Errorf("round trip: got %v", got)
	}
}

func TestSimDriver_Faults(t *testing.T) {
	s := NewSimDriver()
	ctx := context.Background()
	s.FailNext(1)
	if err := s.WriteJointAngles(ctx, Home().Angles); !errors.Is(err, ErrSimFault) {
		t.Errorf("first write: got %v, want ErrSimFault", err)
	}
	if err := s.WriteJointAngles(ctx, Home().Angles); err != nil {
		t.Errorf("second write: %v", err)
	}
	if s.WriteCount() != 1 {
		t.Errorf("WriteCount: got %d, want 1", s.WriteCount())
	}
}

func TestIIODistance(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in_distance_raw")
	os.WriteFile(path, []byte("1234\n"), 0o644)
	d, err := IIODistance{Path: path}.ReadDistance(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !floatEquals(d, 123.4) {
		t.Errorf("distance: got %v, want 123.4", d)
	}
	if _, err := (IIODistance{}).ReadDistance(context.Background()); !errors.Is(err, ErrNoSensor) {
		t.Errorf("empty path: got %v", err)
	}
}
