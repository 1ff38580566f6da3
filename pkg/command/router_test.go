package command

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/teslashibe/go-spider/internal/log"
)

func TestRoute(t *testing.T) {
	tests := []struct {
		text      string
		kind      Kind
		dir       Direction
		magnitude float64
		gesture   string
	}{
		{"walk forward", KindMove, Forward, 0, ""},
		{"Walk forward 5 steps", KindMove, Forward, 5, ""},
		{"go back three steps", KindMove, Backward, 3, ""},
		{"turn left", KindMove, Left, 0, ""},
		{"turn right 90 degrees", KindMove, Right, 90, ""},
		{"STOP!", KindStop, "", 0, ""},
		{"stop walking forward", KindStop, "", 0, ""},
		{"take a photo", KindCapture, "", 0, ""},
		{"take a picture of the cat", KindCapture, "", 0, ""},
		{"dance for me", KindGesture, "", 0, GestureDance},
		{"say hello", KindGesture, "", 0, GestureWave},
		{"wave", KindGesture, "", 0, GestureWave},
		{"sit down", KindGesture, "", 0, GestureSit},
		{"stand up", KindGesture, "", 0, GestureStand},
		{"go home", KindGesture, "", 0, GestureHome},
		{"what do you see", KindQuery, "", 0, ""},
		{"What do you see in front of you?", KindQuery, "", 0, ""},
		{"tell me a joke", KindQuery, "", 0, ""},
		{"what's up", KindQuery, "", 0, ""},
		{"what is on your right", KindQuery, "", 0, ""},
		{"hi, can you come back", KindQuery, "", 0, ""},
		{"where did you go", KindQuery, "", 0, ""},
		{"can you walk forward two steps", KindMove, Forward, 2, ""},
		{"hey spider, could you dance", KindGesture, "", 0, GestureDance},
		{"please turn left", KindMove, Left, 0, ""},
		{"hi", KindGesture, "", 0, GestureWave},
		{"", KindQuery, "", 0, ""},
	}
	r := NewRouter(log.Discard())
	for _, tc := range tests {
		t.Run(tc.text, func(t *testing.T) {
			c := r.Route(tc.text, SourceVoice)
			if c.Kind != tc.kind {
				t.Fatalf("Kind: got %s, want %s", c.Kind, tc.kind)
			}
			if c.Direction != tc.dir {
				t.Errorf("Direction: got %q, want %q", c.Direction, tc.dir)
			}
			if c.Magnitude != tc.magnitude {
				t.Errorf("Magnitude: got %v, want %v", c.Magnitude, tc.magnitude)
			}
			if c.Gesture != tc.gesture {
				t.Errorf("Gesture: got %q, want %q", c.Gesture, tc.gesture)
			}
			if c.Source != SourceVoice {
				t.Errorf("Source: got %s", c.Source)
			}
			if c.ID == "" {
				t.Error("ID not assigned")
			}
		})
	}
}

func TestRoute_QueryKeepsText(t *testing.T) {
	r := NewRouter(log.Discard())
	c := r.Route("  tell me about the weather ", SourceWeb)
	if c.Kind != KindQuery || c.Text != "tell me about the weather" {
		t.Errorf("got %+v", c)
	}
}

func TestRoute_Deterministic(t *testing.T) {
	r := NewRouter(log.Discard())
	a := r.Route("turn left 30", SourceWeb)
	b := r.Route("turn left 30", SourceWeb)
	if a.Kind != b.Kind || a.Direction != b.Direction || a.Magnitude != b.Magnitude {
		t.Errorf("same text routed differently: %v vs %v", a, b)
	}
	if a.ID == b.ID {
		t.Error("each command should get a fresh ID")
	}
}

func TestPipe_PreservesOrder(t *testing.T) {
	r := NewRouter(log.Discard())
	in := make(chan Input)
	out := make(chan Command, 4)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		r.Pipe(ctx, in, out)
		close(done)
	}()

	texts := []string{"walk forward", "turn left", "dance", "stop"}
	for _, txt := range texts {
		in <- Input{Text: txt, Source: SourceWeb}
	}
	close(in)
	<-done

	want := []Kind{KindMove, KindMove, KindGesture, KindStop}
	for i, k := range want {
		c := <-out
		if c.Kind != k {
			t.Errorf("command %d: got %s, want %s", i, c.Kind, k)
		}
	}
}

func TestOutcome_Summary(t *testing.T) {
	c := Move(Forward, 3, SourceWeb)
	if got := ExecutedOutcome(c, "walk_forward").Summary(); got != "executed walk_forward" {
		t.Errorf("executed: got %q", got)
	}
	if got := RejectedOutcome(c, "timeout").Summary(); got != "rejected: timeout" {
		t.Errorf("rejected: got %q", got)
	}
	if !strings.Contains(c.String(), "forward 3") {
		t.Errorf("String: got %q", c.String())
	}
}
