package reasoning

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/teslashibe/go-spider/internal/log"
	"github.com/teslashibe/go-spider/pkg/detection"
	"github.com/teslashibe/go-spider/pkg/inference"
)

func catContext() Context {
	return Context{
		Snapshot: detection.Snapshot{
			FrameID:    "f1",
			Detections: []detection.Detection{{Label: "cat", Confidence: 0.9}},
		},
		HasSnapshot: true,
		Mode:        "idle",
	}
}

func TestInfer(t *testing.T) {
	tests := []struct {
		name       string
		reply      string
		wantAction string
		wantText   string
		wantErr    error
	}{
		{"answer", `{"action":"none","response":"I see a cat."}`, ActionNone, "I see a cat.", nil},
		{"maneuver", `{"action":"dance","response":"Watch this!"}`, ActionDance, "Watch this!", nil},
		{"fenced", "```json\n{\"action\": \"Turn Left\", \"response\": \"ok\"}\n```", ActionTurnLeft, "ok", nil},
		{"unknown action", `{"action":"fly","response":"I can't fly."}`, ActionNone, "I can't fly.", nil},
		{"prose only", `Sure thing!`, "", "", ErrMalformed},
		{"empty object", `{}`, "", "", ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(inference.NewMock(tt.reply), WithLogger(log.Discard()))
			out, err := r.Infer(context.Background(), "hello", catContext())
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err: got %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if out.Action != tt.wantAction || out.Response != tt.wantText {
				t.Errorf("outcome: got %+v, want %s/%q", out, tt.wantAction, tt.wantText)
			}
		})
	}
}

func TestInfer_SendsSceneContext(t *testing.T) {
	mock := inference.NewMock(`{"action":"none","response":"A cat."}`)
	r := New(mock, WithLogger(log.Discard()))
	if _, err := r.Infer(context.Background(), "what do you see", catContext()); err != nil {
		t.Fatal(err)
	}
	req := mock.LastChat()
	if req == nil || !req.JSON {
		t.Fatalf("request: got %+v", req)
	}
	user := req.Messages[len(req.Messages)-1].Content
	if !strings.Contains(user, "1 cat") || !strings.Contains(user, "what do you see") {
		t.Errorf("prompt missing context: %q", user)
	}
}

func TestInfer_Timeout(t *testing.T) {
	// provider that ignores cancellation entirely
	hang := &inference.Mock{ChatFunc: func(ctx context.Context, req *inference.ChatRequest) (*inference.ChatResponse, error) {
		time.Sleep(time.Second)
		return nil, errors.New("late")
	}}
	r := New(hang, WithLogger(log.Discard()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := r.Infer(ctx, "hello", Context{})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
	if el := time.Since(start); el > 200*time.Millisecond {
		t.Errorf("returned after %v", el)
	}
}

func TestInfer_ProviderError(t *testing.T) {
	r := New(inference.WithError(errors.New("boom")), WithLogger(log.Discard()))
	_, err := r.Infer(context.Background(), "hello", Context{})
	if err == nil || errors.Is(err, ErrTimeout) {
		t.Errorf("got %v, want provider error", err)
	}
}

func TestThink(t *testing.T) {
	r := New(inference.NewMock(`{"thought":"A cat! Friend or foe?","emotion":"grumpy","action":"wave"}`), WithLogger(log.Discard()))
	th, err := r.Think(context.Background(), catContext())
	if err != nil {
		t.Fatal(err)
	}
	if th.Thought == "" || th.Emotion != "curious" || th.Action != ActionWave {
		t.Errorf("thought: got %+v", th)
	}
}

func TestScene(t *testing.T) {
	if got := (Context{}).Scene(); !strings.Contains(got, "not produced") {
		t.Errorf("empty scene: got %q", got)
	}
	c := catContext()
	c.DistanceCM = 42
	if got := c.Scene(); !strings.Contains(got, "42 cm") || !strings.Contains(got, "idle") {
		t.Errorf("scene: got %q", got)
	}
	if got := c.Scene(); !strings.Contains(got, "The cat stands out. Animals in view: cat.") {
		t.Errorf("scene focus: got %q", got)
	}
}
