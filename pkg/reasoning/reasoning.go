// Package reasoning asks a language model what the spider should do with
// a free-form request, or what it is thinking while idle, and parses the
// model's JSON reply into a structured outcome.
package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/teslashibe/go-spider/internal/log"
	"github.com/teslashibe/go-spider/pkg/detection"
	"github.com/teslashibe/go-spider/pkg/inference"
)

var (
	// ErrTimeout is returned when the model did not answer before the
	// caller's deadline.
	ErrTimeout = errors.New("reasoning: timeout")
	// ErrMalformed is returned when the reply holds no usable JSON object.
	ErrMalformed = errors.New("reasoning: malformed reply")
)

// Actions a reply may select.
const (
	ActionNone         = "none"
	ActionWalkForward  = "walk_forward"
	ActionWalkBackward = "walk_backward"
	ActionTurnLeft     = "turn_left"
	ActionTurnRight    = "turn_right"
	ActionDance        = "dance"
	ActionWave         = "wave"
	ActionSit          = "sit"
	ActionStand        = "stand"
	ActionHome         = "home"
	ActionTakePhoto    = "take_photo"
	ActionStop         = "stop"
)

var actions = []string{
	ActionNone, ActionWalkForward, ActionWalkBackward, ActionTurnLeft, ActionTurnRight,
	ActionDance, ActionWave, ActionSit, ActionStand, ActionHome, ActionTakePhoto, ActionStop,
}

// Emotions a thought may carry.
var emotions = []string{"curious", "alert", "happy", "focused", "puzzled", "tired"}

// Context is what the robot knows when it asks.
type Context struct {
	Snapshot    detection.Snapshot
	HasSnapshot bool
	Mode        string
	DistanceCM  float64
}

// Scene renders the context as one line for the prompt.
func (c Context) Scene() string {
	var b strings.Builder
	if c.HasSnapshot {
		b.WriteString(c.Snapshot.Describe())
		if focus := c.Snapshot.Focus(); focus != "" {
			b.WriteString(" " + focus)
		}
	} else {
		b.WriteString("The camera has not produced a frame yet.")
	}
	if c.Mode != "" {
		fmt.Fprintf(&b, " Current mode: %s.", c.Mode)
	}
	if c.DistanceCM > 0 {
		fmt.Fprintf(&b, " Nearest obstacle ahead: %.0f cm.", c.DistanceCM)
	}
	return b.String()
}

// Outcome is the model's decision about a request. Action is one of the
// Action constants; Response is what to say back.
type Outcome struct {
	Action   string `json:"action"`
	Response string `json:"response"`
}

// Acts reports whether the outcome selects a physical action.
func (o Outcome) Acts() bool { return o.Action != "" && o.Action != ActionNone }

// Thought is one idle musing.
type Thought struct {
	Thought string `json:"thought"`
	Emotion string `json:"emotion"`
	Action  string `json:"action,omitempty"`
}

// Service is the reasoning capability consumed by the decision loop.
type Service interface {
	Infer(ctx context.Context, text string, c Context) (Outcome, error)
}

// Reasoner implements Service over an inference provider.
type Reasoner struct {
	provider inference.Provider
	name     string
	log      *slog.Logger
}

var _ Service = (*Reasoner)(nil)

// Option configures a Reasoner.
type Option func(*Reasoner)

// WithName sets the robot's name used in prompts.
func WithName(name string) Option { return func(r *Reasoner) { r.name = name } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Reasoner) { r.log = l } }

// New returns a Reasoner backed by p.
func New(p inference.Provider, opts ...Option) *Reasoner {
	r := &Reasoner{provider: p, name: "Hey Spider"}
	for _, opt := range opts {
		opt(r)
	}
	r.log = log.Or(r.log).With("component", "reasoning")
	return r
}

// Infer asks what to do about text. The deadline of ctx bounds the call;
// when it passes Infer returns ErrTimeout even if the provider ignores
// cancellation.
func (r *Reasoner) Infer(ctx context.Context, text string, c Context) (Outcome, error) {
	system := fmt.Sprintf(`You are %s, a small quadruped robot with a camera.
Decide how to handle the user's request.
Available actions: %s.
Reply with a single JSON object: {"action": "<action>", "response": "<short reply, max 30 words>"}.
Use "none" when the request only needs an answer.`, r.name, strings.Join(actions, ", "))
	user := fmt.Sprintf("What I see: %s\nRequest: %s", c.Scene(), text)

	content, err := r.chat(ctx, system, user)
	if err != nil {
		return Outcome{}, err
	}
	var out Outcome
	if err := decodeObject(content, &out); err != nil {
		return Outcome{}, err
	}
	out.Action = normalizeAction(out.Action)
	if !out.Acts() && strings.TrimSpace(out.Response) == "" {
		return Outcome{}, fmt.Errorf("%w: neither action nor response", ErrMalformed)
	}
	r.log.Debug("inferred", "text", text, "action", out.Action)
	return out, nil
}

// Think produces a short thought about the surroundings. The reply may
// suggest an action.
func (r *Reasoner) Think(ctx context.Context, c Context) (Thought, error) {
	system := fmt.Sprintf(`You are %s, a curious quadruped robot exploring a room.
Respond with one short thought (max 30 words) about what you observe and one emotion from: %s.
You may suggest one action from: %s.
Reply with a single JSON object: {"thought": "...", "emotion": "...", "action": "..."}.`,
		r.name, strings.Join(emotions, ", "), strings.Join(actions, ", "))

	content, err := r.chat(ctx, system, c.Scene())
	if err != nil {
		return Thought{}, err
	}
	var th Thought
	if err := decodeObject(content, &th); err != nil {
		return Thought{}, err
	}
	if !contains(emotions, th.Emotion) {
		th.Emotion = "curious"
	}
	th.Action = normalizeAction(th.Action)
	return th, nil
}

type chatResult struct {
	content string
	err     error
}

func (r *Reasoner) chat(ctx context.Context, system, user string) (string, error) {
	// buffered so an abandoned call never leaks its goroutine
	ch := make(chan chatResult, 1)
	go func() {
		resp, err := r.provider.Chat(ctx, &inference.ChatRequest{
			Messages: []inference.Message{
				inference.NewSystemMessage(system),
				inference.NewUserMessage(user),
			},
			JSON: true,
		})
		if err != nil {
			ch <- chatResult{err: err}
			return
		}
		ch <- chatResult{content: resp.Message.Content}
	}()

	select {
	case <-ctx.Done():
		return "", r.ctxErr(ctx)
	case res := <-ch:
		if res.err != nil {
			if ctx.Err() != nil {
				return "", r.ctxErr(ctx)
			}
			return "", fmt.Errorf("reasoning: %w", res.err)
		}
		return res.content, nil
	}
}

func (r *Reasoner) ctxErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ctx.Err()
}

// decodeObject unmarshals the outermost {...} in s, tolerating prose or
// code fences around it.
func decodeObject(s string, v any) error {
	start, end := strings.Index(s, "{"), strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return fmt.Errorf("%w: %q", ErrMalformed, truncate(s, 80))
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func normalizeAction(a string) string {
	a = strings.ToLower(strings.TrimSpace(a))
	a = strings.ReplaceAll(a, " ", "_")
	if contains(actions, a) {
		return a
	}
	return ActionNone
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
