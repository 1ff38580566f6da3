package display

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/teslashibe/go-spider/pkg/command"
	"github.com/teslashibe/go-spider/pkg/detection"
	"github.com/teslashibe/go-spider/pkg/status"
)

func sampleState() status.RobotState {
	walk := command.Move(command.Forward, 3, command.SourceVoice)
	o := command.ExecutedOutcome(walk, "walk_forward")
	return status.RobotState{
		Mode:        "executing",
		LastCommand: walk.String(),
		LastOutcome: &o,
		Distance:    42,
		FPS:         4.8,
		Thought:     "Is that a cat?",
		Emotion:     "curious",
		Detections:  detection.Snapshot{Detections: []detection.Detection{{Label: "cat", Confidence: 0.8}}},
		Health: map[string]status.ComponentHealth{
			status.Perception: {Status: status.Degraded, Detail: "3 consecutive failures"},
			status.Actuators:  {Status: status.Healthy},
		},
	}
}

func TestPanel(t *testing.T) {
	out := Panel(sampleState(), 0)
	for _, want := range []string{
		"EXECUTING", "move forward 3", "executed walk_forward", "42 cm", "4.8 fps",
		"I can see 1 cat.", `"Is that a cat?" (curious)`, "degraded", "3 consecutive failures",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("panel missing %q:\n%s", want, out)
		}
	}
}

func TestPanel_Empty(t *testing.T) {
	out := Panel(status.RobotState{}, 60)
	if !strings.Contains(out, "HEY SPIDER") || !strings.Contains(out, "distance") {
		t.Errorf("empty panel:\n%s", out)
	}
}

func TestModel_Update(t *testing.T) {
	var sent []string
	send := func(ctx context.Context, text string) error {
		sent = append(sent, text)
		return nil
	}
	fetch := func(ctx context.Context) (status.RobotState, error) { return sampleState(), nil }
	m := NewModel(fetch, send, 0)

	if !strings.Contains(m.View(), "connecting") {
		t.Errorf("initial view: %s", m.View())
	}

	next, _ := m.Update(stateMsg{state: sampleState()})
	m = next.(Model)
	if !strings.Contains(m.View(), "EXECUTING") {
		t.Errorf("view after state: %s", m.View())
	}

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("w")})
	m = next.(Model)
	if cmd == nil {
		t.Fatal("no command for key w")
	}
	msg := cmd()
	if len(sent) != 1 || sent[0] != "walk forward" {
		t.Errorf("sent: got %v", sent)
	}
	next, _ = m.Update(msg)
	m = next.(Model)
	if !strings.Contains(m.View(), "sent: walk forward") {
		t.Errorf("note missing: %s", m.View())
	}

	next, _ = m.Update(stateMsg{err: errors.New("connection refused")})
	m = next.(Model)
	view := m.View()
	if !strings.Contains(view, "connection refused") || !strings.Contains(view, "EXECUTING") {
		t.Errorf("error view should keep last state: %s", view)
	}

	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")}); cmd == nil {
		t.Error("q should quit")
	}
}

func TestModel_ReadOnly(t *testing.T) {
	m := NewModel(func(ctx context.Context) (status.RobotState, error) { return status.RobotState{}, nil }, nil, 0)
	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("w")}); cmd != nil {
		t.Error("read-only model sent a command")
	}
}
