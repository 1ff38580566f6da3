// Package command defines the normalized command stream and the router
// that turns free text from voice, web and autonomy into commands.
package command

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind is the closed set of command variants.
type Kind string

const (
	KindMove    Kind = "move"
	KindGesture Kind = "gesture"
	KindCapture Kind = "capture"
	KindQuery   Kind = "query"
	KindStop    Kind = "stop"
)

// Direction of a Move command.
type Direction string

const (
	Forward  Direction = "forward"
	Backward Direction = "backward"
	Left     Direction = "left"
	Right    Direction = "right"
)

// Source identifies where a command came from.
type Source string

const (
	SourceVoice      Source = "voice"
	SourceWeb        Source = "web"
	SourceAutonomous Source = "autonomous"
)

// Gesture names understood by the gait engine.
const (
	GestureDance = "dance"
	GestureWave  = "wave"
	GestureSit   = "sit"
	GestureStand = "stand"
	GestureHome  = "home"
)

// Command is one normalized request. Only the fields relevant to Kind
// are set: Direction/Magnitude for Move, Gesture for Gesture, Text for
// Query. Magnitude is steps for Forward/Backward and degrees for turns;
// zero means the default.
type Command struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Direction Direction `json:"direction,omitempty"`
	Magnitude float64   `json:"magnitude,omitempty"`
	Gesture   string    `json:"gesture,omitempty"`
	Text      string    `json:"text,omitempty"`
	Source    Source    `json:"source"`
	ArrivedAt time.Time `json:"arrived_at"`
}

func newCommand(kind Kind, src Source) Command {
	return Command{ID: uuid.NewString(), Kind: kind, Source: src, ArrivedAt: time.Now()}
}

// Move builds a Move command.
func Move(dir Direction, magnitude float64, src Source) Command {
	c := newCommand(KindMove, src)
	c.Direction, c.Magnitude = dir, magnitude
	return c
}

// Gesture builds a Gesture command.
func Gesture(name string, src Source) Command {
	c := newCommand(KindGesture, src)
	c.Gesture = name
	return c
}

// Capture builds a CaptureImage command.
func Capture(src Source) Command { return newCommand(KindCapture, src) }

// Query builds a free-form Query command.
func Query(text string, src Source) Command {
	c := newCommand(KindQuery, src)
	c.Text = text
	return c
}

// Stop builds a Stop command.
func Stop(src Source) Command { return newCommand(KindStop, src) }

// String renders the command for logs and the status display.
func (c Command) String() string {
	switch c.Kind {
	case KindMove:
		if c.Magnitude > 0 {
			return fmt.Sprintf("move %s %g", c.Direction, c.Magnitude)
		}
		return fmt.Sprintf("move %s", c.Direction)
	case KindGesture:
		return "gesture " + c.Gesture
	case KindQuery:
		return fmt.Sprintf("query %q", c.Text)
	default:
		return string(c.Kind)
	}
}

// OutcomeKind is the closed set of decision outcomes.
type OutcomeKind string

const (
	Executed OutcomeKind = "executed"
	Answered OutcomeKind = "answered"
	Rejected OutcomeKind = "rejected"
)

// Outcome is the result of deciding on one command.
type Outcome struct {
	CommandID string      `json:"command_id"`
	Command   string      `json:"command"`
	Source    Source      `json:"source"`
	Kind      OutcomeKind `json:"kind"`
	Maneuver  string      `json:"maneuver,omitempty"`
	Text      string      `json:"text,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	At        time.Time   `json:"at"`
}

// ExecutedOutcome reports that maneuver ran to completion for c.
func ExecutedOutcome(c Command, maneuver string) Outcome {
	return Outcome{CommandID: c.ID, Command: c.String(), Source: c.Source, Kind: Executed, Maneuver: maneuver, At: time.Now()}
}

// AnsweredOutcome reports a spoken/text answer for c.
func AnsweredOutcome(c Command, text string) Outcome {
	return Outcome{CommandID: c.ID, Command: c.String(), Source: c.Source, Kind: Answered, Text: text, At: time.Now()}
}

// RejectedOutcome reports that c was not carried out.
func RejectedOutcome(c Command, reason string) Outcome {
	return Outcome{CommandID: c.ID, Command: c.String(), Source: c.Source, Kind: Rejected, Reason: reason, At: time.Now()}
}

// Summary renders the outcome in one line.
func (o Outcome) Summary() string {
	switch o.Kind {
	case Executed:
		return "executed " + o.Maneuver
	case Answered:
		return "answered: " + o.Text
	default:
		return "rejected: " + o.Reason
	}
}
