// Package gait expands named maneuvers into joint pose sequences and
// streams them to the actuator bus.
package gait

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/teslashibe/go-spider/pkg/robot"
)

// Maneuver names.
const (
	WalkForward  = "walk_forward"
	WalkBackward = "walk_backward"
	TurnLeft     = "turn_left"
	TurnRight    = "turn_right"
	Dance        = "dance"
	Wave         = "wave"
	Sit          = "sit"
	Stand        = "stand"
	Home         = "home"
)

// Step labels. A walk step ends on a LabelStride pose.
const (
	LabelLift   = "lift"
	LabelSwing  = "swing"
	LabelStride = "stride"
	LabelTurn   = "turn"
	LabelSettle = "settle"
	LabelPose   = "pose"
	LabelBlend  = "blend"
)

// ErrUnknownManeuver is returned for names with no template.
var ErrUnknownManeuver = errors.New("gait: unknown maneuver")

// Geometry is the stride shape shared by the walking templates, in degrees.
type Geometry struct {
	StepHeight float64 // elbow lift while a leg swings
	Stride     float64 // shoulder swing per step, each way
	TurnStep   float64 // shoulder rotation per turn step
}

// DefaultGeometry keeps every transition within a 30 degree step limit.
func DefaultGeometry() Geometry {
	return Geometry{StepHeight: 20, Stride: 12, TurnStep: 15}
}

// Params parameterize one expansion. Zero values take defaults.
type Params struct {
	Steps    int           // walk steps
	Angle    float64       // turn angle in degrees
	Hold     time.Duration // pause after each pose
	Geometry Geometry
}

// Defaults applied by Expand.
const (
	DefaultSteps = 3
	DefaultAngle = 45.0
	DefaultHold  = 20 * time.Millisecond
)

func (p Params) withDefaults() Params {
	if p.Steps <= 0 {
		p.Steps = DefaultSteps
	}
	if p.Angle <= 0 {
		p.Angle = DefaultAngle
	}
	if p.Hold <= 0 {
		p.Hold = DefaultHold
	}
	if p.Geometry == (Geometry{}) {
		p.Geometry = DefaultGeometry()
	}
	return p
}

// Step is one pose of a program and how long to hold it.
type Step struct {
	Pose  robot.Pose
	Hold  time.Duration
	Label string
}

// Program is an immutable, expanded maneuver.
type Program struct {
	Name  string
	Steps []Step
}

// Count returns the number of steps carrying label.
func (p Program) Count(label string) int {
	n := 0
	for _, s := range p.Steps {
		if s.Label == label {
			n++
		}
	}
	return n
}

// Final returns the pose the program ends on.
func (p Program) Final() robot.Pose {
	if len(p.Steps) == 0 {
		return robot.Neutral()
	}
	return p.Steps[len(p.Steps)-1].Pose
}

type template func(p Params) []Step

var templates = map[string]template{
	WalkForward:  func(p Params) []Step { return walk(p, 1) },
	WalkBackward: func(p Params) []Step { return walk(p, -1) },
	TurnLeft:     func(p Params) []Step { return turn(p, 1) },
	TurnRight:    func(p Params) []Step { return turn(p, -1) },
	Dance:        dance,
	Wave:         wave,
	Sit:          sit,
	Stand:        stand,
	Home:         home,
}

// Names returns the known maneuver names, sorted.
func Names() []string {
	out := make([]string, 0, len(templates))
	for n := range templates {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Expand builds the program for name. It is pure: the same name and
// params always yield the same program. Programs start from Neutral.
func Expand(name string, p Params) (Program, error) {
	t, ok := templates[name]
	if !ok {
		return Program{}, fmt.Errorf("%w: %q", ErrUnknownManeuver, name)
	}
	return Program{Name: name, Steps: t(p.withDefaults())}, nil
}

// builder accumulates steps relative to the neutral posture.
type builder struct {
	pose  robot.Pose
	hold  time.Duration
	steps []Step
}

func newBuilder(hold time.Duration) *builder {
	return &builder{pose: robot.Neutral(), hold: hold}
}

func (b *builder) emit(label string) {
	b.steps = append(b.steps, Step{Pose: b.pose, Hold: b.hold, Label: label})
}

// set places leg/joint at neutral + offset.
func (b *builder) set(l robot.Leg, j robot.Joint, offset float64) {
	b.pose = b.pose.With(l, j, robot.Neutral().Get(l, j)+offset)
}

// liftSign raises a leg: front elbows open upward, back elbows mirror them.
func liftSign(l robot.Leg) float64 {
	if l.Front() {
		return 1
	}
	return -1
}

// sideSign makes a positive shoulder offset swing any leg forward.
func sideSign(l robot.Leg) float64 {
	if l.Right() {
		return 1
	}
	return -1
}

var diagonalPairs = [2][2]robot.Leg{
	{robot.FrontRight, robot.BackLeft},
	{robot.FrontLeft, robot.BackRight},
}

var allLegs = [robot.NumLegs]robot.Leg{robot.FrontRight, robot.FrontLeft, robot.BackRight, robot.BackLeft}

// walk alternates diagonal pairs: lift, swing (the planted pair pushes
// back), plant. Each plant is one stride. dir is +1 forward, -1 back.
func walk(p Params, dir float64) []Step {
	g := p.Geometry
	b := newBuilder(p.Hold)
	for i := 0; i < p.Steps; i++ {
		swing, stance := diagonalPairs[i%2], diagonalPairs[(i+1)%2]
		for _, l := range swing {
			b.set(l, robot.Elbow, liftSign(l)*g.StepHeight)
		}
		b.emit(LabelLift)
		for _, l := range swing {
			b.set(l, robot.Shoulder, sideSign(l)*dir*g.Stride)
		}
		for _, l := range stance {
			b.set(l, robot.Shoulder, -sideSign(l)*dir*g.Stride)
		}
		b.emit(LabelSwing)
		for _, l := range swing {
			b.set(l, robot.Elbow, 0)
		}
		b.emit(LabelStride)
	}
	for _, l := range allLegs {
		b.set(l, robot.Shoulder, 0)
	}
	b.emit(LabelSettle)
	return b.steps
}

// turn rotates in TurnStep increments: each pair lifts, rotates and
// plants, then all shoulders return together, twisting the body.
// dir is +1 for left, -1 for right.
func turn(p Params, dir float64) []Step {
	g := p.Geometry
	n := int(math.Ceil(p.Angle / g.TurnStep))
	b := newBuilder(p.Hold)
	for i := 0; i < n; i++ {
		for _, pair := range diagonalPairs {
			for _, l := range pair {
				b.set(l, robot.Elbow, liftSign(l)*g.StepHeight)
			}
			b.emit(LabelLift)
			for _, l := range pair {
				b.set(l, robot.Shoulder, dir*g.TurnStep)
			}
			b.emit(LabelSwing)
			for _, l := range pair {
				b.set(l, robot.Elbow, 0)
			}
			b.emit(LabelSwing)
		}
		for _, l := range allLegs {
			b.set(l, robot.Shoulder, 0)
		}
		b.emit(LabelTurn)
	}
	return b.steps
}

func dance(p Params) []Step {
	b := newBuilder(p.Hold * 5)
	for i := 0; i < 4; i++ {
		for _, l := range allLegs {
			b.set(l, robot.Shoulder, 12)
			if l.Front() {
				b.set(l, robot.Elbow, liftSign(l)*10)
			} else {
				b.set(l, robot.Elbow, 0)
			}
		}
		b.emit(LabelPose)
		for _, l := range allLegs {
			b.set(l, robot.Shoulder, -12)
			if l.Front() {
				b.set(l, robot.Elbow, 0)
			} else {
				b.set(l, robot.Elbow, liftSign(l)*10)
			}
		}
		b.emit(LabelPose)
	}
	for _, l := range allLegs {
		b.set(l, robot.Shoulder, 0)
		b.set(l, robot.Elbow, 0)
	}
	b.emit(LabelSettle)
	return b.steps
}

// wave raises the front right leg in two stages and swings it.
func wave(p Params) []Step {
	const leg = robot.FrontRight
	b := newBuilder(p.Hold * 5)
	b.set(leg, robot.Elbow, 25)
	b.set(leg, robot.Foot, -10)
	b.emit(LabelLift)
	b.set(leg, robot.Elbow, 50)
	b.set(leg, robot.Foot, -20)
	b.emit(LabelLift)
	for i := 0; i < 3; i++ {
		b.set(leg, robot.Shoulder, 12)
		b.emit(LabelPose)
		b.set(leg, robot.Shoulder, -12)
		b.emit(LabelPose)
	}
	b.set(leg, robot.Shoulder, 0)
	b.set(leg, robot.Elbow, 25)
	b.set(leg, robot.Foot, -10)
	b.emit(LabelSettle)
	b.set(leg, robot.Elbow, 0)
	b.set(leg, robot.Foot, 0)
	b.emit(LabelSettle)
	return b.steps
}

// sit lowers the rear in three stages and leaves the robot sitting.
func sit(p Params) []Step {
	b := newBuilder(p.Hold * 3)
	for i := 1; i <= 3; i++ {
		off := float64(i) * 10
		for _, l := range []robot.Leg{robot.BackRight, robot.BackLeft} {
			b.set(l, robot.Elbow, -off)
			b.set(l, robot.Foot, off)
		}
		for _, l := range []robot.Leg{robot.FrontRight, robot.FrontLeft} {
			b.set(l, robot.Elbow, off/2)
		}
		b.emit(LabelPose)
	}
	return b.steps
}

// stand pushes all feet down to raise the body.
func stand(p Params) []Step {
	b := newBuilder(p.Hold * 3)
	for i := 1; i <= 2; i++ {
		off := float64(i) * 10
		for _, l := range allLegs {
			b.set(l, robot.Foot, -liftSign(l)*off)
		}
		b.emit(LabelPose)
	}
	return b.steps
}

func home(p Params) []Step {
	b := newBuilder(p.Hold)
	b.emit(LabelSettle)
	return b.steps
}
