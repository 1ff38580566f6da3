package robot

import "fmt"

// Leg identifies one of the four legs.
type Leg int

// Leg order matches the servo wiring.
const (
	FrontRight Leg = iota
	FrontLeft
	BackRight
	BackLeft
)

// Joint identifies a joint within a leg.
type Joint int

const (
	Shoulder Joint = iota
	Elbow
	Foot
)

const (
	NumLegs        = 4
	JointsPerLeg   = 3
	NumJoints      = NumLegs * JointsPerLeg
	DefaultMaxStep = 30.0
)

var legNames = [NumLegs]string{"front_right", "front_left", "back_right", "back_left"}
var jointNames = [JointsPerLeg]string{"shoulder", "elbow", "foot"}

func (l Leg) String() string {
	if l < 0 || int(l) >= NumLegs {
		return fmt.Sprintf("leg(%d)", int(l))
	}
	return legNames[l]
}

func (j Joint) String() string {
	if j < 0 || int(j) >= JointsPerLeg {
		return fmt.Sprintf("joint(%d)", int(j))
	}
	return jointNames[j]
}

// Front reports whether l is a front leg.
func (l Leg) Front() bool { return l == FrontRight || l == FrontLeft }

// Right reports whether l is on the right side.
func (l Leg) Right() bool { return l == FrontRight || l == BackRight }

// Index returns the flat joint index for leg/joint.
func Index(l Leg, j Joint) int { return int(l)*JointsPerLeg + int(j) }

// JointName returns a human readable name for a flat joint index.
func JointName(i int) string {
	if i < 0 || i >= NumJoints {
		return fmt.Sprintf("joint#%d", i)
	}
	return Leg(i/JointsPerLeg).String() + "." + Joint(i%JointsPerLeg).String()
}

// Pose is a full set of joint angles in degrees.
// Revision is assigned by the actuator bus on every accepted write.
type Pose struct {
	Angles   [NumJoints]float64 `json:"angles"`
	Revision uint64             `json:"revision"`
}

// Get returns the angle of leg/joint.
func (p Pose) Get(l Leg, j Joint) float64 { return p.Angles[Index(l, j)] }

// With returns a copy of p with leg/joint set to angle.
func (p Pose) With(l Leg, j Joint, angle float64) Pose {
	p.Angles[Index(l, j)] = angle
	return p
}

// Offset returns a copy of p with delta added to leg/joint.
func (p Pose) Offset(l Leg, j Joint, delta float64) Pose {
	p.Angles[Index(l, j)] += delta
	return p
}

// SameAngles reports whether p and o command identical joint angles.
func (p Pose) SameAngles(o Pose) bool { return p.Angles == o.Angles }

// MaxDelta returns the largest absolute joint difference between p and o.
func (p Pose) MaxDelta(o Pose) float64 {
	var m float64
	for i := range p.Angles {
		if d := abs(p.Angles[i] - o.Angles[i]); d > m {
			m = d
		}
	}
	return m
}

// Lerp interpolates between a and b. t is clamped to [0, 1].
func Lerp(a, b Pose, t float64) Pose {
	t = clamp(t, 0, 1)
	var out Pose
	for i := range out.Angles {
		out.Angles[i] = a.Angles[i] + (b.Angles[i]-a.Angles[i])*t
	}
	return out
}

// Path returns the poses leading from a to b (b included, a excluded)
// such that no joint moves more than maxStep between consecutive poses.
// It returns nil when a and b already match.
func Path(a, b Pose, maxStep float64) []Pose {
	d := a.MaxDelta(b)
	if d == 0 {
		return nil
	}
	if maxStep <= 0 {
		maxStep = DefaultMaxStep
	}
	n := int(d / maxStep)
	if float64(n)*maxStep < d {
		n++
	}
	out := make([]Pose, 0, n)
	for i := 1; i < n; i++ {
		out = append(out, Lerp(a, b, float64(i)/float64(n)))
	}
	return append(out, Pose{Angles: b.Angles})
}

// Home is the standing posture: front legs forward, back legs mirrored.
func Home() Pose {
	var p Pose
	for _, l := range []Leg{FrontRight, FrontLeft} {
		p = p.With(l, Shoulder, 90).With(l, Elbow, 120).With(l, Foot, 60)
	}
	for _, l := range []Leg{BackRight, BackLeft} {
		p = p.With(l, Shoulder, 90).With(l, Elbow, 60).With(l, Foot, 120)
	}
	return p
}

// Neutral is the pose a halted robot returns to.
func Neutral() Pose { return Home() }

// Limits bounds every joint and the per-write change of every joint.
type Limits struct {
	Min     [NumJoints]float64
	Max     [NumJoints]float64
	MaxStep [NumJoints]float64
}

// UniformLimits applies the same bounds to every joint.
func UniformLimits(min, max, maxStep float64) Limits {
	var l Limits
	for i := 0; i < NumJoints; i++ {
		l.Min[i], l.Max[i], l.MaxStep[i] = min, max, maxStep
	}
	return l
}

// DefaultLimits is the full 0-180 servo range with 30 degree steps.
func DefaultLimits() Limits { return UniformLimits(0, 180, DefaultMaxStep) }

// OutOfBounds returns the first joint outside its range, or -1.
func (l Limits) OutOfBounds(p Pose) int {
	for i, a := range p.Angles {
		if a < l.Min[i] || a > l.Max[i] {
			return i
		}
	}
	return -1
}

// TooFast returns the first joint whose change from prev to next exceeds
// its step limit, or -1.
func (l Limits) TooFast(prev, next Pose) int {
	for i := range next.Angles {
		if abs(next.Angles[i]-prev.Angles[i]) > l.MaxStep[i]+1e-9 {
			return i
		}
	}
	return -1
}

// MinStep returns the smallest per-joint step limit.
func (l Limits) MinStep() float64 {
	m := l.MaxStep[0]
	for _, s := range l.MaxStep[1:] {
		if s < m {
			m = s
		}
	}
	return m
}

// Clamp returns p with every joint pulled into range.
func (l Limits) Clamp(p Pose) Pose {
	for i := range p.Angles {
		p.Angles[i] = clamp(p.Angles[i], l.Min[i], l.Max[i])
	}
	return p
}

// clamp restricts v to the range [min, max].
func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// abs returns the absolute value of x.
func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
