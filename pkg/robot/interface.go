// Package robot provides the joint model and hardware interfaces for the
// 12-servo quadruped.
//
// Hardware capabilities are split into small interfaces. Consumers should
// depend only on the ones they use: the actuator bus needs a JointWriter,
// the obstacle guard a DistanceSensor, perception a FrameSource.
package robot

import "context"

// JointWriter drives all twelve servos to the given angles in one bus
// transaction. Angles are degrees, indexed by Index(leg, joint).
type JointWriter interface {
	WriteJointAngles(ctx context.Context, angles [NumJoints]float64) error
}

// DistanceSensor reports the range to the nearest obstacle ahead, in cm.
type DistanceSensor interface {
	ReadDistance(ctx context.Context) (float64, error)
}

// FrameSource captures a single JPEG-encoded camera frame.
type FrameSource interface {
	CaptureFrame(ctx context.Context) ([]byte, error)
}

// Driver is the composite hardware capability.
type Driver interface {
	JointWriter
	DistanceSensor
	FrameSource
	Close() error
}

var (
	_ Driver      = (*SimDriver)(nil)
	_ JointWriter = (*FeetechDriver)(nil)
)
