package robot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ErrNoSensor is returned when no distance sensor is attached.
var ErrNoSensor = errors.New("robot: no distance sensor")

// IIODistance reads an ultrasonic ranger exposed by the Linux IIO
// subsystem (srf04 driver), which reports millimetres.
type IIODistance struct {
	Path string // e.g. /sys/bus/iio/devices/iio:device0/in_distance_raw
}

// ReadDistance returns the measured distance in centimetres.
func (s IIODistance) ReadDistance(ctx context.Context) (float64, error) {
	if s.Path == "" {
		return 0, ErrNoSensor
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return 0, fmt.Errorf("robot: read distance: %w", err)
	}
	mm, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, fmt.Errorf("robot: parse distance %q: %w", data, err)
	}
	return mm / 10, nil
}

// Hardware assembles a Driver from separate devices.
type Hardware struct {
	Joints JointWriter
	Range  DistanceSensor
	Camera FrameSource
	closer func() error
}

// NewHardware composes the given devices. Nil sensors report errors on use.
func NewHardware(joints JointWriter, rng DistanceSensor, cam FrameSource) *Hardware {
	h := &Hardware{Joints: joints, Range: rng, Camera: cam}
	if c, ok := joints.(interface{ Close() error }); ok {
		h.closer = c.Close
	}
	return h
}

func (h *Hardware) WriteJointAngles(ctx context.Context, angles [NumJoints]float64) error {
	return h.Joints.WriteJointAngles(ctx, angles)
}

func (h *Hardware) ReadDistance(ctx context.Context) (float64, error) {
	if h.Range == nil {
		return 0, ErrNoSensor
	}
	return h.Range.ReadDistance(ctx)
}

func (h *Hardware) CaptureFrame(ctx context.Context) ([]byte, error) {
	if h.Camera == nil {
		return nil, errors.New("robot: no camera")
	}
	return h.Camera.CaptureFrame(ctx)
}

func (h *Hardware) Close() error {
	if h.closer != nil {
		return h.closer()
	}
	return nil
}
