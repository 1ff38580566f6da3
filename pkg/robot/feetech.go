package robot

import (
	"context"
	"fmt"
	"math"

	"github.com/hipsterbrown/feetech-servo/feetech"
)

// STS servos report 4096 ticks per revolution, centered at 2048.
const (
	ticksPerDegree = 4096.0 / 360.0
	centerTicks    = 2048
)

// FeetechConfig describes the serial servo bus.
type FeetechConfig struct {
	Port     string
	BaudRate int
	// IDs maps flat joint index to servo bus ID.
	IDs [NumJoints]int
	// Invert flips the rotation direction of a joint, for mirrored legs.
	Invert [NumJoints]bool
}

// FeetechDriver writes joint angles to STS serial bus servos.
// A 90 degree joint angle maps to the servo's center position.
type FeetechDriver struct {
	bus   *feetech.Bus
	group *feetech.ServoGroup
	cfg   FeetechConfig
}

// NewFeetechDriver opens the serial bus and groups the twelve servos.
func NewFeetechDriver(cfg FeetechConfig) (*FeetechDriver, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 1_000_000
	}
	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     cfg.Port,
		BaudRate: cfg.BaudRate,
		Protocol: feetech.ProtocolSTS,
	})
	if err != nil {
		return nil, fmt.Errorf("robot: open bus %s: %w", cfg.Port, err)
	}
	group := feetech.NewServoGroupByIDs(bus, cfg.IDs[:]...)
	return &FeetechDriver{bus: bus, group: group, cfg: cfg}, nil
}

// Enable turns on torque for all servos.
func (d *FeetechDriver) Enable(ctx context.Context) error {
	return d.group.EnableAll(ctx)
}

// WriteJointAngles converts degrees to raw positions and sync-writes them.
func (d *FeetechDriver) WriteJointAngles(ctx context.Context, angles [NumJoints]float64) error {
	raw := make(feetech.PositionMap, NumJoints)
	for i, a := range angles {
		raw[d.cfg.IDs[i]] = degreesToTicks(a, d.cfg.Invert[i])
	}
	if err := d.group.SetPositions(ctx, raw); err != nil {
		return fmt.Errorf("robot: write positions: %w", err)
	}
	return nil
}

// ReadJointAngles reads back present positions in degrees.
func (d *FeetechDriver) ReadJointAngles(ctx context.Context) ([NumJoints]float64, error) {
	var out [NumJoints]float64
	raw, err := d.group.Positions(ctx)
	if err != nil {
		return out, fmt.Errorf("robot: read positions: %w", err)
	}
	for i, id := range d.cfg.IDs {
		if v, ok := raw[id]; ok {
			out[i] = ticksToDegrees(v, d.cfg.Invert[i])
		}
	}
	return out, nil
}

// Close disables torque and closes the serial port.
func (d *FeetechDriver) Close() error {
	_ = d.group.DisableAll(context.Background())
	return d.bus.Close()
}

func degreesToTicks(deg float64, invert bool) int {
	off := (deg - 90) * ticksPerDegree
	if invert {
		off = -off
	}
	return centerTicks + int(math.Round(off))
}

func ticksToDegrees(ticks int, invert bool) float64 {
	off := float64(ticks-centerTicks) / ticksPerDegree
	if invert {
		off = -off
	}
	return 90 + off
}
