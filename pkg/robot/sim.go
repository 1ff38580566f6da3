package robot

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrSimFault is returned by SimDriver when a fault has been injected.
var ErrSimFault = errors.New("robot: simulated hardware fault")

// SimDriver is an in-memory Driver used by --mock runs and tests.
// It records every joint write and can inject faults and latency.
type SimDriver struct {
	mu       sync.Mutex
	angles   [NumJoints]float64
	writes   [][NumJoints]float64
	faults   int  // remaining writes to fail
	broken   bool // fail every write until Repair
	latency  time.Duration
	distance float64
	frame    []byte
	closed   bool
}

// NewSimDriver returns a simulator standing at Home with a clear path ahead.
func NewSimDriver() *SimDriver {
	return &SimDriver{angles: Home().Angles, distance: 100}
}

// WriteJointAngles records the write, honoring injected latency and faults.
func (s *SimDriver) WriteJointAngles(ctx context.Context, angles [NumJoints]float64) error {
	s.mu.Lock()
	latency := s.latency
	s.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("robot: sim driver closed")
	}
	if s.broken {
		return ErrSimFault
	}
	if s.faults > 0 {
		s.faults--
		return ErrSimFault
	}
	s.angles = angles
	s.writes = append(s.writes, angles)
	return nil
}

// ReadDistance returns the configured obstacle distance.
func (s *SimDriver) ReadDistance(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.distance, nil
}

// CaptureFrame returns the configured frame bytes.
func (s *SimDriver) CaptureFrame(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil {
		return nil, errors.New("robot: sim driver has no frame")
	}
	return append([]byte(nil), s.frame...), nil
}

// Close marks the driver closed.
func (s *SimDriver) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// FailNext makes the next n writes fail.
func (s *SimDriver) FailNext(n int) {
	s.mu.Lock()
	s.faults = n
	s.mu.Unlock()
}

// Break makes every write fail until Repair is called.
func (s *SimDriver) Break() {
	s.mu.Lock()
	s.broken = true
	s.mu.Unlock()
}

// Repair clears Break.
func (s *SimDriver) Repair() {
	s.mu.Lock()
	s.broken = false
	s.mu.Unlock()
}

// SetLatency delays every write by d.
func (s *SimDriver) SetLatency(d time.Duration) {
	s.mu.Lock()
	s.latency = d
	s.mu.Unlock()
}

// SetDistance sets what ReadDistance reports.
func (s *SimDriver) SetDistance(cm float64) {
	s.mu.Lock()
	s.distance = cm
	s.mu.Unlock()
}

// SetFrame sets what CaptureFrame returns.
func (s *SimDriver) SetFrame(jpeg []byte) {
	s.mu.Lock()
	s.frame = jpeg
	s.mu.Unlock()
}

// Angles returns the last successfully written angles.
func (s *SimDriver) Angles() [NumJoints]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.angles
}

// Writes returns a copy of every successful write in order.
func (s *SimDriver) Writes() [][NumJoints]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][NumJoints]float64, len(s.writes))
	copy(out, s.writes)
	return out
}

// WriteCount returns the number of successful writes.
func (s *SimDriver) WriteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}
