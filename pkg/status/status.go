// Package status aggregates robot state from every subsystem and
// serves point-in-time snapshots and push updates to observers.
package status

import (
	"sync"
	"time"

	"github.com/teslashibe/go-spider/pkg/command"
	"github.com/teslashibe/go-spider/pkg/detection"
	"github.com/teslashibe/go-spider/pkg/robot"
)

// Health of a subsystem.
type Health string

const (
	Healthy  Health = "healthy"
	Degraded Health = "degraded"
	Failed   Health = "failed"
	// Disabled marks a subsystem switched off by configuration. It does
	// not affect Overall.
	Disabled Health = "disabled"
)

// Subsystem names used as Health keys.
const (
	Actuators  = "actuators"
	Perception = "perception"
	Reasoning  = "reasoning"
	Voice      = "voice"
	Journal    = "journal"
)

// ComponentHealth is the health of one subsystem with an optional detail.
type ComponentHealth struct {
	Status  Health    `json:"status"`
	Detail  string    `json:"detail,omitempty"`
	Changed time.Time `json:"changed"`
}

// RobotState is the aggregate view of the robot.
type RobotState struct {
	Pose        robot.Pose                 `json:"pose"`
	Detections  detection.Snapshot         `json:"detections"`
	LastOutcome *command.Outcome           `json:"last_outcome,omitempty"`
	LastCommand string                     `json:"last_command,omitempty"`
	Health      map[string]ComponentHealth `json:"health"`
	Mode        string                     `json:"mode"`
	Distance    float64                    `json:"distance_cm"`
	Thought     string                     `json:"thought,omitempty"`
	Emotion     string                     `json:"emotion,omitempty"`
	LastPhoto   string                     `json:"last_photo,omitempty"`
	FPS         float64                    `json:"fps"`
	Version     uint64                     `json:"version"`
	UpdatedAt   time.Time                  `json:"updated_at"`
}

// Overall returns the worst health across subsystems.
func (s RobotState) Overall() Health {
	worst := Healthy
	for _, h := range s.Health {
		switch h.Status {
		case Failed:
			return Failed
		case Degraded:
			worst = Degraded
		}
	}
	return worst
}

// clone copies everything a reader could alias.
func (s RobotState) clone() RobotState {
	out := s
	out.Health = make(map[string]ComponentHealth, len(s.Health))
	for k, v := range s.Health {
		out.Health[k] = v
	}
	if s.Detections.Detections != nil {
		out.Detections.Detections = append([]detection.Detection(nil), s.Detections.Detections...)
	}
	if s.LastOutcome != nil {
		o := *s.LastOutcome
		out.LastOutcome = &o
	}
	return out
}

// Hub is the single aggregate of RobotState. Writers replace one field
// at a time (last write wins per field) and never block on readers.
type Hub struct {
	mu    sync.Mutex
	state RobotState
	subs  map[int]chan RobotState
	next  int
}

// NewHub returns a hub in Idle mode with no health reported.
func NewHub() *Hub {
	return &Hub{
		state: RobotState{Mode: "idle", Health: map[string]ComponentHealth{}},
		subs:  map[int]chan RobotState{},
	}
}

// update applies fn under the lock and notifies subscribers.
func (h *Hub) update(fn func(*RobotState)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(&h.state)
	h.state.Version++
	h.state.UpdatedAt = time.Now()
	if len(h.subs) == 0 {
		return
	}
	snap := h.state.clone()
	for _, ch := range h.subs {
		// keep only the newest state for slow subscribers
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

// Snapshot returns a point-in-time copy of the full state.
func (h *Hub) Snapshot() RobotState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.clone()
}

// Subscribe returns a channel that always holds the most recent state
// not yet received, and a cancel func that closes it.
func (h *Hub) Subscribe() (<-chan RobotState, func()) {
	ch := make(chan RobotState, 1)
	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) SetPose(p robot.Pose) {
	h.update(func(s *RobotState) { s.Pose = p })
}

func (h *Hub) SetDetections(snap detection.Snapshot) {
	h.update(func(s *RobotState) { s.Detections = snap })
}

func (h *Hub) SetOutcome(o command.Outcome) {
	h.update(func(s *RobotState) { s.LastOutcome = &o })
}

func (h *Hub) SetLastCommand(c string) {
	h.update(func(s *RobotState) { s.LastCommand = c })
}

func (h *Hub) SetMode(mode string) {
	h.update(func(s *RobotState) { s.Mode = mode })
}

func (h *Hub) SetDistance(cm float64) {
	h.update(func(s *RobotState) { s.Distance = cm })
}

func (h *Hub) SetThought(thought, emotion string) {
	h.update(func(s *RobotState) { s.Thought, s.Emotion = thought, emotion })
}

func (h *Hub) SetPhoto(name string) {
	h.update(func(s *RobotState) { s.LastPhoto = name })
}

func (h *Hub) SetFPS(fps float64) {
	h.update(func(s *RobotState) { s.FPS = fps })
}

// SetHealth records the health of a subsystem. The Changed time only
// moves when the status itself changes.
func (h *Hub) SetHealth(component string, health Health, detail string) {
	h.update(func(s *RobotState) {
		prev, ok := s.Health[component]
		changed := time.Now()
		if ok && prev.Status == health {
			changed = prev.Changed
		}
		s.Health[component] = ComponentHealth{Status: health, Detail: detail, Changed: changed}
	})
}

// Health returns the current health of component, Healthy if never set.
func (h *Hub) Health(component string) Health {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.state.Health[component]; ok {
		return c.Status
	}
	return Healthy
}
