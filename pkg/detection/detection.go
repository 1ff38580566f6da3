// Package detection defines labeled object detections and the snapshot
// published by the perception pipeline.
package detection

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Box is a bounding box in normalized image coordinates (0-1),
// X/Y being the top-left corner.
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Detection is one labeled object found in a frame.
type Detection struct {
	Label      string  `json:"label"`
	ClassID    int     `json:"class_id"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// Center returns the center point of the bounding box.
func (d Detection) Center() (x, y float64) {
	return d.Box.X + d.Box.W/2, d.Box.Y + d.Box.H/2
}

// Area returns the area of the bounding box.
func (d Detection) Area() float64 {
	return d.Box.W * d.Box.H
}

// Snapshot is the detection result for one frame. Snapshots are
// immutable once published.
type Snapshot struct {
	FrameID    string        `json:"frame_id"`
	Timestamp  time.Time     `json:"timestamp"`
	Detections []Detection   `json:"detections"`
	Latency    time.Duration `json:"latency_ns"`
}

// Has reports whether any detection carries label.
func (s Snapshot) Has(label string) bool {
	for _, d := range s.Detections {
		if d.Label == label {
			return true
		}
	}
	return false
}

// Counts returns the number of detections per label.
func (s Snapshot) Counts() map[string]int {
	counts := make(map[string]int, len(s.Detections))
	for _, d := range s.Detections {
		counts[d.Label]++
	}
	return counts
}

// Describe renders the snapshot as a short sentence, e.g.
// "I can see 1 cat and 2 persons."
func (s Snapshot) Describe() string {
	counts := s.Counts()
	if len(counts) == 0 {
		return "I don't see anything right now."
	}
	labels := make([]string, 0, len(counts))
	for l := range counts {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	parts := make([]string, 0, len(labels))
	for _, l := range labels {
		n := counts[l]
		if n == 1 {
			parts = append(parts, fmt.Sprintf("1 %s", l))
		} else {
			parts = append(parts, fmt.Sprintf("%d %ss", n, l))
		}
	}
	var list string
	switch len(parts) {
	case 1:
		list = parts[0]
	default:
		list = strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
	}
	return "I can see " + list + "."
}

// Side places the detection relative to the camera: "on my left", "on
// my right" or "ahead". It is empty when the box is unknown.
func (d Detection) Side() string {
	if d.Box.W == 0 && d.Box.H == 0 {
		return ""
	}
	switch x, _ := d.Center(); {
	case x < 1.0/3:
		return "on my left"
	case x > 2.0/3:
		return "on my right"
	default:
		return "ahead"
	}
}

// Focus names the most salient detection and lists any animals in view,
// e.g. "The dog on my left stands out. Animals in view: cat, dog." It is
// empty when nothing is detected.
func (s Snapshot) Focus() string {
	best := SelectBest(s.Detections)
	if best == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("The " + best.Label)
	if side := best.Side(); side != "" {
		b.WriteString(" " + side)
	}
	b.WriteString(" stands out.")

	var animals []string
	for label := range s.Counts() {
		if IsAnimal(label) {
			animals = append(animals, label)
		}
	}
	if len(animals) > 0 {
		sort.Strings(animals)
		fmt.Fprintf(&b, " Animals in view: %s.", strings.Join(animals, ", "))
	}
	return b.String()
}

// Detector finds labeled objects in a JPEG frame.
type Detector interface {
	Detect(ctx context.Context, jpeg []byte) ([]Detection, error)
	Close() error
}

// SelectBest picks the most salient detection.
// Score: confidence * 0.7 + relative area * 0.3.
func SelectBest(dets []Detection) *Detection {
	if len(dets) == 0 {
		return nil
	}
	if len(dets) == 1 {
		return &dets[0]
	}

	maxArea := 0.0
	for _, d := range dets {
		if d.Area() > maxArea {
			maxArea = d.Area()
		}
	}

	bestScore := -1.0
	var best *Detection
	for i := range dets {
		score := dets[i].Confidence * 0.7
		if maxArea > 0 {
			score += (dets[i].Area() / maxArea) * 0.3
		}
		if score > bestScore {
			bestScore = score
			best = &dets[i]
		}
	}
	return best
}

// IsAnimal returns true if the label is an animal class.
func IsAnimal(label string) bool {
	switch label {
	case "bird", "cat", "dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe":
		return true
	}
	return false
}
