package command

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"unicode"

	"github.com/teslashibe/go-spider/internal/log"
)

// Input is raw text from one producer.
type Input struct {
	Text   string
	Source Source
}

// Router normalizes free text into Commands. It keeps no state between
// calls; Route is safe for concurrent use.
type Router struct {
	log *slog.Logger
}

// NewRouter returns a router logging through logger (nil for the global logger).
func NewRouter(logger *slog.Logger) *Router {
	return &Router{log: log.Or(logger).With("component", "router")}
}

// Question detection. A leading wh-word always asks; a leading auxiliary
// asks unless a motion verb follows ("can you walk forward").
var (
	fillerWords   = set("hi", "hey", "hello", "ok", "okay", "so", "spider", "please", "um")
	questionWords = set("what", "whats", "where", "why", "how", "who", "when", "which")
	auxWords      = set("can", "could", "would", "will", "do", "does", "did", "is", "are", "am", "should")
	motionVerbs   = set("walk", "move", "go", "step", "turn", "reverse", "dance", "wave", "sit", "stand")
)

func set(words ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[w] = struct{}{}
	}
	return out
}

var numberWords = map[string]float64{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"once": 1, "twice": 2,
}

// Route maps raw text to a Command. Text that matches no known verb
// becomes a Query carrying the original text.
func (r *Router) Route(raw string, src Source) Command {
	cmd := route(raw, src)
	r.log.Debug("routed", "text", raw, "source", src, "command", cmd.String())
	return cmd
}

func route(raw string, src Source) Command {
	fields := split(raw)
	words := tokenize(fields)
	has := func(ws ...string) bool {
		for _, w := range ws {
			if _, ok := words[w]; ok {
				return true
			}
		}
		return false
	}
	n := magnitude(raw)

	switch {
	case has("stop", "halt", "freeze"):
		return Stop(src)
	case has("photo", "picture", "snapshot", "pic"):
		return Capture(src)
	case isQuestion(fields, words):
		return Query(strings.TrimSpace(raw), src)
	case has("what", "describe") && has("see", "look", "around", "front"):
		return Query(strings.TrimSpace(raw), src)
	case has("backward", "backwards", "back", "reverse"):
		return Move(Backward, n, src)
	case has("left"):
		return Move(Left, n, src)
	case has("right"):
		return Move(Right, n, src)
	case has("forward", "forwards", "ahead", "walk"):
		return Move(Forward, n, src)
	case has("dance", "dancing"):
		return Gesture(GestureDance, src)
	case has("wave", "hello", "hi"):
		return Gesture(GestureWave, src)
	case has("sit", "down"):
		return Gesture(GestureSit, src)
	case has("stand", "up"):
		return Gesture(GestureStand, src)
	case has("home", "reset", "neutral"):
		return Gesture(GestureHome, src)
	}
	return Query(strings.TrimSpace(raw), src)
}

// split lowercases raw and breaks it into words and numbers.
func split(raw string) []string {
	fields := strings.FieldsFunc(strings.ToLower(raw), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.'
	})
	for i, f := range fields {
		fields[i] = strings.Trim(f, ".")
	}
	return fields
}

func tokenize(fields []string) map[string]struct{} {
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		out[f] = struct{}{}
	}
	return out
}

// isQuestion looks at the first word after any greeting or filler.
func isQuestion(fields []string, words map[string]struct{}) bool {
	for _, f := range fields {
		if _, ok := fillerWords[f]; ok {
			continue
		}
		if _, ok := questionWords[f]; ok {
			return true
		}
		if _, ok := auxWords[f]; !ok {
			return false
		}
		for w := range motionVerbs {
			if _, ok := words[w]; ok {
				return false
			}
		}
		return true
	}
	return false
}

// magnitude returns the first positive number in raw, or 0.
func magnitude(raw string) float64 {
	for _, f := range split(raw) {
		if v, err := strconv.ParseFloat(f, 64); err == nil && v > 0 {
			return v
		}
		if v, ok := numberWords[f]; ok {
			return v
		}
	}
	return 0
}

// Pipe routes every Input from in onto out until ctx is done or in is
// closed. Order is preserved.
func (r *Router) Pipe(ctx context.Context, in <-chan Input, out chan<- Command) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-in:
			if !ok {
				return
			}
			cmd := r.Route(raw.Text, raw.Source)
			select {
			case out <- cmd:
			case <-ctx.Done():
				return
			}
		}
	}
}
