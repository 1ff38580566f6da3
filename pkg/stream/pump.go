package stream

import (
	"context"
	"time"

	"github.com/teslashibe/go-spider/pkg/perception"
)

// FrameSource is where frames come from, normally the perception
// pipeline.
type FrameSource interface {
	LatestFrame() (perception.Frame, bool)
}

// FrameSink consumes JPEG frames.
type FrameSink interface {
	Publish(jpeg []byte)
}

// FrameSinkFunc adapts a function to FrameSink.
type FrameSinkFunc func(jpeg []byte)

func (f FrameSinkFunc) Publish(jpeg []byte) { f(jpeg) }

// Pump forwards each new frame from src to every sink, polling every
// interval, until ctx is done. A frame is forwarded at most once.
func Pump(ctx context.Context, src FrameSource, interval time.Duration, sinks ...FrameSink) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		f, ok := src.LatestFrame()
		if !ok || !f.At.After(last) {
			continue
		}
		last = f.At
		for _, s := range sinks {
			s.Publish(f.JPEG)
		}
	}
}
