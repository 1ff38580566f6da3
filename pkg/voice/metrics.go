package voice

import (
	"sync/atomic"
	"time"
)

// Stats counts listener activity.
type Stats struct {
	Heard          int64     `json:"heard"`
	Commands       int64     `json:"commands"`
	FalsePositives int64     `json:"false_positives"`
	Reconnects     int64     `json:"reconnects"`
	Connected      bool      `json:"connected"`
	LastHeard      time.Time `json:"last_heard,omitzero"`
}

type counters struct {
	heard          atomic.Int64
	commands       atomic.Int64
	falsePositives atomic.Int64
	reconnects     atomic.Int64
	connected      atomic.Bool
	lastHeard      atomic.Int64 // unix nanos
}

func (c *counters) snapshot() Stats {
	s := Stats{
		Heard:          c.heard.Load(),
		Commands:       c.commands.Load(),
		FalsePositives: c.falsePositives.Load(),
		Reconnects:     c.reconnects.Load(),
		Connected:      c.connected.Load(),
	}
	if n := c.lastHeard.Load(); n > 0 {
		s.LastHeard = time.Unix(0, n)
	}
	return s
}
