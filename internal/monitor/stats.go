package monitor

import "sync/atomic"

// Stats holds dispatch counters updated atomically by the event loop.
type Stats struct {
	EventsSeen  int64 // Raw notifications read off the event source
	Bursts      int64 // Debounced bursts dispatched
	CommandRuns int64 // Commands executed
	Rebuilds    int64 // Watch tree rebuilds
	Discards    int64 // Bursts that matched nothing
}

// Snapshot returns a consistent copy of the counters.
func (s *Stats) Snapshot() Stats {
	return Stats{
		EventsSeen:  atomic.LoadInt64(&s.EventsSeen),
		Bursts:      atomic.LoadInt64(&s.Bursts),
		CommandRuns: atomic.LoadInt64(&s.CommandRuns),
		Rebuilds:    atomic.LoadInt64(&s.Rebuilds),
		Discards:    atomic.LoadInt64(&s.Discards),
	}
}
