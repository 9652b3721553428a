package rrl

import "time"

// Snapshot is the immutable status record returned by GetStatus (spec.md
// §3, §4.9). Each call either returns a cached copy or regenerates one, per
// the cacheFor duration passed to GetStatus.
type Snapshot struct {
	GeneratedAt time.Time

	MainQueueDepth   int
	DelayQueueDepths []int // one entry per delay queue, index-aligned

	ActiveWorkers int
	WorkerPoolSize int

	DispatcherAlive bool
	DelayDrainersAlive []bool

	// Cumulative counters, mirrored onto Prometheus instruments (SPEC_FULL
	// §13) in addition to being carried here for callers who only want the
	// in-process snapshot.
	TotalSubmitted      int64
	TotalSucceeded      int64
	TotalFailedTerminal int64
	TotalTimedOut       int64
	TotalCancelled      int64
	TotalRejected       int64 // TooManyPending
	TicketsGranted      int64
	TicketsDenied       int64
}

// LiveEntries is the sum of every non-terminal entry the snapshot accounts
// for: main queue depth plus all delay queue depths plus active workers.
func (s Snapshot) LiveEntries() int {
	total := s.MainQueueDepth + s.ActiveWorkers
	for _, d := range s.DelayQueueDepths {
		total += d
	}
	return total
}
