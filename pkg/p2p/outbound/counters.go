package outbound

import "sync/atomic"

// Counters tracks wire-level delivery outcomes for one node. Both values only
// ever grow; there is no reset. A message dropped before reaching a writer
// task is counted in neither.
type Counters struct {
	sendSuccess atomic.Uint64
	sendFailure atomic.Uint64
}

// CountersSnapshot is a point-in-time copy of Counters.
type CountersSnapshot struct {
	SendSuccess uint64 `json:"send_success_count"`
	SendFailure uint64 `json:"send_failure_count"`
}

// SendSuccessCount is the number of messages written to a peer stream.
func (c *Counters) SendSuccessCount() uint64 {
	return c.sendSuccess.Load()
}

// SendFailureCount is the number of dequeued messages whose write failed.
func (c *Counters) SendFailureCount() uint64 {
	return c.sendFailure.Load()
}

func (c *Counters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		SendSuccess: c.sendSuccess.Load(),
		SendFailure: c.sendFailure.Load(),
	}
}

func (c *Counters) recordSuccess() { c.sendSuccess.Add(1) }

func (c *Counters) recordFailure() { c.sendFailure.Add(1) }
