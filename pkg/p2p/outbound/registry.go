package outbound

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// Registry maps a connected peer's address to the producer half of its
// outbound queue. Reads are lock-free; writes lock a single bucket, so
// lookups for unrelated peers never contend.
//
// Only the connection lifecycle (Attach/Detach) mutates the registry. The
// dispatcher and writer tasks only read it.
type Registry struct {
	channels *xsync.MapOf[PeerAddress, *Channel]
}

func NewRegistry() *Registry {
	return &Registry{channels: xsync.NewMapOf[PeerAddress, *Channel]()}
}

// Get returns the channel for addr. The entry may already be stale; callers
// must handle ErrQueueClosed from TrySend.
func (r *Registry) Get(addr PeerAddress) (*Channel, bool) {
	return r.channels.Load(addr)
}

// Insert registers ch for addr and returns the channel it replaced, if any.
func (r *Registry) Insert(addr PeerAddress, ch *Channel) (replaced *Channel) {
	prev, loaded := r.channels.LoadAndStore(addr, ch)
	if !loaded {
		return nil
	}
	return prev
}

// Remove deletes the entry for addr regardless of which channel it holds.
func (r *Registry) Remove(addr PeerAddress) (*Channel, bool) {
	return r.channels.LoadAndDelete(addr)
}

// RemoveIf deletes the entry for addr only while it still holds ch, so a late
// teardown of an old connection cannot evict its replacement.
func (r *Registry) RemoveIf(addr PeerAddress, ch *Channel) bool {
	removed := false
	r.channels.Compute(addr, func(old *Channel, loaded bool) (*Channel, bool) {
		if !loaded {
			return nil, true
		}
		if old == ch {
			removed = true
			return nil, true
		}
		return old, false
	})
	return removed
}

func (r *Registry) Len() int {
	return r.channels.Size()
}

// Range calls fn for every entry until fn returns false. Entries inserted or
// removed concurrently may or may not be visited.
func (r *Registry) Range(fn func(addr PeerAddress, ch *Channel) bool) {
	r.channels.Range(fn)
}

// Addresses returns a point-in-time list of registered peers.
func (r *Registry) Addresses() []PeerAddress {
	out := make([]PeerAddress, 0, r.channels.Size())
	r.channels.Range(func(addr PeerAddress, _ *Channel) bool {
		out = append(out, addr)
		return true
	})
	return out
}

// QueuedMessages sums the depth of every registered queue.
func (r *Registry) QueuedMessages() int {
	total := 0
	r.channels.Range(func(_ PeerAddress, ch *Channel) bool {
		total += ch.Len()
		return true
	})
	return total
}
