// Package outbound routes locally produced protocol messages to the writer
// task of the destination peer. Sending never blocks the caller: a message
// either lands in the peer's bounded queue or is dropped with a log entry.
package outbound

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"cybermesh/node/pkg/utils"
)

// DefaultQueueCapacity bounds each peer's queue when Options leaves it unset.
const DefaultQueueCapacity = 1024

// Options configures an Outbound.
type Options struct {
	// QueueCapacity is the per-peer queue bound used by Attach.
	QueueCapacity int
	// Registerer receives the outbound metrics; nil disables them.
	Registerer prometheus.Registerer
	Logger     *utils.Logger
}

// Outbound is the single entry point for sending messages to peers. It owns
// the channel registry and the delivery counters.
type Outbound struct {
	channels      *Registry
	counters      Counters
	metrics       *Metrics
	log           *utils.Logger
	queueCapacity int
}

func New(opts Options) *Outbound {
	log := opts.Logger
	if log == nil {
		log = utils.GetLogger()
	}
	capacity := opts.QueueCapacity
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	o := &Outbound{
		channels:      NewRegistry(),
		log:           log.Named("outbound"),
		queueCapacity: capacity,
	}
	if opts.Registerer != nil {
		o.metrics = newMetrics(opts.Registerer, o)
	}
	return o
}

// Channels exposes the registry to the connection lifecycle.
func (o *Outbound) Channels() *Registry { return o.channels }

// Counters exposes the delivery counters for reporting.
func (o *Outbound) Counters() *Counters { return &o.counters }

// QueueCapacity is the bound applied to queues created by Attach.
func (o *Outbound) QueueCapacity() int { return o.queueCapacity }

// Send hands msg to the queue of the peer it is addressed to. It never blocks
// beyond the registry lookup and never retries; a message that cannot be
// queued is dropped and logged. The returned Outcome is informational.
func (o *Outbound) Send(msg Message) Outcome {
	target, ok := msg.Receiver()
	if !ok {
		o.log.Warn("refusing to send an inbound message",
			utils.ZapStringer("message", msg),
			utils.ZapStringer("peer", msg.Direction.Addr))
		o.metrics.ObserveDrop(DroppedMisdirected, msg.PayloadKind())
		return DroppedMisdirected
	}

	channel, err := o.outboundChannel(target)
	if err != nil {
		o.log.Warn("failed to send message: peer is disconnected",
			utils.ZapStringer("message", msg),
			utils.ZapStringer("peer", target))
		o.metrics.ObserveDrop(DroppedPeerDisconnected, msg.PayloadKind())
		return DroppedPeerDisconnected
	}

	err = channel.TrySend(msg)
	switch {
	case err == nil:
		return Enqueued
	case errors.Is(err, ErrQueueFull):
		o.log.Warn("couldn't send message: the send channel is full",
			utils.ZapStringer("message", msg),
			utils.ZapStringer("peer", target),
			utils.ZapInt("capacity", channel.Cap()))
		o.metrics.ObserveDrop(DroppedQueueFull, msg.PayloadKind())
		return DroppedQueueFull
	default:
		// The writer task is gone but its registry entry is not: the
		// connection lifecycle has yet to reconcile this peer.
		o.log.Error("couldn't send message: the send channel is closed",
			utils.ZapStringer("message", msg),
			utils.ZapStringer("peer", target))
		o.metrics.ObserveDrop(DroppedQueueClosed, msg.PayloadKind())
		return DroppedQueueClosed
	}
}

func (o *Outbound) outboundChannel(addr PeerAddress) (*Channel, error) {
	ch, ok := o.channels.Get(addr)
	if !ok {
		return nil, ErrPeerDisconnected
	}
	return ch, nil
}
