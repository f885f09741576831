package outbound

import "cybermesh/node/pkg/utils"

// Failure taxonomy of the outbound path. None of these ever reach a Send
// caller as an error; they are logged, counted and the message is dropped.
var (
	ErrPeerDisconnected = utils.NewError(utils.CodePeerDisconnected, "peer is disconnected")
	ErrQueueFull        = utils.NewError(utils.CodeQueueFull, "the send channel is full")
	ErrQueueClosed      = utils.NewError(utils.CodeQueueClosed, "the send channel is closed")
	ErrWriteFailure     = utils.NewError(utils.CodeWriteFailure, "failed to write message")
)

// Outcome is what happened to a single Send. It exists for observability;
// callers are free to ignore it.
type Outcome uint8

const (
	Enqueued Outcome = iota
	DroppedPeerDisconnected
	DroppedQueueFull
	DroppedQueueClosed
	DroppedMisdirected
)

func (o Outcome) String() string {
	switch o {
	case Enqueued:
		return "enqueued"
	case DroppedPeerDisconnected:
		return "peer_disconnected"
	case DroppedQueueFull:
		return "queue_full"
	case DroppedQueueClosed:
		return "queue_closed"
	case DroppedMisdirected:
		return "misdirected"
	default:
		return "unknown"
	}
}

// Dropped reports whether the message was discarded.
func (o Outcome) Dropped() bool {
	return o != Enqueued
}
