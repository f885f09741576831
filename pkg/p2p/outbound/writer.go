package outbound

import (
	"context"
	"fmt"

	"cybermesh/node/pkg/utils"
)

// MessageWriter serializes one payload onto a peer stream. Implementations are
// driven by a single writer task and need not be safe for concurrent use.
type MessageWriter interface {
	WriteMessage(payload Payload) error
}

// ListenForOutboundMessages is the writer task of one connection. It writes
// queued messages in FIFO order, counting each result, and keeps going after a
// failed write: whether the connection is still usable is the lifecycle's
// call. It returns once the queue is closed and drained, or ctx is done, and
// closes the queue on the way out.
func (o *Outbound) ListenForOutboundMessages(ctx context.Context, rx *Receiver, w MessageWriter) {
	defer rx.Close()
	for {
		msg, ok := rx.Recv(ctx)
		if !ok {
			return
		}
		if err := o.writeOne(w, msg); err != nil {
			o.counters.recordFailure()
			o.log.Warn("failed to send message",
				utils.ZapStringer("message", msg),
				utils.ZapStringer("peer", msg.Direction.Addr),
				utils.ZapError(err))
			continue
		}
		o.counters.recordSuccess()
	}
}

// writeOne turns a panicking codec into an ordinary write failure so that it
// cannot take the writer goroutine down.
func (o *Outbound) writeOne(w MessageWriter, msg Message) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = utils.WrapError(fmt.Errorf("panic: %v", rec), utils.CodeWriteFailure, "message writer panicked")
		}
	}()
	if err := w.WriteMessage(msg.Payload); err != nil {
		return utils.WrapError(err, utils.CodeWriteFailure, "write "+msg.String())
	}
	return nil
}
