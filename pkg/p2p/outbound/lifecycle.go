package outbound

import (
	"context"

	"cybermesh/node/pkg/utils"
)

// Conn is the outbound side of one established connection: its registry
// entry and the writer task draining it.
type Conn struct {
	addr    PeerAddress
	channel *Channel
	done    chan struct{}
}

func (c *Conn) Addr() PeerAddress { return c.addr }

// Done closes when the writer task has returned.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Attach is called by the connection lifecycle once a handshake with addr has
// completed. It creates the peer's queue, registers it and starts the writer
// task over w. If addr already had an entry, the old queue is closed and its
// writer drains and exits.
func (o *Outbound) Attach(ctx context.Context, addr PeerAddress, w MessageWriter) *Conn {
	ch, rx := NewChannel(o.queueCapacity)
	conn := &Conn{addr: addr, channel: ch, done: make(chan struct{})}

	if prev := o.channels.Insert(addr, ch); prev != nil {
		prev.Close()
		o.log.Info("replaced outbound channel",
			utils.ZapStringer("peer", addr))
	}

	go func() {
		defer close(conn.done)
		o.ListenForOutboundMessages(ctx, rx, w)
	}()

	o.log.Debug("outbound channel attached",
		utils.ZapStringer("peer", addr),
		utils.ZapInt("capacity", ch.Cap()))
	return conn
}

// Detach is the teardown counterpart of Attach. The registry entry is removed
// only if it still belongs to conn; the queue is then closed so the writer
// task finishes what is already queued and exits. It reports whether the
// registry entry was removed.
func (o *Outbound) Detach(conn *Conn) bool {
	if conn == nil {
		return false
	}
	removed := o.channels.RemoveIf(conn.addr, conn.channel)
	conn.channel.Close()
	o.log.Debug("outbound channel detached",
		utils.ZapStringer("peer", conn.addr),
		utils.ZapBool("registry_entry_removed", removed),
		utils.ZapInt("pending", conn.channel.Len()))
	return removed
}
