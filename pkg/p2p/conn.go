package p2p

import (
	"context"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	multiaddr "github.com/multiformats/go-multiaddr"

	"cybermesh/node/pkg/p2p/outbound"
	"cybermesh/node/pkg/p2p/wire"
	"cybermesh/node/pkg/utils"
)

// peerLink is the outbound side of one connected peer. conn is nil while the
// stream is still being opened.
type peerLink struct {
	pid    peer.ID
	addr   outbound.PeerAddress
	stream network.Stream
	conn   *outbound.Conn
}

// netNotifiee relays connection events into the outbound registry and the
// peer book. Callbacks run with swarm locks held and must not block.
type netNotifiee struct{ r *Router }

func (n *netNotifiee) Listen(network.Network, multiaddr.Multiaddr)      {}
func (n *netNotifiee) ListenClose(network.Network, multiaddr.Multiaddr) {}
func (n *netNotifiee) Connected(net network.Network, c network.Conn) {
	n.r.onConnected(net, c)
}
func (n *netNotifiee) Disconnected(net network.Network, c network.Conn) {
	n.r.onDisconnected(net, c)
}

func (r *Router) onConnected(_ network.Network, c network.Conn) {
	addr, err := outbound.PeerAddressFromMultiaddr(c.RemoteMultiaddr())
	if err != nil {
		r.log.Warn("ignoring connection without ip endpoint",
			utils.ZapString("peer_id", c.RemotePeer().String()),
			utils.ZapError(err))
		return
	}

	r.mu.Lock()
	if _, ok := r.links[c.RemotePeer()]; ok {
		// Extra connection to a peer we already have a link with.
		r.mu.Unlock()
		return
	}
	link := &peerLink{pid: c.RemotePeer(), addr: addr}
	r.links[link.pid] = link
	r.mu.Unlock()

	go r.attach(link)
}

func (r *Router) onDisconnected(n network.Network, c network.Conn) {
	pid := c.RemotePeer()
	if n.Connectedness(pid) == network.Connected {
		return
	}

	r.mu.Lock()
	link, ok := r.links[pid]
	if ok {
		delete(r.links, pid)
	}
	r.mu.Unlock()
	if ok {
		go r.teardown(link, true)
	}
}

// attach opens the outbound stream and registers the peer's queue. It gives
// up quietly if the peer disconnected in the meantime.
func (r *Router) attach(link *peerLink) {
	ctx, cancel := context.WithTimeout(r.ctx, r.opts.StreamOpenTimeout)
	s, err := r.Host.NewStream(ctx, link.pid, r.protocol)
	cancel()
	if err != nil {
		r.log.Warn("failed to open outbound stream",
			utils.ZapStringer("peer", link.addr),
			utils.ZapString("peer_id", link.pid.String()),
			utils.ZapError(err))
		r.mu.Lock()
		if r.links[link.pid] == link {
			delete(r.links, link.pid)
		}
		r.mu.Unlock()
		return
	}

	r.mu.Lock()
	if r.links[link.pid] != link {
		r.mu.Unlock()
		_ = s.Reset()
		return
	}
	link.stream = s
	link.conn = r.outbound.Attach(r.ctx, link.addr, wire.NewWriter(s, r.codec))
	r.mu.Unlock()

	r.state.OnConnect(link.addr, link.pid.String())
	r.log.Info("peer attached",
		utils.ZapStringer("peer", link.addr),
		utils.ZapString("peer_id", link.pid.String()))
}

// teardown removes the registry entry and closes the stream once the writer
// has flushed what was already queued. With flush false the stream is reset
// right away instead.
func (r *Router) teardown(link *peerLink, flush bool) {
	r.mu.Lock()
	conn, s := link.conn, link.stream
	r.mu.Unlock()
	if conn == nil {
		return
	}

	r.release(link.addr, conn)
	if flush {
		<-conn.Done()
		_ = s.Close()
	} else {
		_ = s.Reset()
	}

	r.log.Info("peer detached",
		utils.ZapStringer("peer", link.addr),
		utils.ZapString("peer_id", link.pid.String()))
}

// release detaches conn and marks addr disconnected in the peer book, unless
// a newer connection to addr has already taken over the registry entry.
func (r *Router) release(addr outbound.PeerAddress, conn *outbound.Conn) bool {
	if !r.outbound.Detach(conn) {
		return false
	}
	r.state.OnDisconnect(addr)
	return true
}

// disconnectAddr closes every connection to the peer registered under addr.
func (r *Router) disconnectAddr(addr outbound.PeerAddress) {
	r.mu.Lock()
	var pid peer.ID
	for id, l := range r.links {
		if l.addr == addr {
			pid = id
			break
		}
	}
	r.mu.Unlock()
	if pid == "" {
		return
	}

	r.log.Warn("disconnecting unresponsive peer",
		utils.ZapStringer("peer", addr),
		utils.ZapString("peer_id", pid.String()))
	if err := r.Host.Network().ClosePeer(pid); err != nil {
		r.log.Debug("close peer failed", utils.ZapString("peer_id", pid.String()), utils.ZapError(err))
	}
}

// addrFor returns the registry key of pid, falling back to the address of c
// for peers without a link.
func (r *Router) addrFor(pid peer.ID, c network.Conn) (outbound.PeerAddress, error) {
	r.mu.Lock()
	link, ok := r.links[pid]
	r.mu.Unlock()
	if ok {
		return link.addr, nil
	}
	return outbound.PeerAddressFromMultiaddr(c.RemoteMultiaddr())
}
