package p2p

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/libp2p/go-libp2p/core/network"

	"cybermesh/node/pkg/p2p/outbound"
	"cybermesh/node/pkg/p2p/wire"
	"cybermesh/node/pkg/utils"
)

// handleStream reads frames from a peer's outbound stream until it closes.
func (r *Router) handleStream(s network.Stream) {
	pid := s.Conn().RemotePeer()
	addr, err := r.addrFor(pid, s.Conn())
	if err != nil {
		r.log.Warn("rejecting stream without ip endpoint",
			utils.ZapString("peer_id", pid.String()),
			utils.ZapError(err))
		_ = s.Reset()
		return
	}

	ctx := utils.ContextWithPeer(r.ctx, addr.String())
	log := r.log.WithContext(ctx)

	reader := wire.NewReader(s, r.codec)
	for {
		payload, err := reader.ReadMessage()
		if err != nil {
			if errors.Is(err, io.EOF) || r.ctx.Err() != nil {
				_ = s.Close()
				return
			}
			log.Warn("dropping inbound stream",
				utils.ZapString("peer_id", pid.String()),
				utils.ZapError(err))
			_ = s.Reset()
			return
		}
		r.handleInbound(ctx, log, addr, payload)
	}
}

func (r *Router) handleInbound(ctx context.Context, log *utils.Logger, addr outbound.PeerAddress, payload outbound.Payload) {
	r.state.TouchPeer(addr, time.Now())

	switch payload.(type) {
	case outbound.Ping:
		r.outbound.Send(outbound.NewMessage(outbound.Outgoing(addr), outbound.Pong{}))
	case outbound.Pong:
		if rtt, ok := r.state.ReceivedPong(addr); ok {
			log.Debug("pong received", utils.ZapDuration("rtt", rtt))
		}
		return
	}

	r.mu.Lock()
	h := r.inbound
	r.mu.Unlock()
	if h != nil {
		h(ctx, outbound.NewMessage(outbound.Incoming(addr), payload))
	}
}
