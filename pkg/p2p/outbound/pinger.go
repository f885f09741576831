package outbound

import (
	"context"
	"time"

	"cybermesh/node/pkg/utils"
)

// SyncProvider reports the local chain height. It is optional: nodes running
// without a sync layer ping with height 0.
type SyncProvider interface {
	CurrentBlockHeight() uint64
}

// HeightFunc adapts a plain function to SyncProvider.
type HeightFunc func() uint64

func (f HeightFunc) CurrentBlockHeight() uint64 { return f() }

// PeerBook is notified of every ping so it can time the matching pong.
type PeerBook interface {
	SendingPing(addr PeerAddress)
}

// Pinger composes the liveness ping out of the sync layer, the peer book and
// the dispatcher. Pings get no delivery guarantees beyond any other message.
type Pinger struct {
	outbound *Outbound
	sync     SyncProvider
	peers    PeerBook
	log      *utils.Logger
}

// NewPinger wires a pinger. sync and peers may be nil.
func NewPinger(o *Outbound, sync SyncProvider, peers PeerBook) *Pinger {
	return &Pinger{
		outbound: o,
		sync:     sync,
		peers:    peers,
		log:      o.log,
	}
}

// SendPing sends Ping(current height) to addr.
func (p *Pinger) SendPing(addr PeerAddress) Outcome {
	var height uint64
	if p.sync != nil {
		height = p.sync.CurrentBlockHeight()
	}

	if p.peers != nil {
		p.peers.SendingPing(addr)
	}

	return p.outbound.Send(NewMessage(Outgoing(addr), Ping{Height: height}))
}

// Run pings every registered peer once per interval until ctx is done.
func (p *Pinger) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		p.log.Warn("ping loop disabled", utils.ZapDuration("interval", interval))
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pingAll()
		}
	}
}

func (p *Pinger) pingAll() {
	addrs := p.outbound.channels.Addresses()
	dropped := 0
	for _, addr := range addrs {
		if p.SendPing(addr).Dropped() {
			dropped++
		}
	}
	if len(addrs) > 0 {
		p.log.Debug("liveness pings sent",
			utils.ZapInt("peers", len(addrs)),
			utils.ZapInt("dropped", dropped))
	}
}
