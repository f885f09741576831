package p2p

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	mdns "github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	connmgr "github.com/libp2p/go-libp2p/p2p/net/connmgr"
	noise "github.com/libp2p/go-libp2p/p2p/security/noise"
	tlsp2p "github.com/libp2p/go-libp2p/p2p/security/tls"
	multiaddr "github.com/multiformats/go-multiaddr"

	"cybermesh/node/pkg/config"
	"cybermesh/node/pkg/p2p/outbound"
	"cybermesh/node/pkg/p2p/wire"
	"cybermesh/node/pkg/utils"
)

// InboundHandler receives every decoded inbound payload the router does not
// consume itself. It runs on the stream's reader goroutine.
type InboundHandler func(ctx context.Context, msg outbound.Message)

// Router owns the libp2p host. It turns connection events into registry
// entries and writer tasks on the outbound side, and reads inbound frames.
type Router struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    *utils.Logger

	Host     host.Host
	protocol protocol.ID

	cfg      *config.NodeConfig
	outbound *outbound.Outbound
	state    *State
	codec    *wire.Codec
	mdns     mdns.Service
	opts     RouterOptions

	mu      sync.Mutex
	links   map[peer.ID]*peerLink
	inbound InboundHandler
}

// RouterOptions allows tuning without touching NodeConfig.
type RouterOptions struct {
	// ListenAddrs overrides the addresses derived from cfg.ListenPort.
	ListenAddrs []string
	// BootstrapAddrs overrides cfg.BootstrapPeers.
	BootstrapAddrs []string
	// StreamOpenTimeout bounds opening the outbound stream after a connect.
	StreamOpenTimeout time.Duration
}

// NewRouter builds the host and installs the connection and stream hooks.
// Peers are not dialed until Bootstrap.
func NewRouter(parent context.Context, cfg *config.NodeConfig, out *outbound.Outbound, st *State, codec *wire.Codec, log *utils.Logger, opts RouterOptions) (*Router, error) {
	if cfg == nil || out == nil || st == nil || codec == nil {
		return nil, fmt.Errorf("nil inputs: cfg=%v outbound=%v state=%v codec=%v", cfg != nil, out != nil, st != nil, codec != nil)
	}
	if log == nil {
		log = utils.GetLogger()
	}
	log = log.Named("p2p")
	if opts.StreamOpenTimeout <= 0 {
		opts.StreamOpenTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(parent)

	// ---- Identity ----
	priv, pid, err := deriveIdentity(cfg)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("derive identity: %w", err)
	}
	log.Info("p2p identity derived", utils.ZapString("peer_id", pid.String()))

	// ---- Security transports ----
	secOpts := []libp2p.Option{libp2p.Security(noise.ID, noise.New)}
	if cfg.EnableTLS {
		secOpts = append(secOpts, libp2p.Security(tlsp2p.ID, tlsp2p.New))
	}

	// ---- Listen addresses ----
	listenAddrs := opts.ListenAddrs
	if len(listenAddrs) == 0 {
		listenAddrs = []string{
			fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", cfg.ListenPort),
			fmt.Sprintf("/ip6/::/tcp/%d", cfg.ListenPort),
		}
	}

	// ---- Connection manager ----
	cm, err := connmgr.NewConnManager(cfg.ConnLow, cfg.ConnHigh, connmgr.WithGracePeriod(cfg.ConnGracePeriod))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("connmgr: %w", err)
	}

	hostOpts := []libp2p.Option{
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(listenAddrs...),
		libp2p.ConnectionManager(cm),
	}
	hostOpts = append(hostOpts, secOpts...)

	h, err := libp2p.New(hostOpts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("libp2p host: %w", err)
	}

	r := &Router{
		ctx:      ctx,
		cancel:   cancel,
		log:      log,
		Host:     h,
		protocol: protocol.ID(cfg.OutboundProtocol()),
		cfg:      cfg,
		outbound: out,
		state:    st,
		codec:    codec,
		opts:     opts,
		links:    make(map[peer.ID]*peerLink),
	}

	h.SetStreamHandler(r.protocol, r.handleStream)
	h.Network().Notify(&netNotifiee{r: r})
	st.SetUnresponsiveHandler(r.disconnectAddr)

	if cfg.EnableMDNS {
		rendezvous := strings.TrimPrefix(cfg.ProtocolPrefix, "/")
		r.mdns = mdns.NewMdnsService(h, rendezvous, &mdnsNotifee{h: h, log: log})
		if err := r.mdns.Start(); err != nil {
			log.Warn("mDNS service failed to start", utils.ZapError(err))
			r.mdns = nil
		} else {
			log.Info("mDNS local discovery enabled", utils.ZapString("rendezvous", rendezvous))
		}
	}

	log.Info("p2p router started",
		utils.ZapString("protocol", string(r.protocol)),
		utils.ZapStringArray("listen", listenAddrs),
		utils.ZapInt("conn_low", cfg.ConnLow),
		utils.ZapInt("conn_high", cfg.ConnHigh))

	return r, nil
}

// SetInboundHandler installs h for payloads other than Ping and Pong.
func (r *Router) SetInboundHandler(h InboundHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inbound = h
}

// Addrs returns the host's dialable addresses including its peer ID.
func (r *Router) Addrs() []multiaddr.Multiaddr {
	info := peer.AddrInfo{ID: r.Host.ID(), Addrs: r.Host.Addrs()}
	addrs, err := peer.AddrInfoToP2pAddrs(&info)
	if err != nil {
		return nil
	}
	return addrs
}

// Connect dials a peer given as a /p2p multiaddr.
func (r *Router) Connect(ctx context.Context, addr multiaddr.Multiaddr) error {
	info, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return fmt.Errorf("%s: failed to extract peer info: %w", addr, err)
	}
	return r.Host.Connect(ctx, *info)
}

// Bootstrap dials the configured bootstrap peers. Failures are collected and
// returned together; the node keeps running without them.
func (r *Router) Bootstrap() error {
	addrs := r.opts.BootstrapAddrs
	if len(addrs) == 0 {
		addrs = r.cfg.BootstrapPeers
	}

	var errs []error
	for _, raw := range addrs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		maddr, err := multiaddr.NewMultiaddr(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid multiaddr: %w", raw, err))
			continue
		}

		ctx, cancel := context.WithTimeout(r.ctx, 10*time.Second)
		err = r.Connect(ctx, maddr)
		cancel()
		if err != nil {
			r.log.Debug("bootstrap connection failed",
				utils.ZapString("addr", raw),
				utils.ZapError(err))
			errs = append(errs, err)
			continue
		}
		r.log.Info("bootstrap connection successful", utils.ZapString("addr", raw))
	}
	return errors.Join(errs...)
}

// ConnectedPeers is the number of peers with a live outbound link.
func (r *Router) ConnectedPeers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, l := range r.links {
		if l.conn != nil {
			n++
		}
	}
	return n
}

// Close tears down every link and shuts the host down.
func (r *Router) Close() error {
	r.cancel()
	if r.mdns != nil {
		_ = r.mdns.Close()
	}

	r.mu.Lock()
	links := make([]*peerLink, 0, len(r.links))
	for pid, l := range r.links {
		links = append(links, l)
		delete(r.links, pid)
	}
	r.mu.Unlock()
	for _, l := range links {
		r.teardown(l, false)
	}

	return r.Host.Close()
}

// mdnsNotifee handles mDNS peer discovery notifications
type mdnsNotifee struct {
	h   host.Host
	log *utils.Logger
}

func (n *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == n.h.ID() {
		return // skip self
	}
	n.log.Info("mDNS peer discovered", utils.ZapString("peer_id", pi.ID.String()))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := n.h.Connect(ctx, pi); err != nil {
		n.log.Warn("failed to connect to mDNS peer", utils.ZapString("peer_id", pi.ID.String()), utils.ZapError(err))
	}
}
