// Package wiring composes the outbound dispatcher, the peer book and the
// libp2p router into a running node.
package wiring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"cybermesh/node/pkg/config"
	"cybermesh/node/pkg/p2p"
	"cybermesh/node/pkg/p2p/outbound"
	"cybermesh/node/pkg/p2p/wire"
	"cybermesh/node/pkg/utils"
)

type Config struct {
	Node          *config.NodeConfig
	ConfigManager *utils.ConfigManager

	// Registry receives every collector; nil disables metrics.
	Registry prometheus.Registerer

	// Sync supplies the chain height for pings (optional).
	Sync outbound.SyncProvider
	// Inbound receives payloads the router does not handle itself (optional).
	Inbound p2p.InboundHandler

	RouterOptions p2p.RouterOptions
}

type Service struct {
	cfg Config
	log *utils.Logger

	outbound *outbound.Outbound
	state    *p2p.State
	store    *p2p.BoltPeerStore
	router   *p2p.Router
	pinger   *outbound.Pinger

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewService(ctx context.Context, cfg Config, log *utils.Logger) (*Service, error) {
	if cfg.Node == nil || cfg.ConfigManager == nil {
		return nil, fmt.Errorf("nil inputs: node=%v configMgr=%v", cfg.Node != nil, cfg.ConfigManager != nil)
	}
	if log == nil {
		log = utils.GetLogger()
	}

	out := outbound.New(outbound.Options{
		QueueCapacity: cfg.Node.QueueCapacity,
		Registerer:    cfg.Registry,
		Logger:        log,
	})

	var store *p2p.BoltPeerStore
	var peerStore p2p.PeerStore
	if cfg.Node.PeerBookPath != "" {
		var err error
		store, err = p2p.OpenPeerStore(cfg.Node.PeerBookPath)
		if err != nil {
			return nil, fmt.Errorf("open peer book: %w", err)
		}
		peerStore = store
	}

	var metrics p2p.Metrics
	if cfg.Registry != nil {
		metrics = NewPromMetrics(cfg.Registry)
	}
	state := p2p.NewState(ctx, log, cfg.ConfigManager, peerStore, metrics)

	codec, err := wire.NewCodec(cfg.Node.MaxFrameSize)
	if err != nil {
		closeStore(store)
		return nil, err
	}

	router, err := p2p.NewRouter(ctx, cfg.Node, out, state, codec, log, cfg.RouterOptions)
	if err != nil {
		closeStore(store)
		return nil, fmt.Errorf("p2p router: %w", err)
	}
	if cfg.Inbound != nil {
		router.SetInboundHandler(cfg.Inbound)
	}

	return &Service{
		cfg:      cfg,
		log:      log,
		outbound: out,
		state:    state,
		store:    store,
		router:   router,
		pinger:   outbound.NewPinger(out, cfg.Sync, state),
	}, nil
}

func (s *Service) Outbound() *outbound.Outbound { return s.outbound }
func (s *Service) PeerBook() *p2p.State         { return s.state }
func (s *Service) Router() *p2p.Router          { return s.router }
func (s *Service) Pinger() *outbound.Pinger     { return s.pinger }

// Start restores the peer book, dials bootstrap peers and starts pinging.
func (s *Service) Start(ctx context.Context) error {
	if err := s.state.Start(); err != nil {
		return fmt.Errorf("failed to start peer book: %w", err)
	}

	if err := s.router.Bootstrap(); err != nil {
		s.log.Warn("bootstrap dialing issues", utils.ZapError(err))
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pinger.Run(ctx, s.cfg.Node.PingInterval)
	}()

	s.log.Info("node service started",
		utils.ZapString("node_id", s.cfg.Node.NodeID),
		utils.ZapString("peer_id", s.router.Host.ID().String()),
		utils.ZapDuration("ping_interval", s.cfg.Node.PingInterval),
		utils.ZapInt("queue_capacity", s.outbound.QueueCapacity()))
	return nil
}

// Stop shuts the node down: ping loop, router and peer book, in that order.
// Safe to call more than once.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		s.log.Info("node service shutting down...")

		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()

		if err := s.router.Close(); err != nil {
			s.log.Warn("p2p router close error", utils.ZapError(err))
		} else {
			s.log.Info("p2p router closed")
		}

		if err := s.state.Stop(); err != nil {
			s.log.Warn("peer book stop error", utils.ZapError(err))
		}
		closeStore(s.store)

		snap := s.outbound.Counters().Snapshot()
		s.log.Info("node service stopped",
			utils.ZapUint64("send_success_count", snap.SendSuccess),
			utils.ZapUint64("send_failure_count", snap.SendFailure))
	})
}

// StopWithTimeout stops the service with a timeout for graceful shutdown
func (s *Service) StopWithTimeout(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("service stop timed out after %s", timeout)
	}
}

func closeStore(store *p2p.BoltPeerStore) {
	if store != nil {
		_ = store.Close()
	}
}
