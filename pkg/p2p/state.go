// Package p2p owns the node's libp2p host, the connection lifecycle feeding
// the outbound registry, and the peer book used for liveness.
package p2p

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"cybermesh/node/pkg/p2p/outbound"
	"cybermesh/node/pkg/utils"
)

// State is the peer book: which peers are connected, how quickly they answer
// pings and which ones stopped answering. It is threadsafe.
type State struct {
	log       *utils.Logger
	configMgr *utils.ConfigManager
	store     PeerStore

	mu    sync.RWMutex
	peers map[outbound.PeerAddress]*PeerState

	// Outstanding pings, bounded by TTL only: an entry that expires before
	// its pong is a miss, so capacity eviction would fake one.
	pending *expirable.LRU[outbound.PeerAddress, time.Time]

	checkInterval  time.Duration
	pingTimeout    time.Duration
	maxMissedPongs int
	maxPeers       int

	onUnresponsive func(addr outbound.PeerAddress)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics Metrics
}

// Metrics is a narrow interface to decouple from any metrics backend.
type Metrics interface {
	SetGauge(name string, v float64, labels map[string]string)
	IncCounter(name string, delta float64, labels map[string]string)
	ObserveHist(name string, v float64, labels map[string]string)
}

// PeerState holds rolling liveness data for a peer.
type PeerState struct {
	Addr          outbound.PeerAddress
	PeerID        string
	Connected     bool
	ConnectedAt   time.Time
	LastSeen      time.Time
	LastPingSent  time.Time
	PingsSent     uint64
	PongsReceived uint64
	MissedPongs   int
	LatencyEMA    time.Duration
	Score         float64

	awaitingPong bool
}

var _ outbound.PeerBook = (*State)(nil)

// NewState constructs the peer book with parameters from configuration. store
// and metrics may be nil.
func NewState(parentCtx context.Context, log *utils.Logger, configMgr *utils.ConfigManager, store PeerStore, metrics Metrics) *State {
	if log == nil {
		log = utils.GetLogger()
	}
	if configMgr == nil {
		panic("config manager is required for State")
	}

	ctx, cancel := context.WithCancel(parentCtx)

	check := configMgr.GetDuration("PEERBOOK_CHECK_INTERVAL", 5*time.Second)
	timeout := configMgr.GetDuration("PEERBOOK_PING_TIMEOUT", 30*time.Second)
	missed := configMgr.GetIntRange("PEERBOOK_MAX_MISSED_PONGS", 3, 1, 100)
	maxp := configMgr.GetIntRange("PEERBOOK_MAX_PEERS", 512, 1, 10000)

	s := &State{
		log:            log.Named("peerbook"),
		configMgr:      configMgr,
		store:          store,
		peers:          make(map[outbound.PeerAddress]*PeerState),
		pending:        expirable.NewLRU[outbound.PeerAddress, time.Time](0, nil, timeout),
		checkInterval:  check,
		pingTimeout:    timeout,
		maxMissedPongs: missed,
		maxPeers:       maxp,
		metrics:        metrics,
		ctx:            ctx,
		cancel:         cancel,
	}

	s.log.Info("peer book created",
		utils.ZapDuration("check_interval", s.checkInterval),
		utils.ZapDuration("ping_timeout", s.pingTimeout),
		utils.ZapInt("max_missed_pongs", s.maxMissedPongs),
		utils.ZapInt("max_peers", s.maxPeers),
		utils.ZapBool("persistent", store != nil))

	return s
}

// SetUnresponsiveHandler registers fn to be called, outside the lock, for a
// connected peer that missed too many pongs in a row.
func (s *State) SetUnresponsiveHandler(fn func(addr outbound.PeerAddress)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUnresponsive = fn
}

// Start restores persisted peers and begins the liveness loop.
func (s *State) Start() error {
	if s.store != nil {
		records, err := s.store.LoadPeers()
		if err != nil {
			return utils.WrapError(err, utils.CodeStorage, "load peer book")
		}
		s.mu.Lock()
		for _, rec := range records {
			ps := s.ensure(rec.Addr)
			ps.PeerID = rec.PeerID
			ps.LastSeen = rec.LastSeen
			ps.LatencyEMA = rec.LatencyEMA
			ps.Score = rec.Score
		}
		s.mu.Unlock()
		s.log.Info("peer book restored", utils.ZapInt("peers", len(records)))
	}

	s.wg.Add(1)
	go s.livenessLoop()

	s.log.Info("peer book liveness loop started")
	return nil
}

// Stop shuts down the liveness loop and persists the known peers.
func (s *State) Stop() error {
	s.cancel()
	s.wg.Wait()

	if s.store == nil {
		return nil
	}
	if err := s.store.SavePeers(s.records()); err != nil {
		return utils.WrapError(err, utils.CodeStorage, "persist peer book")
	}
	s.log.Info("peer book stopped")
	return nil
}

// OnConnect marks a peer connected (called by the router's notifiee).
func (s *State) OnConnect(addr outbound.PeerAddress, peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	ps := s.ensure(addr)
	ps.Connected = true
	ps.ConnectedAt = now
	ps.LastSeen = now
	ps.MissedPongs = 0
	ps.awaitingPong = false
	if peerID != "" {
		ps.PeerID = peerID
	}
	// small boost for a completed handshake
	ps.Score = clamp(ps.Score+0.2, -100, 100)
	s.observeCounts()

	s.log.Debug("peer connected",
		utils.ZapStringer("peer", addr),
		utils.ZapString("peer_id", peerID),
		utils.ZapFloat64("score", ps.Score))
}

// OnDisconnect marks a peer disconnected. The peer stays in the book.
func (s *State) OnDisconnect(addr outbound.PeerAddress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ps, ok := s.peers[addr]; ok {
		ps.Connected = false
		ps.LastSeen = time.Now()
		ps.awaitingPong = false
	}
	s.pending.Remove(addr)
	s.observeCounts()

	s.log.Debug("peer disconnected", utils.ZapStringer("peer", addr))
}

// SendingPing records that a ping is about to go out to addr.
func (s *State) SendingPing(addr outbound.PeerAddress) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	ps := s.ensure(addr)
	ps.LastPingSent = now
	ps.PingsSent++
	if !ps.awaitingPong {
		// Keep the oldest outstanding ping so a silent peer still times out.
		ps.awaitingPong = true
		s.pending.Add(addr, now)
	}

	if s.metrics != nil {
		s.metrics.IncCounter("peerbook_pings_sent_total", 1, nil)
	}
}

// ReceivedPong matches a pong to the outstanding ping and folds the round
// trip into the peer's latency average. ok is false for unsolicited or late
// pongs.
func (s *State) ReceivedPong(addr outbound.PeerAddress) (rtt time.Duration, ok bool) {
	sent, ok := s.pending.Peek(addr)
	if !ok {
		s.log.Debug("unsolicited pong", utils.ZapStringer("peer", addr))
		return 0, false
	}
	s.pending.Remove(addr)
	rtt = time.Since(sent)

	s.mu.Lock()
	ps := s.ensure(addr)
	ps.LastSeen = time.Now()
	ps.PongsReceived++
	ps.MissedPongs = 0
	ps.awaitingPong = false
	if ps.LatencyEMA == 0 {
		ps.LatencyEMA = rtt
	} else {
		ps.LatencyEMA = time.Duration(float64(ps.LatencyEMA)*0.8 + float64(rtt)*0.2)
	}
	ps.Score = clamp(ps.Score+0.05, -100, 100)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ObserveHist("peerbook_ping_rtt_seconds", rtt.Seconds(), nil)
	}
	return rtt, true
}

// TouchPeer updates the last-seen timestamp without touching the score.
func (s *State) TouchPeer(addr outbound.PeerAddress, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.peers[addr]
	if !ok {
		return
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	ps.LastSeen = ts
}

// Snapshot returns a copy of peer states for diagnostics.
func (s *State) Snapshot() map[outbound.PeerAddress]PeerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[outbound.PeerAddress]PeerState, len(s.peers))
	for addr, ps := range s.peers {
		out[addr] = *ps
	}
	return out
}

// GetPeerCount returns the number of known peers.
func (s *State) GetPeerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

// GetConnectedPeerCount returns the number of currently connected peers.
func (s *State) GetConnectedPeerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, ps := range s.peers {
		if ps.Connected {
			count++
		}
	}
	return count
}

// --- internals ---

func (s *State) ensure(addr outbound.PeerAddress) *PeerState {
	if ps, ok := s.peers[addr]; ok {
		return ps
	}
	if len(s.peers) >= s.maxPeers {
		s.evictLowestScorePeer()
	}
	ps := &PeerState{Addr: addr, LastSeen: time.Now()}
	s.peers[addr] = ps
	return ps
}

// evictLowestScorePeer drops the worst disconnected peer. Connected peers are
// never evicted.
func (s *State) evictLowestScorePeer() {
	var victim *PeerState
	for _, ps := range s.peers {
		if ps.Connected {
			continue
		}
		if victim == nil || ps.Score < victim.Score {
			victim = ps
		}
	}
	if victim == nil {
		return
	}
	delete(s.peers, victim.Addr)
	s.log.Debug("evicted peer from book",
		utils.ZapStringer("peer", victim.Addr),
		utils.ZapFloat64("score", victim.Score))
}

func (s *State) livenessLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.checkLiveness()
		}
	}
}

func (s *State) checkLiveness() {
	var unresponsive []outbound.PeerAddress

	s.mu.Lock()
	for addr, ps := range s.peers {
		if !ps.Connected || !ps.awaitingPong {
			continue
		}
		if _, outstanding := s.pending.Peek(addr); outstanding {
			continue
		}
		ps.awaitingPong = false
		ps.MissedPongs++
		oldScore := ps.Score
		ps.Score = clamp(ps.Score-0.5, -100, 100)

		s.log.Warn("peer did not answer ping",
			utils.ZapStringer("peer", addr),
			utils.ZapInt("missed_pongs", ps.MissedPongs),
			utils.ZapFloat64("old_score", oldScore),
			utils.ZapFloat64("new_score", ps.Score))
		if s.metrics != nil {
			s.metrics.IncCounter("peerbook_missed_pongs_total", 1, nil)
		}

		if ps.MissedPongs >= s.maxMissedPongs {
			unresponsive = append(unresponsive, addr)
		}
	}
	handler := s.onUnresponsive
	s.observeCounts()
	s.mu.Unlock()

	if handler == nil {
		return
	}
	for _, addr := range unresponsive {
		handler(addr)
	}
}

func (s *State) records() []PeerRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PeerRecord, 0, len(s.peers))
	for _, ps := range s.peers {
		out = append(out, PeerRecord{
			Addr:       ps.Addr,
			PeerID:     ps.PeerID,
			LastSeen:   ps.LastSeen,
			LatencyEMA: ps.LatencyEMA,
			Score:      ps.Score,
		})
	}
	return out
}

// metrics helpers
func (s *State) observeCounts() {
	if s.metrics == nil {
		return
	}
	connected := 0
	for _, ps := range s.peers {
		if ps.Connected {
			connected++
		}
	}
	s.metrics.SetGauge("peerbook_peers", float64(len(s.peers)), nil)
	s.metrics.SetGauge("peerbook_connected_peers", float64(connected), nil)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
