package p2p

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"cybermesh/node/pkg/p2p/outbound"
	"cybermesh/node/pkg/utils"
)

func newTestConfigManager(t *testing.T, values map[string]string) *utils.ConfigManager {
	t.Helper()
	if values == nil {
		values = map[string]string{}
	}
	cm, err := utils.NewConfigManager(&utils.ConfigManagerConfig{
		Source: utils.NewMapSource(values),
	})
	if err != nil {
		t.Fatalf("failed to create config manager: %v", err)
	}
	return cm
}

type recordingMetrics struct {
	mu       sync.Mutex
	gauges   map[string]float64
	counters map[string]float64
	hists    map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{gauges: map[string]float64{}, counters: map[string]float64{}, hists: map[string]int{}}
}

func (m *recordingMetrics) SetGauge(name string, v float64, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[name] = v
}

func (m *recordingMetrics) IncCounter(name string, d float64, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += d
}

func (m *recordingMetrics) ObserveHist(name string, _ float64, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hists[name]++
}

var (
	peerA = outbound.MustParsePeerAddress("10.0.0.1:4130")
	peerB = outbound.MustParsePeerAddress("10.0.0.2:4130")
)

func TestStatePingPongRecordsLatency(t *testing.T) {
	metrics := newRecordingMetrics()
	state := NewState(context.Background(), nil, newTestConfigManager(t, nil), nil, metrics)
	state.OnConnect(peerA, "12D3KooWTestPeer111111111111111111111111")

	state.SendingPing(peerA)
	time.Sleep(5 * time.Millisecond)
	rtt, ok := state.ReceivedPong(peerA)
	if !ok {
		t.Fatal("expected pong to match the outstanding ping")
	}
	if rtt < 5*time.Millisecond {
		t.Fatalf("expected rtt of at least 5ms, got %s", rtt)
	}

	ps := state.Snapshot()[peerA]
	if ps.PingsSent != 1 || ps.PongsReceived != 1 {
		t.Fatalf("unexpected ping/pong counts: %+v", ps)
	}
	if ps.LatencyEMA != rtt {
		t.Fatalf("expected first sample to seed the average, got %s", ps.LatencyEMA)
	}
	if metrics.hists["peerbook_ping_rtt_seconds"] != 1 {
		t.Fatal("expected one rtt observation")
	}
	if metrics.gauges["peerbook_connected_peers"] != 1 {
		t.Fatalf("expected connected gauge 1, got %v", metrics.gauges["peerbook_connected_peers"])
	}
}

func TestStateIgnoresUnsolicitedPong(t *testing.T) {
	state := NewState(context.Background(), nil, newTestConfigManager(t, nil), nil, nil)
	state.OnConnect(peerA, "")
	if _, ok := state.ReceivedPong(peerA); ok {
		t.Fatal("expected unsolicited pong to be ignored")
	}
}

func TestStateMissedPongsTriggerUnresponsiveHandler(t *testing.T) {
	cm := newTestConfigManager(t, map[string]string{
		"PEERBOOK_PING_TIMEOUT":     "20ms",
		"PEERBOOK_MAX_MISSED_PONGS": "2",
	})
	state := NewState(context.Background(), nil, cm, nil, nil)
	state.OnConnect(peerA, "")
	state.OnConnect(peerB, "")

	var flagged []outbound.PeerAddress
	state.SetUnresponsiveHandler(func(addr outbound.PeerAddress) {
		flagged = append(flagged, addr)
	})

	for round := 0; round < 2; round++ {
		state.SendingPing(peerA)
		state.SendingPing(peerB)
		if _, ok := state.ReceivedPong(peerB); !ok {
			t.Fatalf("round %d: expected pong from peer b to match", round)
		}
		time.Sleep(40 * time.Millisecond)
		state.checkLiveness()
	}

	if len(flagged) != 1 || flagged[0] != peerA {
		t.Fatalf("expected only peer a to be flagged, got %v", flagged)
	}
	snap := state.Snapshot()
	if snap[peerA].MissedPongs != 2 {
		t.Fatalf("expected 2 missed pongs, got %d", snap[peerA].MissedPongs)
	}
	if snap[peerB].MissedPongs != 0 {
		t.Fatalf("expected responsive peer to have no misses, got %d", snap[peerB].MissedPongs)
	}
}

func TestStateDisconnectClearsOutstandingPing(t *testing.T) {
	cm := newTestConfigManager(t, map[string]string{"PEERBOOK_PING_TIMEOUT": "10ms"})
	state := NewState(context.Background(), nil, cm, nil, nil)
	state.OnConnect(peerA, "")
	state.SendingPing(peerA)
	state.OnDisconnect(peerA)

	time.Sleep(20 * time.Millisecond)
	state.checkLiveness()

	ps := state.Snapshot()[peerA]
	if ps.Connected || ps.MissedPongs != 0 {
		t.Fatalf("disconnected peer must not accrue misses: %+v", ps)
	}
	if got := state.GetConnectedPeerCount(); got != 0 {
		t.Fatalf("expected no connected peers, got %d", got)
	}
	if got := state.GetPeerCount(); got != 1 {
		t.Fatalf("expected the peer to stay in the book, got %d", got)
	}
}

func TestStateEvictsOnlyDisconnectedPeers(t *testing.T) {
	cm := newTestConfigManager(t, map[string]string{"PEERBOOK_MAX_PEERS": "2"})
	state := NewState(context.Background(), nil, cm, nil, nil)
	state.OnConnect(peerA, "")
	state.OnConnect(peerB, "")
	state.OnDisconnect(peerB)

	peerC := outbound.MustParsePeerAddress("10.0.0.3:4130")
	state.OnConnect(peerC, "")

	snap := state.Snapshot()
	if _, ok := snap[peerB]; ok {
		t.Fatal("expected disconnected peer b to be evicted")
	}
	if _, ok := snap[peerA]; !ok {
		t.Fatal("connected peer a must survive eviction")
	}
}

func TestStateTracksPingsBeyondPeerCap(t *testing.T) {
	cm := newTestConfigManager(t, map[string]string{
		"PEERBOOK_MAX_PEERS":    "2",
		"PEERBOOK_PING_TIMEOUT": "1h",
	})
	state := NewState(context.Background(), nil, cm, nil, nil)
	peerC := outbound.MustParsePeerAddress("10.0.0.3:4130")
	for _, addr := range []outbound.PeerAddress{peerA, peerB, peerC} {
		state.OnConnect(addr, "")
		state.SendingPing(addr)
	}

	state.checkLiveness()
	for addr, ps := range state.Snapshot() {
		if ps.MissedPongs != 0 {
			t.Fatalf("peer %s charged a miss within the ping timeout", addr)
		}
	}
	for _, addr := range []outbound.PeerAddress{peerA, peerB, peerC} {
		if _, ok := state.ReceivedPong(addr); !ok {
			t.Fatalf("pong from %s within the timeout was not matched", addr)
		}
	}
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.db")
	store, err := OpenPeerStore(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	cm := newTestConfigManager(t, nil)
	state := NewState(context.Background(), nil, cm, store, nil)
	if err := state.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	state.OnConnect(peerA, "12D3KooWPersisted")
	state.SendingPing(peerA)
	state.ReceivedPong(peerA)
	if err := state.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	store, err = OpenPeerStore(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer store.Close()

	restored := NewState(context.Background(), nil, cm, store, nil)
	if err := restored.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer restored.Stop()

	ps, ok := restored.Snapshot()[peerA]
	if !ok {
		t.Fatal("expected peer a to be restored")
	}
	if ps.PeerID != "12D3KooWPersisted" || ps.Connected {
		t.Fatalf("unexpected restored state: %+v", ps)
	}
}
