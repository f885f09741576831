package outbound

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakePeerBook struct {
	mu    sync.Mutex
	pings []PeerAddress
}

func (f *fakePeerBook) SendingPing(addr PeerAddress) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings = append(f.pings, addr)
}

func (f *fakePeerBook) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pings)
}

func recvPing(t *testing.T, rx *Receiver) Ping {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, ok := rx.Recv(ctx)
	if !ok {
		t.Fatal("expected a queued ping")
	}
	ping, ok := msg.Payload.(Ping)
	if !ok {
		t.Fatalf("expected Ping payload, got %T", msg.Payload)
	}
	return ping
}

func TestSendPingWithoutSyncUsesZeroHeight(t *testing.T) {
	o, _ := newTestOutbound(t, 4)
	addr := MustParsePeerAddress("10.0.0.1:4130")
	_, rx := registerQueue(o, addr, 4)
	book := &fakePeerBook{}

	p := NewPinger(o, nil, book)
	if got := p.SendPing(addr); got != Enqueued {
		t.Fatalf("expected ping to be enqueued, got %s", got)
	}
	if ping := recvPing(t, rx); ping.Height != 0 {
		t.Fatalf("expected height 0, got %d", ping.Height)
	}
	if book.count() != 1 {
		t.Fatalf("expected peer book to be notified once, got %d", book.count())
	}
}

func TestSendPingUsesSyncHeight(t *testing.T) {
	o, _ := newTestOutbound(t, 4)
	addr := MustParsePeerAddress("10.0.0.1:4130")
	_, rx := registerQueue(o, addr, 4)

	p := NewPinger(o, HeightFunc(func() uint64 { return 42 }), nil)
	p.SendPing(addr)
	if ping := recvPing(t, rx); ping.Height != 42 {
		t.Fatalf("expected height 42, got %d", ping.Height)
	}
}

func TestSendPingToDisconnectedPeerStillNotifiesBook(t *testing.T) {
	o, _ := newTestOutbound(t, 4)
	book := &fakePeerBook{}
	p := NewPinger(o, nil, book)

	if got := p.SendPing(MustParsePeerAddress("10.0.0.1:4130")); got != DroppedPeerDisconnected {
		t.Fatalf("expected %s, got %s", DroppedPeerDisconnected, got)
	}
	if book.count() != 1 {
		t.Fatalf("expected peer book notification, got %d", book.count())
	}
}

func TestPingerRunPingsRegisteredPeers(t *testing.T) {
	o, _ := newTestOutbound(t, 16)
	a := MustParsePeerAddress("10.0.0.1:4130")
	b := MustParsePeerAddress("10.0.0.2:4130")
	_, rxA := registerQueue(o, a, 16)
	_, rxB := registerQueue(o, b, 16)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p := NewPinger(o, HeightFunc(func() uint64 { return 7 }), nil)
	go func() {
		defer close(done)
		p.Run(ctx, 10*time.Millisecond)
	}()

	if ping := recvPing(t, rxA); ping.Height != 7 {
		t.Fatalf("peer a: expected height 7, got %d", ping.Height)
	}
	if ping := recvPing(t, rxB); ping.Height != 7 {
		t.Fatalf("peer b: expected height 7, got %d", ping.Height)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ping loop did not stop")
	}
}
