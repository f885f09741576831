package outbound

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestChannelTrySendReportsFullThenClosed(t *testing.T) {
	ch, rx := NewChannel(2)
	addr := MustParsePeerAddress("10.0.0.1:4130")

	for i := 0; i < 2; i++ {
		if err := ch.TrySend(NewMessage(Outgoing(addr), Pong{})); err != nil {
			t.Fatalf("send %d: unexpected error %v", i, err)
		}
	}
	if err := ch.TrySend(NewMessage(Outgoing(addr), Pong{})); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if ch.Len() != 2 || ch.Cap() != 2 {
		t.Fatalf("expected len=cap=2, got len=%d cap=%d", ch.Len(), ch.Cap())
	}

	rx.Close()
	if err := ch.TrySend(NewMessage(Outgoing(addr), Pong{})); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
	if !ch.IsClosed() {
		t.Fatal("expected channel to report closed")
	}

	// Messages queued before close are still delivered.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 2; i++ {
		if _, ok := rx.Recv(ctx); !ok {
			t.Fatalf("expected queued message %d after close", i)
		}
	}
	if _, ok := rx.Recv(ctx); ok {
		t.Fatal("expected drained closed queue to report !ok")
	}
}

func TestChannelCloseIsIdempotent(t *testing.T) {
	ch, rx := NewChannel(1)
	ch.Close()
	ch.Close()
	rx.Close()
	if !ch.IsClosed() {
		t.Fatal("expected closed")
	}
}

func TestChannelCapacityIsAtLeastOne(t *testing.T) {
	ch, _ := NewChannel(0)
	if ch.Cap() != 1 {
		t.Fatalf("expected capacity clamp to 1, got %d", ch.Cap())
	}
}

func TestReceiverRecvStopsOnContext(t *testing.T) {
	_, rx := NewChannel(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := rx.Recv(ctx); ok {
		t.Fatal("expected Recv to give up on a cancelled context")
	}
}
