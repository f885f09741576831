package outbound

import (
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"cybermesh/node/pkg/utils"
)

func newObservedLogger() (*utils.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return utils.NewLoggerFromCore(core), logs
}

func newTestOutbound(t *testing.T, capacity int) (*Outbound, *observer.ObservedLogs) {
	t.Helper()
	log, logs := newObservedLogger()
	return New(Options{QueueCapacity: capacity, Logger: log}), logs
}

// registerQueue installs a queue for addr with no writer task behind it.
func registerQueue(o *Outbound, addr PeerAddress, capacity int) (*Channel, *Receiver) {
	ch, rx := NewChannel(capacity)
	o.Channels().Insert(addr, ch)
	return ch, rx
}

// recordingWriter remembers every payload it was asked to write. failAt and
// panicAt select zero-based write indexes that fail or panic instead.
type recordingWriter struct {
	mu      sync.Mutex
	written []Payload
	calls   int
	failAt  map[int]bool
	panicAt map[int]bool
}

func (w *recordingWriter) WriteMessage(p Payload) error {
	w.mu.Lock()
	idx := w.calls
	w.calls++
	w.mu.Unlock()

	if w.panicAt[idx] {
		panic("codec exploded")
	}
	if w.failAt[idx] {
		return errors.New("broken pipe")
	}

	w.mu.Lock()
	w.written = append(w.written, p)
	w.mu.Unlock()
	return nil
}

func (w *recordingWriter) payloads() []Payload {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Payload, len(w.written))
	copy(out, w.written)
	return out
}

func countMessages(logs *observer.ObservedLogs, level zapcore.Level, msg string) int {
	n := 0
	for _, entry := range logs.FilterMessage(msg).All() {
		if entry.Level == level {
			n++
		}
	}
	return n
}
