package session

import (
	"log/slog"
	"sync"

	"github.com/asheshgoplani/term-deck/internal/logging"
)

// fanout delivers values to subscribers without blocking the sender. A
// subscriber whose buffer is full misses the value; drops are aggregated
// under dropEvent.
type fanout[T any] struct {
	mu        sync.Mutex
	next      int
	subs      map[int]chan T
	closed    bool
	size      int
	dropEvent string
	sessionID string
}

func newFanout[T any](size int, dropEvent, sessionID string) *fanout[T] {
	return &fanout[T]{
		subs:      make(map[int]chan T),
		size:      size,
		dropEvent: dropEvent,
		sessionID: sessionID,
	}
}

// subscribe returns a channel and a cancel func. After close the channel
// is returned already closed.
func (f *fanout[T]) subscribe() (<-chan T, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan T, f.size)
	if f.closed {
		close(ch)
		return ch, func() {}
	}
	id := f.next
	f.next++
	f.subs[id] = ch
	return ch, func() { f.unsubscribe(id) }
}

func (f *fanout[T]) unsubscribe(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.subs[id]; ok {
		delete(f.subs, id)
		close(ch)
	}
}

func (f *fanout[T]) send(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- v:
		default:
			logging.Aggregate(logging.CompSession, f.dropEvent, slog.String("session_id", f.sessionID))
		}
	}
}

func (f *fanout[T]) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// close ends every subscription. Later subscribers get a closed channel.
func (f *fanout[T]) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}
