package logging

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// eventStats is one event type's activity within the current window.
type eventStats struct {
	count int64
	first time.Time
	last  time.Time
	attrs []slog.Attr
}

// Aggregator counts high-frequency events (dropped frames, unhandled
// sequences) and logs one event_summary record per event type each window.
type Aggregator struct {
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	events map[string]*eventStats

	cancel context.CancelFunc
	done   chan struct{}
}

// NewAggregator creates an aggregator that flushes every interval.
// A nil logger drops recorded events at flush time.
func NewAggregator(logger *slog.Logger, interval time.Duration) *Aggregator {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Aggregator{
		logger:   logger,
		interval: interval,
		now:      time.Now,
		events:   make(map[string]*eventStats),
	}
}

// Start runs the periodic flush until Stop.
func (a *Aggregator) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})
	go func() {
		defer close(a.done)
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.Flush()
			}
		}
	}()
}

// Stop ends the flush loop and flushes what is pending.
func (a *Aggregator) Stop() {
	if a.cancel != nil {
		a.cancel()
		<-a.done
		a.cancel = nil
	}
	a.Flush()
}

// Record counts one occurrence. The attributes of the latest occurrence
// are reported with the summary.
func (a *Aggregator) Record(component, event string, attrs ...slog.Attr) {
	now := a.now()
	key := component + "/" + event

	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.events[key]
	if !ok {
		st = &eventStats{first: now}
		a.events[key] = st
	}
	st.count++
	st.last = now
	if len(attrs) > 0 {
		st.attrs = attrs
	}
}

// Counts returns pending counts keyed "component/event".
func (a *Aggregator) Counts() map[string]int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]int64, len(a.events))
	for key, st := range a.events {
		out[key] = st.count
	}
	return out
}

// Flush logs and resets the current window, in key order.
func (a *Aggregator) Flush() {
	a.mu.Lock()
	events := a.events
	a.events = make(map[string]*eventStats)
	a.mu.Unlock()

	if a.logger == nil || len(events) == 0 {
		return
	}
	keys := make([]string, 0, len(events))
	for key := range events {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		st := events[key]
		component, event, _ := strings.Cut(key, "/")
		attrs := make([]slog.Attr, 0, 6+len(st.attrs))
		attrs = append(attrs,
			slog.String("component", component),
			slog.String("event", event),
			slog.Int64("count", st.count),
			slog.Time("first_seen", st.first),
			slog.Time("last_seen", st.last),
			slog.Duration("window", a.interval),
		)
		attrs = append(attrs, st.attrs...)
		a.logger.LogAttrs(context.Background(), slog.LevelInfo, "event_summary", attrs...)
	}
}
