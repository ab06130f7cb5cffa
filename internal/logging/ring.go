package logging

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"routecodex-go/internal/constants"
)

// RingEntry is one captured log line served over the management log stream.
type RingEntry struct {
	ID        uint64                 `json:"id"`
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// RingHook is a logrus hook keeping a bounded history of entries and
// fanning new ones out to subscribers. It is constructed at startup and
// handed to the management handlers explicitly.
type RingHook struct {
	mu      sync.RWMutex
	entries []RingEntry
	cap     int
	seq     uint64
	subs    map[int64]chan RingEntry
	nextSub int64
}

// NewRingHook builds a hook with the given capacity (<=0 uses the default).
func NewRingHook(capacity int) *RingHook {
	if capacity <= 0 {
		capacity = constants.LogRingCapacity
	}
	return &RingHook{
		entries: make([]RingEntry, 0, capacity),
		cap:     capacity,
		subs:    make(map[int64]chan RingEntry),
	}
}

// Levels implements logrus.Hook.
func (h *RingHook) Levels() []log.Level { return log.AllLevels }

// Fire implements logrus.Hook. Slow subscribers drop entries rather than
// block the logging path.
func (h *RingHook) Fire(entry *log.Entry) error {
	fields := make(map[string]interface{}, len(entry.Data))
	for k, v := range entry.Data {
		fields[k] = v
	}

	h.mu.Lock()
	h.seq++
	re := RingEntry{
		ID:        h.seq,
		Timestamp: entry.Time.UTC().Format(time.RFC3339Nano),
		Level:     entry.Level.String(),
		Message:   entry.Message,
		Fields:    fields,
	}
	if len(h.entries) >= h.cap {
		copy(h.entries, h.entries[1:])
		h.entries[len(h.entries)-1] = re
	} else {
		h.entries = append(h.entries, re)
	}
	subs := make([]chan RingEntry, 0, len(h.subs))
	for _, ch := range h.subs {
		subs = append(subs, ch)
	}
	h.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- re:
		default:
		}
	}
	return nil
}

// History returns a copy of the retained entries, oldest first.
func (h *RingHook) History() []RingEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]RingEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Subscribe registers a live tail channel; the returned func unsubscribes
// and closes it.
func (h *RingHook) Subscribe() (<-chan RingEntry, func()) {
	ch := make(chan RingEntry, 64)
	h.mu.Lock()
	h.nextSub++
	id := h.nextSub
	h.subs[id] = ch
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		if existing, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(existing)
		}
		h.mu.Unlock()
	}
}
