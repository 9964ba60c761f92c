// Package sse streams memo change events to HTTP clients as Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

const bufferSize = 64

// Broker fans memo change events out to connected streams. A stream that
// falls more than bufferSize frames behind misses frames rather than stalling
// the store.
type Broker struct {
	throttle time.Duration

	mu          sync.Mutex
	streams     map[chan []byte]struct{}
	seq         uint64
	lastIndex   time.Time
	lastRebuild time.Time
	closed      bool
}

// NewBroker returns a broker that emits index notifications at most once per
// throttle. Non-positive throttles default to two seconds.
func NewBroker(throttle time.Duration) *Broker {
	if throttle <= 0 {
		throttle = 2 * time.Second
	}
	return &Broker{
		throttle: throttle,
		streams:  make(map[chan []byte]struct{}),
	}
}

// PublishMemoEvent matches memostore.EventFunc. kind is "created", "updated"
// or "deleted" for a single memo, followed by a throttled index.updated frame;
// "rebuilt" only emits a throttled index.rebuilt frame.
func (b *Broker) PublishMemoEvent(kind, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	now := time.Now()
	if kind == "rebuilt" {
		if now.Sub(b.lastRebuild) >= b.throttle {
			b.lastRebuild = now
			b.send("index.rebuilt", struct{}{})
		}
		return
	}

	switch kind {
	case "created", "updated", "deleted":
		b.send("memo."+kind, map[string]string{"id": id})
	default:
		return
	}
	if now.Sub(b.lastIndex) >= b.throttle {
		b.lastIndex = now
		b.send("index.updated", struct{}{})
	}
}

// send frames one event and offers it to every stream. b.mu must be held.
func (b *Broker) send(event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	b.seq++
	frame := fmt.Appendf(nil, "id: %d\nevent: %s\ndata: %s\n\n", b.seq, event, payload)
	for ch := range b.streams {
		select {
		case ch <- frame:
		default:
		}
	}
}

// Close ends every stream. Later events are dropped.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.streams {
		close(ch)
	}
	clear(b.streams)
}

func (b *Broker) attach() chan []byte {
	ch := make(chan []byte, bufferSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.streams[ch] = struct{}{}
	return ch
}

func (b *Broker) detach(ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.streams[ch]; ok {
		delete(b.streams, ch)
		close(ch)
	}
}

func (b *Broker) streaming() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.streams)
}

// ServeHTTP streams events until the client disconnects or the broker closes.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.attach()
	defer b.detach(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
