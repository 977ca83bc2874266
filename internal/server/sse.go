package server

import (
	"sync"
	"time"
)

// sseSendTimeout bounds how long a slow client can hold up a broadcast.
const sseSendTimeout = 5 * time.Second

type sseEvent struct {
	Event string
	Data  []byte
}

// eventEnd is the terminal event of a stream; handlers disconnect after
// relaying it.
const eventEnd = "end"

// broadcaster fans live game events out to SSE subscribers. Channels are
// collected under the read lock and written to without it, so one stalled
// client never blocks the session goroutine for long. Channels are never
// closed; streams terminate with an end event instead.
type broadcaster struct {
	mu      sync.RWMutex
	clients map[chan sseEvent]struct{}
	done    bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{clients: map[chan sseEvent]struct{}{}}
}

func (b *broadcaster) subscribe() chan sseEvent {
	ch := make(chan sseEvent, 16)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		// Late subscribers get the terminal event immediately.
		ch <- sseEvent{Event: eventEnd, Data: []byte("{}")}
		return ch
	}
	b.clients[ch] = struct{}{}
	return ch
}

func (b *broadcaster) unsubscribe(ch chan sseEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, ch)
}

func (b *broadcaster) publish(ev sseEvent) {
	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		return
	}
	if ev.Event == eventEnd {
		b.done = true
	}
	clients := make([]chan sseEvent, 0, len(b.clients))
	for ch := range b.clients {
		clients = append(clients, ch)
	}
	b.mu.Unlock()

	for _, ch := range clients {
		select {
		case ch <- ev:
		case <-time.After(sseSendTimeout):
		}
	}
}
