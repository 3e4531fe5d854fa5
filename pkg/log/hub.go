package log

import (
	"sync"
)

// DefaultHubSize is the number of log lines kept for backlog requests
const DefaultHubSize = 1000

// Hub keeps the most recent log lines in a ring and fans new lines out to
// subscribers. It is the source of the node_logs stream.
type Hub struct {
	mu   sync.Mutex
	ring [][]byte
	next int
	full bool
	subs map[chan []byte]struct{}
}

// NewHub creates a hub keeping size lines of backlog
func NewHub(size int) *Hub {
	if size <= 0 {
		size = DefaultHubSize
	}
	return &Hub{
		ring: make([][]byte, size),
		subs: make(map[chan []byte]struct{}),
	}
}

// Write stores one log line. zerolog calls Write once per event.
func (h *Hub) Write(p []byte) (int, error) {
	line := make([]byte, len(p))
	copy(line, p)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.ring[h.next] = line
	h.next = (h.next + 1) % len(h.ring)
	if h.next == 0 {
		h.full = true
	}

	for sub := range h.subs {
		select {
		case sub <- line:
		default:
			// Slow reader, drop
		}
	}
	return len(p), nil
}

// Backlog returns up to n of the most recent lines, oldest first.
// n <= 0 returns the whole ring.
func (h *Hub) Backlog(n int) [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()

	count := h.next
	if h.full {
		count = len(h.ring)
	}
	if n <= 0 || n > count {
		n = count
	}

	lines := make([][]byte, 0, n)
	start := h.next - n
	if start < 0 {
		start += len(h.ring)
	}
	for i := 0; i < n; i++ {
		lines = append(lines, h.ring[(start+i)%len(h.ring)])
	}
	return lines
}

// Subscribe returns a channel receiving new lines and a cancel func
func (h *Hub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 100)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// SubscriberCount returns the number of active subscribers
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
