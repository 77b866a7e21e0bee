package pubsub

import "sync"

type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

func OrderTopic(orderID string) string     { return "order:" + orderID }
func VoucherTopic(voucherID string) string { return "voucher:" + voucherID }

const subscriberBuffer = 16

// Hub fans events out to subscribers of one entity topic. Delivery is
// at-most-once: a publish to a slow or gone subscriber is dropped, never
// blocked on. Clients needing exact state must refetch after reconnecting.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[int]chan Event
	nextID int
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int]chan Event)}
}

// Subscribe registers a watcher on topic. The returned cancel func is
// idempotent and closes the channel.
func (h *Hub) Subscribe(topic string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[int]chan Event)
	}
	id := h.nextID
	h.nextID++
	h.subs[topic][id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if subs, ok := h.subs[topic]; ok {
				delete(subs, id)
				if len(subs) == 0 {
					delete(h.subs, topic)
				}
			}
			close(ch)
		})
	}

	return ch, cancel
}

// Publish delivers ev to every current subscriber of topic. Publishing to a
// topic with no subscribers is a no-op.
func (h *Hub) Publish(topic string, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs[topic] {
		select {
		case ch <- ev:
		default:
			// subscriber is not keeping up; drop
		}
	}
}

// SubscriberCount is used by tests and the SSE handler's metrics.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}
