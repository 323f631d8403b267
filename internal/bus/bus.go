// internal/bus/bus.go
package bus

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/flow-automator/api/schemas"
)

// Message is the envelope delivered to subscribers.
type Message struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Event     schemas.Event `json:"event"`
}

// Publisher is the write side of the bus used by the orchestrator and executor.
type Publisher interface {
	Publish(ev schemas.Event)
}

// EventBus fans pipeline events out to any attached UI. Publishing never
// blocks: a subscriber whose buffer is full misses the event.
type EventBus struct {
	logger     *zap.Logger
	bufferSize int

	mu          sync.RWMutex
	subscribers map[schemas.EventType][]chan Message
	isShutdown  bool

	shutdownOnce sync.Once
}

var _ Publisher = (*EventBus)(nil)

// NewEventBus creates a bus whose subscriber channels hold bufferSize messages.
func NewEventBus(logger *zap.Logger, bufferSize int) *EventBus {
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &EventBus{
		logger:      logger.Named("event_bus"),
		bufferSize:  bufferSize,
		subscribers: make(map[schemas.EventType][]chan Message),
	}
}

// Publish delivers ev to every subscriber of its type.
func (eb *EventBus) Publish(ev schemas.Event) {
	msg := Message{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Event:     ev,
	}

	// The read lock is held across the sends so Shutdown cannot close a
	// channel underneath us; sends never block so this is short.
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.isShutdown {
		return
	}

	for _, ch := range eb.subscribers[ev.Type] {
		select {
		case ch <- msg:
		default:
			eb.logger.Warn("Subscriber buffer full, dropping event.",
				zap.String("type", string(ev.Type)), zap.String("id", msg.ID))
		}
	}
}

// Subscribe returns a channel receiving the given event types (all types when
// none are named) and a function that detaches it.
func (eb *EventBus) Subscribe(types ...schemas.EventType) (<-chan Message, func()) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.isShutdown {
		closedCh := make(chan Message)
		close(closedCh)
		return closedCh, func() {}
	}

	if len(types) == 0 {
		types = []schemas.EventType{schemas.EventStatusUpdate, schemas.EventElementPickedConfirm}
	}
	subscribed := append([]schemas.EventType(nil), types...)

	ch := make(chan Message, eb.bufferSize)
	for _, t := range subscribed {
		eb.subscribers[t] = append(eb.subscribers[t], ch)
	}

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			eb.mu.Lock()
			defer eb.mu.Unlock()
			if eb.isShutdown {
				// Shutdown already closed the channel.
				return
			}
			for _, t := range subscribed {
				eb.subscribers[t] = removeChan(eb.subscribers[t], ch)
				if len(eb.subscribers[t]) == 0 {
					delete(eb.subscribers, t)
				}
			}
			close(ch)
		})
	}
	return ch, unsubscribe
}

func removeChan(subs []chan Message, ch chan Message) []chan Message {
	for i, c := range subs {
		if c == ch {
			copy(subs[i:], subs[i+1:])
			return subs[:len(subs)-1]
		}
	}
	return subs
}

// Shutdown closes every subscriber channel. Later publishes are ignored.
func (eb *EventBus) Shutdown() {
	eb.shutdownOnce.Do(func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		eb.isShutdown = true

		unique := make(map[chan Message]struct{})
		for _, subs := range eb.subscribers {
			for _, ch := range subs {
				unique[ch] = struct{}{}
			}
		}
		for ch := range unique {
			close(ch)
		}
		eb.subscribers = make(map[schemas.EventType][]chan Message)
		eb.logger.Info("Event bus shut down.", zap.Int("subscribers", len(unique)))
	})
}
