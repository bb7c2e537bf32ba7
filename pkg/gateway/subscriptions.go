package gateway

import (
	"sync"

	"github.com/rs/zerolog"
)

const subscriptionBuffer = 64

// Subscription is a caller's handle on one event type. Events are delivered
// on C; Cancel stops delivery and closes the channel.
type Subscription struct {
	EventType string
	C         <-chan EventMessage

	cancel func()
	once   sync.Once
}

// Cancel removes the subscription and closes its channel
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// subscriptionRegistry fans gateway events out to subscribers by event type.
// Slow consumers have events dropped rather than blocking the read pump.
type subscriptionRegistry struct {
	logger zerolog.Logger

	mu      sync.Mutex
	nextID  int
	subs    map[string]map[int]chan EventMessage
	dropped int64
}

func newSubscriptionRegistry(logger zerolog.Logger) *subscriptionRegistry {
	return &subscriptionRegistry{
		logger: logger.With().Str("component", "events").Logger(),
		subs:   make(map[string]map[int]chan EventMessage),
	}
}

// Subscribe registers interest in an event type
func (r *subscriptionRegistry) Subscribe(eventType string) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.subs[eventType] == nil {
		r.subs[eventType] = make(map[int]chan EventMessage)
	}

	id := r.nextID
	r.nextID++
	ch := make(chan EventMessage, subscriptionBuffer)
	r.subs[eventType][id] = ch

	return &Subscription{
		EventType: eventType,
		C:         ch,
		cancel: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if chans, ok := r.subs[eventType]; ok {
				if c, ok := chans[id]; ok {
					delete(chans, id)
					close(c)
				}
				if len(chans) == 0 {
					delete(r.subs, eventType)
				}
			}
		},
	}
}

// Dispatch delivers an event to every subscriber of its type
func (r *subscriptionRegistry) Dispatch(ev EventMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ch := range r.subs[ev.Event] {
		select {
		case ch <- ev:
		default:
			r.dropped++
			r.logger.Warn().
				Str("event", ev.Event).
				Int64("dropped", r.dropped).
				Msg("Subscriber buffer full, dropping event")
		}
	}
}

// ActiveTypes returns the event types with at least one subscriber. The
// reconnect supervisor reissues these to the gateway after reconnecting.
func (r *subscriptionRegistry) ActiveTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	types := make([]string, 0, len(r.subs))
	for eventType := range r.subs {
		types = append(types, eventType)
	}
	return types
}

// CloseAll cancels every subscription. Called on client shutdown.
func (r *subscriptionRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for eventType, chans := range r.subs {
		for id, ch := range chans {
			delete(chans, id)
			close(ch)
		}
		delete(r.subs, eventType)
	}
}

// Count returns the number of active subscriber channels
func (r *subscriptionRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, chans := range r.subs {
		n += len(chans)
	}
	return n
}
