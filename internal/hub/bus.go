package hub

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/paracord-chat/paracord/internal/observability"
)

// BusCapacity is the per-subscriber buffer of a channel bus.
const BusCapacity = 256

// GlobalBusCapacity is the buffer of the server-wide bus.
const GlobalBusCapacity = 1024

// Bus is a bounded fan-out broadcaster. Publishing never blocks: a
// subscriber whose buffer is full skips the message. A bus with zero
// subscribers drops broadcasts silently.
type Bus struct {
	mu       sync.RWMutex
	subs     map[uint64]chan ServerMessage
	nextID   uint64
	capacity int
	dropped  func()
}

func newBus(capacity int, dropped func()) *Bus {
	return &Bus{
		subs:     make(map[uint64]chan ServerMessage),
		capacity: capacity,
		dropped:  dropped,
	}
}

// Subscribe registers a receiver. The returned cancel function detaches it;
// calling cancel more than once is safe.
func (b *Bus) Subscribe() (<-chan ServerMessage, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan ServerMessage, b.capacity)
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			// Close under the write lock: Publish only sends while holding
			// the read lock, so no send can race the close.
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish broadcasts to every subscriber without blocking the publisher.
func (b *Bus) Publish(msg ServerMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- msg:
		default:
			if b.dropped != nil {
				b.dropped()
			}
		}
	}
}

// SubscriberCount returns the number of attached receivers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Registry maps channel ids to their buses. Buses are created lazily on
// first use and retained for the process lifetime; the map only grows.
type Registry struct {
	mu      sync.RWMutex
	buses   map[string]*Bus
	global  *Bus
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewRegistry creates an empty registry plus the global bus.
func NewRegistry(metrics *observability.Metrics, logger zerolog.Logger) *Registry {
	r := &Registry{
		buses:   make(map[string]*Bus),
		metrics: metrics,
		logger:  logger.With().Str("component", "bus-registry").Logger(),
	}
	r.global = newBus(GlobalBusCapacity, r.onDropped)
	return r
}

// Get returns the bus for a channel, creating it on first use.
func (r *Registry) Get(channelID string) *Bus {
	r.mu.RLock()
	bus, ok := r.buses[channelID]
	r.mu.RUnlock()
	if ok {
		return bus
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if bus, ok := r.buses[channelID]; ok {
		return bus
	}
	bus = newBus(BusCapacity, r.onDropped)
	r.buses[channelID] = bus
	r.logger.Debug().Str("channel_id", channelID).Msg("channel bus created")
	return bus
}

// Global returns the server-wide bus.
func (r *Registry) Global() *Bus {
	return r.global
}

// Publish publishes onto a channel bus and counts it.
func (r *Registry) Publish(channelID string, msg ServerMessage) {
	r.Get(channelID).Publish(msg)
	if r.metrics != nil {
		r.metrics.BusPublishes.WithLabelValues("channel").Inc()
	}
}

// PublishGlobal publishes onto the global bus and counts it.
func (r *Registry) PublishGlobal(msg ServerMessage) {
	r.global.Publish(msg)
	if r.metrics != nil {
		r.metrics.BusPublishes.WithLabelValues("global").Inc()
	}
}

// BusCount returns the number of lazily created buses.
func (r *Registry) BusCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.buses)
}

func (r *Registry) onDropped() {
	if r.metrics != nil {
		r.metrics.DroppedSubscribers.Inc()
	}
}
