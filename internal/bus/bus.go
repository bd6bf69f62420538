// Package bus is an in-process, multi-topic publish/subscribe fan-out,
// grounded on the teacher's marketdata/bus.FanOut: the same
// subscribe-a-channel / drop-on-full-buffer policy, generalized from a
// single hardcoded model.Candle topic to a small named-topic registry so
// one Bus instance can carry candle closes, ticks, and confluence
// lifecycle events (§4, C11).
package bus

import (
	"log/slog"
	"sync"

	"trading-systemv1/internal/model"
)

// Topic names published on this bus.
const (
	TopicCandleClose  = "candle.close"
	TopicTick         = "tick"
	TopicSetupReady   = "setup.ready"
	TopicSetupExpired = "setup.expired"
)

// Bus is a named-topic fan-out. Each Subscribe call gets its own buffered
// channel; a full channel causes that subscriber's event to be dropped
// rather than blocking the publisher.
type Bus struct {
	mu      sync.RWMutex
	topics  map[string][]chan any
	bufSize int
	log     *slog.Logger
}

func New(bufSize int, log *slog.Logger) *Bus {
	return &Bus{
		topics:  make(map[string][]chan any),
		bufSize: bufSize,
		log:     log,
	}
}

// Subscribe returns a new channel that receives every value published on
// topic from this point forward.
func (b *Bus) Subscribe(topic string) <-chan any {
	ch := make(chan any, b.bufSize)
	b.mu.Lock()
	b.topics[topic] = append(b.topics[topic], ch)
	b.mu.Unlock()
	return ch
}

// Publish fans payload out to every subscriber of topic. Slow consumers
// with a full channel have this event dropped for them; the publisher
// never blocks.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for i, ch := range b.topics[topic] {
		select {
		case ch <- payload:
		default:
			b.log.Warn("bus: subscriber channel full, dropping event", "topic", topic, "subscriber", i)
		}
	}
}

// PublishCandleClose publishes a closed candle on TopicCandleClose.
func (b *Bus) PublishCandleClose(c model.Candle) {
	b.Publish(TopicCandleClose, c)
}

// PublishTick publishes a trade tick on TopicTick.
func (b *Bus) PublishTick(t model.Tick) {
	b.Publish(TopicTick, t)
}

// PublishSetupReady and PublishSetupExpired satisfy confluence.EventPublisher
// (C4), decoupling the state machine from this package.
func (b *Bus) PublishSetupReady(cs model.ConfluenceState) {
	b.Publish(TopicSetupReady, cs)
}

func (b *Bus) PublishSetupExpired(cs model.ConfluenceState) {
	b.Publish(TopicSetupExpired, cs)
}
