package orchestrator

import (
	"sync"
	"sync/atomic"

	"solana-swap-engine/internal/domain"
)

// DefaultNotifierBuffer is the per-subscriber channel capacity.
const DefaultNotifierBuffer = 256

// Notifier fans trade events out to subscribers without blocking trades.
// Events for a full subscriber are dropped and counted, except terminal
// events for reliable subscribers, which wait for room.
type Notifier struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
	closed bool

	// OnDrop is called for every dropped event. Set before publishing.
	OnDrop func(sub string, ev domain.TradeEvent)
}

// Subscription receives events published after it was created.
type Subscription struct {
	name     string
	ch       chan domain.TradeEvent
	reliable bool
	dropped  atomic.Uint64
}

// Name returns the subscriber name.
func (s *Subscription) Name() string { return s.name }

// C returns the event channel. It is closed by Unsubscribe or Notifier.Close.
func (s *Subscription) C() <-chan domain.TradeEvent { return s.ch }

// Dropped returns how many events this subscriber missed.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// NewNotifier creates a Notifier. A non-positive buffer uses DefaultNotifierBuffer.
func NewNotifier(buffer int) *Notifier {
	if buffer <= 0 {
		buffer = DefaultNotifierBuffer
	}
	return &Notifier{subs: make(map[*Subscription]struct{}), buffer: buffer}
}

// Subscribe attaches a subscriber.
func (n *Notifier) Subscribe(name string) *Subscription {
	return n.subscribe(&Subscription{name: name, ch: make(chan domain.TradeEvent, n.buffer)})
}

// SubscribeReliable attaches a subscriber that never misses a terminal
// event. Publishing a terminal event blocks while its buffer is full, so the
// subscriber must keep draining until the channel is closed.
func (n *Notifier) SubscribeReliable(name string) *Subscription {
	return n.subscribe(&Subscription{name: name, ch: make(chan domain.TradeEvent, n.buffer), reliable: true})
}

func (n *Notifier) subscribe(s *Subscription) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		close(s.ch)
		return s
	}
	n.subs[s] = struct{}{}
	return s
}

// Unsubscribe detaches s and closes its channel.
func (n *Notifier) Unsubscribe(s *Subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.subs[s]; ok {
		delete(n.subs, s)
		close(s.ch)
	}
}

// Publish delivers ev to every subscriber with room in its buffer.
func (n *Notifier) Publish(ev domain.TradeEvent) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	for s := range n.subs {
		if s.reliable && ev.Stage.IsTerminal() {
			s.ch <- ev
			continue
		}
		select {
		case s.ch <- ev:
		default:
			s.dropped.Add(1)
			if n.OnDrop != nil {
				n.OnDrop(s.name, ev)
			}
		}
	}
}

// Close closes every subscription. Later publishes are ignored.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for s := range n.subs {
		close(s.ch)
	}
	n.subs = nil
}
