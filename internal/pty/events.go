package pty

import "sync"

// EventType identifies a terminal lifecycle or output event.
type EventType string

const (
	EventCreated EventType = "created"
	EventData    EventType = "data"
	EventExit    EventType = "exit"
	EventCwd     EventType = "cwd"
	EventWorking EventType = "working"
	EventKilled  EventType = "killed"
)

// Event is one entry in a terminal's event stream.
type Event struct {
	Type       EventType
	TerminalID string

	// Data carries the output chunk for EventData.
	Data []byte

	// ExitCode is set for EventExit.
	ExitCode int

	// Cwd is set for EventCwd.
	Cwd string

	// Working is set for EventWorking.
	Working bool
}

// subscriptionBuffer is the per-subscriber channel depth. Slow consumers
// lose events rather than stalling the PTY read loop.
const subscriptionBuffer = 256

// Subscription is a cancellable listener on the manager's event stream.
// Close must be called when the subscriber is done, or the manager keeps
// delivering into its channel forever.
type Subscription struct {
	terminalID string // empty subscribes to every terminal
	ch         chan Event
	once       sync.Once
	broker     *eventBroker
}

// Events returns the channel events are delivered on. It is closed by Close.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close cancels the subscription and closes the event channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.broker.remove(s)
		close(s.ch)
	})
}

// eventBroker fans events out to subscriptions. Listener registration and
// cancellation are first-class so no ad-hoc callback wiring is needed.
type eventBroker struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

func newEventBroker() *eventBroker {
	return &eventBroker{subs: make(map[*Subscription]struct{})}
}

func (b *eventBroker) subscribe(terminalID string) *Subscription {
	sub := &Subscription{
		terminalID: terminalID,
		ch:         make(chan Event, subscriptionBuffer),
		broker:     b,
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

func (b *eventBroker) remove(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// publish delivers the event to every matching subscription. Delivery is
// non-blocking: a full subscriber channel drops the event so a stuck viewer
// cannot stall the read loop.
func (b *eventBroker) publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		if sub.terminalID != "" && sub.terminalID != ev.TerminalID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}
