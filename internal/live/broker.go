// Package live fans out store change notifications to in-process listeners.
package live

import (
	"sync/atomic"
)

// Listener receives change signals for one topic.
//
// Signals are coalesced: at most one is pending per listener, so a slow
// consumer observes "something changed" rather than every individual write.
type Listener struct {
	topic string
	ch    chan struct{}
}

// Topic returns the topic the listener is subscribed to.
func (l *Listener) Topic() string {
	return l.topic
}

// C returns the signal channel. It is closed when the listener is
// unsubscribed or the broker shuts down.
func (l *Listener) C() <-chan struct{} {
	return l.ch
}

// Broker routes published topics to subscribed listeners.
//
// Concurrency model: a single internal event loop (goroutine) owns the
// topic table. Public methods communicate with this loop through channels,
// so no mutexes are required.
type Broker struct {
	subscribeCh   chan *Listener
	unsubscribeCh chan *Listener
	publishCh     chan string
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker and starts its event loop.
func NewBroker() *Broker {
	b := &Broker{
		subscribeCh:   make(chan *Listener),
		unsubscribeCh: make(chan *Listener),
		publishCh:     make(chan string, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	topics := make(map[string]map[*Listener]struct{})
	total := 0

	for {
		select {
		case <-b.stopCh:
			for _, set := range topics {
				for l := range set {
					close(l.ch)
				}
			}
			return

		case l := <-b.subscribeCh:
			set, ok := topics[l.topic]
			if !ok {
				set = make(map[*Listener]struct{})
				topics[l.topic] = set
			}
			set[l] = struct{}{}
			total++

		case l := <-b.unsubscribeCh:
			set := topics[l.topic]
			if _, ok := set[l]; ok {
				delete(set, l)
				close(l.ch)
				total--
				if len(set) == 0 {
					delete(topics, l.topic)
				}
			}

		case topic := <-b.publishCh:
			for l := range topics[topic] {
				select {
				case l.ch <- struct{}{}:
				default:
					// A signal is already pending.
				}
			}

		case resp := <-b.countReqCh:
			resp <- total
		}
	}
}

// Close stops the event loop and closes every listener channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a listener for topic.
func (b *Broker) Subscribe(topic string) *Listener {
	l := &Listener{topic: topic, ch: make(chan struct{}, 1)}
	if b.closed.Load() {
		close(l.ch)
		return l
	}

	select {
	case b.subscribeCh <- l:
	case <-b.stopped:
		close(l.ch)
	}
	return l
}

// Unsubscribe removes a listener and closes its channel. Unsubscribing the
// same listener twice is a no-op.
func (b *Broker) Unsubscribe(l *Listener) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- l:
	case <-b.stopped:
	}
}

// Publish signals every listener of topic.
func (b *Broker) Publish(topic string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- topic:
	case <-b.stopped:
	}
}

// ListenerCount returns the number of registered listeners.
func (b *Broker) ListenerCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}
