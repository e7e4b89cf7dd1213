package events

import (
	"context"
	"sync"
)

// MemoryPublisher keeps events in process. Subscribers get a buffered
// channel; an event is dropped for a subscriber whose buffer is full.
type MemoryPublisher struct {
	mu          sync.Mutex
	events      []Event
	subscribers []chan Event
	log         Logger
}

// NewMemoryPublisher creates a new in-memory publisher
func NewMemoryPublisher(log Logger) *MemoryPublisher {
	return &MemoryPublisher{log: log}
}

// Publish implements Publisher
func (p *MemoryPublisher) Publish(ctx context.Context, evt Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, evt)
	for _, ch := range p.subscribers {
		select {
		case ch <- evt:
		default:
			p.log.Warn("subscriber buffer full, dropping event", "type", evt.Type)
		}
	}
}

// Subscribe returns a channel receiving every event published from now on
func (p *MemoryPublisher) Subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)

	p.mu.Lock()
	p.subscribers = append(p.subscribers, ch)
	p.mu.Unlock()

	return ch
}

// Events returns every event published so far
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Close closes all subscriber channels
func (p *MemoryPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, ch := range p.subscribers {
		close(ch)
	}
	p.subscribers = nil
	return nil
}
