package outbox

import "sync"

// Collector accumulates domain events raised during one unit of work so
// they can be written to the outbox in the same transaction.
type Collector struct {
	mu     sync.Mutex
	events []DomainEvent
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Add(events ...DomainEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, events...)
}

// Drain returns the collected events and empties the collector.
func (c *Collector) Drain() []DomainEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	events := c.events
	c.events = nil
	return events
}

// Reset discards collected events, used when a transaction is retried.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}
