package notification

import (
	"context"
	"fmt"
	"sync"
)

// SendResult is returned by Sender implementations after a delivery
// attempt. The core acts only on Success; Err feeds error_message and
// the logs.
type SendResult struct {
	Success bool
	Err     error
}

// Sender delivers a notification over one channel. Implementations must
// be safe for concurrent use and must return within the configured
// channel timeout (the context carries the deadline).
type Sender interface {
	Send(ctx context.Context, n *Notification, p Payload) SendResult

	// Method returns the channel this sender handles.
	Method() Method
}

// DeliverySet dispatches sends to the registered sender for a method.
type DeliverySet struct {
	mu      sync.RWMutex
	senders map[Method]Sender
}

// NewDeliverySet creates an empty sender registry.
func NewDeliverySet() *DeliverySet {
	return &DeliverySet{senders: make(map[Method]Sender)}
}

// Register adds a channel sender, replacing any previous one.
func (d *DeliverySet) Register(s Sender) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.senders[s.Method()] = s
}

// Methods lists the registered channels.
func (d *DeliverySet) Methods() []Method {
	d.mu.RLock()
	defer d.mu.RUnlock()
	methods := make([]Method, 0, len(d.senders))
	for m := range d.senders {
		methods = append(methods, m)
	}
	return methods
}

// Send routes to the sender registered for the method. A missing sender
// is an attempt failure, not a panic: the row burns a retry and the
// fallback chain moves on.
func (d *DeliverySet) Send(ctx context.Context, method Method, n *Notification, p Payload) SendResult {
	d.mu.RLock()
	s, ok := d.senders[method]
	d.mu.RUnlock()

	if !ok {
		return SendResult{Err: fmt.Errorf("no sender registered for method %s", method)}
	}
	return s.Send(ctx, n, p)
}
