// Package model wraps the device adapters with last-observed property
// snapshots, periodic refresh and change notifications. Consumers subscribe
// to a model and receive (property, old value, new value) events; an event
// is emitted only when a value actually changed. Delivery order for one
// device follows poll order; across devices there is no ordering guarantee.
package model

import (
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Change is one observed property transition on a device.
type Change struct {
	Device   string
	Property string
	Old      any
	New      any
}

// ErrorProperty is the pseudo-property used for error events: command
// failures the model surfaces to subscribers. Old is nil and New carries
// the message.
const ErrorProperty = "error"

// Subscription is one consumer's feed of change events.
type Subscription struct {
	ID uuid.UUID
	C  <-chan Change

	ch chan Change
}

// broadcaster fans change events out to subscribers. A slow subscriber
// whose buffer is full loses the event rather than stalling the poll loop.
type broadcaster struct {
	device string
	logger log.FieldLogger

	subMu sync.Mutex
	subs  map[uuid.UUID]*Subscription
}

func newBroadcaster(device string, logger log.FieldLogger) broadcaster {
	if logger == nil {
		logger = log.WithField("device", device)
	}
	return broadcaster{
		device: device,
		logger: logger,
		subs:   make(map[uuid.UUID]*Subscription),
	}
}

// Subscribe registers a consumer. buffer is the channel capacity; events
// beyond it are dropped for that subscriber.
func (b *broadcaster) Subscribe(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 16
	}
	ch := make(chan Change, buffer)
	sub := &Subscription{
		ID: uuid.New(),
		C:  ch,
		ch: ch,
	}

	b.subMu.Lock()
	b.subs[sub.ID] = sub
	b.subMu.Unlock()
	return sub
}

// Unsubscribe removes a consumer and closes its channel.
func (b *broadcaster) Unsubscribe(id uuid.UUID) {
	b.subMu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.subMu.Unlock()
	if ok {
		close(sub.ch)
	}
}

func (b *broadcaster) publish(property string, old, new any) {
	change := Change{
		Device:   b.device,
		Property: property,
		Old:      old,
		New:      new,
	}

	b.subMu.Lock()
	defer b.subMu.Unlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- change:
		default:
			b.logger.Warnf("subscriber %s lagging, dropped %s event", sub.ID, property)
		}
	}
}

// publishError surfaces a command failure as an error event.
func (b *broadcaster) publishError(err error) {
	b.publish(ErrorProperty, nil, err.Error())
}

// setField updates a snapshot field and publishes a change event only when
// the value transitioned. Callers hold the snapshot lock.
func setField[T comparable](b *broadcaster, property string, field *T, value T) {
	if *field == value {
		return
	}
	old := *field
	*field = value
	b.publish(property, old, value)
}
