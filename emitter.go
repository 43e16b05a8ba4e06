package gxps

import (
	"slices"

	"github.com/pkg/errors"
)

// A Queue receives the events of the observables it is registered on.
// EventBus is the usual implementation.
type Queue interface {
	Enqueue(e Event)
}

// Observable is embedded by every domain object that notifies about its
// changes. It knows the signals its owner may emit and the queues to push
// them to.
type Observable struct {
	// object put as the source of the emitted events
	owner   any
	signals []Signal
	queues  []Queue
}

func newObservable(owner any, signals ...Signal) *Observable {
	return &Observable{owner: owner, signals: signals}
}

// Signals declared by the owner
func (o *Observable) Signals() []Signal {
	return slices.Clone(o.signals)
}

func (o *Observable) Queues() []Queue {
	return slices.Clone(o.queues)
}

func (o *Observable) Declares(sig Signal) bool {
	return slices.Contains(o.signals, sig)
}

// RegisterQueue adds q to the queues. Registering a queue twice delivers
// every event twice.
func (o *Observable) RegisterQueue(q Queue) {
	o.queues = append(o.queues, q)
}

// UnregisterQueue removes the first registration of q
func (o *Observable) UnregisterQueue(q Queue) {
	if i := slices.Index(o.queues, q); i >= 0 {
		o.queues = slices.Delete(o.queues, i, i+1)
	}
}

func (o *Observable) UnregisterAllQueues() {
	o.queues = nil
}

// Emit pushes an event with the given properties to every registered
// queue, in registration order.
func (o *Observable) Emit(sig Signal, props Properties) error {
	if !o.Declares(sig) {
		return errors.Wrapf(ErrUndeclaredSignal, "%s", sig)
	}

	cp := make(Properties, len(props))
	for k, v := range props {
		cp[k] = v
	}
	e := Event{Signal: sig, Source: []any{o.owner}, Properties: cp}
	for _, q := range slices.Clone(o.queues) {
		q.Enqueue(e)
	}
	return nil
}

// notify emits a signal the owner is known to declare
func (o *Observable) notify(sig Signal, props Properties) {
	if err := o.Emit(sig, props); err != nil {
		panic(err)
	}
}
