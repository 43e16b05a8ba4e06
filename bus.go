// The bus sits between the domain objects and whoever renders them. Domain
// objects push events to it as they change; the bus decides per signal
// whether to drop them, hold them until someone calls Fire, or dispatch them
// right away. Subscribers always receive a merged EventList, so a burst of
// a hundred peak edits reaches a plot as a single redraw.

package gxps

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var ErrUnknownPolicy = errors.New("unknown policy")

type Policy string

const (
	// drop the events
	P_IGNORE Policy = "ignore"
	// hold the events until fired
	P_ACCUMULATE Policy = "accumulate"
	// dispatch the events at once
	P_FIRE Policy = "fire"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case P_IGNORE, P_ACCUMULATE, P_FIRE:
		return p, nil
	}
	return "", errors.Wrapf(ErrUnknownPolicy, "%q", s)
}

type Callback func(events *EventList)

type Subscription struct {
	bus      *EventBus
	signal   Signal
	priority int
	callback Callback
}

func (s *Subscription) Signal() Signal {
	return s.signal
}

func (s *Subscription) Priority() int {
	return s.priority
}

// Unsubscribe removes the callback from the bus. Calling it twice is a no-op.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s)
}

type EventBus struct {
	mu sync.Mutex

	defaultPolicy Policy
	policies      map[Signal]Policy
	// set while Accumulate runs, beats every other policy
	override Policy

	// pending events; a signal has an entry only while events are pending
	queues map[Signal][]Event
	// subscribers sorted by ascending priority, stable on ties
	subs map[Signal][]*Subscription
}

func NewEventBus(defaultPolicy Policy) (*EventBus, error) {
	if _, err := ParsePolicy(string(defaultPolicy)); err != nil {
		return nil, err
	}
	return &EventBus{
		defaultPolicy: defaultPolicy,
		policies:      make(map[Signal]Policy),
		queues:        make(map[Signal][]Event),
		subs:          make(map[Signal][]*Subscription),
	}, nil
}

// Subscribe registers callback for signal. Lower priorities run first;
// equal priorities run in subscription order.
func (b *EventBus) Subscribe(callback Callback, signal Signal, priority int) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{bus: b, signal: signal, priority: priority, callback: callback}
	subs := append(b.subs[signal], sub)
	sort.SliceStable(subs, func(i, j int) bool {
		return subs[i].priority < subs[j].priority
	})
	b.subs[signal] = subs
	return sub
}

func (b *EventBus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[sub.signal]
	for i, s := range subs {
		if s == sub {
			b.subs[sub.signal] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// UnsubscribeAll drops every subscriber of the given signals, or of all
// signals when none is given
func (b *EventBus) UnsubscribeAll(signals ...Signal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(signals) == 0 {
		b.subs = make(map[Signal][]*Subscription)
		return
	}
	for _, sig := range signals {
		delete(b.subs, sig)
	}
}

// SetPolicy sets the policy of the given signals. Without signals it
// replaces the default policy.
func (b *EventBus) SetPolicy(policy Policy, signals ...Signal) error {
	if _, err := ParsePolicy(string(policy)); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(signals) == 0 {
		b.defaultPolicy = policy
		return nil
	}
	for _, sig := range signals {
		b.policies[sig] = policy
	}
	return nil
}

func (b *EventBus) SetDefaultPolicy(policy Policy) error {
	return b.SetPolicy(policy)
}

// ResetPolicy makes the signals follow the default policy again
func (b *EventBus) ResetPolicy(signals ...Signal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sig := range signals {
		delete(b.policies, sig)
	}
}

func (b *EventBus) Policy(signal Signal) Policy {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.policy(signal)
}

func (b *EventBus) policy(signal Signal) Policy {
	if b.override != "" {
		return b.override
	}
	if p, ok := b.policies[signal]; ok {
		return p
	}
	return b.defaultPolicy
}

// Pending returns the number of queued events of a signal
func (b *EventBus) Pending(signal Signal) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[signal])
}

// Enqueue applies the signal's policy to e. Events carrying the noqueue
// property are dispatched immediately whatever the policy.
func (b *EventBus) Enqueue(e Event) {
	b.mu.Lock()
	_, noqueue := e.Properties[PropNoQueue]
	policy := b.policy(e.Signal)
	if policy == P_IGNORE && !noqueue {
		b.mu.Unlock()
		return
	}
	b.queues[e.Signal] = append(b.queues[e.Signal], e)
	b.mu.Unlock()

	log.Debug().Msgf("Enqueued %s (policy %s)", e.Signal, policy)
	if noqueue || policy == P_FIRE {
		b.Fire(e.Signal)
	}
}

// Fire merges every pending event of signal into one EventList and hands it
// to the subscribers. Nothing happens when no event is pending.
func (b *EventBus) Fire(signal Signal) {
	b.mu.Lock()
	events, ok := b.queues[signal]
	delete(b.queues, signal)
	subs := append([]*Subscription(nil), b.subs[signal]...)
	b.mu.Unlock()

	if !ok || len(events) == 0 {
		return
	}

	list, err := NewEventList(events)
	if err != nil {
		// queues are keyed by signal
		log.Error().Err(err).Msgf("Failed to merge %s events", signal)
		return
	}

	log.Debug().Msgf("Firing %d %s event(s) to %d subscriber(s)", len(events), signal, len(subs))
	for _, sub := range subs {
		sub.callback(list)
	}
}

// FireAll fires every signal with pending events, in declaration order
func (b *EventBus) FireAll() {
	for _, sig := range Signals {
		b.Fire(sig)
	}
}

// Accumulate holds the events of the given signals (all signals when none is
// given) while fn runs. Afterwards the previous policies are restored and
// every signal whose policy is fire is dispatched; events of ignored signals
// are dropped and accumulating ones stay queued.
func (b *EventBus) Accumulate(fn func() error, signals ...Signal) error {
	set, release := b.hold(signals)
	err := func() error {
		// policies come back even when fn panics
		defer release()
		return fn()
	}()

	b.mu.Lock()
	var fire []Signal
	for _, sig := range Signals {
		if _, ok := b.queues[sig]; !ok {
			continue
		}
		if len(set) > 0 && !set[sig] {
			continue
		}
		switch b.policy(sig) {
		case P_FIRE:
			fire = append(fire, sig)
		case P_IGNORE:
			delete(b.queues, sig)
		}
	}
	b.mu.Unlock()

	for _, sig := range fire {
		b.Fire(sig)
	}
	return err
}

// hold switches signals to accumulate and returns the func putting the
// previous policies back
func (b *EventBus) hold(signals []Signal) (map[Signal]bool, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	prevOverride := b.override
	prev := make(map[Signal]Policy, len(signals))
	set := make(map[Signal]bool, len(signals))
	if len(signals) == 0 {
		b.override = P_ACCUMULATE
	}
	for _, sig := range signals {
		if p, ok := b.policies[sig]; ok {
			prev[sig] = p
		}
		set[sig] = true
		b.policies[sig] = P_ACCUMULATE
	}

	release := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.override = prevOverride
		for sig := range set {
			if p, ok := prev[sig]; ok {
				b.policies[sig] = p
			} else {
				delete(b.policies, sig)
			}
		}
	}
	return set, release
}
