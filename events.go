package gxps

import (
	"reflect"

	"github.com/pkg/errors"
)

var (
	ErrUndeclaredSignal = errors.New("signal not declared for this object")
	ErrSignalMismatch   = errors.New("events carry different signals")
	ErrUnknownSignal    = errors.New("unknown signal")
)

// Signals are the closed set of state-change notifications. Every
// observable type declares which of them it may emit.
type Signal uint8

const (
	// A spectrum was added to or removed from a container
	CHANGED_SPECTRA Signal = iota + 1
	// Background, calibration or normalization of a spectrum changed
	CHANGED_SPECTRUM
	// A metadata field (name, notes, ...) of a spectrum changed
	CHANGED_SPECTRUM_META
	// Peaks were added or removed, or the fit ran
	CHANGED_FIT
	// A peak parameter or shape changed
	CHANGED_PEAK
	// A peak label changed
	CHANGED_PEAK_META
)

var signalNames = map[Signal]string{
	CHANGED_SPECTRA:       "changed-spectra",
	CHANGED_SPECTRUM:      "changed-spectrum",
	CHANGED_SPECTRUM_META: "changed-spectrum-meta",
	CHANGED_FIT:           "changed-fit",
	CHANGED_PEAK:          "changed-peak",
	CHANGED_PEAK_META:     "changed-peak-meta",
}

// All signals in declaration order
var Signals = []Signal{
	CHANGED_SPECTRA,
	CHANGED_SPECTRUM,
	CHANGED_SPECTRUM_META,
	CHANGED_FIT,
	CHANGED_PEAK,
	CHANGED_PEAK_META,
}

func (s Signal) String() string {
	if name, ok := signalNames[s]; ok {
		return name
	}
	return "unknown"
}

func ParseSignal(name string) (Signal, error) {
	for s, n := range signalNames {
		if n == name {
			return s, nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownSignal, "%q", name)
}

// Well-known event property keys
const (
	// name of the changed attribute
	PropAttr = "attr"
	// new value of the changed attribute
	PropValue = "value"
	// forces immediate dispatch on every bus
	PropNoQueue = "noqueue"
)

type Properties map[string]any

type Event struct {
	Signal     Signal
	Source     []any
	Properties Properties
}

// An EventList merges every event of one signal queued between two
// dispatches. Each property becomes the sequence of the values it had in
// the merged events, in emission order; sequence values are flattened.
type EventList struct {
	Signal     Signal
	Source     []any
	Properties map[string][]any
	Events     []Event
}

func NewEventList(events []Event) (*EventList, error) {
	if len(events) == 0 {
		return nil, errors.New("cannot merge an empty event list")
	}

	l := &EventList{
		Signal:     events[0].Signal,
		Properties: make(map[string][]any),
		Events:     append([]Event(nil), events...),
	}
	for _, e := range events {
		if e.Signal != l.Signal {
			return nil, errors.Wrapf(ErrSignalMismatch, "%s and %s", l.Signal, e.Signal)
		}
		for key, value := range e.Properties {
			l.Properties[key] = appendValue(l.Properties[key], value)
		}
		l.Source = append(l.Source, e.Source...)
	}
	return l, nil
}

func appendValue(dst []any, value any) []any {
	rv := reflect.ValueOf(value)
	if value == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return append(dst, value)
	}
	for i := 0; i < rv.Len(); i++ {
		dst = append(dst, rv.Index(i).Interface())
	}
	return dst
}

// Has reports whether any merged event carried the property
func (l *EventList) Has(key string) bool {
	_, ok := l.Properties[key]
	return ok
}

// Attrs returns the string values of the attr property
func (l *EventList) Attrs() []string {
	var attrs []string
	for _, v := range l.Properties[PropAttr] {
		if s, ok := v.(string); ok {
			attrs = append(attrs, s)
		}
	}
	return attrs
}
