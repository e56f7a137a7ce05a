package main

import (
	"fmt"
	"sync"

	"github.com/elliotchance/orderedmap/v2"
)

// Parameter is the latest value received for one avatar parameter.
// Value is either a bool or a float32.
type Parameter struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Value   any    `json:"value"`
}

// ParameterSnapshot is an immutable per-tick view of the leash inputs.
type ParameterSnapshot struct {
	Enabled       bool
	IsGrabbed     bool
	Angle         float32
	Stretch       float32
	FrontDistance float32
	BackDistance  float32
	RightDistance float32
	LeftDistance  float32
}

// ParameterSource provides a fresh snapshot of the leash inputs.
type ParameterSource interface {
	Snapshot() ParameterSnapshot
}

// errUnsupportedValue is returned when an OSC argument has a type the store cannot hold.
type errUnsupportedValue struct {
	address string
	value   any
}

func (e errUnsupportedValue) Error() string {
	return fmt.Sprintf("unsupported value type %T for %s", e.value, e.address)
}

// ParameterStore caches the latest value per parameter name, in first-arrival order.
//
// Thread-safe: the OSC receiver writes while the loops read snapshots.
type ParameterStore struct {
	mu     sync.RWMutex
	params *orderedmap.OrderedMap[string, Parameter]
}

// NewParameterStore creates an empty store.
func NewParameterStore() *ParameterStore {
	return &ParameterStore{
		params: orderedmap.NewOrderedMap[string, Parameter](),
	}
}

// Set records a new value. Integers and float64 are stored as float32.
func (s *ParameterStore) Set(name, address string, value any) error {
	var v any
	switch x := value.(type) {
	case bool:
		v = x
	case float32:
		v = x
	case float64:
		v = float32(x)
	case int32:
		v = float32(x)
	case int64:
		v = float32(x)
	case int:
		v = float32(x)
	default:
		return errUnsupportedValue{address: address, value: value}
	}

	s.mu.Lock()
	s.params.Set(name, Parameter{Name: name, Address: address, Value: v})
	s.mu.Unlock()
	return nil
}

// Reset drops every cached value.
func (s *ParameterStore) Reset() {
	s.mu.Lock()
	s.params = orderedmap.NewOrderedMap[string, Parameter]()
	s.mu.Unlock()
}

// Bool returns the named bool value or false when missing or not a bool.
func (s *ParameterStore) Bool(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.boolLocked(name)
}

// Float returns the named float value or 0 when missing or not a float.
func (s *ParameterStore) Float(name string) float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.floatLocked(name)
}

func (s *ParameterStore) boolLocked(name string) bool {
	p, ok := s.params.Get(name)
	if !ok {
		return false
	}
	b, _ := p.Value.(bool)
	return b
}

func (s *ParameterStore) floatLocked(name string) float32 {
	p, ok := s.params.Get(name)
	if !ok {
		return 0
	}
	f, _ := p.Value.(float32)
	return f
}

// Snapshot reads all leash inputs under a single lock.
func (s *ParameterStore) Snapshot() ParameterSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return ParameterSnapshot{
		Enabled:       s.boolLocked(paramEnabled),
		IsGrabbed:     s.boolLocked(paramIsGrabbed),
		Angle:         s.floatLocked(paramAngle),
		Stretch:       s.floatLocked(paramStretch),
		FrontDistance: s.floatLocked(paramFront),
		BackDistance:  s.floatLocked(paramBack),
		RightDistance: s.floatLocked(paramRight),
		LeftDistance:  s.floatLocked(paramLeft),
	}
}

// Parameters returns every cached parameter in first-arrival order.
func (s *ParameterStore) Parameters() []Parameter {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Parameter, 0, s.params.Len())
	for el := s.params.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value)
	}
	return out
}
