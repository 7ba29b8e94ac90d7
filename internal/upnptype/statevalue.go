// SPDX-License-Identifier: MIT

package upnptype

import (
	"fmt"
	"sync"
)

// StateValue wraps a UPnP state variable: its declared type, optional
// constraints, and current value. Set enforces allowed-values, range,
// and step before mutating, and reports whether a change notification
// should be queued for the owning service's subscriber fan-out.
type StateValue struct {
	mu sync.RWMutex

	Name          string
	Type          TypeTag
	AllowedValues []string // nil if unconstrained
	Range         *Range
	Step          float64 // 0 means unconstrained
	SendEvents    bool

	value   Value
	current string // wire-form cache for allowed-value comparison
}

// NewStateValue constructs a StateValue with its default applied.
func NewStateValue(name string, t TypeTag, def string, sendEvents bool) (*StateValue, error) {
	sv := &StateValue{
		Name:       name,
		Type:       t,
		SendEvents: sendEvents,
	}
	v, err := Parse(t, def)
	if err != nil {
		return nil, fmt.Errorf("state variable %s: default value: %w", name, err)
	}
	sv.value = v
	sv.current = def
	return sv, nil
}

// Get returns the current value and its wire-form string.
func (sv *StateValue) Get() (Value, string) {
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	return sv.value, sv.current
}

// Set validates wire against allowed-values, range, and step, and
// mutates the variable only if all constraints pass. changed reports
// whether the value actually differs from the prior one, and
// shouldNotify reports whether a change notification should be queued
// (changed && SendEvents).
func (sv *StateValue) Set(wire string) (changed bool, shouldNotify bool, err error) {
	v, err := Parse(sv.Type, wire)
	if err != nil {
		return false, false, err
	}

	sv.mu.Lock()
	defer sv.mu.Unlock()

	if sv.AllowedValues != nil {
		ok := false
		for _, av := range sv.AllowedValues {
			if av == wire {
				ok = true
				break
			}
		}
		if !ok {
			return false, false, fmt.Errorf("%w: %s: %q not in allowed values", ErrConstraintViolation, sv.Name, wire)
		}
	}

	if sv.Range != nil {
		if !InRange(v, *sv.Range) {
			return false, false, fmt.Errorf("%w: %s: %s out of range [%v,%v]", ErrConstraintViolation, sv.Name, wire, sv.Range.Min, sv.Range.Max)
		}
	}

	if sv.Step > 0 && sv.Range != nil {
		if !stepAligned(v, *sv.Range, sv.Step) {
			return false, false, fmt.Errorf("%w: %s: %s not aligned to step %v", ErrConstraintViolation, sv.Name, wire, sv.Step)
		}
	}

	if sv.current == wire {
		return false, false, nil
	}

	sv.value = v
	sv.current = wire
	return true, sv.SendEvents, nil
}

func stepAligned(v Value, r Range, step float64) bool {
	var n float64
	switch v.Type {
	case TypeUI1, TypeUI2, TypeUI4, TypeI1, TypeI2, TypeI4:
		n = float64(v.Int)
	case TypeR4, TypeR8:
		n = v.Float
	case TypeFixed14_4:
		n = float64(v.Fixed) / 10000
	default:
		return true
	}
	offset := n - r.Min
	remainder := offset - step*float64(int64(offset/step+0.5))
	const epsilon = 1e-9
	return remainder > -epsilon && remainder < epsilon
}
