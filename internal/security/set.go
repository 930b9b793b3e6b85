package security

import (
	"fmt"

	"github.com/dshills/warden/internal/fault"
)

// Set is an ordered, de-duplicated, immutable set of capabilities.
// Membership is exact string match. The zero Set is empty.
type Set struct {
	list  []Capability
	index map[Capability]struct{}
}

// NewSet validates caps and returns them as a Set. Duplicates keep their
// first position.
func NewSet(caps ...string) (Set, error) {
	s := Set{index: make(map[Capability]struct{}, len(caps))}
	for _, raw := range caps {
		c, err := Parse(raw)
		if err != nil {
			return Set{}, err
		}
		if _, dup := s.index[c]; dup {
			continue
		}
		s.index[c] = struct{}{}
		s.list = append(s.list, c)
	}
	return s, nil
}

// MustSet is like NewSet but panics on an invalid capability.
func MustSet(caps ...string) Set {
	s, err := NewSet(caps...)
	if err != nil {
		panic(err)
	}
	return s
}

// Has reports whether c is in the set.
func (s Set) Has(c Capability) bool {
	_, ok := s.index[c]
	return ok
}

// HasAny reports whether any of caps is in the set.
func (s Set) HasAny(caps ...Capability) bool {
	for _, c := range caps {
		if s.Has(c) {
			return true
		}
	}
	return false
}

// Len returns the number of capabilities.
func (s Set) Len() int {
	return len(s.list)
}

// List returns the capabilities in insertion order.
func (s Set) List() []Capability {
	return append([]Capability(nil), s.list...)
}

// Strings returns the capabilities as plain strings in insertion order.
func (s Set) Strings() []string {
	out := make([]string, len(s.list))
	for i, c := range s.list {
		out[i] = string(c)
	}
	return out
}

// SubsetOf returns nil if every capability of s is also in other. A context
// may only be narrowed into a subset of itself.
func (s Set) SubsetOf(other Set) error {
	for _, c := range s.list {
		if !other.Has(c) {
			return fmt.Errorf("missing capability %q: a context can only be narrowed to a subset of itself", c)
		}
	}
	return nil
}

// Require returns nil if s contains any of caps, otherwise an
// AuthorizationDenied fault naming the first one.
func (s Set) Require(op string, caps ...Capability) error {
	if len(caps) == 0 {
		return fault.New(fault.KindAuthorizationDenied, op, "no capability specified")
	}
	if s.HasAny(caps...) {
		return nil
	}
	return fault.Denied(op, string(caps[0]))
}
