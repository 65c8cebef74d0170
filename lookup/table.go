// Package lookup provides tables keyed by hardware address, such as the
// channel-to-pad map and the per-channel pedestals. Tables are filled once by
// a loader and are read-only afterwards, so any number of goroutines may
// share one without locking.
package lookup

import (
	"iter"
	"maps"
	"slices"

	"github.com/attpc/merger/hardware"
)

// Table maps hardware addresses to values of type V. Addresses without an
// entry map to the table's missing value.
type Table[V any] struct {
	values  map[hardware.Address]V
	missing V
}

// New returns an empty table whose lookups of absent addresses return missing.
func New[V any](missing V) *Table[V] {
	return &Table[V]{values: make(map[hardware.Address]V), missing: missing}
}

// Set stores one value. Set belongs to the loading phase: it must not be
// called once the table is shared.
func (t *Table[V]) Set(a hardware.Address, v V) {
	t.values[a] = v
}

// Find returns the value for a, or the missing value. A nil table holds
// nothing and returns the zero value.
func (t *Table[V]) Find(a hardware.Address) V {
	if t == nil {
		var zero V
		return zero
	}
	if v, ok := t.values[a]; ok {
		return v
	}
	return t.missing
}

// Lookup returns the value for a and whether it was present.
func (t *Table[V]) Lookup(a hardware.Address) (V, bool) {
	if t == nil {
		var zero V
		return zero, false
	}
	v, ok := t.values[a]
	return v, ok
}

// Missing returns the value reported for absent addresses.
func (t *Table[V]) Missing() V {
	return t.missing
}

// Len returns the number of entries.
func (t *Table[V]) Len() int {
	if t == nil {
		return 0
	}
	return len(t.values)
}

// All iterates over the entries in address order.
func (t *Table[V]) All() iter.Seq2[hardware.Address, V] {
	return func(yield func(hardware.Address, V) bool) {
		keys := slices.SortedFunc(maps.Keys(t.values), hardware.Address.Compare)
		for _, a := range keys {
			if !yield(a, t.values[a]) {
				return
			}
		}
	}
}
