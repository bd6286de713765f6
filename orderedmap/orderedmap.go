// Package orderedmap implements an insertion-ordered map: a map keyed
// lookup backed by a slice that preserves first-insertion order. The bundle
// proposer uses it to group operations by aggregator while keeping
// deterministic, pool-order iteration — the same map+slice shape as the
// preconf package's FIFO transaction set, minus the locking (the proposer
// builds one of these per call, single-threaded).
package orderedmap

// Map is a generic insertion-ordered map. The zero value is not usable;
// construct with New.
type Map[K comparable, V any] struct {
	index map[K]int
	keys  []K
	vals  []V
}

// New returns an empty ordered map.
func New[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{index: make(map[K]int)}
}

// GetOrInsert returns the existing value for key, or inserts zero and
// returns a pointer to it if key is new, recording key's position as the
// current insertion order.
func (m *Map[K, V]) GetOrInsert(key K, zero V) *V {
	if i, ok := m.index[key]; ok {
		return &m.vals[i]
	}
	m.index[key] = len(m.keys)
	m.keys = append(m.keys, key)
	m.vals = append(m.vals, zero)
	return &m.vals[len(m.vals)-1]
}

// Get looks up key without inserting.
func (m *Map[K, V]) Get(key K) (V, bool) {
	i, ok := m.index[key]
	if !ok {
		var zero V
		return zero, false
	}
	return m.vals[i], true
}

// Set inserts or overwrites key's value, preserving its original position
// if key already existed.
func (m *Map[K, V]) Set(key K, val V) {
	if i, ok := m.index[key]; ok {
		m.vals[i] = val
		return
	}
	m.index[key] = len(m.keys)
	m.keys = append(m.keys, key)
	m.vals = append(m.vals, val)
}

// Delete removes key, shifting later entries left to keep keys/vals dense
// and re-pointing index accordingly.
func (m *Map[K, V]) Delete(key K) {
	i, ok := m.index[key]
	if !ok {
		return
	}
	delete(m.index, key)
	m.keys = append(m.keys[:i], m.keys[i+1:]...)
	m.vals = append(m.vals[:i], m.vals[i+1:]...)
	for k, idx := range m.index {
		if idx > i {
			m.index[k] = idx - 1
		}
	}
}

// Len returns the number of entries.
func (m *Map[K, V]) Len() int { return len(m.keys) }

// Keys returns keys in first-insertion order.
func (m *Map[K, V]) Keys() []K {
	out := make([]K, len(m.keys))
	copy(out, m.keys)
	return out
}

// Values returns values in first-insertion order (parallel to Keys).
func (m *Map[K, V]) Values() []V {
	out := make([]V, len(m.vals))
	copy(out, m.vals)
	return out
}

// Range calls fn for each entry in first-insertion order, stopping early if
// fn returns false.
func (m *Map[K, V]) Range(fn func(key K, val V) bool) {
	for i, k := range m.keys {
		if !fn(k, m.vals[i]) {
			return
		}
	}
}
