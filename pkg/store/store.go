// Package store implements keyed accumulator stores with per-block delta
// tracking. Each store enforces a single write policy through its type:
// AddStore only exposes Add, SetStore only exposes Set. Writes land in a
// block-scoped overlay that is merged into the base state on commit or thrown
// away on discard, so a failed block leaves no partial mutations behind.
package store

import (
	"math/big"
)

// Delta records one mutation of a numeric keyed value. Old is the value
// before the write (zero for a first write), New the value after.
type Delta struct {
	Key string
	Old *big.Int
	New *big.Int
}

// StringDelta records one mutation of a string keyed value.
type StringDelta struct {
	Key string
	Old string
	New string
}

// Store is implemented by all store kinds. The persistence methods are
// unexported so only the Engine in this package can drive them.
type Store interface {
	Name() string

	flush() map[string]string
	commitBlock()
	discardBlock()
	load(key, value string) error
	resetDeltas()
}

// AddStore is a numeric store with additive write policy. The value of a key
// is the sum of all deltas ever added to it.
type AddStore struct {
	name    string
	base    map[string]*big.Int
	overlay map[string]*big.Int
	deltas  []Delta
}

// NewAddStore creates an empty additive store.
func NewAddStore(name string) *AddStore {
	return &AddStore{
		name:    name,
		base:    make(map[string]*big.Int),
		overlay: make(map[string]*big.Int),
	}
}

// Name returns the store name used for persistence.
func (s *AddStore) Name() string { return s.name }

// Add applies a signed delta to the key and records it in the block delta
// log. A zero delta still materializes the key and emits a delta entry.
func (s *AddStore) Add(key string, delta *big.Int) {
	old := s.current(key)
	next := new(big.Int).Add(old, delta)
	s.overlay[key] = next
	s.deltas = append(s.deltas, Delta{
		Key: key,
		Old: old,
		New: new(big.Int).Set(next),
	})
}

// Get returns a copy of the current value of the key, including uncommitted
// writes from the in-flight block. The second return reports key existence.
func (s *AddStore) Get(key string) (*big.Int, bool) {
	if v, ok := s.overlay[key]; ok {
		return new(big.Int).Set(v), true
	}
	if v, ok := s.base[key]; ok {
		return new(big.Int).Set(v), true
	}
	return nil, false
}

// GetOrZero returns the current value of the key, or zero if absent.
func (s *AddStore) GetOrZero(key string) *big.Int {
	if v, ok := s.Get(key); ok {
		return v
	}
	return new(big.Int)
}

// BlockDeltas returns the delta entries recorded since the last commit or
// discard, in application order.
func (s *AddStore) BlockDeltas() []Delta {
	out := make([]Delta, len(s.deltas))
	copy(out, s.deltas)
	return out
}

// current returns a copy of the visible value, zero if the key is absent.
func (s *AddStore) current(key string) *big.Int {
	if v, ok := s.overlay[key]; ok {
		return new(big.Int).Set(v)
	}
	if v, ok := s.base[key]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (s *AddStore) flush() map[string]string {
	out := make(map[string]string, len(s.overlay))
	for k, v := range s.overlay {
		out[k] = v.String()
	}
	return out
}

func (s *AddStore) commitBlock() {
	for k, v := range s.overlay {
		s.base[k] = v
	}
	s.overlay = make(map[string]*big.Int)
	s.deltas = nil
}

func (s *AddStore) discardBlock() {
	s.overlay = make(map[string]*big.Int)
	s.deltas = nil
}

func (s *AddStore) load(key, value string) error {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return &ValueError{Store: s.name, Key: key, Value: value}
	}
	s.base[key] = v
	return nil
}

func (s *AddStore) resetDeltas() { s.deltas = nil }

// SetStore is a numeric store with last-write-wins policy.
type SetStore struct {
	name    string
	base    map[string]*big.Int
	overlay map[string]*big.Int
	deltas  []Delta
}

// NewSetStore creates an empty last-write-wins numeric store.
func NewSetStore(name string) *SetStore {
	return &SetStore{
		name:    name,
		base:    make(map[string]*big.Int),
		overlay: make(map[string]*big.Int),
	}
}

// Name returns the store name used for persistence.
func (s *SetStore) Name() string { return s.name }

// Set replaces the value of the key and records the transition in the block
// delta log.
func (s *SetStore) Set(key string, value *big.Int) {
	old := s.current(key)
	next := new(big.Int).Set(value)
	s.overlay[key] = next
	s.deltas = append(s.deltas, Delta{
		Key: key,
		Old: old,
		New: new(big.Int).Set(next),
	})
}

// Get returns a copy of the current value of the key, including uncommitted
// writes from the in-flight block.
func (s *SetStore) Get(key string) (*big.Int, bool) {
	if v, ok := s.overlay[key]; ok {
		return new(big.Int).Set(v), true
	}
	if v, ok := s.base[key]; ok {
		return new(big.Int).Set(v), true
	}
	return nil, false
}

// Has reports whether the key exists, including uncommitted writes.
func (s *SetStore) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Keys returns all keys currently present in the store.
func (s *SetStore) Keys() []string {
	keys := make([]string, 0, len(s.base)+len(s.overlay))
	for k := range s.base {
		if _, shadowed := s.overlay[k]; !shadowed {
			keys = append(keys, k)
		}
	}
	for k := range s.overlay {
		keys = append(keys, k)
	}
	return keys
}

// BlockDeltas returns the delta entries recorded since the last commit or
// discard, in application order.
func (s *SetStore) BlockDeltas() []Delta {
	out := make([]Delta, len(s.deltas))
	copy(out, s.deltas)
	return out
}

func (s *SetStore) current(key string) *big.Int {
	if v, ok := s.overlay[key]; ok {
		return new(big.Int).Set(v)
	}
	if v, ok := s.base[key]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (s *SetStore) flush() map[string]string {
	out := make(map[string]string, len(s.overlay))
	for k, v := range s.overlay {
		out[k] = v.String()
	}
	return out
}

func (s *SetStore) commitBlock() {
	for k, v := range s.overlay {
		s.base[k] = v
	}
	s.overlay = make(map[string]*big.Int)
	s.deltas = nil
}

func (s *SetStore) discardBlock() {
	s.overlay = make(map[string]*big.Int)
	s.deltas = nil
}

func (s *SetStore) load(key, value string) error {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return &ValueError{Store: s.name, Key: key, Value: value}
	}
	s.base[key] = v
	return nil
}

func (s *SetStore) resetDeltas() { s.deltas = nil }

// StringSetStore is a string-valued store with last-write-wins policy.
// It is used for linkage records such as bid to pool associations.
type StringSetStore struct {
	name    string
	base    map[string]string
	overlay map[string]string
	deltas  []StringDelta
}

// NewStringSetStore creates an empty last-write-wins string store.
func NewStringSetStore(name string) *StringSetStore {
	return &StringSetStore{
		name:    name,
		base:    make(map[string]string),
		overlay: make(map[string]string),
	}
}

// Name returns the store name used for persistence.
func (s *StringSetStore) Name() string { return s.name }

// Set replaces the value of the key and records the transition in the block
// delta log.
func (s *StringSetStore) Set(key, value string) {
	old, _ := s.Get(key)
	s.overlay[key] = value
	s.deltas = append(s.deltas, StringDelta{Key: key, Old: old, New: value})
}

// Get returns the current value of the key, including uncommitted writes.
func (s *StringSetStore) Get(key string) (string, bool) {
	if v, ok := s.overlay[key]; ok {
		return v, true
	}
	if v, ok := s.base[key]; ok {
		return v, true
	}
	return "", false
}

// BlockDeltas returns the delta entries recorded since the last commit or
// discard, in application order.
func (s *StringSetStore) BlockDeltas() []StringDelta {
	out := make([]StringDelta, len(s.deltas))
	copy(out, s.deltas)
	return out
}

func (s *StringSetStore) flush() map[string]string {
	out := make(map[string]string, len(s.overlay))
	for k, v := range s.overlay {
		out[k] = v
	}
	return out
}

func (s *StringSetStore) commitBlock() {
	for k, v := range s.overlay {
		s.base[k] = v
	}
	s.overlay = make(map[string]string)
	s.deltas = nil
}

func (s *StringSetStore) discardBlock() {
	s.overlay = make(map[string]string)
	s.deltas = nil
}

func (s *StringSetStore) load(key, value string) error {
	s.base[key] = value
	return nil
}

func (s *StringSetStore) resetDeltas() { s.deltas = nil }
