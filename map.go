// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package openhash implements an open-addressing hash table from uint64 keys
// to uint64 values, laid out in buckets that each fill one cache line.
//
// # Layout
//
// A Table is an array of N buckets where N is a power of 2. The bucket count
// is stored as a mask (N-1) so that computing a bucket index is a single
// bitwise & operation. Each bucket holds slotsPerBucket slots, chosen so that
// a bucket occupies exactly one cache line (4 slots of 16 bytes on a 64-byte
// line). Buckets are fully associative: any slot in a bucket may hold any key
// whose probe sequence reaches the bucket.
//
// Key 0 marks an empty slot and can never be stored. Once a slot is bound to a
// key the binding is permanent until the table grows. There is no deletion:
// clearing a slot would break the probe sequence of every key that skipped
// over the slot's bucket, and this table does not use tombstones.
//
// # Probing
//
// A lookup computes the primary bucket h1 = hash(key) & mask and scans it
// first for the key and then for an empty slot. If the primary bucket is full
// of other keys, the lookup walks a double hashing sequence from h1 with an
// odd stride derived from h1. Since the stride is odd and N is a power of 2,
// the sequence visits every bucket exactly once before returning to h1. If it
// returns to h1 without finding the key or an empty slot the table is
// exhausted along that path.
//
// # Growth
//
// The table doubles its bucket count in two situations. Lookups track the
// number of buckets probed per call since the last growth; once more than 100
// calls have averaged more than 2 probes, the table grows before probing. And
// InsertOrFind grows the table and retries whenever the probe path for a new
// key is exhausted. Growth allocates a new bucket array, re-places every
// occupied slot into it and then swaps it in, so the table is never observed
// half migrated.
//
// A Table is NOT goroutine-safe.
package openhash

import (
	"fmt"
	"math"
	"strings"
	"unsafe"

	"github.com/witchel/openhash/hashes"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
	"golang.org/x/sys/cpu"
)

const (
	debug = false

	slotSize      = unsafe.Sizeof(Slot{})
	cacheLineSize = unsafe.Sizeof(cpu.CacheLinePad{})
	bucketSize    = unsafe.Sizeof(Bucket{})

	// slotsPerBucket is the number of slots that fit in one cache line.
	slotsPerBucket = int(cacheLineSize / slotSize)

	// maxBuckets is the largest bucket array that can be addressed by an int.
	maxBuckets = uint64(math.MaxInt / bucketSize)

	// The table grows before a lookup once more than minGrowthCalls calls
	// since the last growth have averaged more than maxProbesPerCall.
	minGrowthCalls   = 100
	maxProbesPerCall = 2
)

// HashFunc maps a key to a 64-bit digest. Only the low bits select the
// primary bucket, so the quality of those bits determines probe lengths.
type HashFunc func(key uint64) uint64

// Slot holds a key and value. A zero key means the slot is empty.
type Slot struct {
	key uint64
	// Value is the payload bound to the slot's key. The table never reads it
	// except to carry it across growth.
	Value uint64
}

// Key returns the key bound to the slot, or 0 if the slot is empty.
func (s *Slot) Key() uint64 {
	return s.key
}

// Bucket is a cache line sized group of slots.
type Bucket struct {
	slots [slotsPerBucket]Slot
}

// find returns the index of the slot holding key, or of the first empty slot
// if key is not present. It returns false if the bucket is full of other keys.
func (b *Bucket) find(key uint64) (int, bool) {
	// The bucket is fully associative so a match can be in any slot. Look for
	// it before settling for an empty slot.
	for i := range b.slots {
		if b.slots[i].key == key {
			return i, true
		}
	}
	for i := range b.slots {
		if b.slots[i].key == 0 {
			return i, true
		}
	}
	return 0, false
}

// Ref identifies a slot in a Table as bucket*slotsPerBucket + slot. A Ref is
// only valid until the table next grows, since growth relocates every slot.
type Ref uint64

func makeRef(bucket uint64, slot int) Ref {
	return Ref(bucket*uint64(slotsPerBucket) + uint64(slot))
}

func (r Ref) bucket() uint64 {
	return uint64(r) / uint64(slotsPerBucket)
}

func (r Ref) slot() int {
	return int(uint64(r) % uint64(slotsPerBucket))
}

// Table is an open-addressing hash table from nonzero uint64 keys to uint64
// values. See the package documentation for the probing and growth scheme.
type Table struct {
	// name labels the table in log output.
	name string
	// The hash function supplied at construction. It is reused for every
	// generation of the bucket array.
	hash HashFunc
	// The allocator to use for the bucket array.
	allocator Allocator
	logger    *zap.Logger
	buckets   []Bucket
	// The number of buckets minus one. The bucket count is always a power of
	// 2 so this is used as a mask to compute h%N.
	bucketMask uint64
	// The number of occupied slots.
	used int
	// The number of times the table has grown.
	growths uint32
	// Lookup calls and buckets probed over the lifetime of the table.
	calls  uint64
	probes uint64
	// Lookup calls and buckets probed since the last growth. These drive the
	// proactive growth check in find.
	resetCalls  uint64
	resetProbes uint64
}

// New constructs a new Table named name with room for at least
// initialCapacity key/value pairs. The bucket count is rounded up to a power
// of 2. A nil hash is rejected with ErrNilHash, and a failure to allocate the
// bucket array is reported as ErrAllocationFailure.
func New(name string, initialCapacity uint64, hash HashFunc, options ...option) (*Table, error) {
	if hash == nil {
		return nil, ErrNilHash
	}
	t := &Table{
		name:      name,
		hash:      hash,
		allocator: defaultAllocator{},
		logger:    zap.NewNop(),
	}

	for _, op := range options {
		op.apply(t)
	}

	buckets, err := t.allocBuckets(bucketCount(initialCapacity))
	if err != nil {
		return nil, err
	}
	t.buckets = buckets
	t.bucketMask = uint64(len(buckets)) - 1

	t.checkInvariants()
	return t, nil
}

// bucketCount returns the smallest power of 2 bucket count that holds at
// least pairs slots. It returns 0 if no such count fits in a uint64.
func bucketCount(pairs uint64) uint64 {
	need := pairs / uint64(slotsPerBucket)
	if pairs%uint64(slotsPerBucket) != 0 {
		need++
	}
	n := uint64(1)
	for n < need {
		n <<= 1
		if n == 0 {
			return 0
		}
	}
	return n
}

func (t *Table) allocBuckets(n uint64) ([]Bucket, error) {
	if n == 0 || n > maxBuckets {
		return nil, fmt.Errorf("%w: %s: cannot address %d buckets", ErrAllocationFailure, t.name, n)
	}
	buckets, err := t.allocator.Alloc(int(n))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %d buckets: %w", ErrAllocationFailure, t.name, n, err)
	}
	if uint64(len(buckets)) != n {
		return nil, fmt.Errorf("%w: %s: allocator returned %d buckets, want %d",
			ErrAllocationFailure, t.name, len(buckets), n)
	}
	return buckets, nil
}

// Close releases the bucket array back to the table's allocator. It is
// unnecessary to close a table using the default allocator. It is invalid to
// use a Table after it has been closed, though Close itself is idempotent.
func (t *Table) Close() {
	if t.buckets != nil {
		t.allocator.Free(t.buckets)
	}
	t.buckets = nil
	t.bucketMask = 0
	t.used = 0
}

// Name returns the name the table was constructed with.
func (t *Table) Name() string {
	return t.name
}

// Lookup returns a reference to the slot holding key. It returns
// ErrInvalidKey for key 0 and ErrNotFound if key is not in the table.
func (t *Table) Lookup(key uint64) (Ref, error) {
	if key == 0 {
		return 0, ErrInvalidKey
	}
	ref, ok := t.find(key)
	if !ok || t.Slot(ref).key == 0 {
		return 0, ErrNotFound
	}
	return ref, nil
}

// InsertOrFind returns a reference to the slot bound to key, binding a free
// slot to key if it is not yet present. created reports whether the binding
// was made by this call, in which case the slot's value is 0 and it is up to
// the caller to set it.
//
// If the probe path for key is exhausted the table grows and the insert is
// retried. ErrAllocationFailure is returned if that growth fails, in which
// case the table remains usable at its prior capacity.
func (t *Table) InsertOrFind(key uint64) (ref Ref, created bool, err error) {
	if key == 0 {
		return 0, false, ErrInvalidKey
	}
	for {
		var ok bool
		if ref, ok = t.find(key); ok {
			s := t.Slot(ref)
			if s.key != 0 {
				return ref, false, nil
			}
			s.key = key
			t.used++
			if debug {
				fmt.Printf("insert(%d): ref=%d used=%d\n", key, ref, t.used)
			}
			t.checkInvariants()
			return ref, true, nil
		}

		// The probe path is exhausted which can happen when there were many
		// insertions without enough lookups to trigger growth in find.
		if err = t.grow(); err != nil {
			return 0, false, err
		}
	}
}

// Get retrieves the value for the specified key, returning ok=false if the
// key is not present or is 0.
func (t *Table) Get(key uint64) (value uint64, ok bool) {
	ref, err := t.Lookup(key)
	if err != nil {
		return 0, false
	}
	return t.Slot(ref).Value, true
}

// Put binds key to value, overwriting any existing value.
func (t *Table) Put(key, value uint64) error {
	ref, _, err := t.InsertOrFind(key)
	if err != nil {
		return err
	}
	t.Slot(ref).Value = value
	return nil
}

// Slot returns the slot identified by ref. The pointer is invalidated by the
// next growth of the table.
func (t *Table) Slot(ref Ref) *Slot {
	return &t.buckets[ref.bucket()].slots[ref.slot()]
}

// Key returns the key bound to the slot identified by ref.
func (t *Table) Key(ref Ref) uint64 {
	return t.Slot(ref).key
}

// Value returns the value of the slot identified by ref.
func (t *Table) Value(ref Ref) uint64 {
	return t.Slot(ref).Value
}

// SetValue sets the value of the slot identified by ref.
func (t *Table) SetValue(ref Ref, value uint64) {
	t.Slot(ref).Value = value
}

// Index returns the position of the slot identified by ref in the flat slot
// array, in [0, Capacity()). Callers can use it to keep auxiliary per-slot
// data in a parallel array. Indexes are stable until the table next grows.
func (t *Table) Index(ref Ref) uint64 {
	return uint64(ref)
}

// All calls yield sequentially for each occupied slot in bucket then slot
// order. If yield returns false, iteration stops. yield may modify the slot's
// Value but must not insert into the table.
func (t *Table) All(yield func(ref Ref, s *Slot) bool) {
	buckets := t.buckets
	for b := range buckets {
		for i := range buckets[b].slots {
			s := &buckets[b].slots[i]
			if s.key == 0 {
				continue
			}
			if !yield(makeRef(uint64(b), i), s) {
				return
			}
		}
	}
}

// Len returns the number of occupied slots.
func (t *Table) Len() int {
	return t.used
}

// Capacity returns the total number of slots.
func (t *Table) Capacity() int {
	return len(t.buckets) * slotsPerBucket
}

// BucketCount returns the number of buckets.
func (t *Table) BucketCount() int {
	return len(t.buckets)
}

// occupied counts the slots with a nonzero key.
func (t *Table) occupied() int {
	var n int
	for b := range t.buckets {
		for i := range t.buckets[b].slots {
			if t.buckets[b].slots[i].key != 0 {
				n++
			}
		}
	}
	return n
}

// find locates key, returning the slot holding it or the first empty slot
// along its probe path. It returns false if key is 0 or the whole probe path
// is full of other keys.
func (t *Table) find(key uint64) (Ref, bool) {
	if key == 0 {
		return 0, false
	}

	// Keep lookup performance good by growing once recent calls have needed
	// too many probes. A failed growth has already been logged and the lookup
	// proceeds at the current capacity.
	if t.resetCalls > minGrowthCalls && t.resetProbes > maxProbesPerCall*t.resetCalls {
		if debug {
			fmt.Printf("find(%d): %d probes over %d calls, growing\n", key, t.resetProbes, t.resetCalls)
		}
		_ = t.grow()
	}

	h1 := t.hash(key) & t.bucketMask
	ref, ok, steps := probe(t.buckets, t.bucketMask, h1, key)
	t.calls++
	t.resetCalls++
	t.probes += 1 + steps
	t.resetProbes += 1 + steps
	return ref, ok
}

// probe walks the probe sequence for key starting at bucket h1. It returns
// the slot holding key or the first empty slot on the path, together with the
// number of secondary steps taken. If the sequence returns to h1 it has taken
// exactly len(buckets) steps and probe returns false.
func probe(buckets []Bucket, mask, h1, key uint64) (ref Ref, ok bool, steps uint64) {
	if i, ok := buckets[h1].find(key); ok {
		return makeRef(h1, i), true, 0
	}

	seq := makeProbeSeq(h1, mask)
	if debug {
		fmt.Printf("probe(%d): %s\n", key, seq)
	}
	for {
		seq = seq.next()
		if seq.offset == h1 {
			return 0, false, seq.index
		}
		if i, ok := buckets[seq.offset].find(key); ok {
			if debug {
				fmt.Printf("probe(%d): found bucket=%d slot=%d steps=%d\n", key, seq.offset, i, seq.index)
			}
			return makeRef(seq.offset, i), true, seq.index
		}
	}
}

// grow doubles the table's capacity. Every occupied slot is re-placed into a
// new bucket array in bucket order, after which the old array is freed and
// the new one swapped in. The since-growth counters are reset while the
// lifetime counters carry over. If the new array cannot be allocated the
// failure is logged and returned and the table is left as it was.
func (t *Table) grow() error {
	oldBuckets := t.buckets
	n := 2 * uint64(len(oldBuckets))
	buckets, err := t.allocBuckets(n)
	if err != nil {
		t.logger.Error("unable to grow table",
			zap.String("name", t.name),
			zap.Uint64("buckets", n),
			zap.Error(err))
		t.LogStats()
		return err
	}

	mask := n - 1
	for b := range oldBuckets {
		for i := range oldBuckets[b].slots {
			s := &oldBuckets[b].slots[i]
			if s.key == 0 {
				continue
			}
			ref, ok, _ := probe(buckets, mask, t.hash(s.key)&mask, s.key)
			if !ok {
				panic(fmt.Sprintf("grow: no room for key %d in %d buckets\n%s", s.key, n, t.debugString()))
			}
			dst := &buckets[ref.bucket()].slots[ref.slot()]
			if dst.key != 0 {
				panic(fmt.Sprintf("grow: duplicate key %d in bucket %d\n%s", s.key, b, t.debugString()))
			}
			*dst = *s
		}
	}

	t.allocator.Free(oldBuckets)
	t.buckets = buckets
	t.bucketMask = mask
	t.resetCalls = 0
	t.resetProbes = 0
	t.growths++

	t.logger.Debug("grew table",
		zap.String("name", t.name),
		zap.Int("buckets", len(buckets)),
		zap.Int("used", t.used),
		zap.Uint32("growths", t.growths))

	t.checkInvariants()
	return nil
}

// Stats is a snapshot of a table's size and probe counters.
type Stats struct {
	Name     string
	Buckets  uint64
	Slots    uint64
	Occupied uint64
	Growths  uint32
	// Calls and Probes count lookups and the buckets they examined over the
	// lifetime of the table.
	Calls  uint64
	Probes uint64
}

// LoadFactor returns the fraction of slots that are occupied.
func (s Stats) LoadFactor() float64 {
	if s.Slots == 0 {
		return 0
	}
	return float64(s.Occupied) / float64(s.Slots)
}

// ProbesPerCall returns the average number of buckets examined per lookup.
func (s Stats) ProbesPerCall() float64 {
	if s.Calls == 0 {
		return 0
	}
	return float64(s.Probes) / float64(s.Calls)
}

// Stats returns a snapshot of the table's size and probe counters.
func (t *Table) Stats() Stats {
	return Stats{
		Name:     t.name,
		Buckets:  uint64(len(t.buckets)),
		Slots:    uint64(t.Capacity()),
		Occupied: uint64(t.occupied()),
		Growths:  t.growths,
		Calls:    t.calls,
		Probes:   t.probes,
	}
}

// LogStats writes the table's Stats to its logger.
func (t *Table) LogStats() {
	s := t.Stats()
	t.logger.Info("table stats",
		zap.String("name", s.Name),
		zap.Uint64("pairs", s.Slots),
		zap.Uint64("buckets", s.Buckets),
		zap.Uint64("used", s.Occupied),
		zap.Float64("load", s.LoadFactor()),
		zap.Uint32("growths", s.Growths),
		zap.Uint64("calls", s.Calls),
		zap.Uint64("probes", s.Probes),
		zap.Float64("probesPerCall", s.ProbesPerCall()))
}

// String returns the table's contents ordered by key.
func (t *Table) String() string {
	keys := make([]uint64, 0, t.used)
	values := make(map[uint64]uint64, t.used)
	t.All(func(_ Ref, s *Slot) bool {
		keys = append(keys, s.key)
		values[s.key] = s.Value
		return true
	})
	slices.Sort(keys)

	var buf strings.Builder
	fmt.Fprintf(&buf, "openhash.Table(%s)[", t.name)
	for i, k := range keys {
		if i != 0 {
			buf.WriteByte(' ')
		}
		fmt.Fprintf(&buf, "%d:%d", k, values[k])
	}
	buf.WriteByte(']')
	return buf.String()
}

func (t *Table) checkInvariants() {
	if invariants {
		n := uint64(len(t.buckets))
		if n == 0 || n&(n-1) != 0 || t.bucketMask != n-1 {
			panic(fmt.Sprintf("invariant failed: %d buckets with mask %d\n%s", n, t.bucketMask, t.debugString()))
		}

		// For every occupied slot, verify its probe path leads back to it.
		// Probing directly leaves the lookup counters untouched.
		var used int
		for b := range t.buckets {
			for i := range t.buckets[b].slots {
				s := &t.buckets[b].slots[i]
				if s.key == 0 {
					continue
				}
				used++
				ref, ok, _ := probe(t.buckets, t.bucketMask, t.hash(s.key)&t.bucketMask, s.key)
				if !ok || ref != makeRef(uint64(b), i) {
					panic(fmt.Sprintf("invariant failed: slot(%d,%d): key %d probes to ref %d (ok=%t)\n%s",
						b, i, s.key, ref, ok, t.debugString()))
				}
			}
		}
		if used != t.used {
			panic(fmt.Sprintf("invariant failed: found %d used slots, but used count is %d\n%s",
				used, t.used, t.debugString()))
		}
	}
}

func (t *Table) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "name=%s  buckets=%d  used=%d  growths=%d\n", t.name, len(t.buckets), t.used, t.growths)
	for b := range t.buckets {
		fmt.Fprintf(&buf, "  %4d:", b)
		for i := range t.buckets[b].slots {
			s := &t.buckets[b].slots[i]
			if s.key == 0 {
				buf.WriteString(" empty")
			} else {
				fmt.Fprintf(&buf, " %d=%d", s.key, s.Value)
			}
		}
		buf.WriteByte('\n')
	}
	return buf.String()
}

// probeSeq maintains the state for a probe sequence. The sequence is a double
// hashing progression of the form
//
//	p(i) := h1 + i*stride (mod mask+1)
//
// where stride is derived from h1 and forced odd. An odd stride is coprime
// with any power of 2, so the sequence visits every bucket exactly once in
// its first mask+1 steps and then returns to h1.
//
// The stride depends only on h1, not on the key, so all keys sharing a
// primary bucket share a probe path.
type probeSeq struct {
	mask   uint64
	offset uint64
	stride uint64
	index  uint64
}

func makeProbeSeq(h1, mask uint64) probeSeq {
	return probeSeq{
		mask:   mask,
		offset: h1 & mask,
		stride: hashes.Mult(h1) | 1,
	}
}

func (s probeSeq) next() probeSeq {
	s.index++
	s.offset = (s.offset + s.stride) & s.mask
	return s
}

func (s probeSeq) String() string {
	return fmt.Sprintf("mask=%d offset=%d stride=%d index=%d", s.mask, s.offset, s.stride, s.index)
}
