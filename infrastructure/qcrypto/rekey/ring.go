// Package rekey implements the 1-RTT key update state machine (RFC 9001
// §6): tracking the KEY_PHASE bit, deriving successive generations of
// traffic secrets, and retaining just enough old read keys to decrypt
// packets that were in flight when the phase flipped.
package rekey

import (
	"sync"

	"quictransport/infrastructure/qcrypto/keyschedule"
)

// Generation counts key updates starting at 0 for the initial 1-RTT
// keys. The on-wire KEY_PHASE bit is Generation&1.
type Generation uint64

// KeyPhase returns the wire KEY_PHASE bit for this generation.
func (g Generation) KeyPhase() bool { return g&1 == 1 }

// kRingCapacity bounds how many generations of read keys are kept alive
// at once. RFC 9001 §6.4 requires retaining the previous generation
// until reordered packets using it can no longer plausibly arrive; two
// generations (current and immediately prior) is sufficient in
// practice and matches this module's retention budget.
const kRingCapacity = 2

type ringEntry struct {
	generation Generation
	keys       keyschedule.Keys
}

// GenerationRing is a fixed-capacity FIFO of recent read-key
// generations, safe for concurrent lookups. Inserting past capacity
// evicts and zeroizes the oldest entry.
type GenerationRing struct {
	mu       sync.RWMutex
	capacity int
	entries  []ringEntry
}

// NewGenerationRing builds a ring seeded with the generation-0 keys.
func NewGenerationRing(initial keyschedule.Keys) *GenerationRing {
	return &GenerationRing{
		capacity: kRingCapacity,
		entries:  []ringEntry{{generation: 0, keys: initial}},
	}
}

// Insert adds keys for a new generation, evicting and zeroizing the
// oldest entry if the ring is already at capacity.
func (r *GenerationRing) Insert(generation Generation, keys keyschedule.Keys) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == r.capacity {
		zeroize(r.entries[0].keys)
		r.entries = r.entries[1:]
	}
	r.entries = append(r.entries, ringEntry{generation: generation, keys: keys})
}

// Resolve returns the keys for a generation, if still retained.
func (r *GenerationRing) Resolve(generation Generation) (keyschedule.Keys, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.generation == generation {
			return e.keys, true
		}
	}
	return keyschedule.Keys{}, false
}

// Current returns the newest generation installed, and its keys.
func (r *GenerationRing) Current() (Generation, keyschedule.Keys) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	last := r.entries[len(r.entries)-1]
	return last.generation, last.keys
}

// Oldest returns the oldest retained generation.
func (r *GenerationRing) Oldest() Generation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[0].generation
}

// Len reports how many generations are currently retained.
func (r *GenerationRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// ZeroizeAll wipes every retained generation's key material. Callers
// must invoke this when the connection is torn down.
func (r *GenerationRing) ZeroizeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		zeroize(e.keys)
	}
	r.entries = nil
}

func zeroize(k keyschedule.Keys) {
	for i := range k.Key {
		k.Key[i] = 0
	}
	for i := range k.IV {
		k.IV[i] = 0
	}
	for i := range k.HP {
		k.HP[i] = 0
	}
}
