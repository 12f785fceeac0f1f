package rekey

import (
	"fmt"
	"sync"
	"time"

	"quictransport/infrastructure/qcrypto"
	"quictransport/infrastructure/qcrypto/keyschedule"
)

// State is a key update FSM state (RFC 9001 §6.2).
type State int

const (
	// StateActive: no update in flight, both directions on Generation.
	StateActive State = iota
	// StateUpdating: a local update was initiated. Write traffic already
	// uses Generation+1; read traffic accepts either the old or new
	// phase while the peer catches up. Waiting for an acknowledgement of
	// a packet sent in the new generation before the update is final.
	StateUpdating
)

func (s State) String() string {
	if s == StateUpdating {
		return "Updating"
	}
	return "Active"
}

// ErrUpdateInFlight is returned when a caller tries to initiate a second
// update before the first one is confirmed.
var ErrUpdateInFlight = fmt.Errorf("rekey: update already in flight")

// ErrNotUpdating is returned by Confirm/Abort when no update is pending.
var ErrNotUpdating = fmt.Errorf("rekey: no update in flight")

// Controller drives the 1-RTT key update state machine for one
// connection. It derives successive traffic secrets with
// keyschedule.NextApplicationSecret and keeps the last two generations
// of keys reachable through a GenerationRing on the read side, so that
// packets reordered across a phase flip still decrypt.
type Controller struct {
	mu sync.Mutex

	suite qcrypto.Suite

	localSecret []byte // current generation secret, our write direction
	peerSecret  []byte // current generation secret, our read direction

	writeKeys keyschedule.Keys // active send keys, switches immediately on update
	readRing  *GenerationRing  // retains current and prior read-key generations

	generation Generation
	state      State

	pendingGeneration Generation
	pendingSince      time.Time
	pendingTimeout    time.Duration
}

// NewController builds a Controller seeded with the generation-0
// traffic secrets and keys derived from the handshake.
func NewController(suite qcrypto.Suite, localSecret, peerSecret []byte, writeKeys, readKeys keyschedule.Keys) *Controller {
	return &Controller{
		suite:          suite,
		localSecret:    append([]byte(nil), localSecret...),
		peerSecret:     append([]byte(nil), peerSecret...),
		writeKeys:      writeKeys,
		readRing:       NewGenerationRing(readKeys),
		generation:     0,
		state:          StateActive,
		pendingTimeout: 3 * time.Second,
	}
}

// SetPendingTimeout overrides the auto-abort timeout; tests only.
func (c *Controller) SetPendingTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingTimeout = d
}

// Generation returns the currently confirmed generation.
func (c *Controller) Generation() Generation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// State returns the current FSM state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// WriteKeys returns the keys currently used to protect outbound packets.
func (c *Controller) WriteKeys() keyschedule.Keys {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeKeys
}

// ResolveRead returns the read keys for a packet's KEY_PHASE bit, if
// that bit resolves to a generation still retained. phase selects
// between the two candidate generations, current and current+1, which
// carry opposite phase bits.
func (c *Controller) ResolveRead(phase bool) (keyschedule.Keys, Generation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation.KeyPhase() == phase {
		if k, ok := c.readRing.Resolve(c.generation); ok {
			return k, c.generation, true
		}
	}
	next := c.generation + 1
	if next.KeyPhase() == phase {
		if k, ok := c.readRing.Resolve(next); ok {
			return k, next, true
		}
	}
	// Fall back to a full scan (covers the brief window right after a
	// local initiate where generation+1 isn't yet the "next" relation
	// for the opposite direction).
	for _, g := range []Generation{c.generation, c.generation + 1} {
		if g.KeyPhase() == phase {
			if k, ok := c.readRing.Resolve(g); ok {
				return k, g, true
			}
		}
	}
	return keyschedule.Keys{}, 0, false
}

// PeekNextReadKeys derives, without installing, the read keys for
// generation+1, returning keys already retained in the ring if a prior
// update already derived them. A receiver uses this to trial-decrypt a
// short-header packet that the current generation's keys failed to
// open, the standard way a receiver detects a peer-initiated key update
// whose header protection key differs per generation (RFC 9001 §6.2).
func (c *Controller) PeekNextReadKeys() (keyschedule.Keys, Generation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.generation + 1
	if k, ok := c.readRing.Resolve(next); ok {
		return k, next, nil
	}
	_, _, _, nextRead, err := c.deriveNextLocked()
	if err != nil {
		return keyschedule.Keys{}, 0, err
	}
	return nextRead, next, nil
}

// WritePhase returns the KEY_PHASE bit for whichever generation
// currently protects outbound packets: the pending generation while a
// local update awaits confirmation (Initiate already switched write
// traffic to it), otherwise the active generation.
func (c *Controller) WritePhase() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateUpdating {
		return c.pendingGeneration.KeyPhase()
	}
	return c.generation.KeyPhase()
}

// Initiate starts a locally-triggered key update: derives generation+1
// secrets and keys for both directions, switches outbound traffic to
// the new write keys immediately, and installs the new read keys
// alongside the current ones so out-of-order peer packets under either
// phase still decrypt. Returns the new generation.
func (c *Controller) Initiate() (Generation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return 0, ErrUpdateInFlight
	}
	next := c.generation + 1
	nextLocal, nextPeer, nextWrite, nextRead, err := c.deriveNextLocked()
	if err != nil {
		return 0, err
	}
	c.localSecret = nextLocal
	c.peerSecret = nextPeer
	c.writeKeys = nextWrite
	c.readRing.Insert(next, nextRead)
	c.state = StateUpdating
	c.pendingGeneration = next
	c.pendingSince = time.Now()
	return next, nil
}

// OnPeerKeyPhaseFlip handles a peer-initiated update: a packet arrived
// whose KEY_PHASE resolved to generation+1 and decrypted successfully
// under that generation's keys (from ResolveRead or PeekNextReadKeys). The
// controller adopts that generation as current and, if it had no local
// update of its own in flight, also switches its write keys so both
// directions stay synchronized for the next packet it sends.
func (c *Controller) OnPeerKeyPhaseFlip(generation Generation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if generation != c.generation+1 {
		return fmt.Errorf("rekey: non-contiguous peer generation %d (at %d)", generation, c.generation)
	}
	if c.state == StateActive {
		nextLocal, nextPeer, nextWrite, nextRead, err := c.deriveNextLocked()
		if err != nil {
			return err
		}
		c.localSecret = nextLocal
		c.peerSecret = nextPeer
		c.writeKeys = nextWrite
		c.readRing.Insert(generation, nextRead)
	}
	c.generation = generation
	c.state = StateActive
	return nil
}

// Confirm finalizes a locally-initiated update once a packet sent in
// the new generation has been acknowledged, retiring the prior
// generation's read keys.
func (c *Controller) Confirm(generation Generation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateUpdating || generation != c.pendingGeneration {
		return ErrNotUpdating
	}
	c.generation = generation
	c.state = StateActive
	return nil
}

// Abort ends a locally-initiated update that the peer never
// acknowledged in time, so Initiate is accepted again. The already
// rotated secrets/keys are left in place since nothing observed them as
// invalid; the FSM returns to Active and adopts the pending generation.
func (c *Controller) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateUpdating {
		return
	}
	c.state = StateActive
	c.generation = c.pendingGeneration
}

// MaybeAbort auto-aborts a stuck update once the pending timeout
// elapses, mirroring the peer-side behavior of just adopting whatever
// generation it actually observes.
func (c *Controller) MaybeAbort(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateUpdating {
		return
	}
	if now.Sub(c.pendingSince) >= c.pendingTimeout {
		c.generation = c.pendingGeneration
		c.state = StateActive
	}
}

// Zeroize wipes all retained key material. Call on connection teardown.
func (c *Controller) Zeroize() {
	c.mu.Lock()
	defer c.mu.Unlock()
	zeroize(c.writeKeys)
	c.readRing.ZeroizeAll()
	for i := range c.localSecret {
		c.localSecret[i] = 0
	}
	for i := range c.peerSecret {
		c.peerSecret[i] = 0
	}
}

// deriveNextLocked assumes c.mu is held.
func (c *Controller) deriveNextLocked() (nextLocal, nextPeer []byte, writeKeys, readKeys keyschedule.Keys, err error) {
	nextLocal, err = keyschedule.NextApplicationSecret(c.localSecret)
	if err != nil {
		return nil, nil, keyschedule.Keys{}, keyschedule.Keys{}, err
	}
	nextPeer, err = keyschedule.NextApplicationSecret(c.peerSecret)
	if err != nil {
		return nil, nil, keyschedule.Keys{}, keyschedule.Keys{}, err
	}
	writeKeys, err = keyschedule.DeriveLevelKeys(nextLocal, c.suite)
	if err != nil {
		return nil, nil, keyschedule.Keys{}, keyschedule.Keys{}, err
	}
	readKeys, err = keyschedule.DeriveLevelKeys(nextPeer, c.suite)
	if err != nil {
		return nil, nil, keyschedule.Keys{}, keyschedule.Keys{}, err
	}
	return nextLocal, nextPeer, writeKeys, readKeys, nil
}
