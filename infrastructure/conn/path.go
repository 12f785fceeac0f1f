package conn

import (
	"crypto/rand"
	"net"
	"time"
)

// amplificationFactor is the maximum multiple of received bytes a
// client may send on an unvalidated path (RFC 9000 §8.1). This client
// role is almost never on the receiving end of the limit (it is a
// server-side concern against unvalidated clients), but it applies
// equally when the client itself migrates to a new local path before
// that path is validated.
const amplificationFactor = 3

// Path is one (local, remote) address pair a connection may send on,
// with its own recovery and congestion state, per spec.md §3's Path
// data model. A connection has exactly one active path at a time;
// additional Path values exist only mid-validation during migration.
type Path struct {
	Local  net.Addr
	Remote net.Addr

	validated       bool
	challenge       [8]byte
	challengeSentAt time.Time

	bytesReceived uint64
	bytesSent     uint64

	RTT time.Duration
}

// NewPath returns an unvalidated path between local and remote.
func NewPath(local, remote net.Addr) *Path {
	return &Path{Local: local, Remote: remote}
}

// Validated reports whether a PATH_RESPONSE matching an outstanding
// PATH_CHALLENGE has been received on this path.
func (p *Path) Validated() bool { return p.validated }

// IssueChallenge generates a fresh random PATH_CHALLENGE payload and
// records when it was sent, returning the 8 bytes to put on the wire.
func (p *Path) IssueChallenge(now time.Time) ([8]byte, error) {
	if _, err := rand.Read(p.challenge[:]); err != nil {
		return [8]byte{}, err
	}
	p.challengeSentAt = now
	return p.challenge, nil
}

// OnPathResponse validates the path if data matches the outstanding
// challenge. A mismatched or unsolicited response is ignored, not an
// error (RFC 9000 §8.2.2: stray PATH_RESPONSE frames are simply
// dropped).
func (p *Path) OnPathResponse(data [8]byte) {
	if data == p.challenge {
		p.validated = true
	}
}

// ChallengeExpired reports whether an outstanding challenge has gone
// unanswered for longer than 3 PTO (RFC 9000 §8.2.4), at which point
// the path is abandoned.
func (p *Path) ChallengeExpired(now time.Time, pto time.Duration) bool {
	return !p.validated && !p.challengeSentAt.IsZero() && now.Sub(p.challengeSentAt) > 3*pto
}

// CanSend reports whether n additional bytes may be sent on this path
// without violating the anti-amplification limit. Always true once the
// path is validated.
func (p *Path) CanSend(n int) bool {
	if p.validated {
		return true
	}
	return p.bytesSent+uint64(n) <= amplificationFactor*p.bytesReceived
}

// OnSent records n bytes sent on this path.
func (p *Path) OnSent(n int) { p.bytesSent += uint64(n) }

// OnReceived records n bytes received on this path, relaxing the
// anti-amplification budget.
func (p *Path) OnReceived(n int) { p.bytesReceived += uint64(n) }
