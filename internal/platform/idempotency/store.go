package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL bounds how long a key is remembered after its last write.
const DefaultTTL = 24 * time.Hour

// Phase is the lifecycle position of a remembered key.
type Phase string

const (
	// PhaseInFlight marks a key whose first request is still running.
	PhaseInFlight Phase = "in_flight"
	// PhaseSettled marks a key whose reply has been captured for replay.
	PhaseSettled Phase = "settled"
)

// Outcome tells the caller what to do after claiming a key.
type Outcome int

const (
	// OutcomeAcquired means the caller owns the key and must run the request.
	OutcomeAcquired Outcome = iota
	// OutcomeReplay means the key is settled and Entry.Reply should be sent back.
	OutcomeReplay
	// OutcomeBusy means another request holds the key.
	OutcomeBusy
)

// Claim is the result of Store.Claim.
type Claim struct {
	Outcome Outcome
	Entry   Entry
}

// Entry is one remembered key.
type Entry struct {
	Key         string
	Fingerprint string
	Phase       Phase
	Reply       Reply
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ExpiresAt   time.Time
}

func (e Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

func (e Entry) outcome() Outcome {
	if e.Phase == PhaseSettled {
		return OutcomeReplay
	}
	return OutcomeBusy
}

// Reply is a captured HTTP response.
type Reply struct {
	Status int
	Header http.Header
	Body   []byte
}

// Store remembers keys and the replies they produced.
type Store interface {
	// Claim takes an unused or expired key, or reports who already holds it.
	Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error)
	// Settle stores the reply for a claimed key.
	Settle(ctx context.Context, key, fingerprint string, reply Reply, now time.Time, ttl time.Duration) error
	// Abandon forgets a claimed key so the client may retry it.
	Abandon(ctx context.Context, key, fingerprint string) error
	// Purge deletes up to limit expired entries.
	Purge(ctx context.Context, now time.Time, limit int) (int, error)
}

// ErrFingerprintMismatch is returned when a live key is reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key reserved for different request fingerprint")

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

func entryID(key string) string {
	return digest([]byte(strings.TrimSpace(key)))
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

var hopByHop = map[string]struct{}{
	"Connection":          {},
	"Content-Length":      {},
	"Date":                {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailers":            {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// replayableHeader copies the end-to-end headers of a reply. It returns nil when none remain.
func replayableHeader(src http.Header) http.Header {
	out := http.Header{}
	for name, values := range src {
		canonical := http.CanonicalHeaderKey(name)
		if _, skip := hopByHop[canonical]; skip {
			continue
		}
		out[canonical] = append([]string(nil), values...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
