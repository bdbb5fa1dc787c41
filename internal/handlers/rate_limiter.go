package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/shopsite/fulfillment/internal/platform/auth"
	"github.com/shopsite/fulfillment/internal/platform/httpx"
)

var errRateLimited = httpx.NewError("rate_limited", "too many order placements, retry later", http.StatusTooManyRequests)

type rateLimiter interface {
	// Allow consumes one token for key, or reports how long until one is available.
	Allow(key string) (bool, time.Duration)
}

// userBuckets keeps one token bucket per user. A bucket holds limit tokens and
// refills completely over window.
type userBuckets struct {
	every rate.Limit
	burst int
	clock func() time.Time

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func newUserBuckets(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &userBuckets{
		every:   rate.Every(window / time.Duration(limit)),
		burst:   limit,
		clock:   clock,
		buckets: make(map[string]*rate.Limiter),
	}
}

func (u *userBuckets) Allow(key string) (bool, time.Duration) {
	if key = strings.TrimSpace(key); key == "" {
		key = "anonymous"
	}
	now := u.clock()

	u.mu.Lock()
	defer u.mu.Unlock()
	bucket, ok := u.buckets[key]
	if !ok {
		u.forgetFullLocked(now)
		bucket = rate.NewLimiter(u.every, u.burst)
		u.buckets[key] = bucket
	}
	reservation := bucket.ReserveN(now, 1)
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// forgetFullLocked drops buckets that have refilled; a fresh bucket is equivalent.
func (u *userBuckets) forgetFullLocked(now time.Time) {
	for key, bucket := range u.buckets {
		if bucket.TokensAt(now) >= float64(u.burst) {
			delete(u.buckets, key)
		}
	}
}

// throttlePerUser answers 429 with Retry-After once the authenticated user runs out
// of tokens. A nil limiter disables throttling.
func throttlePerUser(limiter rateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var uid string
			if identity, ok := auth.IdentityFromContext(r.Context()); ok {
				uid = identity.UID
			}
			if allowed, wait := limiter.Allow(uid); !allowed {
				seconds := max(1, int(wait.Round(time.Second)/time.Second))
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				httpx.WriteError(r.Context(), w, errRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
