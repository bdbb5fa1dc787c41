package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shopsite/fulfillment/internal/platform/auth"
	"github.com/shopsite/fulfillment/internal/platform/httpx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
	maxKeyLength      = 255
	anonymous         = "anonymous"
)

var (
	errKeyRequired = httpx.NewError("idempotency_key_required", "missing idempotency key header", http.StatusBadRequest)
	errKeyTooLong  = httpx.NewError("idempotency_key_invalid", "idempotency key is too long", http.StatusBadRequest)
	errUnreadable  = httpx.NewError("idempotency_read_body_failed", "unable to read request body", http.StatusBadRequest)
	errInProgress  = httpx.NewError("idempotency_in_progress", "another request is processing this idempotency key", http.StatusConflict)
	errKeyConflict = httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusConflict)
	errStoreDown   = httpx.NewError("transient", "unable to process idempotency key, retry later", http.StatusServiceUnavailable)
)

type settings struct {
	header   string
	ttl      time.Duration
	methods  map[string]bool
	now      func() time.Time
	logger   *zap.Logger
	required bool
}

// MiddlewareOption customises Middleware.
type MiddlewareOption func(*settings)

// WithHeader changes the request header carrying the key.
func WithHeader(name string) MiddlewareOption {
	return func(s *settings) {
		if name = strings.TrimSpace(name); name != "" {
			s.header = name
		}
	}
}

// WithTTL sets how long keys are remembered.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(s *settings) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithMethods replaces the guarded methods. POST is guarded by default.
func WithMethods(methods ...string) MiddlewareOption {
	return func(s *settings) {
		guarded := make(map[string]bool, len(methods))
		for _, method := range methods {
			if method = strings.ToUpper(strings.TrimSpace(method)); method != "" {
				guarded[method] = true
			}
		}
		if len(guarded) > 0 {
			s.methods = guarded
		}
	}
}

func WithLogger(logger *zap.Logger) MiddlewareOption {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) MiddlewareOption {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRequiredKey rejects guarded requests without a key instead of passing them through.
func WithRequiredKey() MiddlewareOption {
	return func(s *settings) { s.required = true }
}

// Middleware makes guarded requests safe to retry. The first request for a key runs
// and its reply is stored; repeats with the same body get the stored reply, repeats
// with a different body get 409. Keys are per user, so it must run after
// authentication. A 5xx reply forgets the key.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	s := settings{
		header:  defaultHeaderName,
		ttl:     DefaultTTL,
		methods: map[string]bool{http.MethodPost: true},
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return func(next http.Handler) http.Handler {
		return &guard{store: store, settings: s, next: next}
	}
}

type guard struct {
	store Store
	settings
	next http.Handler
}

func (g *guard) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !g.methods[r.Method] {
		g.next.ServeHTTP(w, r)
		return
	}

	key := strings.TrimSpace(r.Header.Get(g.header))
	switch {
	case key == "" && g.required:
		httpx.WriteError(ctx, w, errKeyRequired)
		return
	case key == "":
		g.next.ServeHTTP(w, r)
		return
	case len(key) > maxKeyLength:
		httpx.WriteError(ctx, w, errKeyTooLong)
		return
	}

	body, err := bufferBody(r)
	if err != nil {
		httpx.WriteError(ctx, w, errUnreadable)
		return
	}

	user := requester(ctx)
	scoped := key + "|" + user
	fingerprint := fingerprintRequest(r, body, user)
	logger := g.logger.With(zap.String("idempotency_key", key), zap.String("user_id", user))

	claim, err := g.store.Claim(ctx, scoped, fingerprint, g.now().UTC(), g.ttl)
	switch {
	case errors.Is(err, ErrFingerprintMismatch):
		httpx.WriteError(ctx, w, errKeyConflict)
		return
	case err != nil:
		logger.Error("idempotency claim failed", zap.Error(err))
		httpx.WriteError(ctx, w, errStoreDown)
		return
	}

	switch claim.Outcome {
	case OutcomeReplay:
		replay(w, claim.Entry.Reply)
		return
	case OutcomeBusy:
		httpx.WriteError(ctx, w, errInProgress)
		return
	}

	capture := newCapture()
	g.next.ServeHTTP(capture, r)
	reply := capture.reply()

	// The store must be updated even if the client has gone away.
	storeCtx := context.WithoutCancel(ctx)
	if reply.Status >= http.StatusInternalServerError {
		if err := g.store.Abandon(storeCtx, scoped, fingerprint); err != nil {
			logger.Warn("idempotency abandon failed", zap.Error(err))
		}
	} else if err := g.store.Settle(storeCtx, scoped, fingerprint, reply, g.now().UTC(), g.ttl); err != nil {
		// The key stays in flight until it expires; a retry must not repeat the side effect.
		logger.Error("idempotency settle failed", zap.Error(err))
	}

	if err := send(w, reply); err != nil {
		logger.Warn("idempotency reply write failed", zap.Error(err))
	}
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func requester(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil {
		if uid := strings.TrimSpace(identity.UID); uid != "" {
			return uid
		}
	}
	return anonymous
}

// fingerprintRequest hashes what makes two requests the same operation.
func fingerprintRequest(r *http.Request, body []byte, user string) string {
	h := sha256.New()
	for _, part := range []string{
		strings.ToUpper(r.Method),
		r.URL.Path,
		r.URL.RawQuery,
		r.Header.Get("Content-Type"),
		user,
	} {
		io.WriteString(h, part)
		h.Write([]byte{0})
	}
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func replay(w http.ResponseWriter, reply Reply) {
	reply.Header = reply.Header.Clone()
	if reply.Header == nil {
		reply.Header = http.Header{}
	}
	reply.Header.Set(replayHeaderName, "true")
	_ = send(w, reply)
}

func send(w http.ResponseWriter, reply Reply) error {
	dst := w.Header()
	for name, values := range reply.Header {
		dst[name] = append([]string(nil), values...)
	}
	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(reply.Body) == 0 {
		return nil
	}
	_, err := w.Write(reply.Body)
	return err
}

// capture buffers a handler's reply so it can be stored before the client sees it.
type capture struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newCapture() *capture {
	return &capture{header: http.Header{}}
}

func (c *capture) Header() http.Header { return c.header }

func (c *capture) WriteHeader(status int) {
	if c.status == 0 && status > 0 {
		c.status = status
	}
}

func (c *capture) Write(data []byte) (int, error) {
	c.WriteHeader(http.StatusOK)
	return c.body.Write(data)
}

func (c *capture) reply() Reply {
	status := c.status
	if status == 0 {
		status = http.StatusOK
	}
	var body []byte
	if c.body.Len() > 0 {
		body = c.body.Bytes()
	}
	return Reply{Status: status, Header: c.header.Clone(), Body: body}
}
