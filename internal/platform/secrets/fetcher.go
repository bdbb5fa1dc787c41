// Package secrets resolves secret:// configuration references through Google
// Secret Manager with a local file fallback.
package secrets

import (
	"cmp"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/shopsite/fulfillment/internal/platform/config"
)

const (
	defaultFallbackPath = ".secrets.local"
	meterName           = "github.com/shopsite/fulfillment/internal/platform/secrets"
)

// Retried by the client before the fetcher considers falling back.
var retryCodes = []codes.Code{codes.Unavailable, codes.ResourceExhausted}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (secretManagerClient, error) {
	return secretmanager.NewClient(ctx, opts...)
}

// Fetcher implements config.SecretResolver. Resolved values are cached for the
// life of the process.
type Fetcher struct {
	remote     secretManagerClient
	ownsRemote bool
	project    string
	retry      gax.CallOption
	local      *localFile
	logger     *zap.Logger

	mu    sync.RWMutex
	cache map[reference]string

	duration metric.Float64Histogram
	hits     metric.Int64Counter
}

var _ config.SecretResolver = (*Fetcher)(nil)

type settings struct {
	logger     *zap.Logger
	project    string
	fallback   string
	meter      metric.Meter
	client     secretManagerClient
	clientOpts []option.ClientOption
	backoff    gax.Backoff
}

type Option func(*settings)

func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithProject is used for references without ?project=. Without a project the
// fetcher only reads the fallback file.
func WithProject(project string) Option {
	return func(s *settings) { s.project = project }
}

// WithFallbackFile replaces .secrets.local. An empty path disables the fallback.
func WithFallbackFile(path string) Option {
	return func(s *settings) { s.fallback = path }
}

func WithMeter(m metric.Meter) Option {
	return func(s *settings) { s.meter = m }
}

// WithSecretManagerClient uses client instead of dialling one. Close leaves it open.
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(s *settings) { s.client = client }
}

func WithClientOptions(opts ...option.ClientOption) Option {
	return func(s *settings) { s.clientOpts = append(s.clientOpts, opts...) }
}

func WithRetryBackoff(backoff gax.Backoff) Option {
	return func(s *settings) { s.backoff = backoff }
}

// NewFetcher never fails because Secret Manager is unreachable: a client that
// cannot be created is logged and the fetcher serves the fallback file only.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	s := settings{
		fallback: defaultFallbackPath,
		backoff:  gax.Backoff{Initial: 100 * time.Millisecond, Max: 2 * time.Second, Multiplier: 2},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.meter == nil {
		s.meter = otel.GetMeterProvider().Meter(meterName)
	}

	f := &Fetcher{
		project: strings.TrimSpace(s.project),
		local:   &localFile{path: strings.TrimSpace(s.fallback)},
		logger:  s.logger,
		cache:   make(map[reference]string),
		retry: gax.WithRetry(func() gax.Retryer {
			return gax.OnCodes(retryCodes, s.backoff)
		}),
	}
	if err := f.instrument(s.meter); err != nil {
		return nil, err
	}

	switch {
	case s.client != nil:
		f.remote = s.client
	case f.project != "":
		client, err := secretManagerClientFactory(ctx, s.clientOpts...)
		if err != nil {
			s.logger.Warn("secret manager unavailable, serving fallback file only", zap.Error(err))
			break
		}
		f.remote, f.ownsRemote = client, true
	}
	return f, nil
}

func (f *Fetcher) instrument(meter metric.Meter) error {
	var err error
	f.duration, err = meter.Float64Histogram("secrets.resolve.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Time spent resolving a secret reference"))
	if err != nil {
		return fmt.Errorf("secrets: duration histogram: %w", err)
	}
	f.hits, err = meter.Int64Counter("secrets.cache.hits",
		metric.WithDescription("Secret references answered from the in-process cache"))
	if err != nil {
		return fmt.Errorf("secrets: cache counter: %w", err)
	}
	return nil
}

// Close closes the Secret Manager client if NewFetcher created it.
func (f *Fetcher) Close() error {
	if f == nil || !f.ownsRemote {
		return nil
	}
	return f.remote.Close()
}

// HasRemote reports whether lookups can reach Secret Manager.
func (f *Fetcher) HasRemote() bool {
	return f != nil && f.remote != nil && f.project != ""
}

func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

// Resolve answers from the cache, then Secret Manager, then the fallback file.
// Only permission, authentication and availability failures fall through to the
// file; NotFound and other errors are returned.
func (f *Fetcher) Resolve(ctx context.Context, raw string) (string, error) {
	start := time.Now()
	ref, err := parseReference(raw)
	if err != nil {
		return "", err
	}
	ref.Project = cmp.Or(ref.Project, f.project)

	if value, ok := f.cached(ref); ok {
		f.hits.Add(ctx, 1, metric.WithAttributes(attribute.String("secret", mask(ref.String()))))
		f.observe(ctx, start, "cache")
		return value, nil
	}

	if f.remote != nil && ref.Project != "" {
		value, err := f.access(ctx, ref)
		switch {
		case err == nil:
			f.remember(ref, value)
			f.observe(ctx, start, "remote")
			return value, nil
		case !canFallBack(err):
			f.observe(ctx, start, "error")
			return "", fmt.Errorf("secrets: access %s: %w", ref, err)
		}
		f.logger.Debug("secret manager refused, trying fallback file",
			zap.String("secret", mask(ref.String())), zap.Error(err))
	}

	value, ok, err := f.local.lookup(ref)
	if err != nil || !ok {
		f.observe(ctx, start, "error")
		if err != nil {
			return "", err
		}
		return "", fmt.Errorf("secrets: no value for %s", ref)
	}
	f.remember(ref, value)
	f.observe(ctx, start, "fallback")
	return value, nil
}

func (f *Fetcher) access(ctx context.Context, ref reference) (string, error) {
	name := ref.resource(f.project)
	resp, err := f.remote.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name}, f.retry)
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("empty payload for %s", name)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) cached(ref reference) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.cache[ref]
	return v, ok
}

func (f *Fetcher) remember(ref reference, value string) {
	f.mu.Lock()
	f.cache[ref] = value
	f.mu.Unlock()
}

func (f *Fetcher) observe(ctx context.Context, start time.Time, source string) {
	ms := float64(time.Since(start)) / float64(time.Millisecond)
	f.duration.Record(ctx, ms, metric.WithAttributes(attribute.String("source", source)))
}

func canFallBack(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}
