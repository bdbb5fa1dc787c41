package config

import (
	"context"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultShutdownTimeout      = 10 * time.Second
	defaultDatabaseDriver       = DriverPostgres
	defaultDatabaseMaxConns     = 10
	defaultDatabaseConnTimeout  = 5 * time.Second
	defaultTxTimeout            = 15 * time.Second
	defaultTxAttempts           = 5
	defaultAuthEnvironment      = "local"
	defaultDevTokenIssuer       = "fulfillmentctl"
	defaultEventsDriver         = EventsDriverLog
	defaultKafkaClientID        = "fulfillment-api"
	defaultTelemetryServiceName = "fulfillment-api"
	defaultTelemetrySampleRatio = 0.1
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
	defaultOrdersMaxLines       = 50
	defaultOrdersMaxQuantity    = 999
	defaultOrdersLocale         = "en-US"
	defaultOrdersCurrency       = "USD"
	defaultOrdersPlaceLimit     = 30
	defaultOrdersPlaceWindow    = time.Minute
)

// Store drivers accepted by Database.Driver.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Event drivers accepted by Events.Driver.
const (
	EventsDriverLog    = "log"
	EventsDriverPubSub = "pubsub"
	EventsDriverKafka  = "kafka"
)

// Config is the runtime configuration, one struct per concern.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Firebase    FirebaseConfig
	Auth        AuthConfig
	Events      EventsConfig
	Telemetry   TelemetryConfig
	Idempotency IdempotencyConfig
	Orders      OrdersConfig
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig selects the store and tunes the Postgres pool and transactions.
type DatabaseConfig struct {
	Driver         string
	URL            string
	MaxConns       int
	MinConns       int
	ConnectTimeout time.Duration
	TxTimeout      time.Duration
	TxAttempts     int
}

// FirebaseConfig points the token verifier at a Firebase project.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// AuthConfig controls bearer token verification.
type AuthConfig struct {
	Environment    string
	DevTokenSecret string
	DevTokenIssuer string
}

// DevTokensEnabled reports whether locally signed tokens are accepted.
func (c AuthConfig) DevTokensEnabled() bool {
	return strings.TrimSpace(c.DevTokenSecret) != ""
}

// EventsConfig selects the after-commit event publisher.
type EventsConfig struct {
	Driver         string
	PubSubProject  string
	PubSubTopic    string
	KafkaBrokers   []string
	KafkaTopic     string
	KafkaClientID  string
	PublishTimeout time.Duration
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	ServiceName  string
	OTLPEndpoint string
	Insecure     bool
	SampleRatio  float64
}

// IdempotencyConfig tunes the Idempotency-Key middleware and its sweeper.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// OrdersConfig bounds order placement input and drives notification formatting.
type OrdersConfig struct {
	MaxLines           int
	MaxQuantityPerLine int
	DefaultLocale      string
	Currency           string
	// PlacementLimit caps order placements per user within PlacementWindow. Zero disables it.
	PlacementLimit  int
	PlacementWindow time.Duration
}

// SecretResolver turns a secret:// reference into its value.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

type SecretResolverFunc func(context.Context, string) (string, error)

func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

func defaultLoaderOptions(opts []Option) loaderOptions {
	o := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithEnvFile reads overrides from a dotenv file. An empty path skips it; a missing
// file is ignored.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap supplies values that win over the process environment and the dotenv file.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver resolves secret:// and sm:// values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets makes Load fail when one of the named fields (for example
// "Auth.DevTokenSecret") is blank after resolution.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// EnvironmentValues returns every visible variable merged with the same precedence
// Load uses.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	src, err := newSource(defaultLoaderOptions(opts))
	if err != nil {
		return nil, err
	}
	return src.flatten(), nil
}

// Load reads FULFILLMENT_* variables on top of the defaults, resolves secret
// references, then validates the result.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	o := defaultLoaderOptions(opts)
	src, err := newSource(o)
	if err != nil {
		return Config{}, err
	}
	cfg := fromSource(src)

	resolved := make(map[string]string)
	for _, target := range cfg.secretFields() {
		value, err := resolveSecret(ctx, *target.field, o.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	if err := missingSecrets(o.requiredSecrets, resolved); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func fromSource(src source) Config {
	cfg := Config{
		Server: ServerConfig{
			Port:            src.str("FULFILLMENT_SERVER_PORT", defaultPort),
			ReadTimeout:     src.duration("FULFILLMENT_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    src.duration("FULFILLMENT_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     src.duration("FULFILLMENT_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: src.duration("FULFILLMENT_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Database: DatabaseConfig{
			Driver:         strings.ToLower(src.str("FULFILLMENT_DATABASE_DRIVER", defaultDatabaseDriver)),
			URL:            src.raw("FULFILLMENT_DATABASE_URL"),
			MaxConns:       src.integer("FULFILLMENT_DATABASE_MAX_CONNS", defaultDatabaseMaxConns),
			MinConns:       src.integer("FULFILLMENT_DATABASE_MIN_CONNS", 0),
			ConnectTimeout: src.duration("FULFILLMENT_DATABASE_CONNECT_TIMEOUT", defaultDatabaseConnTimeout),
			TxTimeout:      src.duration("FULFILLMENT_DATABASE_TX_TIMEOUT", defaultTxTimeout),
			TxAttempts:     src.integer("FULFILLMENT_DATABASE_TX_ATTEMPTS", defaultTxAttempts),
		},
		Firebase: FirebaseConfig{
			ProjectID:       src.raw("FULFILLMENT_FIREBASE_PROJECT_ID"),
			CredentialsFile: src.raw("FULFILLMENT_FIREBASE_CREDENTIALS_FILE"),
		},
		Auth: AuthConfig{
			Environment:    strings.ToLower(src.str("FULFILLMENT_AUTH_ENVIRONMENT", defaultAuthEnvironment)),
			DevTokenSecret: src.raw("FULFILLMENT_AUTH_DEV_TOKEN_SECRET"),
			DevTokenIssuer: src.str("FULFILLMENT_AUTH_DEV_TOKEN_ISSUER", defaultDevTokenIssuer),
		},
		Events: EventsConfig{
			Driver:         strings.ToLower(src.str("FULFILLMENT_EVENTS_DRIVER", defaultEventsDriver)),
			PubSubProject:  src.raw("FULFILLMENT_EVENTS_PUBSUB_PROJECT"),
			PubSubTopic:    src.raw("FULFILLMENT_EVENTS_PUBSUB_TOPIC"),
			KafkaBrokers:   src.list("FULFILLMENT_EVENTS_KAFKA_BROKERS"),
			KafkaTopic:     src.raw("FULFILLMENT_EVENTS_KAFKA_TOPIC"),
			KafkaClientID:  src.str("FULFILLMENT_EVENTS_KAFKA_CLIENT_ID", defaultKafkaClientID),
			PublishTimeout: src.duration("FULFILLMENT_EVENTS_PUBLISH_TIMEOUT", 5*time.Second),
		},
		Telemetry: TelemetryConfig{
			ServiceName:  src.str("FULFILLMENT_TELEMETRY_SERVICE_NAME", defaultTelemetryServiceName),
			OTLPEndpoint: src.raw("FULFILLMENT_TELEMETRY_OTLP_ENDPOINT"),
			Insecure:     src.flag("FULFILLMENT_TELEMETRY_OTLP_INSECURE", false),
			SampleRatio:  src.ratio("FULFILLMENT_TELEMETRY_SAMPLE_RATIO", defaultTelemetrySampleRatio),
		},
		Idempotency: IdempotencyConfig{
			Header:           src.str("FULFILLMENT_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              src.duration("FULFILLMENT_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  src.duration("FULFILLMENT_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: src.integer("FULFILLMENT_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
		Orders: OrdersConfig{
			MaxLines:           src.integer("FULFILLMENT_ORDERS_MAX_LINES", defaultOrdersMaxLines),
			MaxQuantityPerLine: src.integer("FULFILLMENT_ORDERS_MAX_QUANTITY", defaultOrdersMaxQuantity),
			DefaultLocale:      src.str("FULFILLMENT_ORDERS_DEFAULT_LOCALE", defaultOrdersLocale),
			Currency:           strings.ToUpper(src.str("FULFILLMENT_ORDERS_CURRENCY", defaultOrdersCurrency)),
			PlacementLimit:     src.integer("FULFILLMENT_ORDERS_PLACEMENT_LIMIT", defaultOrdersPlaceLimit),
			PlacementWindow:    src.duration("FULFILLMENT_ORDERS_PLACEMENT_WINDOW", defaultOrdersPlaceWindow),
		},
	}
	if cfg.Events.PubSubProject == "" {
		cfg.Events.PubSubProject = cfg.Firebase.ProjectID
	}
	return cfg
}

type secretField struct {
	name  string
	field *string
}

// secretFields lists the fields that may hold a secret reference.
func (c *Config) secretFields() []secretField {
	return []secretField{
		{"Database.URL", &c.Database.URL},
		{"Auth.DevTokenSecret", &c.Auth.DevTokenSecret},
	}
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	ref, ok := secretReference(value)
	if !ok {
		return value, nil
	}
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errNoResolver}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

// secretReference reports whether value is a secret reference and returns it in
// canonical secret:// form.
func secretReference(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(value, "sm://"); ok {
		return "secret://" + rest, true
	}
	return value, strings.HasPrefix(value, "secret://")
}

func (c Config) validate() error {
	var bad []string
	check := func(ok bool, field string) {
		if !ok {
			bad = append(bad, field)
		}
	}

	check(c.Server.Port != "", "Server.Port")

	switch c.Database.Driver {
	case DriverPostgres:
		check(c.Database.URL != "", "Database.URL")
	case DriverMemory:
	default:
		bad = append(bad, "Database.Driver")
	}
	check(c.Database.MaxConns > 0 && c.Database.MinConns >= 0 && c.Database.MinConns <= c.Database.MaxConns, "Database.MaxConns")
	check(c.Database.TxTimeout > 0, "Database.TxTimeout")
	check(c.Database.TxAttempts > 0, "Database.TxAttempts")

	check(c.Firebase.ProjectID != "" || c.Auth.DevTokensEnabled(), "Firebase.ProjectID")
	check(!c.Auth.DevTokensEnabled() || c.Auth.Environment != "prod", "Auth.DevTokenSecret")

	switch c.Events.Driver {
	case EventsDriverLog:
	case EventsDriverPubSub:
		check(c.Events.PubSubProject != "", "Events.PubSubProject")
		check(c.Events.PubSubTopic != "", "Events.PubSubTopic")
	case EventsDriverKafka:
		check(len(c.Events.KafkaBrokers) > 0, "Events.KafkaBrokers")
		check(c.Events.KafkaTopic != "", "Events.KafkaTopic")
	default:
		bad = append(bad, "Events.Driver")
	}

	check(c.Telemetry.SampleRatio >= 0 && c.Telemetry.SampleRatio <= 1, "Telemetry.SampleRatio")

	check(c.Idempotency.Header != "", "Idempotency.Header")
	check(c.Idempotency.TTL > 0, "Idempotency.TTL")
	check(c.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	check(c.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")

	check(c.Orders.MaxLines > 0, "Orders.MaxLines")
	check(c.Orders.MaxQuantityPerLine > 0, "Orders.MaxQuantityPerLine")

	if len(bad) > 0 {
		return &ValidationError{fields: bad}
	}
	return nil
}
