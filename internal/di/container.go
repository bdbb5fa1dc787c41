package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/shopsite/fulfillment/internal/platform/config"
	"github.com/shopsite/fulfillment/internal/platform/events"
	"github.com/shopsite/fulfillment/internal/platform/idempotency"
	"github.com/shopsite/fulfillment/internal/platform/observability"
	pgplatform "github.com/shopsite/fulfillment/internal/platform/postgres"
	"github.com/shopsite/fulfillment/internal/repositories"
	"github.com/shopsite/fulfillment/internal/repositories/memory"
	"github.com/shopsite/fulfillment/internal/repositories/postgres"
	"github.com/shopsite/fulfillment/internal/services"
)

const (
	postgresProbeTimeout = 2 * time.Second
	brokerProbeTimeout   = 3 * time.Second
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Ledger       services.StockLedger
	Checkout     services.CheckoutService
	Orders       services.OrderQueryService
	StateMachine services.OrderStateMachine
	Reports      services.ReportingService
	System       services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Events       services.OrderEventPublisher
	Idempotency  idempotency.Store
	Services     Services

	closers []func(context.Context) error
}

// Option customises NewContainer.
type Option func(*containerOptions)

type containerOptions struct {
	logger    *zap.Logger
	registry  repositories.Registry
	publisher services.OrderEventPublisher
	build     services.BuildInfo
	clock     func() time.Time
	telemetry services.Telemetry
	checks    []repositories.DependencyCheck
}

// WithLogger sets the base logger handed to services and publishers.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRegistry supplies a prebuilt repository registry instead of the configured driver.
// The container does not close registries it did not open.
func WithRegistry(reg repositories.Registry) Option {
	return func(o *containerOptions) {
		o.registry = reg
	}
}

// WithEventPublisher overrides the configured events driver.
func WithEventPublisher(pub services.OrderEventPublisher) Option {
	return func(o *containerOptions) {
		o.publisher = pub
	}
}

// WithBuildInfo reports version metadata through the system service.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *containerOptions) {
		o.build = build
	}
}

// WithClock injects the clock used by every service.
func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithTelemetry overrides the tracer and meter used by the order services.
func WithTelemetry(t services.Telemetry) Option {
	return func(o *containerOptions) {
		o.telemetry = t
	}
}

// WithDependencyChecks adds non-store probes, such as the secret manager, to readiness.
func WithDependencyChecks(checks ...repositories.DependencyCheck) Option {
	return func(o *containerOptions) {
		o.checks = append(o.checks, checks...)
	}
}

// NewContainer constructs the runtime dependencies from cfg. On failure every resource
// opened so far is released before returning.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (_ *Container, err error) {
	options := containerOptions{logger: zap.NewNop(), clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	c := &Container{Config: cfg}
	defer func() {
		if err != nil {
			_ = c.Close(context.WithoutCancel(ctx))
		}
	}()

	probes := append([]repositories.DependencyCheck(nil), options.checks...)

	publisher, probe, err := c.buildPublisher(ctx, cfg.Events, options)
	if err != nil {
		return nil, err
	}
	c.Events = publisher
	if probe != nil {
		probes = append(probes, *probe)
	}

	reg, idem, err := c.buildStorage(ctx, cfg, options, probes)
	if err != nil {
		return nil, err
	}
	c.Repositories = reg
	c.Idempotency = idem

	svc, err := buildServices(cfg, reg, publisher, options)
	if err != nil {
		return nil, err
	}
	c.Services = svc
	return c, nil
}

// Close releases publishers, pools and clients in reverse order of creation.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Container) onClose(fn func(context.Context) error) {
	c.closers = append(c.closers, fn)
}

func (c *Container) buildPublisher(ctx context.Context, cfg config.EventsConfig, opts containerOptions) (services.OrderEventPublisher, *repositories.DependencyCheck, error) {
	if opts.publisher != nil {
		return opts.publisher, nil, nil
	}

	switch cfg.Driver {
	case config.EventsDriverPubSub:
		client, err := pubsub.NewClient(ctx, cfg.PubSubProject)
		if err != nil {
			return nil, nil, fmt.Errorf("build pubsub client: %w", err)
		}
		c.onClose(func(context.Context) error { return client.Close() })

		topic := client.Topic(cfg.PubSubTopic)
		publisher, err := events.NewPubSubPublisher(topic, cfg.PublishTimeout)
		if err != nil {
			return nil, nil, fmt.Errorf("build pubsub publisher: %w", err)
		}
		c.onClose(func(context.Context) error {
			publisher.Close()
			return nil
		})
		return publisher, &repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: brokerProbeTimeout,
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s not found", cfg.PubSubTopic)
				}
				return nil
			},
		}, nil
	case config.EventsDriverKafka:
		publisher, err := events.NewKafkaPublisher(events.KafkaOptions{
			Brokers:  cfg.KafkaBrokers,
			Topic:    cfg.KafkaTopic,
			ClientID: cfg.KafkaClientID,
			Timeout:  cfg.PublishTimeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("build kafka publisher: %w", err)
		}
		c.onClose(func(context.Context) error {
			publisher.Close()
			return nil
		})
		return publisher, &repositories.DependencyCheck{
			Name:    "kafka",
			Timeout: brokerProbeTimeout,
			Check:   publisher.Ping,
		}, nil
	default:
		return events.NewLogPublisher(opts.logger.Named("events")), nil, nil
	}
}

func (c *Container) buildStorage(ctx context.Context, cfg config.Config, opts containerOptions, probes []repositories.DependencyCheck) (repositories.Registry, idempotency.Store, error) {
	if opts.registry != nil {
		return opts.registry, idempotency.NewMemoryStore(), nil
	}

	switch cfg.Database.Driver {
	case config.DriverMemory:
		checks := append([]repositories.DependencyCheck{{
			Name:     "store",
			Critical: true,
			Check:    func(context.Context) error { return nil },
		}}, probes...)
		health, err := repositories.NewDependencyHealthRepository(checks, repositories.WithDependencyClock(opts.clock))
		if err != nil {
			return nil, nil, fmt.Errorf("build health repository: %w", err)
		}
		return memory.NewStore(memory.WithHealthRepository(health)), idempotency.NewMemoryStore(), nil
	default:
		provider := pgplatform.NewProvider(cfg.Database, pgplatform.WithQueryTracing())
		c.onClose(provider.Close)
		if _, err := provider.Pool(ctx); err != nil {
			return nil, nil, fmt.Errorf("open postgres pool: %w", err)
		}

		checks := append([]repositories.DependencyCheck{{
			Name:     "postgres",
			Timeout:  postgresProbeTimeout,
			Critical: true,
			Check:    provider.Ping,
		}}, probes...)
		health, err := repositories.NewDependencyHealthRepository(checks, repositories.WithDependencyClock(opts.clock))
		if err != nil {
			return nil, nil, fmt.Errorf("build health repository: %w", err)
		}
		reg, err := postgres.NewRegistry(provider, health)
		if err != nil {
			return nil, nil, fmt.Errorf("build postgres registry: %w", err)
		}
		idem, err := idempotency.NewPostgresStore(provider)
		if err != nil {
			return nil, nil, fmt.Errorf("build idempotency store: %w", err)
		}
		return reg, idem, nil
	}
}

func buildServices(cfg config.Config, reg repositories.Registry, publisher services.OrderEventPublisher, opts containerOptions) (Services, error) {
	var svc Services
	logger := opts.logger

	ledger, err := services.NewStockLedger(services.StockLedgerDeps{
		Products:  reg.Products(),
		Clock:     opts.clock,
		Telemetry: opts.telemetry,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build stock ledger: %w", err)
	}
	svc.Ledger = ledger

	reader, err := services.NewCartSnapshotReader(services.CartSnapshotReaderDeps{
		Carts:       reg.Carts(),
		MaxLines:    cfg.Orders.MaxLines,
		MaxQuantity: cfg.Orders.MaxQuantityPerLine,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart snapshot reader: %w", err)
	}

	builder, err := services.NewOrderBuilder(services.OrderBuilderDeps{
		UnitOfWork: reg,
		Ledger:     ledger,
		Orders:     reg.Orders(),
		SalesLog:   reg.SalesLog(),
		Events:     publisher,
		Clock:      opts.clock,
		Logger:     observability.EventLogger(logger, "orders.builder"),
		Telemetry:  opts.telemetry,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order builder: %w", err)
	}

	checkout, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Reader:  reader,
		Builder: builder,
		Carts:   reg.Carts(),
		Logger:  observability.EventLogger(logger, "orders.checkout"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkout

	sink, err := services.NewInboxNotificationSink(services.InboxNotificationSinkDeps{
		Messages: reg.Messages(),
		Events:   publisher,
		Clock:    opts.clock,
		Logger:   observability.EventLogger(logger, "orders.notifications"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build notification sink: %w", err)
	}

	formatter := services.NewNotificationFormatter(cfg.Orders.DefaultLocale, cfg.Orders.Currency)
	stateMachine, err := services.NewOrderStateMachine(services.OrderStateMachineDeps{
		UnitOfWork:    reg,
		Orders:        reg.Orders(),
		Ledger:        ledger,
		Notifications: sink,
		Formatter:     &formatter,
		Events:        publisher,
		Clock:         opts.clock,
		Logger:        observability.EventLogger(logger, "orders.state"),
		Telemetry:     opts.telemetry,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order state machine: %w", err)
	}
	svc.StateMachine = stateMachine

	orders, err := services.NewOrderQueryService(services.OrderQueryServiceDeps{Orders: reg.Orders()})
	if err != nil {
		return Services{}, fmt.Errorf("build order query service: %w", err)
	}
	svc.Orders = orders

	reports, err := services.NewReportingService(services.ReportingServiceDeps{Reports: reg.Reports(), SalesLog: reg.SalesLog()})
	if err != nil {
		return Services{}, fmt.Errorf("build reporting service: %w", err)
	}
	svc.Reports = reports

	if health := reg.Health(); health != nil {
		system, err := services.NewSystemService(services.SystemServiceDeps{
			Health: health,
			Clock:  opts.clock,
			Build:  opts.build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = system
	}

	return svc, nil
}
