package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/commercehq/order-system/orders-service/application"
	"github.com/commercehq/order-system/orders-service/handlers"
	"github.com/commercehq/order-system/orders-service/infrastructure"
	"github.com/commercehq/order-system/orders-service/saga"
	sharedinfra "github.com/commercehq/order-system/shared/infrastructure"
	"github.com/commercehq/order-system/shared/telemetry"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

type Dependencies struct {
	Logger zerolog.Logger

	// Database
	DB *sqlx.DB

	// Repositories
	OrderRepository *infrastructure.PostgresOrderRepository

	// Saga
	SagaStore    saga.Store
	Orchestrator *saga.Orchestrator
	Reconciler   *saga.Reconciler

	// Use Cases
	CreateOrder     *application.CreateOrder
	GetOrder        *application.GetOrder
	ListUserOrders  *application.ListUserOrders
	CancelOrder     *application.CancelOrder
	GetSaga         *application.GetSaga
	ListActiveSagas *application.ListActiveSagas

	// HTTP Handlers
	OrderHandlers *handlers.OrderHandlers

	// Event Handlers
	OrderEventHandlers *handlers.OrderEventHandlers

	// Infrastructure
	EventPublisher  *sharedinfra.SNSPublisherAdapter
	EventSubscriber *sharedinfra.SQSSubscriberAdapter
	EventStore      *sharedinfra.PostgresEventStore

	// Telemetry
	Telemetry         *telemetry.Telemetry
	TelemetryShutdown func()
}

func BuildDependencies(ctx context.Context, config *Config) (*Dependencies, error) {
	deps := &Dependencies{}

	logger := zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", config.ServiceName).
		Str("env", config.Env).
		Logger()
	deps.Logger = logger

	// Initialize telemetry first
	if config.Telemetry.Enabled {
		telConfig := telemetry.OrdersServiceConfig.WithOTLPEndpoint(config.Telemetry.OTLPEndpoint)
		tel, telemetryShutdown, err := telemetry.InitTelemetry(ctx, telConfig)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to initialize telemetry, continuing without it")
		} else {
			deps.Telemetry = tel
			deps.TelemetryShutdown = telemetryShutdown
		}
	}

	// Initialize database
	db, err := sqlx.Connect("postgres", config.GetDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	deps.DB = db

	// Initialize AWS infrastructure
	eventPublisher, err := sharedinfra.NewSNSPublisherAdapter(config.AWS.SNSTopicArn, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create SNS publisher: %w", err)
	}
	deps.EventPublisher = eventPublisher

	eventSubscriber, err := sharedinfra.NewSQSSubscriberAdapter(config.AWS.SQSQueueURL, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create SQS subscriber: %w", err)
	}
	deps.EventSubscriber = eventSubscriber

	deps.EventStore = sharedinfra.NewPostgresEventStore(db)

	// Initialize repositories
	deps.OrderRepository = infrastructure.NewPostgresOrderRepository(db)

	// Initialize saga machinery
	switch config.Saga.Store {
	case "postgres":
		deps.SagaStore = infrastructure.NewPostgresSagaStore(db)
	case "memory", "":
		deps.SagaStore = saga.NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown saga store %q", config.Saga.Store)
	}

	sagaConfig := saga.Config{
		StepTimeout:            config.StepTimeout(),
		CompensationMaxRetries: config.Saga.CompensationMaxRetries,
		CompensationBackoffMin: time.Duration(config.Saga.CompensationBackoffMinMS) * time.Millisecond,
		CompensationBackoffMax: time.Duration(config.Saga.CompensationBackoffMaxMS) * time.Millisecond,
	}

	deps.Orchestrator = saga.NewOrchestrator(
		deps.SagaStore,
		deps.OrderRepository,
		eventPublisher,
		logger,
		sagaConfig,
	).WithHistory(deps.EventStore)

	deps.Reconciler = saga.NewReconciler(deps.Orchestrator, config.ReconcileInterval(), logger)

	// Initialize use cases
	deps.CreateOrder = application.NewCreateOrder(deps.OrderRepository, eventPublisher, deps.Orchestrator)
	deps.GetOrder = application.NewGetOrder(deps.OrderRepository)
	deps.ListUserOrders = application.NewListUserOrders(deps.OrderRepository)
	deps.CancelOrder = application.NewCancelOrder(deps.OrderRepository, deps.Orchestrator)
	deps.GetSaga = application.NewGetSaga(deps.Orchestrator)
	deps.ListActiveSagas = application.NewListActiveSagas(deps.Orchestrator)

	// Initialize handlers
	deps.OrderHandlers = handlers.NewOrderHandlers(
		deps.CreateOrder,
		deps.GetOrder,
		deps.ListUserOrders,
		deps.CancelOrder,
		deps.GetSaga,
		deps.ListActiveSagas,
	)
	deps.OrderEventHandlers = handlers.NewOrderEventHandlers(deps.Orchestrator, logger)

	return deps, nil
}

// Close closes all dependencies
func (d *Dependencies) Close() error {
	var errs []error

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}

	if d.EventPublisher != nil {
		if err := d.EventPublisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close event publisher: %w", err))
		}
	}

	if d.EventSubscriber != nil {
		if err := d.EventSubscriber.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close event subscriber: %w", err))
		}
	}

	if d.TelemetryShutdown != nil {
		d.TelemetryShutdown()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing dependencies: %v", errs)
	}

	return nil
}
