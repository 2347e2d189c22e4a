package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"time"

	wmmetrics "github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/stockflow/internal/config"
	"github.com/drblury/stockflow/internal/ids"
	"github.com/drblury/stockflow/internal/logging"
	"github.com/drblury/stockflow/internal/transport"
)

// MetadataCorrelationID carries a correlation identifier across the
// pipeline; the router injects one when missing.
const MetadataCorrelationID = "correlation_id"

// Dependencies holds optional collaborators for NewService. Leave fields
// nil for the defaults.
type Dependencies struct {
	// Transport overrides the transport built from the configuration
	// (used by tests to inject an in-memory pubsub). The caller keeps
	// ownership: Close will not touch it.
	Transport *transport.Transport

	// Outbox makes supplier fan-out resumable. Nil means direct publish.
	Outbox OutboxStore

	// Registerer for pipeline and router metrics. Nil means the default
	// Prometheus registerer. Only used when metrics are enabled.
	Registerer prometheus.Registerer
}

// Service wires a Watermill router, the transport and the processors.
type Service struct {
	cfg    *config.Config
	logger logging.ServiceLogger

	transport     transport.Transport
	ownsTransport bool

	router  *message.Router
	metrics *Metrics
	outbox  OutboxStore

	metricsServer *http.Server
}

// NewService validates the configuration and constructs a Service.
// Register processors on it before calling Start. For the RabbitMQ
// transport this blocks until the broker is reachable.
func NewService(ctx context.Context, cfg *config.Config, logger logging.ServiceLogger, deps Dependencies) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	wmLogger := logging.NewWatermillAdapter(logger)
	logger.Info("Creating pipeline service", logging.LogFields{
		"pubsub_system": cfg.PubSubSystem,
		"config":        cfg.String(),
	})

	s := &Service{
		cfg:    cfg,
		logger: logger,
		outbox: deps.Outbox,
	}

	if deps.Transport != nil {
		s.transport = *deps.Transport
	} else {
		tr, err := transport.Build(ctx, cfg, wmLogger)
		if err != nil {
			return nil, err
		}
		s.transport = tr
		s.ownsTransport = true
	}

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return nil, err
	}
	s.router = router
	s.router.AddPlugin(plugin.SignalsHandler)

	registerer := deps.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	if cfg.MetricsEnabled {
		s.metrics = NewMetrics(registerer)
		if err := s.metrics.Register(); err != nil {
			return nil, err
		}
		builder := wmmetrics.NewPrometheusMetricsBuilder(registerer, "stockflow", cfg.PubSubSystem)
		builder.AddPrometheusRouterMetrics(s.router)
	}

	s.router.AddMiddleware(
		correlationIDMiddleware(),
		middleware.Recoverer,
	)

	return s, nil
}

// Metrics returns the pipeline metrics collector, nil when metrics are
// disabled.
func (s *Service) Metrics() *Metrics { return s.metrics }

// Publisher exposes the transport publisher, e.g. for the seeder.
func (s *Service) Publisher() message.Publisher { return s.transport.Publisher }

// RegisterSupplierProcessor declares the supplier processor's queues and
// attaches it to the router.
func (s *Service) RegisterSupplierProcessor(suppliers supplierCreator) error {
	err := transport.DeclareQueues(s.transport.Subscriber,
		s.cfg.IntakeQueue, s.cfg.ProductQueue, s.cfg.SupplierDLQ)
	if err != nil {
		return err
	}

	p := NewSupplierProcessor(s.cfg, suppliers, s.transport.Publisher, s.outbox, s.metrics, s.logger)
	s.router.AddNoPublisherHandler("supplier_processor", s.cfg.IntakeQueue, s.transport.Subscriber, p.Handle)
	return nil
}

// RegisterProductProcessor declares the product processor's queues and
// attaches it to the router.
func (s *Service) RegisterProductProcessor(products productCreator, suppliers associator) error {
	err := transport.DeclareQueues(s.transport.Subscriber,
		s.cfg.ProductQueue, s.cfg.ProductDLQ, s.cfg.AssociationDLQ)
	if err != nil {
		return err
	}

	p := NewProductProcessor(s.cfg, products, suppliers, s.transport.Publisher, s.metrics, s.logger)
	s.router.AddNoPublisherHandler("product_processor", s.cfg.ProductQueue, s.transport.Subscriber, p.Handle)
	return nil
}

// Start drains the outbox, starts the metrics endpoint when configured and
// runs the router until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	s.startMetricsServer()

	if s.outbox != nil {
		if err := drainOutbox(ctx, s.outbox, s.transport.Publisher, s.logger); err != nil {
			s.logger.Error("Outbox drain failed, pending entries remain", err, nil)
		}
	}

	return s.router.Run(ctx)
}

// Running closes once the router has started all handlers.
func (s *Service) Running() <-chan struct{} { return s.router.Running() }

// Close shuts the router down and, when the Service built its own
// transport, releases it.
func (s *Service) Close() error {
	if s.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.metricsServer.Shutdown(shutdownCtx)
	}

	err := s.router.Close()
	if s.ownsTransport {
		if closeErr := s.transport.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}

func (s *Service) startMetricsServer() {
	if !s.cfg.MetricsEnabled || s.cfg.MetricsPort <= 0 {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	s.metricsServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Info("Metrics endpoint listening", logging.LogFields{"addr": s.metricsServer.Addr})
		if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics server stopped", err, nil)
		}
	}()
}

// correlationIDMiddleware injects a correlation ID into the message
// metadata when missing.
func correlationIDMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			if msg.Metadata.Get(MetadataCorrelationID) == "" {
				msg.Metadata.Set(MetadataCorrelationID, ids.NewMessageID())
			}
			return h(msg)
		}
	}
}
