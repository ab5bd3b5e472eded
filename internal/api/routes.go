package api

import (
	"loadharness/internal/counter"
	"loadharness/internal/dispatcher"
	"loadharness/internal/health"
	"loadharness/internal/observability"
	"loadharness/internal/producer"
	"net/http"
)

// ProducerRouterConfig holds dependencies for the producer router.
type ProducerRouterConfig struct {
	Producer      *producer.Service
	Dispatcher    dispatcher.Dispatcher
	Metrics       *observability.Metrics
	HealthChecker *health.Checker
	APIKey        string
}

// ConsumerRouterConfig holds dependencies for the consumer router.
type ConsumerRouterConfig struct {
	Counter       *counter.Counter
	Dispatcher    dispatcher.Dispatcher
	Metrics       *observability.Metrics
	HealthChecker *health.Checker
	APIKey        string
}

// NewProducerRouter creates the producer's HTTP router.
func NewProducerRouter(cfg ProducerRouterConfig) http.Handler {
	handler := &Handler{
		producer:   cfg.Producer,
		health:     cfg.HealthChecker,
		dispatcher: cfg.Dispatcher,
	}

	mux := http.NewServeMux()
	registerProbes(mux, handler)

	authMiddleware := AuthMiddleware(cfg.APIKey)
	mux.Handle("POST /api/log/{key}", authMiddleware(http.HandlerFunc(handler.PostLog)))
	mux.Handle("GET /v1/dispatch/stats", authMiddleware(http.HandlerFunc(handler.DispatchStats)))

	return withMiddleware(mux, cfg.Metrics)
}

// NewConsumerRouter creates the consumer's HTTP router.
func NewConsumerRouter(cfg ConsumerRouterConfig) http.Handler {
	handler := &Handler{
		counter:    cfg.Counter,
		health:     cfg.HealthChecker,
		dispatcher: cfg.Dispatcher,
	}

	mux := http.NewServeMux()
	registerProbes(mux, handler)

	authMiddleware := AuthMiddleware(cfg.APIKey)
	mux.Handle("GET /v1/counters", authMiddleware(http.HandlerFunc(handler.ListCounters)))
	mux.Handle("GET /v1/counters/{key}", authMiddleware(http.HandlerFunc(handler.GetCounter)))
	mux.Handle("GET /v1/dispatch/stats", authMiddleware(http.HandlerFunc(handler.DispatchStats)))

	return withMiddleware(mux, cfg.Metrics)
}

// Health check endpoints (liveness/readiness probes) - no auth required
func registerProbes(mux *http.ServeMux, handler *Handler) {
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)
}

// withMiddleware applies the middleware chain (order matters: outermost first).
func withMiddleware(mux http.Handler, metrics *observability.Metrics) http.Handler {
	h := mux
	h = ContentTypeMiddleware()(h)
	h = CORSMiddleware()(h)
	if metrics != nil {
		h = MetricsMiddleware(metrics)(h)
	}
	h = LoggingMiddleware(nil)(h)
	h = RecoveryMiddleware(nil)(h)

	return h
}
