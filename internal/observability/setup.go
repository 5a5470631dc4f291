package observability

import (
	"context"
	"net/http"

	"github.com/honeynil/venue-ledger/internal/infrastructure/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Options struct {
	ServiceName  string
	LogLevel     string
	OTLPEndpoint string
}

// Setup initializes logs, metrics and traces and returns the tracer
// shutdown plus the /metrics handler.
func Setup(opts Options) (func(context.Context) error, http.Handler) {
	observability.InitLogger(opts.LogLevel)
	observability.InitMetrics()
	tracerShutdown := observability.InitTracing(opts.ServiceName, opts.OTLPEndpoint)
	return tracerShutdown, promhttp.Handler()
}
