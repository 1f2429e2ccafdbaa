package tracing

import (
	"context"
	"net/http"
	"time"

	"github.com/kwikpesa/gateway/internal/logging"
	"github.com/openzipkin/zipkin-go"
	zipkinhttp "github.com/openzipkin/zipkin-go/middleware/http"
	"github.com/openzipkin/zipkin-go/reporter"
	zipkinhttpreporter "github.com/openzipkin/zipkin-go/reporter/http"
)

type Config struct {
	ServiceName string
	HostPort    string
	// Endpoint is the zipkin collector, e.g. http://localhost:9411/api/v2/spans.
	// Empty keeps tracing in-process only.
	Endpoint   string
	SampleRate float64
}

// NewTracer builds the process tracer. The returned reporter must be closed on shutdown.
func NewTracer(cfg Config) (*zipkin.Tracer, reporter.Reporter, error) {
	var rep reporter.Reporter
	if cfg.Endpoint == "" {
		rep = reporter.NewNoopReporter()
	} else {
		rep = zipkinhttpreporter.NewReporter(cfg.Endpoint)
	}

	endpoint, err := zipkin.NewEndpoint(cfg.ServiceName, cfg.HostPort)
	if err != nil {
		rep.Close()
		return nil, nil, err
	}

	rate := cfg.SampleRate
	if rate <= 0 || rate > 1 {
		rate = 1.0
	}
	sampler, err := zipkin.NewCountingSampler(rate)
	if err != nil {
		rep.Close()
		return nil, nil, err
	}

	tracer, err := zipkin.NewTracer(rep,
		zipkin.WithSampler(sampler),
		zipkin.WithLocalEndpoint(endpoint),
		zipkin.WithSharedSpans(false),
	)
	if err != nil {
		rep.Close()
		return nil, nil, err
	}

	if cfg.Endpoint != "" {
		logging.LOGGER.Infof("Zipkin is connected, endpoint url : [%s]", cfg.Endpoint)
	}
	return tracer, rep, nil
}

// Middleware opens a server span per request
func Middleware(tracer *zipkin.Tracer) func(http.Handler) http.Handler {
	return zipkinhttp.NewServerMiddleware(tracer, zipkinhttp.TagResponseSize(true))
}

// Client returns an http.Client whose requests carry b3 headers to the provider
func Client(tracer *zipkin.Tracer, timeout time.Duration) (*http.Client, error) {
	transport, err := zipkinhttp.NewTransport(tracer, zipkinhttp.RoundTripper(http.DefaultTransport))
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

// IDs returns the trace and span id of the active span, or empty strings
func IDs(ctx context.Context) (traceID, spanID string) {
	span := zipkin.SpanFromContext(ctx)
	if span == nil {
		return "", ""
	}
	return span.Context().TraceID.String(), span.Context().ID.String()
}
