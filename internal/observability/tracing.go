package observability

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ewjax/SubBots/internal/logging"
)

const instrumentationName = "github.com/ewjax/SubBots"

// TracingConfig governs how a participant exports spans.
type TracingConfig struct {
	Enabled bool
	// Role is the participant kind ("umpire", "subbot", "simulator") and
	// is attached to every span as subbots.role.
	Role        string
	ServiceName string
	Exporter    string // stdout | otlp
	Endpoint    string // OTLP collector, host:port
	SampleRatio float64
}

// TracingConfigFromEnv reads SUBBOTS_TRACING_* variables for role. The
// service name defaults to "subbots-<role>".
func TracingConfigFromEnv(role string) TracingConfig {
	cfg := TracingConfig{
		Enabled:     strings.EqualFold(os.Getenv("SUBBOTS_TRACING_ENABLED"), "true"),
		Role:        role,
		ServiceName: os.Getenv("SUBBOTS_TRACING_SERVICE_NAME"),
		Exporter:    strings.ToLower(os.Getenv("SUBBOTS_TRACING_EXPORTER")),
		Endpoint:    os.Getenv("SUBBOTS_OTLP_ENDPOINT"),
		SampleRatio: 1,
	}
	if cfg.Exporter == "" {
		cfg.Exporter = "stdout"
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = defaultServiceName(role)
	}
	if raw := os.Getenv("SUBBOTS_TRACING_SAMPLE_RATIO"); raw != "" {
		if ratio, err := strconv.ParseFloat(raw, 64); err == nil && ratio >= 0 && ratio <= 1 {
			cfg.SampleRatio = ratio
		}
	}
	return cfg
}

func defaultServiceName(role string) string {
	if role == "" {
		return "subbots"
	}
	return "subbots-" + role
}

// InitTracing installs the global tracer provider for one participant and
// returns a shutdown function that flushes pending spans. When tracing is
// disabled a noop provider is installed and shutdown does nothing.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (func(context.Context) error, error) {
	if log == nil {
		log = logging.Noop()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = defaultServiceName(cfg.Role)
	}

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(propagation.TraceContext{})
		log.Debug(ctx, "tick spans not exported", logging.String("role", cfg.Role))
		return func(context.Context) error { return nil }, nil
	}

	tp, err := newTracerProvider(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("tracing for %s: %w", defaultServiceName(cfg.Role), err)
	}
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info(ctx, "exporting tick spans",
		logging.String("role", cfg.Role),
		logging.String("service", cfg.ServiceName),
		logging.String("exporter", cfg.Exporter),
		logging.Float("sample_ratio", cfg.SampleRatio),
	)
	return tp.Shutdown, nil
}

func newTracerProvider(ctx context.Context, cfg TracingConfig) (*sdktrace.TracerProvider, error) {
	exp, err := spanExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := participantResource(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	), nil
}

// participantResource describes the process emitting spans: the service,
// the shared subbots namespace and the participant role.
func participantResource(ctx context.Context, cfg TracingConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.namespace", "subbots"),
	}
	if cfg.Role != "" {
		attrs = append(attrs, attribute.String("subbots.role", cfg.Role))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("participant resource: %w", err)
	}
	return res, nil
}

func spanExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case "", "stdout":
		return stdouttrace.New(
			stdouttrace.WithWriter(os.Stdout),
			stdouttrace.WithPrettyPrint(),
			stdouttrace.WithoutTimestamps(),
		)
	case "otlp", "otlpgrpc":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
	default:
		return nil, fmt.Errorf("unsupported span exporter %q", cfg.Exporter)
	}
}

// StartTick opens the span covering one loop tick.
func StartTick(ctx context.Context, role string, tick uint64, state string) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, role+".tick",
		trace.WithAttributes(
			attribute.String("subbots.role", role),
			attribute.Int64("subbots.tick", int64(tick)),
			attribute.String("subbots.session_state", state),
		),
	)
}

// ShutdownWithTimeout flushes spans within five seconds. Failures are
// logged, never returned, so it can be deferred from main.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	if log == nil {
		log = logging.Noop()
	}

	flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := shutdown(flushCtx); err != nil {
		log.Warn(ctx, "span flush failed", logging.Err(err))
	}
}
