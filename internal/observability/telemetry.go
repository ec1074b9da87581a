// Package observability настраивает трассировку OpenTelemetry.
package observability

import (
	"context"
	"os"
	"time"

	"github.com/HypocriteSnow/UandUTDD/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// EnvEndpoint - стандартная переменная адреса OTLP-приёмника
const EnvEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"

// Shutdown завершает экспорт трасс
type Shutdown func(context.Context) error

// Enabled сообщает, задан ли адрес OTLP-приёмника
func Enabled() bool {
	return os.Getenv(EnvEndpoint) != ""
}

// InitTelemetry настраивает OTLP экспортер и устанавливает глобальный TracerProvider.
// Без OTEL_EXPORTER_OTLP_ENDPOINT ничего не делает и возвращает пустой Shutdown.
func InitTelemetry(ctx context.Context, serviceName string) (Shutdown, error) {
	if !Enabled() {
		logging.Debug("[Telemetry] %s не задан, трассировка отключена", EnvEndpoint)
		return func(context.Context) error { return nil }, nil
	}

	exp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, err
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exp),
		trace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	logging.Info("[Telemetry] OpenTelemetry инициализирован (OTLP → %s, service=%s)", os.Getenv(EnvEndpoint), serviceName)

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(ctx)
	}, nil
}
