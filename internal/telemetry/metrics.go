// Package telemetry wires the Arbiter and Device counters onto
// OpenTelemetry metrics, exported over OTLP/gRPC when an endpoint is
// configured.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// InitMeterProvider bootstraps the OpenTelemetry MeterProvider with an
// OTLP/gRPC metric exporter targeting endpoint. The caller must defer
// mp.Shutdown(ctx) to flush pending metrics on exit.
func InitMeterProvider(ctx context.Context, serviceName, endpoint string) (*sdkmetric.MeterProvider, error) {
	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create otlp exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		)),
	)

	otel.SetMeterProvider(mp)
	return mp, nil
}

// ArbiterMetrics implements arbiter.Metrics over OTel counters.
type ArbiterMetrics struct {
	devicesRegistered      metric.Int64Counter
	registrationsRejected  metric.Int64Counter
	tokensMinted           metric.Int64Counter
	tokensDenied           metric.Int64Counter
}

// NewArbiterMetrics builds the Arbiter's counter set from the global
// meter provider (set by InitMeterProvider).
func NewArbiterMetrics() (*ArbiterMetrics, error) {
	meter := otel.Meter("ngtfieldbus/arbiter")

	devicesRegistered, err := meter.Int64Counter("devices_registered_total")
	if err != nil {
		return nil, fmt.Errorf("telemetry: devices_registered_total: %w", err)
	}
	registrationsRejected, err := meter.Int64Counter("registrations_rejected_total")
	if err != nil {
		return nil, fmt.Errorf("telemetry: registrations_rejected_total: %w", err)
	}
	tokensMinted, err := meter.Int64Counter("tokens_minted_total")
	if err != nil {
		return nil, fmt.Errorf("telemetry: tokens_minted_total: %w", err)
	}
	tokensDenied, err := meter.Int64Counter("tokens_denied_total")
	if err != nil {
		return nil, fmt.Errorf("telemetry: tokens_denied_total: %w", err)
	}

	return &ArbiterMetrics{
		devicesRegistered:     devicesRegistered,
		registrationsRejected: registrationsRejected,
		tokensMinted:          tokensMinted,
		tokensDenied:          tokensDenied,
	}, nil
}

func (m *ArbiterMetrics) DeviceRegistered() {
	m.devicesRegistered.Add(context.Background(), 1)
}

func (m *ArbiterMetrics) RegistrationRejected(reason string) {
	m.registrationsRejected.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *ArbiterMetrics) TokenMinted() {
	m.tokensMinted.Add(context.Background(), 1)
}

func (m *ArbiterMetrics) TokenDenied(reason string) {
	m.tokensDenied.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// DeviceMetrics implements device.Metrics over OTel counters.
type DeviceMetrics struct {
	tokensRejected   metric.Int64Counter
	parametersDenied metric.Int64Counter
	parametersServed metric.Int64Counter
}

// NewDeviceMetrics builds the Device's counter set from the global
// meter provider (set by InitMeterProvider).
func NewDeviceMetrics() (*DeviceMetrics, error) {
	meter := otel.Meter("ngtfieldbus/device")

	tokensRejected, err := meter.Int64Counter("tokens_rejected_total")
	if err != nil {
		return nil, fmt.Errorf("telemetry: tokens_rejected_total: %w", err)
	}
	parametersDenied, err := meter.Int64Counter("parameters_denied_total")
	if err != nil {
		return nil, fmt.Errorf("telemetry: parameters_denied_total: %w", err)
	}
	parametersServed, err := meter.Int64Counter("parameters_served_total")
	if err != nil {
		return nil, fmt.Errorf("telemetry: parameters_served_total: %w", err)
	}

	return &DeviceMetrics{
		tokensRejected:   tokensRejected,
		parametersDenied: parametersDenied,
		parametersServed: parametersServed,
	}, nil
}

func (m *DeviceMetrics) TokenRejected() {
	m.tokensRejected.Add(context.Background(), 1)
}

func (m *DeviceMetrics) ParameterDenied(direction string) {
	m.parametersDenied.Add(context.Background(), 1, metric.WithAttributes(attribute.String("direction", direction)))
}

func (m *DeviceMetrics) ParameterServed(direction string) {
	m.parametersServed.Add(context.Background(), 1, metric.WithAttributes(attribute.String("direction", direction)))
}
