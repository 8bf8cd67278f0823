package telemetry

import (
	"context"
	"testing"

	"featuregate/internal/config"
)

func TestSetup_NoopWhenNothingConfigured(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{}, "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetup_CreatesProviderWhenEndpointSet(t *testing.T) {
	// non-routable, nothing is exported
	cfg := config.TelemetryConfig{OTLPEndpoint: "http://192.0.2.1:4318", SampleRate: 0.5}
	shutdown, err := Setup(context.Background(), cfg, "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetup_RejectsMalformedSentryDSN(t *testing.T) {
	if _, err := Setup(context.Background(), config.TelemetryConfig{SentryDSN: "::not a dsn"}, "test"); err == nil {
		t.Fatal("expected an error for a malformed DSN")
	}
}
