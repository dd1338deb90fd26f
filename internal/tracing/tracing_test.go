package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestOptionsFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
		t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "")
		t.Setenv("OTEL_TRACES_SAMPLER_ARG", "")

		assert.Equal(t, Options{Endpoint: "localhost:4318", Insecure: true, SampleRatio: 1}, OptionsFromEnv())
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")
		t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "false")
		t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.25")

		assert.Equal(t, Options{Endpoint: "collector:4318", Insecure: false, SampleRatio: 0.25}, OptionsFromEnv())
	})

	t.Run("out of range ratio ignored", func(t *testing.T) {
		t.Setenv("OTEL_TRACES_SAMPLER_ARG", "3")
		assert.Equal(t, 1.0, OptionsFromEnv().SampleRatio)
	})
}

func TestSpanHelpers(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	_, span := StrikeSpan(context.Background(), "issue", "42")
	EndWithError(span, errors.New("boom"))
	span.End()

	_, span = StrikeSpan(context.Background(), "sweep", "")
	EndWithError(span, nil)
	span.End()

	_, span = StoreSpan(context.Background(), "bolt", "add_strike")
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 3)

	assert.Equal(t, "strikes.issue", ended[0].Name())
	assert.Contains(t, ended[0].Attributes(), attribute.String("strikes.user_id", "42"))
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Len(t, ended[0].Events(), 1)

	assert.Equal(t, "strikes.sweep", ended[1].Name())
	assert.Equal(t, []attribute.KeyValue{attribute.String("strikes.op", "sweep")}, ended[1].Attributes())
	assert.Equal(t, codes.Unset, ended[1].Status().Code)

	assert.Equal(t, "store.add_strike", ended[2].Name())
	assert.Contains(t, ended[2].Attributes(), attribute.String("store.backend", "bolt"))
}
