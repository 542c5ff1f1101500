package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig("localhost:4317")
	require.Equal(t, "kora", config.ServiceName)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.False(t, config.Insecure)
}

func TestNewProviderDisabled(t *testing.T) {
	for _, config := range []*Config{nil, DefaultConfig("")} {
		p, err := New(context.Background(), config)
		require.NoError(t, err)
		require.False(t, p.Enabled())
		require.NotNil(t, p.TracerProvider())
		require.NotNil(t, p.MeterProvider())
		require.NoError(t, p.Shutdown(context.Background()))
	}
}

func TestNewProviderEnabled(t *testing.T) {
	// The gRPC exporters dial lazily, so construction succeeds without a
	// collector; export errors surface only on flush and are logged.
	config := DefaultConfig("127.0.0.1:1")
	config.Insecure = true
	config.SampleRate = 0.5

	p, err := New(context.Background(), config)
	require.NoError(t, err)
	require.True(t, p.Enabled())

	_, span := p.TracerProvider().Tracer("test").Start(context.Background(), "op")
	span.End()
	counter, err := p.MeterProvider().Meter("test").Int64Counter("test.count")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))
}

func TestSamplerFor(t *testing.T) {
	require.Contains(t, samplerFor(1).Description(), "AlwaysOnSampler")
	require.Contains(t, samplerFor(0).Description(), "AlwaysOffSampler")
	require.Contains(t, samplerFor(0.25).Description(), "TraceIDRatioBased{0.25}")
	require.Contains(t, samplerFor(0.25).Description(), "ParentBased")
}
