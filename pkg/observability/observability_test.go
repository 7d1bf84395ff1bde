package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNew_DisabledIsNoop(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	// All recorders must be safe without initialized instruments.
	ctx := context.Background()
	p.RecordProposal(ctx, "admit")
	p.RecordError(ctx, errors.New("boom"))
	p.RecordDecisionDuration(ctx, time.Millisecond)
	p.RecordDispatch(ctx, "materialize_edges", "done")

	assert.NotNil(t, p.Tracer())
	assert.NotNil(t, p.Meter())
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNewWithMeter_RecordsInstruments(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(ctx) })

	p, err := NewWithMeter(mp.Meter("test"))
	require.NoError(t, err)

	p.RecordProposal(ctx, "admit")
	p.RecordProposal(ctx, "admit")
	p.RecordDispatch(ctx, "materialize_edges", "done")
	p.RecordDecisionDuration(ctx, 5*time.Millisecond)
	p.RecordError(ctx, errors.New("boom"))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	byName := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			byName[m.Name] = m
		}
	}

	proposals, ok := byName["claimgate.proposals.total"]
	require.True(t, ok)
	sum, ok := proposals.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(2), sum.DataPoints[0].Value)

	assert.Contains(t, byName, "claimgate.outbox.dispatched.total")
	assert.Contains(t, byName, "claimgate.decision.duration")
	assert.Contains(t, byName, "claimgate.errors.total")
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "claimgate", cfg.ServiceName)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 1.0, cfg.SampleRate)
}
