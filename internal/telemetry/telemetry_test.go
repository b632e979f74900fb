package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/dhascan/internal/config"
	"github.com/CodeMonkeyCybersecurity/dhascan/internal/core"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestNew_DisabledIsNoop(t *testing.T) {
	tel, err := New(context.Background(), config.TelemetryConfig{Enabled: false})
	require.NoError(t, err)

	_, ok := tel.(*noopTelemetry)
	assert.True(t, ok)

	ctx := context.Background()
	tel.RecordScan(ctx, time.Second, true)
	tel.RecordProbe(ctx, types.CategoryXSS, core.ProbeOutcomeOK)
	tel.RecordFinding(ctx, types.SeverityHigh)
	assert.NoError(t, tel.Close())
}

func TestNew_UnsupportedExporter(t *testing.T) {
	_, err := New(context.Background(), config.TelemetryConfig{
		Enabled:      true,
		ServiceName:  "dhascan-test",
		ExporterType: "zipkin",
		SampleRate:   1,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported exporter type")
}

func TestInstruments_Record(t *testing.T) {
	tel, err := newInstruments(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	assert.NotPanics(t, func() {
		tel.RecordScan(ctx, 1500*time.Millisecond, false)
		tel.RecordProbe(ctx, types.CategorySQLInjection, core.ProbeOutcomeFailed)
		tel.RecordFinding(ctx, types.SeverityCritical)
	})
	assert.NoError(t, tel.Close())
}
