// SPDX-License-Identifier: MIT

package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// installTestMeter injects an in-memory metric SDK and returns its
// reader; the global provider is restored to noop on cleanup.
func installTestMeter(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	t.Cleanup(func() { otel.SetMeterProvider(metricnoop.NewMeterProvider()) })
	return reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	sums := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				sums[m.Name] += dp.Value
			}
		}
	}
	return sums
}

func TestCountSOAPAction(t *testing.T) {
	reader := installTestMeter(t)
	ctx := context.Background()

	CountSOAPAction(ctx, "urn:schemas-upnp-org:service:ContentDirectory:1", "Browse", false)
	CountSOAPAction(ctx, "urn:schemas-upnp-org:service:ContentDirectory:1", "Browse", true)

	sums := collect(t, reader)
	assert.Equal(t, int64(2), sums["pmomusic_soap_actions_total"])
}

func TestCountGENANotifyAndCacheRead(t *testing.T) {
	reader := installTestMeter(t)
	ctx := context.Background()

	CountGENANotify(ctx, false)
	CountCacheRead(ctx, "audio", true)
	CountCacheRead(ctx, "audio", false)

	sums := collect(t, reader)
	assert.Equal(t, int64(1), sums["pmomusic_gena_notifies_total"])
	assert.Equal(t, int64(2), sums["pmomusic_cache_reads_total"])
}

func TestMeter_NoopProviderIsSafe(t *testing.T) {
	otel.SetMeterProvider(metricnoop.NewMeterProvider())
	CountSOAPAction(context.Background(), "svc", "Action", false)
	CountGENANotify(context.Background(), true)
	CountCacheRead(context.Background(), "covers", false)
}
