package bufferpool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	internaltelemetry "github.com/sushant-115/gojopool/internal/telemetry"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collectInt64(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out[m.Name] += dp.Value
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					out[m.Name] = dp.Value
				}
			case metricdata.Histogram[int64]:
				for _, dp := range data.DataPoints {
					out[m.Name] += int64(dp.Count)
				}
			}
		}
	}
	return out
}

func TestBufferPool_Metrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	m, err := internaltelemetry.NewBufferPoolMetrics(mp.Meter("bufferpool_test"))
	require.NoError(t, err)
	bpm, _ := setupPool(t, 1, WithMetrics(m))

	f, err := bpm.Pin(blockOf("t", 1))
	require.NoError(t, err)
	_, err = bpm.Pin(blockOf("t", 1))
	require.NoError(t, err)
	f.SetModified(1, 2)
	require.NoError(t, bpm.Unpin(f))

	got := collectInt64(t, reader)
	require.Equal(t, int64(2), got["gojopool.bufferpool.pins_total"])
	require.Equal(t, int64(2), got["gojopool.bufferpool.pin_wait"])
	require.Equal(t, int64(1), got["gojopool.bufferpool.pinned_frames"])
	require.Equal(t, int64(0), got["gojopool.bufferpool.available_frames"])

	require.NoError(t, bpm.Unpin(f))
	_, err = bpm.Pin(blockOf("t", 2))
	require.NoError(t, err)

	got = collectInt64(t, reader)
	require.Equal(t, int64(1), got["gojopool.bufferpool.evictions_total"])
	require.Equal(t, int64(1), got["gojopool.bufferpool.flushes_total"])
	require.Equal(t, int64(3), got["gojopool.bufferpool.pins_total"])

	require.NoError(t, bpm.Close())
}
