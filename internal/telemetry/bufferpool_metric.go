package internaltelemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

var (
	resultHit  = metric.WithAttributes(attribute.String("result", "hit"))
	resultMiss = metric.WithAttributes(attribute.String("result", "miss"))
)

// BufferPoolMetrics holds all the metric instruments for the buffer pool.
type BufferPoolMetrics struct {
	meter metric.Meter

	PinsCounter         metric.Int64Counter
	EvictionsCounter    metric.Int64Counter
	FlushesCounter      metric.Int64Counter
	TimeoutsCounter     metric.Int64Counter
	PinWaitHistogram    metric.Int64Histogram
	PinnedUpDownCounter metric.Int64UpDownCounter
}

// NewNoopBufferPoolMetrics returns instruments that record nothing.
func NewNoopBufferPoolMetrics() *BufferPoolMetrics {
	m, _ := NewBufferPoolMetrics(noop.NewMeterProvider().Meter(""))
	return m
}

// NewBufferPoolMetrics creates and registers all the metrics for the buffer pool.
func NewBufferPoolMetrics(meter metric.Meter) (*BufferPoolMetrics, error) {
	pinsCounter, err := meter.Int64Counter(
		"gojopool.bufferpool.pins_total",
		metric.WithDescription("Total number of successful pins, by cache result."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	evictionsCounter, err := meter.Int64Counter(
		"gojopool.bufferpool.evictions_total",
		metric.WithDescription("Total number of frames reassigned to a new block."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	flushesCounter, err := meter.Int64Counter(
		"gojopool.bufferpool.flushes_total",
		metric.WithDescription("Total number of dirty frames written back."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	timeoutsCounter, err := meter.Int64Counter(
		"gojopool.bufferpool.allocation_timeouts_total",
		metric.WithDescription("Total number of pins aborted because no frame became free."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	pinWaitHistogram, err := meter.Int64Histogram(
		"gojopool.bufferpool.pin_wait",
		metric.WithDescription("Time a pin spent waiting for a free frame."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	pinnedUpDownCounter, err := meter.Int64UpDownCounter(
		"gojopool.bufferpool.pinned_frames",
		metric.WithDescription("Number of frames with a non-zero pin count."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &BufferPoolMetrics{
		meter:               meter,
		PinsCounter:         pinsCounter,
		EvictionsCounter:    evictionsCounter,
		FlushesCounter:      flushesCounter,
		TimeoutsCounter:     timeoutsCounter,
		PinWaitHistogram:    pinWaitHistogram,
		PinnedUpDownCounter: pinnedUpDownCounter,
	}, nil
}

// ObserveAvailable registers a gauge reporting the pool's free frame count.
func (m *BufferPoolMetrics) ObserveAvailable(available func() int) (metric.Registration, error) {
	gauge, err := m.meter.Int64ObservableGauge(
		"gojopool.bufferpool.available_frames",
		metric.WithDescription("Number of frames with a zero pin count."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}
	return m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(gauge, int64(available()))
		return nil
	}, gauge)
}

func (m *BufferPoolMetrics) RecordPin(ctx context.Context, hit bool, waited time.Duration) {
	if hit {
		m.PinsCounter.Add(ctx, 1, resultHit)
	} else {
		m.PinsCounter.Add(ctx, 1, resultMiss)
	}
	m.PinWaitHistogram.Record(ctx, waited.Milliseconds())
}
