package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// QueueSizer reports the current dead letter queue size, observed lazily
// when the metrics endpoint is scraped.
type QueueSizer interface {
	Size(ctx context.Context) (int, error)
}

// Collector collects Prometheus-compatible metrics for webhook processing
type Collector struct {
	meter metric.Meter

	// Counters
	processedTotal metric.Int64Counter
	ignoredTotal   metric.Int64Counter
	enqueuedTotal  metric.Int64Counter
	retriedTotal   metric.Int64Counter
	expiredTotal   metric.Int64Counter

	// Histograms
	actionDuration metric.Float64Histogram

	queue QueueSizer
}

// NewCollector creates a new metrics collector using the given meter provider
func NewCollector(meterProvider metric.MeterProvider) (*Collector, error) {
	meter := meterProvider.Meter("bugbridge")

	c := &Collector{meter: meter}

	var err error

	c.processedTotal, err = meter.Int64Counter(
		"bugbridge_processed_total",
		metric.WithDescription("Total number of webhook requests processed successfully"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	c.ignoredTotal, err = meter.Int64Counter(
		"bugbridge_ignored_total",
		metric.WithDescription("Total number of webhook requests ignored"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	c.enqueuedTotal, err = meter.Int64Counter(
		"bugbridge_enqueued_total",
		metric.WithDescription("Total number of requests added to the dead letter queue"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	c.retriedTotal, err = meter.Int64Counter(
		"bugbridge_retried_total",
		metric.WithDescription("Total number of queued items attempted by the retry worker"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, err
	}

	c.expiredTotal, err = meter.Int64Counter(
		"bugbridge_expired_total",
		metric.WithDescription("Total number of queued items removed after exceeding the retry timeout"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, err
	}

	c.actionDuration, err = meter.Float64Histogram(
		"bugbridge_action_duration_seconds",
		metric.WithDescription("Action pipeline execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"bugbridge_queue_size",
		metric.WithDescription("Number of items currently in the dead letter queue"),
		metric.WithUnit("{item}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			if c.queue == nil {
				return nil
			}
			size, err := c.queue.Size(ctx)
			if err != nil {
				return nil
			}
			observer.Observe(int64(size))
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return c, nil
}

// SetQueueSizer wires the queue whose size the gauge observes.
func (c *Collector) SetQueueSizer(queue QueueSizer) {
	c.queue = queue
}

// RecordProcessed records a successful action execution
func (c *Collector) RecordProcessed(ctx context.Context, actionTag, operation string, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("action", actionTag),
		attribute.String("operation", operation),
	}

	c.processedTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	c.actionDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordIgnored records a request dropped as invalid
func (c *Collector) RecordIgnored(ctx context.Context, reason string) {
	c.ignoredTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordEnqueued records a request added to the queue.
// Kind is "postponed" or "error".
func (c *Collector) RecordEnqueued(ctx context.Context, kind string) {
	c.enqueuedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordRetried records one retry attempt with its outcome
// ("success", "failed", "skipped", or "blocked").
func (c *Collector) RecordRetried(ctx context.Context, outcome string) {
	c.retriedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordExpired records a queued item removed by expiry
func (c *Collector) RecordExpired(ctx context.Context) {
	c.expiredTotal.Add(ctx, 1)
}
