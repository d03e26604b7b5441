package outbox

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

const (
	defaultInterval  = time.Second
	defaultBatchSize = 100
)

// Publisher delivers one event to the broker.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// PublishFunc adapts a function to Publisher.
type PublishFunc func(ctx context.Context, e Event) error

// Publish calls f.
func (f PublishFunc) Publish(ctx context.Context, e Event) error { return f(ctx, e) }

// Store holds pending events.
type Store interface {
	// Dispatch locks up to limit pending events in creation order and calls
	// publish for each. Events are marked published only when publish
	// succeeds; a failed event stays pending with its attempt count bumped
	// and ends the batch. It returns the number of published events.
	Dispatch(ctx context.Context, limit int, publish func(context.Context, Event) error) (int, error)
	// Backlog returns the number of pending events.
	Backlog(ctx context.Context) (int, error)
}

// Relay periodically moves pending events from a Store to a Publisher.
type Relay struct {
	store     Store
	publisher Publisher
	interval  time.Duration
	batchSize int

	published metric.Int64Counter
	failed    metric.Int64Counter
}

// RelayOption configures a Relay.
type RelayOption func(*relayOptions)

type relayOptions struct {
	interval  time.Duration
	batchSize int
	meter     metric.MeterProvider
}

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) RelayOption {
	return func(o *relayOptions) { o.interval = d }
}

// WithBatchSize sets the maximum number of events relayed per poll.
func WithBatchSize(n int) RelayOption {
	return func(o *relayOptions) { o.batchSize = n }
}

// WithMeterProvider sets the meter provider for relay counters.
func WithMeterProvider(mp metric.MeterProvider) RelayOption {
	return func(o *relayOptions) { o.meter = mp }
}

// NewRelay creates a Relay.
func NewRelay(store Store, publisher Publisher, opts ...RelayOption) (*Relay, error) {
	o := relayOptions{
		interval:  defaultInterval,
		batchSize: defaultBatchSize,
		meter:     metricnoop.NewMeterProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.interval <= 0 {
		o.interval = defaultInterval
	}
	if o.batchSize <= 0 {
		o.batchSize = defaultBatchSize
	}

	meter := o.meter.Meter("homechef/outbox")
	published, err := meter.Int64Counter("outbox.published",
		metric.WithDescription("Events delivered to the broker"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "published counter")
	}
	failed, err := meter.Int64Counter("outbox.failed",
		metric.WithDescription("Failed event deliveries"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed counter")
	}

	return &Relay{
		store:     store,
		publisher: publisher,
		interval:  o.interval,
		batchSize: o.batchSize,
		published: published,
		failed:    failed,
	}, nil
}

// RelayOnce relays pending events until the backlog is drained or a publish
// fails. It returns the number of published events.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	total := 0
	for {
		var publishErr error
		n, err := r.store.Dispatch(ctx, r.batchSize, func(ctx context.Context, e Event) error {
			if err := r.publisher.Publish(ctx, e); err != nil {
				publishErr = errors.Wrapf(err, "publish %s", e.ID)
				r.failed.Add(ctx, 1)
				return publishErr
			}
			r.published.Add(ctx, 1)
			return nil
		})
		total += n
		if err != nil {
			return total, errors.Wrap(err, "dispatch")
		}
		if publishErr != nil {
			return total, publishErr
		}
		if n < r.batchSize {
			return total, nil
		}
	}
}

// Run relays events every interval until ctx is done. Publish failures are
// logged and retried on the next tick.
func (r *Relay) Run(ctx context.Context) error {
	lg := zctx.From(ctx).Named("outbox")
	lg.Info("Outbox relay started", zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		n, err := r.RelayOnce(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			lg.Warn("Outbox relay failed", zap.Int("published", n), zap.Error(err))
		case n > 0:
			lg.Debug("Outbox events published", zap.Int("published", n))
		}

		select {
		case <-ctx.Done():
			lg.Info("Outbox relay stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Backlog returns the number of pending events.
func (r *Relay) Backlog(ctx context.Context) (int, error) {
	return r.store.Backlog(ctx)
}
