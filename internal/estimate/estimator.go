package estimate

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

var (
	// ErrEmptyName is returned when a correction names no ingredient.
	ErrEmptyName = errors.New("empty ingredient name")
	// ErrAmbiguousName is returned when a correction names several
	// ingredients.
	ErrAmbiguousName = errors.New("correction must name a single ingredient")
)

// UnknownKeyError is returned when a correction points at a key missing from
// the reference tables.
type UnknownKeyError struct {
	Key string
}

func (e *UnknownKeyError) Error() string {
	return "unknown reference key " + e.Key
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithMeterProvider sets the meter provider used for estimator counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Estimator) { e.meter = mp.Meter("homechef/estimate") }
}

// WithLearningStore sets the store of learned corrections. The default is an
// in-memory store.
func WithLearningStore(s LearningStore) Option {
	return func(e *Estimator) { e.learn = s }
}

// Estimator computes nutrition and price estimates over swappable
// reference tables.
type Estimator struct {
	tables   *TableStore
	learn    LearningStore
	resolver *Resolver

	meter        metric.Meter
	unrecognized metric.Int64Counter
}

// New returns an Estimator serving tables.
func New(tables *TableStore, opts ...Option) (*Estimator, error) {
	e := &Estimator{
		tables: tables,
		meter:  metricnoop.NewMeterProvider().Meter("homechef/estimate"),
	}
	for _, o := range opts {
		o(e)
	}
	if e.learn == nil {
		e.learn = NewMemoryLearningStore()
	}
	e.resolver = NewResolver(tables, e.learn)

	var err error
	if e.unrecognized, err = e.meter.Int64Counter("estimates.unrecognized",
		metric.WithDescription("Ingredients that matched no reference record"),
	); err != nil {
		return nil, errors.Wrap(err, "unrecognized counter")
	}
	return e, nil
}

// Tables returns the store of reference tables.
func (e *Estimator) Tables() *TableStore {
	return e.tables
}

// Teach stores a user correction mapping raw to a reference key. The raw
// text is reduced to the ingredient name the parser would produce for it, so
// quantities, fillers and cooking methods in raw are dropped.
func (e *Estimator) Teach(ctx context.Context, raw, key string, version int64) (Correction, error) {
	t := e.tables.Load()
	if len(splitEntries(normalizeText(raw))) > 1 {
		return Correction{}, ErrAmbiguousName
	}
	raw, ok := ingredientName(t, raw)
	if !ok {
		return Correction{}, ErrEmptyName
	}
	key = strings.Join(strings.Fields(normalizeText(key)), " ")
	if _, ok := t.Lookup(key); !ok {
		return Correction{}, &UnknownKeyError{Key: key}
	}

	c, err := e.learn.Put(ctx, Correction{Raw: raw, Key: key, Version: version})
	if err != nil {
		return c, errors.Wrap(err, "put correction")
	}
	e.resolver.Forget(raw)

	zctx.From(ctx).Info("Correction learned",
		zap.String("raw", raw),
		zap.String("key", key),
		zap.Int64("version", c.Version),
	)
	return c, nil
}

// Diagnostics returns the unrecognized names seen so far with the reference
// keys closest to each.
func (e *Estimator) Diagnostics() map[string][]string {
	return e.resolver.Misses()
}
