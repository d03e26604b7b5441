package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/homechef/internal/outbox"
)

const (
	insertEventSQL = `INSERT INTO outbox_events (id, topic, aggregate_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	lockPendingEventsSQL = `SELECT id, topic, aggregate_id, payload, created_at, attempts
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY created_at, id
		LIMIT $1
		FOR UPDATE SKIP LOCKED`

	markEventPublishedSQL = `UPDATE outbox_events SET published_at = $2, attempts = attempts + 1 WHERE id = $1`
	markEventFailedSQL    = `UPDATE outbox_events SET attempts = attempts + 1, last_error = $2 WHERE id = $1`

	countPendingEventsSQL = `SELECT count(*) FROM outbox_events WHERE published_at IS NULL`
)

func insertEvent(ctx context.Context, tx pgx.Tx, e outbox.Event) error {
	if _, err := tx.Exec(ctx, insertEventSQL, e.ID.String(), e.Topic, e.AggregateID, string(e.Payload), e.CreatedAt); err != nil {
		return errors.Wrapf(err, "insert %s event", e.Topic)
	}
	return nil
}

var _ outbox.Store = (*OutboxStore)(nil)

// OutboxStore implements outbox.Store backed by PostgreSQL. Concurrent
// relays skip each other's locked rows.
type OutboxStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewOutboxStore returns an OutboxStore that uses the given pool.
func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	return &OutboxStore{pool: pool, now: time.Now}
}

// Dispatch locks pending events and publishes them in one transaction.
func (s *OutboxStore) Dispatch(ctx context.Context, limit int, publish func(context.Context, outbox.Event) error) (int, error) {
	published := 0
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, lockPendingEventsSQL, limit)
		if err != nil {
			return errors.Wrap(err, "lock pending events")
		}
		events, err := pgx.CollectRows(rows, scanEvent)
		if err != nil {
			return errors.Wrap(err, "scan events")
		}

		for _, e := range events {
			if perr := publish(ctx, e); perr != nil {
				if _, err := tx.Exec(ctx, markEventFailedSQL, e.ID.String(), perr.Error()); err != nil {
					return errors.Wrap(err, "mark failed")
				}
				return nil
			}
			if _, err := tx.Exec(ctx, markEventPublishedSQL, e.ID.String(), s.now().UTC()); err != nil {
				return errors.Wrap(err, "mark published")
			}
			published++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return published, nil
}

// Backlog returns the number of pending events.
func (s *OutboxStore) Backlog(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, countPendingEventsSQL).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count pending events")
	}
	return n, nil
}

func scanEvent(row pgx.CollectableRow) (outbox.Event, error) {
	var (
		e       outbox.Event
		id      string
		payload string
	)
	if err := row.Scan(&id, &e.Topic, &e.AggregateID, &payload, &e.CreatedAt, &e.Attempts); err != nil {
		return e, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return e, errors.Wrapf(err, "parse event id %q", id)
	}
	e.ID = parsed
	e.Payload = []byte(payload)
	return e, nil
}
