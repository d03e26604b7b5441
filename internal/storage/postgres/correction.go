package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/homechef/internal/estimate"
)

const (
	getCorrectionSQL = `SELECT raw, key, version, updated_at FROM ingredient_corrections WHERE raw = $1`

	// A zero version bumps the stored one; an explicit version must be newer.
	putCorrectionSQL = `INSERT INTO ingredient_corrections AS c (raw, key, version, updated_at)
		VALUES ($1, $2, GREATEST($3::bigint, 1), $4)
		ON CONFLICT (raw) DO UPDATE SET
			key = EXCLUDED.key,
			version = CASE WHEN $3::bigint = 0 THEN c.version + 1 ELSE $3::bigint END,
			updated_at = EXCLUDED.updated_at
		WHERE $3::bigint = 0 OR $3::bigint > c.version
		RETURNING raw, key, version, updated_at`
)

var _ estimate.LearningStore = (*CorrectionStore)(nil)

// CorrectionStore implements estimate.LearningStore backed by PostgreSQL.
type CorrectionStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewCorrectionStore returns a CorrectionStore that uses the given pool.
func NewCorrectionStore(pool *pgxpool.Pool) *CorrectionStore {
	return &CorrectionStore{pool: pool, now: time.Now}
}

// Get returns the correction for raw.
func (s *CorrectionStore) Get(ctx context.Context, raw string) (estimate.Correction, bool, error) {
	var c estimate.Correction
	err := s.pool.QueryRow(ctx, getCorrectionSQL, raw).Scan(&c.Raw, &c.Key, &c.Version, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return estimate.Correction{}, false, nil
		}
		return estimate.Correction{}, false, errors.Wrapf(err, "get correction %q", raw)
	}
	return c, true, nil
}

// Put stores c following last-write-wins by version.
func (s *CorrectionStore) Put(ctx context.Context, c estimate.Correction) (estimate.Correction, error) {
	var out estimate.Correction
	err := s.pool.QueryRow(ctx, putCorrectionSQL, c.Raw, c.Key, c.Version, s.now().UTC()).
		Scan(&out.Raw, &out.Key, &out.Version, &out.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return estimate.Correction{}, estimate.ErrStaleCorrection
		}
		return estimate.Correction{}, errors.Wrapf(err, "put correction %q", c.Raw)
	}
	return out, nil
}
