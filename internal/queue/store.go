package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chainvrf/vrf-relay/internal/config"
	"github.com/chainvrf/vrf-relay/internal/pkg/apperrors"
	"github.com/jmoiron/sqlx"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Store is the durable queue. Schema migration runs once at startup through
// gorm's AutoMigrate, the same way db.go used gorm for DDL; every
// subsequent operation goes through sqlx so the row-locking and bulk
// multi-row statements below can be hand-written SQL instead of forced
// through an ORM's query builder.
type Store struct {
	gormDB *gorm.DB
	db     *sqlx.DB
}

// Open connects to Postgres, migrates the schema, and returns a ready
// Store. Grounded on repository/db.go's gorm.Open call; the sqlx handle is
// opened against the same *sql.DB so both layers share one connection
// pool.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	if cfg.URL == "" {
		return nil, apperrors.New(apperrors.ErrConfig, "database url is empty", nil)
	}

	gormDB, err := gorm.Open(postgres.Open(cfg.URL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := gormDB.AutoMigrate(&Request{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("obtain sql.DB handle: %w", err)
	}
	db := sqlx.NewDb(sqlDB, "postgres")

	s := &Store{gormDB: gormDB, db: db}
	if err := s.ensureIndexesAndTrigger(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// ensureIndexesAndTrigger adds the partial indexes and the updated_at
// trigger AutoMigrate has no vocabulary for.
func (s *Store) ensureIndexesAndTrigger(ctx context.Context) error {
	statements := []string{
		`CREATE INDEX IF NOT EXISTS idx_vrf_requests_active
			ON vrf_requests (status, created_at)
			WHERE status IN ('pending', 'processing')`,
		`CREATE INDEX IF NOT EXISTS idx_vrf_requests_processing_started
			ON vrf_requests (processing_started_at)
			WHERE status = 'processing'`,
		`CREATE INDEX IF NOT EXISTS idx_vrf_requests_fulfilled_at
			ON vrf_requests (fulfilled_at)
			WHERE status = 'fulfilled'`,
		`CREATE OR REPLACE FUNCTION vrf_requests_set_updated_at() RETURNS trigger AS $$
		BEGIN
			NEW.updated_at = now();
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql`,
		`DROP TRIGGER IF EXISTS trg_vrf_requests_updated_at ON vrf_requests`,
		`CREATE TRIGGER trg_vrf_requests_updated_at
			BEFORE UPDATE ON vrf_requests
			FOR EACH ROW EXECUTE FUNCTION vrf_requests_set_updated_at()`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Enqueue inserts a new pending request. A primary-key conflict (the
// request was already seen) is treated as success, not an error.
func (s *Store) Enqueue(ctx context.Context, requestID, contractAddress, network string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vrf_requests (request_id, contract_address, status, network, created_at, updated_at)
		VALUES ($1, $2, 'pending', $3, now(), now())
		ON CONFLICT (request_id) DO NOTHING
	`, requestID, contractAddress, network)
	if err != nil {
		return apperrors.New(apperrors.ErrDatabase, "enqueue failed", err)
	}
	return nil
}

// Dequeue selects up to limit pending rows oldest-first, skipping rows
// already locked by another worker's transaction, and flips them to
// processing. Callers must finalize every returned row with
// MarkFulfilled/MarkFailed (or let ReclaimStuck recover it if the process
// dies first).
func (s *Store) Dequeue(ctx context.Context, limit int) ([]Request, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrDatabase, "begin dequeue tx", err)
	}
	defer tx.Rollback()

	var rows []Request
	err = tx.SelectContext(ctx, &rows, `
		SELECT * FROM vrf_requests
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrDatabase, "select pending rows", err)
	}
	if len(rows) == 0 {
		return nil, tx.Commit()
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.RequestID
	}
	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE vrf_requests
		SET status = 'processing', processing_started_at = $2
		WHERE request_id = ANY($1)
	`, pqStringArray(ids), now)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrDatabase, "mark rows processing", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.New(apperrors.ErrDatabase, "commit dequeue tx", err)
	}
	for i := range rows {
		rows[i].Status = StatusProcessing
		rows[i].ProcessingStartedAt = &now
	}
	return rows, nil
}

// PendingDepth returns the current count of pending rows, used by the
// processor to decide full-batch vs partial-batch vs wait.
func (s *Store) PendingDepth(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT count(*) FROM vrf_requests WHERE status = 'pending'`)
	if err != nil {
		return 0, apperrors.New(apperrors.ErrDatabase, "count pending rows", err)
	}
	return n, nil
}

// OldestPendingAge returns how long the oldest pending row has been
// waiting, or zero with ok=false if the queue is empty.
func (s *Store) OldestPendingAge(ctx context.Context) (time.Duration, bool, error) {
	var createdAt time.Time
	err := s.db.GetContext(ctx, &createdAt, `
		SELECT created_at FROM vrf_requests
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT 1
	`)
	if err != nil {
		if strings.Contains(err.Error(), "no rows") {
			return 0, false, nil
		}
		return 0, false, apperrors.New(apperrors.ErrDatabase, "fetch oldest pending row", err)
	}
	return time.Since(createdAt), true, nil
}

// MarkFulfilled transitions one row to fulfilled. Idempotent: a row already
// fulfilled is left untouched.
func (s *Store) MarkFulfilled(ctx context.Context, requestID string) error {
	return s.MarkBatchFulfilled(ctx, []string{requestID})
}

// MarkBatchFulfilled transitions many rows to fulfilled in one statement.
func (s *Store) MarkBatchFulfilled(ctx context.Context, requestIDs []string) error {
	if len(requestIDs) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE vrf_requests
		SET status = 'fulfilled', fulfilled_at = now()
		WHERE request_id = ANY($1) AND status != 'fulfilled'
	`, pqStringArray(requestIDs))
	if err != nil {
		return apperrors.New(apperrors.ErrDatabase, "mark batch fulfilled", err)
	}
	return nil
}

// MarkFailed records a failed attempt for one row: if it has now exhausted
// its retry budget it becomes terminal (failed), otherwise it returns to
// pending for another attempt.
func (s *Store) MarkFailed(ctx context.Context, requestID, errText string) error {
	return s.MarkBatchFailed(ctx, []string{requestID}, errText)
}

// MarkBatchFailed is the per-row equivalent of MarkFailed for many rows in
// one statement: the whole batch retries (or terminally fails) together,
// since the source treats partial batch replay as unresolved (spec.md §7).
func (s *Store) MarkBatchFailed(ctx context.Context, requestIDs []string, errText string) error {
	if len(requestIDs) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE vrf_requests
		SET
			retry_count = retry_count + 1,
			last_error = $2,
			status = CASE WHEN retry_count + 1 >= max_retries THEN 'failed' ELSE 'pending' END
		WHERE request_id = ANY($1)
	`, pqStringArray(requestIDs), errText)
	if err != nil {
		return apperrors.New(apperrors.ErrDatabase, "mark batch failed", err)
	}
	return nil
}

// ReclaimStuck reverts rows that have been processing longer than
// threshold back to pending, incrementing their retry count — recovery for
// a worker that crashed mid-flight before it could finalize its dequeued
// rows.
func (s *Store) ReclaimStuck(ctx context.Context, threshold time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-threshold)
	res, err := s.db.ExecContext(ctx, `
		UPDATE vrf_requests
		SET status = 'pending', retry_count = retry_count + 1
		WHERE status = 'processing' AND processing_started_at < $1
	`, cutoff)
	if err != nil {
		return 0, apperrors.New(apperrors.ErrDatabase, "reclaim stuck rows", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// pqStringArray renders a Go string slice as a Postgres array literal
// suitable for = ANY($1), avoiding a dependency on the lib/pq array helper
// types the rest of this codebase does not otherwise need.
func pqStringArray(ss []string) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, s := range ss {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(s, `"`, `\"`))
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}
