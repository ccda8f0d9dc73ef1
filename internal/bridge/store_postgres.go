package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the pgx-backed Store (C9), one row per idempotency key,
// with a unique constraint on idempotency_key and the status guard
// enforced via a SELECT ... FOR UPDATE read-modify-write inside Update.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an already-connected pool. Schema migration is
// the caller's responsibility (see Schema below for the DDL this store
// expects).
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Schema is the DDL this store expects to already exist.
const Schema = `
CREATE TABLE IF NOT EXISTS bridge_jobs (
	id                  TEXT PRIMARY KEY,
	idempotency_key     TEXT NOT NULL UNIQUE,
	source_network      TEXT NOT NULL,
	destination_network TEXT NOT NULL,
	source_tx_hash      TEXT NOT NULL,
	amount              TEXT NOT NULL,
	destination_asset   TEXT NOT NULL,
	destination_pay_to  TEXT NOT NULL,
	status              TEXT NOT NULL,
	attempts            INTEGER NOT NULL DEFAULT 0,
	last_error          TEXT NOT NULL DEFAULT '',
	bridge_tx_hash      TEXT NOT NULL DEFAULT '',
	destination_tx_hash TEXT NOT NULL DEFAULT '',
	message_id          TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS bridge_jobs_status_idx ON bridge_jobs (status);
CREATE INDEX IF NOT EXISTS bridge_jobs_source_tx_idx ON bridge_jobs (source_tx_hash);
`

func (s *PostgresStore) Create(ctx context.Context, job *Job) error {
	now := job.CreatedAt
	_, err := s.pool.Exec(ctx, `
		INSERT INTO bridge_jobs (
			id, idempotency_key, source_network, destination_network, source_tx_hash,
			amount, destination_asset, destination_pay_to, status, attempts,
			last_error, bridge_tx_hash, destination_tx_hash, message_id, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, job.ID, job.IdempotencyKey, job.SourceNetwork, job.DestinationNetwork, job.SourceTxHash,
		job.Amount, job.DestinationAsset, job.DestinationPayTo, string(job.Status), job.Attempts,
		job.LastError, job.BridgeTxHash, job.DestinationTxHash, job.MessageID, now, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return ErrConflict
		}
		return fmt.Errorf("create bridge job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*Job, error) {
	return s.scanOne(ctx, `SELECT `+jobColumns+` FROM bridge_jobs WHERE id = $1`, id)
}

func (s *PostgresStore) GetByIdempotencyKey(ctx context.Context, key string) (*Job, error) {
	return s.scanOne(ctx, `SELECT `+jobColumns+` FROM bridge_jobs WHERE idempotency_key = $1`, key)
}

const jobColumns = `id, idempotency_key, source_network, destination_network, source_tx_hash,
	amount, destination_asset, destination_pay_to, status, attempts,
	last_error, bridge_tx_hash, destination_tx_hash, message_id, created_at, updated_at`

func (s *PostgresStore) scanOne(ctx context.Context, query string, args ...interface{}) (*Job, error) {
	row := s.pool.QueryRow(ctx, query, args...)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan bridge job: %w", err)
	}
	return job, nil
}

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	var status string
	if err := row.Scan(
		&j.ID, &j.IdempotencyKey, &j.SourceNetwork, &j.DestinationNetwork, &j.SourceTxHash,
		&j.Amount, &j.DestinationAsset, &j.DestinationPayTo, &status, &j.Attempts,
		&j.LastError, &j.BridgeTxHash, &j.DestinationTxHash, &j.MessageID, &j.CreatedAt, &j.UpdatedAt,
	); err != nil {
		return nil, err
	}
	j.Status = Status(status)
	return &j, nil
}

// Update enforces (I2): a row already in a terminal state can only be
// updated if the caller's incoming status equals the persisted one
// (idempotent no-op), never transitioned to a different state.
func (s *PostgresStore) Update(ctx context.Context, job *Job) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var currentStatus string
	err = tx.QueryRow(ctx, `SELECT status FROM bridge_jobs WHERE id = $1 FOR UPDATE`, job.ID).Scan(&currentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock bridge job: %w", err)
	}
	if Status(currentStatus).IsTerminal() && currentStatus != string(job.Status) {
		return ErrConflict
	}

	job.UpdatedAt = time.Now()
	_, err = tx.Exec(ctx, `
		UPDATE bridge_jobs SET
			status = $2, attempts = $3, last_error = $4, bridge_tx_hash = $5,
			destination_tx_hash = $6, message_id = $7, updated_at = $8
		WHERE id = $1
	`, job.ID, string(job.Status), job.Attempts, job.LastError, job.BridgeTxHash,
		job.DestinationTxHash, job.MessageID, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update bridge job: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ListStale(ctx context.Context, olderThanSeconds int64) ([]*Job, error) {
	cutoff := time.Now().Add(-time.Duration(olderThanSeconds) * time.Second)
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM bridge_jobs
		WHERE status IN ('pending','bridging') AND updated_at < $1
		ORDER BY updated_at ASC
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale bridge jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale bridge job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
