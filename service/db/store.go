// Package db stores the history of actions the dashboard submitted.
package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/brojonat/idproperty/service/metrics"
	"github.com/brojonat/idproperty/service/txn"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// ErrNotFound is returned when no action matches.
var ErrNotFound = errors.New("action not found")

const actionsTable = "actions"

// Store provides database operations for the action history.
// It satisfies txn.HistoryStore.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// If metrics is nil, no metrics will be recorded.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{pool: pool, metrics: m}
}

// Connect opens a pool and verifies the connection.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// Migrate creates the history schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ListActionsParams filters and paginates an account's history.
type ListActionsParams struct {
	Account string
	Kind    txn.Kind // empty matches every kind
	Limit   int32
	Offset  int32
}

const upsertAction = `
INSERT INTO actions (id, kind, account, phase, tx_hash, error, params, block, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET
    phase      = EXCLUDED.phase,
    tx_hash    = COALESCE(EXCLUDED.tx_hash, actions.tx_hash),
    error      = EXCLUDED.error,
    block      = COALESCE(EXCLUDED.block, actions.block),
    updated_at = EXCLUDED.updated_at
WHERE actions.updated_at <= EXCLUDED.updated_at`

const selectAction = `
SELECT id, kind, account, phase, tx_hash, error, params, block, created_at, updated_at
FROM actions`

// SaveAction inserts or updates the snapshot. Older snapshots never
// overwrite newer ones, so replays are harmless.
func (s *Store) SaveAction(ctx context.Context, rec txn.Record) error {
	start := time.Now()
	params := rec.Params
	if params == nil {
		params = map[string]string{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	_, err = s.pool.Exec(ctx, upsertAction,
		pgtype.UUID{Bytes: rec.ID, Valid: true},
		string(rec.Kind),
		strings.ToLower(rec.Account),
		string(rec.Phase),
		pgtextFromString(rec.TxHash),
		pgtextFromString(rec.Error),
		paramsJSON,
		pgint8FromBlock(rec.Block),
		pgtype.Timestamptz{Time: rec.CreatedAt, Valid: true},
		pgtype.Timestamptz{Time: rec.UpdatedAt, Valid: true},
	)
	s.record("save", start, err)
	if err != nil {
		return fmt.Errorf("failed to save action %s: %w", rec.ID, err)
	}
	return nil
}

// GetAction retrieves an action by id.
func (s *Store) GetAction(ctx context.Context, id uuid.UUID) (*txn.Record, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, selectAction+` WHERE id = $1`, pgtype.UUID{Bytes: id, Valid: true})
	rec, err := scanAction(row)
	s.record("get", start, err)
	return rec, err
}

// GetActionByHash retrieves the action that produced a transaction.
func (s *Store) GetActionByHash(ctx context.Context, hash string) (*txn.Record, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, selectAction+` WHERE tx_hash = $1 ORDER BY created_at DESC LIMIT 1`, hash)
	rec, err := scanAction(row)
	s.record("get_by_hash", start, err)
	return rec, err
}

// ListActionsByAccount returns an account's actions, most recent first.
func (s *Store) ListActionsByAccount(ctx context.Context, params ListActionsParams) ([]*txn.Record, error) {
	start := time.Now()
	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx, selectAction+`
WHERE account = $1 AND ($2 = '' OR kind = $2)
ORDER BY created_at DESC
LIMIT $3 OFFSET $4`,
		strings.ToLower(params.Account), string(params.Kind), limit, params.Offset)
	if err != nil {
		s.record("list", start, err)
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	defer rows.Close()

	var records []*txn.Record
	for rows.Next() {
		rec, err := scanAction(rows)
		if err != nil {
			s.record("list", start, err)
			return nil, err
		}
		records = append(records, rec)
	}
	err = rows.Err()
	s.record("list", start, err)
	return records, err
}

// CountActionsByAccount counts an account's actions.
func (s *Store) CountActionsByAccount(ctx context.Context, account string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM actions WHERE account = $1`, strings.ToLower(account)).Scan(&n)
	return n, err
}

// DeleteActionsOlderThan removes finished actions created before the cutoff.
func (s *Store) DeleteActionsOlderThan(ctx context.Context, before time.Time) (int64, error) {
	start := time.Now()
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM actions WHERE created_at < $1 AND phase IN ($2, $3)`,
		pgtype.Timestamptz{Time: before, Valid: true},
		string(txn.PhaseSucceeded), string(txn.PhaseFailed),
	)
	s.record("delete", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to delete actions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) record(op string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	if errors.Is(err, ErrNotFound) {
		err = nil
	}
	s.metrics.RecordDBQuery(op, actionsTable, time.Since(start).Seconds(), err)
}

func scanAction(row pgx.Row) (*txn.Record, error) {
	var (
		id         pgtype.UUID
		kind       string
		account    string
		phase      string
		txHash     pgtype.Text
		errText    pgtype.Text
		paramsJSON []byte
		block      pgtype.Int8
		createdAt  pgtype.Timestamptz
		updatedAt  pgtype.Timestamptz
	)
	err := row.Scan(&id, &kind, &account, &phase, &txHash, &errText, &paramsJSON, &block, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan action: %w", err)
	}

	rec := &txn.Record{
		ID:        id.Bytes,
		Kind:      txn.Kind(kind),
		Account:   account,
		Phase:     txn.Phase(phase),
		TxHash:    txHash.String,
		Error:     errText.String,
		CreatedAt: createdAt.Time,
		UpdatedAt: updatedAt.Time,
	}
	if block.Valid {
		rec.Block = uint64(block.Int64)
	}
	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &rec.Params); err != nil {
			return nil, fmt.Errorf("failed to decode params: %w", err)
		}
	}
	return rec, nil
}

func pgtextFromString(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

func pgint8FromBlock(b uint64) pgtype.Int8 {
	if b == 0 {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: int64(b), Valid: true}
}
