package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/reelsync/reelsync/internal/core"
)

// UpsertOperation inserts a pending operation, or replaces the payload, retry
// count, and enqueue time of the operation sharing its (url, method, sync_key)
// dedup key. A replaced operation keeps its original queue position.
func (s *Store) UpsertOperation(ctx context.Context, op core.SyncOperation) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if strings.TrimSpace(op.URL) == "" {
		return errors.New("operation url is required")
	}
	if !op.Method.Valid() {
		return fmt.Errorf("unsupported operation method: %s", op.Method)
	}
	if strings.TrimSpace(op.SyncKey) == "" {
		return errors.New("operation sync key is required")
	}

	enqueuedAt := op.EnqueuedAt
	if enqueuedAt.IsZero() {
		enqueuedAt = s.now()
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO sync_queue (op_id, url, method, sync_key, payload, enqueued_at, retry_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url, method, sync_key) DO UPDATE SET
			op_id = excluded.op_id,
			payload = excluded.payload,
			enqueued_at = excluded.enqueued_at,
			retry_count = excluded.retry_count
	`, op.ID, op.URL, string(op.Method), op.SyncKey, string(op.Payload), enqueuedAt.UTC().Unix(), op.RetryCount)
	if err != nil {
		return fmt.Errorf("enqueue operation: %w", err)
	}

	return nil
}

// ListOperations returns the pending queue in enqueue order. A structurally
// corrupt queue resets to empty rather than recovering partially.
func (s *Store) ListOperations(ctx context.Context) ([]core.SyncOperation, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	ops, err := s.scanOperations(ctx, s.DB.QueryContext)
	if err != nil {
		if errors.Is(err, errCorruptQueue) {
			if resetErr := s.ResetQueue(ctx); resetErr != nil {
				return nil, resetErr
			}
			return []core.SyncOperation{}, nil
		}
		return nil, err
	}

	return ops, nil
}

// CountOperations returns the pending queue length.
func (s *Store) CountOperations(ctx context.Context) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var count int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count operations: %w", err)
	}
	return count, nil
}

// DrainOperations atomically snapshots the queue in enqueue order and clears
// it, returning the snapshot for replay.
func (s *Store) DrainOperations(ctx context.Context) ([]core.SyncOperation, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("drain operations: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck // no-op after commit

	ops, err := s.scanOperations(ctx, tx.QueryContext)
	if err != nil && !errors.Is(err, errCorruptQueue) {
		return nil, err
	}
	corrupt := errors.Is(err, errCorruptQueue)

	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_queue`); err != nil {
		return nil, fmt.Errorf("drain operations: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("drain operations: %w", err)
	}

	if corrupt {
		return []core.SyncOperation{}, nil
	}
	return ops, nil
}

// ResetQueue discards every pending operation.
func (s *Store) ResetQueue(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := s.DB.ExecContext(ctx, `DELETE FROM sync_queue`); err != nil {
		return fmt.Errorf("reset queue: %w", err)
	}
	return nil
}

var errCorruptQueue = errors.New("sync queue is corrupt")

type queryFunc func(ctx context.Context, query string, args ...any) (*sql.Rows, error)

func (s *Store) scanOperations(ctx context.Context, query queryFunc) ([]core.SyncOperation, error) {
	rows, err := query(ctx, `
		SELECT op_id, url, method, sync_key, payload, enqueued_at, retry_count
		FROM sync_queue
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	ops := []core.SyncOperation{}
	for rows.Next() {
		var (
			opID       string
			rawURL     string
			method     string
			syncKey    string
			payload    sql.NullString
			enqueuedAt int64
			retryCount int
		)
		if err := rows.Scan(&opID, &rawURL, &method, &syncKey, &payload, &enqueuedAt, &retryCount); err != nil {
			return nil, errCorruptQueue
		}

		op := core.SyncOperation{
			ID:         opID,
			URL:        rawURL,
			Method:     core.Method(method),
			SyncKey:    syncKey,
			EnqueuedAt: time.Unix(enqueuedAt, 0).UTC(),
			RetryCount: retryCount,
		}
		if !op.Method.Valid() {
			return nil, errCorruptQueue
		}
		if payload.Valid && payload.String != "" {
			if !json.Valid([]byte(payload.String)) {
				return nil, errCorruptQueue
			}
			op.Payload = json.RawMessage(payload.String)
		}

		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}

	return ops, nil
}
