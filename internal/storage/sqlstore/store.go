// Package sqlstore implements the storage interface on MySQL.
//
// All writes go through a bounded exponential-backoff retry for transient
// connectivity errors; reads use a shorter budget. Exhausted retries surface
// storage.ErrUnavailable so the caller's queue can apply its own policy.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/Mobizinc/changegate/internal/storage"
	"github.com/Mobizinc/changegate/internal/types"
)

// SQLStore persists validation requests in a MySQL database.
type SQLStore struct {
	db *sql.DB
}

var _ storage.Store = (*SQLStore)(nil)

// Open connects to MySQL using a go-sql-driver DSN and ensures the schema
// exists. The DSN must include parseTime=true; it is appended if absent.
func Open(ctx context.Context, dsn string) (*SQLStore, error) {
	if !strings.Contains(dsn, "parseTime=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "parseTime=true"
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &SQLStore{db: db}
	if err := withRetry(ctx, newWriteBackoff(), func() error {
		return db.PingContext(ctx)
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	if _, err := s.execContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

// execContext wraps db.ExecContext with write retry for transient errors.
func (s *SQLStore) execContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var result sql.Result
	err := withRetry(ctx, newWriteBackoff(), func() error {
		var execErr error
		result, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return result, err
}

// queryRowScan wraps a single-row query with read retry.
func (s *SQLStore) queryRowScan(ctx context.Context, query string, args []any, scan func(*sql.Row) error) error {
	return withRetry(ctx, newReadBackoff(), func() error {
		return scan(s.db.QueryRowContext(ctx, query, args...))
	})
}

const selectColumns = `id, change_id, change_number, component_type, component_id,
	raw_payload, request_signature, requested_by, status, verdict, failure_reason,
	processing_duration_ms, retry_count, created_at, updated_at, processed_at`

// Create inserts a new request. A duplicate change_id violates the unique key
// and maps to storage.ErrConflict.
func (s *SQLStore) Create(ctx context.Context, req *types.ValidationRequest) error {
	now := time.Now().UTC()
	createdAt := req.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	var rawPayload any
	if len(req.RawPayload) > 0 {
		rawPayload = []byte(req.RawPayload)
	}

	_, err := s.execContext(ctx, `
		INSERT INTO validation_requests (
			id, change_id, change_number, component_type, component_id,
			raw_payload, request_signature, requested_by, status,
			retry_count, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.ChangeID, req.ChangeNumber, req.ComponentType, req.ComponentID,
		rawPayload, req.RequestSignature, req.RequestedBy, string(req.Status),
		req.RetryCount, createdAt, now,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrConflict
		}
		return err
	}
	return nil
}

// GetByChangeID returns the stored request for a change, or ErrNotFound.
func (s *SQLStore) GetByChangeID(ctx context.Context, changeID string) (*types.ValidationRequest, error) {
	var req *types.ValidationRequest
	err := s.queryRowScan(ctx,
		`SELECT `+selectColumns+` FROM validation_requests WHERE change_id = ?`,
		[]any{changeID},
		func(row *sql.Row) error {
			var scanErr error
			req, scanErr = scanRequest(row)
			return scanErr
		})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// MarkProcessing transitions received->processing or failed->processing
// (retry). The WHERE clause enforces monotonicity; when no row matches, the
// current row is returned unchanged.
func (s *SQLStore) MarkProcessing(ctx context.Context, changeID string) (*types.ValidationRequest, error) {
	now := time.Now().UTC()

	// Retry path first: increments retry_count and clears the old reason.
	res, err := s.execContext(ctx, `
		UPDATE validation_requests
		SET status = ?, retry_count = retry_count + 1, failure_reason = NULL, updated_at = ?
		WHERE change_id = ? AND status = ?`,
		string(types.StatusProcessing), now, changeID, string(types.StatusFailed),
	)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_, err = s.execContext(ctx, `
			UPDATE validation_requests
			SET status = ?, updated_at = ?
			WHERE change_id = ? AND status = ?`,
			string(types.StatusProcessing), now, changeID, string(types.StatusReceived),
		)
		if err != nil {
			return nil, err
		}
	}
	return s.GetByChangeID(ctx, changeID)
}

// MarkCompleted attaches the verdict. No-op when the row is already terminal.
func (s *SQLStore) MarkCompleted(ctx context.Context, changeID string, verdict *types.Verdict, durationMs int64) (*types.ValidationRequest, error) {
	verdictJSON, err := json.Marshal(verdict)
	if err != nil {
		return nil, fmt.Errorf("marshal verdict: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.execContext(ctx, `
		UPDATE validation_requests
		SET status = ?, verdict = ?, failure_reason = NULL,
		    processing_duration_ms = ?, processed_at = ?, updated_at = ?
		WHERE change_id = ? AND status NOT IN (?, ?)`,
		string(types.StatusCompleted), verdictJSON, durationMs, now, now,
		changeID, string(types.StatusCompleted), string(types.StatusFailed),
	)
	if err != nil {
		return nil, err
	}
	return s.GetByChangeID(ctx, changeID)
}

// MarkFailed records the failure reason. No-op when the row is already terminal.
func (s *SQLStore) MarkFailed(ctx context.Context, changeID string, reason string) (*types.ValidationRequest, error) {
	now := time.Now().UTC()
	_, err := s.execContext(ctx, `
		UPDATE validation_requests
		SET status = ?, failure_reason = ?, verdict = NULL, processed_at = ?, updated_at = ?
		WHERE change_id = ? AND status NOT IN (?, ?)`,
		string(types.StatusFailed), reason, now, now,
		changeID, string(types.StatusCompleted), string(types.StatusFailed),
	)
	if err != nil {
		return nil, err
	}
	return s.GetByChangeID(ctx, changeID)
}

// ListRecent returns the most recently updated requests, newest first.
func (s *SQLStore) ListRecent(ctx context.Context, limit int) ([]*types.ValidationRequest, error) {
	if limit <= 0 {
		limit = 20
	}

	var out []*types.ValidationRequest
	err := withRetry(ctx, newReadBackoff(), func() error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+selectColumns+` FROM validation_requests ORDER BY updated_at DESC LIMIT ?`, limit)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		out = out[:0]
		for rows.Next() {
			req, err := scanRequestRows(rows)
			if err != nil {
				return err
			}
			out = append(out, req)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close releases the connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// isDuplicateKeyError detects MySQL error 1062 without depending on driver
// error types (keeps the classification testable with plain errors).
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "error 1062") || strings.Contains(msg, "duplicate entry")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row *sql.Row) (*types.ValidationRequest, error) {
	req, err := scanRequestRows(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return req, err
}

func scanRequestRows(row rowScanner) (*types.ValidationRequest, error) {
	var (
		req         types.ValidationRequest
		rawPayload  sql.NullString
		verdictJSON sql.NullString
		reason      sql.NullString
		durationMs  sql.NullInt64
		processedAt sql.NullTime
		status      string
	)
	err := row.Scan(
		&req.ID, &req.ChangeID, &req.ChangeNumber, &req.ComponentType, &req.ComponentID,
		&rawPayload, &req.RequestSignature, &req.RequestedBy, &status, &verdictJSON, &reason,
		&durationMs, &req.RetryCount, &req.CreatedAt, &req.UpdatedAt, &processedAt,
	)
	if err != nil {
		return nil, err
	}

	req.Status = types.Status(status)
	if rawPayload.Valid {
		req.RawPayload = json.RawMessage(rawPayload.String)
	}
	if verdictJSON.Valid && verdictJSON.String != "" {
		var v types.Verdict
		if err := json.Unmarshal([]byte(verdictJSON.String), &v); err != nil {
			return nil, fmt.Errorf("unmarshal verdict for %s: %w", req.ChangeID, err)
		}
		req.Verdict = &v
	}
	if reason.Valid {
		req.FailureReason = reason.String
	}
	if durationMs.Valid {
		ms := durationMs.Int64
		req.ProcessingDurationMs = &ms
	}
	if processedAt.Valid {
		t := processedAt.Time
		req.ProcessedAt = &t
	}
	return &req, nil
}
