package upload

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Repository is the durable store behind uploads: the single pending-upload
// slot, the chunk queue of the retry agent and agent-wide settings.
type Repository interface {
	GetPending(ctx context.Context) (*PendingUploadRecord, error)
	SavePending(ctx context.Context, rec *PendingUploadRecord) error
	// UpdatePendingProgress writes uploaded only if the slot still holds
	// sessionID. It reports whether the write happened.
	UpdatePendingProgress(ctx context.Context, sessionID string, uploaded int64) (bool, error)
	ClearPending(ctx context.Context, sessionID string) error
	DiscardPending(ctx context.Context) error

	EnqueueChunks(ctx context.Context, chunks []*QueuedChunk) error
	ListQueuedSessions(ctx context.Context) ([]QueueSummary, error)
	ClaimQueuedChunks(ctx context.Context, sessionID string) ([]*QueuedChunk, error)
	ReleaseQueuedChunks(ctx context.Context, sessionID string) error
	RecordChunkFailure(ctx context.Context, id int64, errMsg string) error
	DeleteQueuedChunk(ctx context.Context, id int64) error
	DeleteQueuedChunks(ctx context.Context, sessionID string) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) GetPending(ctx context.Context) (*PendingUploadRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT session_id, filename, total_size, uploaded_size, source_path, updated_at
		FROM pending_upload WHERE slot = 1
	`)

	var p PendingUploadRecord
	var sourcePath sql.NullString
	var updatedAt string
	err := row.Scan(&p.SessionID, &p.Filename, &p.TotalSize, &p.UploadedSize, &sourcePath, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.SourcePath = sourcePath.String
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &p, nil
}

func (r *SQLiteRepository) SavePending(ctx context.Context, p *PendingUploadRecord) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pending_upload (slot, session_id, filename, total_size, uploaded_size, source_path, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET
			session_id = excluded.session_id,
			filename = excluded.filename,
			total_size = excluded.total_size,
			uploaded_size = excluded.uploaded_size,
			source_path = excluded.source_path,
			updated_at = excluded.updated_at
	`, p.SessionID, p.Filename, p.TotalSize, p.UploadedSize, nullString(p.SourcePath), p.UpdatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) UpdatePendingProgress(ctx context.Context, sessionID string, uploaded int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE pending_upload SET uploaded_size = ?, updated_at = ?
		WHERE slot = 1 AND session_id = ?
	`, uploaded, time.Now().UTC().Format(time.RFC3339), sessionID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *SQLiteRepository) ClearPending(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM pending_upload WHERE slot = 1 AND session_id = ?", sessionID)
	return err
}

func (r *SQLiteRepository) DiscardPending(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM pending_upload")
	return err
}

func (r *SQLiteRepository) EnqueueChunks(ctx context.Context, chunks []*QueuedChunk) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO queued_chunks (session_id, chunk_offset, size, total_size, source_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, chunk_offset) DO NOTHING
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, c := range chunks {
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		if _, err := stmt.ExecContext(ctx, c.SessionID, c.Offset, c.Size, c.TotalSize, c.SourcePath, c.CreatedAt.Format(time.RFC3339)); err != nil {
			return fmt.Errorf("enqueue chunk at offset %d: %w", c.Offset, err)
		}
	}
	return tx.Commit()
}

func (r *SQLiteRepository) ListQueuedSessions(ctx context.Context) ([]QueueSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT session_id, COUNT(*), COALESCE(SUM(size), 0)
		FROM queued_chunks GROUP BY session_id ORDER BY MIN(created_at), session_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QueueSummary
	for rows.Next() {
		var s QueueSummary
		if err := rows.Scan(&s.SessionID, &s.Chunks, &s.Bytes); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ClaimQueuedChunks marks the unclaimed chunks of a session as owned by the
// caller and returns them in ascending offset order.
func (r *SQLiteRepository) ClaimQueuedChunks(ctx context.Context, sessionID string) ([]*QueuedChunk, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, session_id, chunk_offset, size, total_size, source_path, attempts, last_error, created_at
		FROM queued_chunks WHERE session_id = ? AND claimed_at IS NULL
		ORDER BY chunk_offset ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}

	var chunks []*QueuedChunk
	for rows.Next() {
		var c QueuedChunk
		var lastErr sql.NullString
		var createdAt string
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Offset, &c.Size, &c.TotalSize, &c.SourcePath, &c.Attempts, &lastErr, &createdAt); err != nil {
			rows.Close()
			return nil, err
		}
		c.LastError = lastErr.String
		c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		chunks = append(chunks, &c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE queued_chunks SET claimed_at = ? WHERE session_id = ? AND claimed_at IS NULL
	`, time.Now().UTC().Format(time.RFC3339), sessionID); err != nil {
		return nil, err
	}

	return chunks, tx.Commit()
}

func (r *SQLiteRepository) ReleaseQueuedChunks(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx, "UPDATE queued_chunks SET claimed_at = NULL WHERE session_id = ?", sessionID)
	return err
}

func (r *SQLiteRepository) RecordChunkFailure(ctx context.Context, id int64, errMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE queued_chunks SET attempts = attempts + 1, last_error = ? WHERE id = ?
	`, nullString(errMsg), id)
	return err
}

func (r *SQLiteRepository) DeleteQueuedChunk(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM queued_chunks WHERE id = ?", id)
	return err
}

func (r *SQLiteRepository) DeleteQueuedChunks(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM queued_chunks WHERE session_id = ?", sessionID)
	return err
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
