package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"mirrorpost/internal/domain/entity"
	"mirrorpost/internal/repository"
)

type EditBufferRepo struct{ db *sql.DB }

func NewEditBufferRepo(db *sql.DB) repository.EditBufferRepository {
	return &EditBufferRepo{db: db}
}

func (repo *EditBufferRepo) Add(ctx context.Context, row *entity.EditBufferEntry) error {
	const query = `
INSERT INTO edit_buffer (source_id, post_id, username, text_normalized, text_hash, target_status_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (source_id, post_id) DO UPDATE SET
  username         = EXCLUDED.username,
  text_normalized  = EXCLUDED.text_normalized,
  text_hash        = EXCLUDED.text_hash,
  target_status_id = EXCLUDED.target_status_id,
  created_at       = EXCLUDED.created_at`
	createdAt := row.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := repo.db.ExecContext(ctx, query,
		row.SourceID, row.PostID, row.Username, row.TextNormalized, row.TextHash, row.TargetStatusID, createdAt)
	if err != nil {
		return fmt.Errorf("Add: %w", err)
	}
	return nil
}

func (repo *EditBufferRepo) FindByTextHash(ctx context.Context, username, hash string) (*entity.EditBufferEntry, error) {
	const query = `
SELECT source_id, post_id, username, text_normalized, text_hash, target_status_id, created_at
FROM edit_buffer
WHERE username = $1 AND text_hash = $2 AND created_at > $3
ORDER BY created_at DESC
LIMIT 1`
	cutoff := time.Now().UTC().Add(-entity.EditWindow)
	var row entity.EditBufferEntry
	err := repo.db.QueryRowContext(ctx, query, username, hash, cutoff).Scan(
		&row.SourceID, &row.PostID, &row.Username, &row.TextNormalized,
		&row.TextHash, &row.TargetStatusID, &row.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FindByTextHash: %w", err)
	}
	return &row, nil
}

func (repo *EditBufferRepo) Cleanup(ctx context.Context) (int64, error) {
	const query = `DELETE FROM edit_buffer WHERE created_at < $1`
	cutoff := time.Now().UTC().Add(-entity.EditBufferRetention)
	res, err := repo.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("Cleanup: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("Cleanup: rows affected: %w", err)
	}
	return n, nil
}
