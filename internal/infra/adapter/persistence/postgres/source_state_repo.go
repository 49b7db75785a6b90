package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"mirrorpost/internal/domain/entity"
	"mirrorpost/internal/repository"
)

type SourceStateRepo struct{ db *sql.DB }

func NewSourceStateRepo(db *sql.DB) repository.SourceStateRepository {
	return &SourceStateRepo{db: db}
}

func (repo *SourceStateRepo) Get(ctx context.Context, sourceID string) (*entity.SourceState, error) {
	const insert = `
INSERT INTO source_states (source_id) VALUES ($1)
ON CONFLICT (source_id) DO NOTHING`
	if _, err := repo.db.ExecContext(ctx, insert, sourceID); err != nil {
		return nil, fmt.Errorf("Get: ensure row: %w", err)
	}

	const query = `
SELECT source_id, last_check, last_success, posts_today, last_reset, error_count, last_error, disabled_at
FROM source_states
WHERE source_id = $1`
	var st entity.SourceState
	var lastError sql.NullString
	err := repo.db.QueryRowContext(ctx, query, sourceID).Scan(
		&st.SourceID, &st.LastCheck, &st.LastSuccess, &st.PostsToday,
		&st.LastReset, &st.ErrorCount, &lastError, &st.DisabledAt)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	st.LastError = lastError.String
	return &st, nil
}

// MarkCheckSuccess stamps the check, resets the error budget and adds to
// the daily counter, rolling it over when the UTC day changes.
func (repo *SourceStateRepo) MarkCheckSuccess(ctx context.Context, sourceID string, postsPublished int) error {
	const query = `
INSERT INTO source_states (source_id, last_check, last_success, posts_today, last_reset, error_count, last_error)
VALUES ($1, $2, $2, $3, $2, 0, '')
ON CONFLICT (source_id) DO UPDATE SET
  last_check   = EXCLUDED.last_check,
  last_success = EXCLUDED.last_success,
  posts_today  = CASE
    WHEN source_states.last_reset IS NULL OR source_states.last_reset::date < EXCLUDED.last_check::date
    THEN EXCLUDED.posts_today
    ELSE source_states.posts_today + EXCLUDED.posts_today
  END,
  last_reset   = CASE
    WHEN source_states.last_reset IS NULL OR source_states.last_reset::date < EXCLUDED.last_check::date
    THEN EXCLUDED.last_check
    ELSE source_states.last_reset
  END,
  error_count  = 0,
  last_error   = ''`
	if _, err := repo.db.ExecContext(ctx, query, sourceID, time.Now().UTC(), postsPublished); err != nil {
		return fmt.Errorf("MarkCheckSuccess: %w", err)
	}
	return nil
}

func (repo *SourceStateRepo) MarkCheckError(ctx context.Context, sourceID, msg string) error {
	const query = `
INSERT INTO source_states (source_id, last_check, error_count, last_error)
VALUES ($1, $2, 1, $3)
ON CONFLICT (source_id) DO UPDATE SET
  last_check  = EXCLUDED.last_check,
  error_count = source_states.error_count + 1,
  last_error  = EXCLUDED.last_error`
	if _, err := repo.db.ExecContext(ctx, query, sourceID, time.Now().UTC(), msg); err != nil {
		return fmt.Errorf("MarkCheckError: %w", err)
	}
	return nil
}

func (repo *SourceStateRepo) DueForCheck(ctx context.Context, interval time.Duration, limit int) ([]*entity.SourceState, error) {
	const query = `
SELECT source_id, last_check, last_success, posts_today, last_reset, error_count, last_error, disabled_at
FROM source_states
WHERE disabled_at IS NULL
  AND (last_check IS NULL OR last_check < $1)
ORDER BY last_check ASC NULLS FIRST
LIMIT $2`
	cutoff := time.Now().UTC().Add(-interval)
	rows, err := repo.db.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("DueForCheck: %w", err)
	}
	defer func() { _ = rows.Close() }()

	states := make([]*entity.SourceState, 0, limit)
	for rows.Next() {
		var st entity.SourceState
		var lastError sql.NullString
		if err := rows.Scan(&st.SourceID, &st.LastCheck, &st.LastSuccess, &st.PostsToday,
			&st.LastReset, &st.ErrorCount, &lastError, &st.DisabledAt); err != nil {
			return nil, fmt.Errorf("DueForCheck: Scan: %w", err)
		}
		st.LastError = lastError.String
		states = append(states, &st)
	}
	return states, rows.Err()
}
