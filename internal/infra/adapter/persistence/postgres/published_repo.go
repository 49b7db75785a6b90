// Package postgres implements the repository contracts over PostgreSQL
// using database/sql with the pgx stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"mirrorpost/internal/domain/entity"
	"mirrorpost/internal/repository"
)

type PublishedRepo struct{ db *sql.DB }

func NewPublishedRepo(db *sql.DB) repository.PublishedRepository {
	return &PublishedRepo{db: db}
}

func (repo *PublishedRepo) Published(ctx context.Context, sourceID, postID string) (bool, error) {
	const query = `
SELECT EXISTS (
  SELECT 1 FROM published_posts WHERE source_id = $1 AND post_id = $2
)`
	var exists bool
	if err := repo.db.QueryRowContext(ctx, query, sourceID, postID).Scan(&exists); err != nil {
		return false, fmt.Errorf("Published: %w", err)
	}
	return exists, nil
}

func (repo *PublishedRepo) MarkPublished(ctx context.Context, row *entity.PublishedPost) error {
	const query = `
INSERT INTO published_posts (source_id, post_id, post_url, target_status_id, platform_uri, published_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (source_id, post_id) DO NOTHING`
	publishedAt := row.PublishedAt
	if publishedAt.IsZero() {
		publishedAt = time.Now().UTC()
	}
	_, err := repo.db.ExecContext(ctx, query,
		row.SourceID, row.PostID, row.PostURL, row.TargetStatusID, row.PlatformURI, publishedAt)
	if err != nil {
		return fmt.Errorf("MarkPublished: %w", err)
	}
	return nil
}

func (repo *PublishedRepo) FindByPlatformURI(ctx context.Context, sourceID, uri string) (*entity.PublishedPost, error) {
	const query = `
SELECT source_id, post_id, post_url, target_status_id, platform_uri, published_at
FROM published_posts
WHERE source_id = $1 AND platform_uri = $2
LIMIT 1`
	return repo.queryOne(ctx, query, "FindByPlatformURI", sourceID, uri)
}

func (repo *PublishedRepo) FindByPostID(ctx context.Context, sourceID, postID string) (*entity.PublishedPost, error) {
	const query = `
SELECT source_id, post_id, post_url, target_status_id, platform_uri, published_at
FROM published_posts
WHERE source_id = $1 AND post_id = $2
LIMIT 1`
	return repo.queryOne(ctx, query, "FindByPostID", sourceID, postID)
}

func (repo *PublishedRepo) queryOne(ctx context.Context, query, op string, args ...any) (*entity.PublishedPost, error) {
	var row entity.PublishedPost
	err := repo.db.QueryRowContext(ctx, query, args...).Scan(
		&row.SourceID, &row.PostID, &row.PostURL, &row.TargetStatusID, &row.PlatformURI, &row.PublishedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &row, nil
}
