package repository

import (
	"context"
	"time"

	"mirrorpost/internal/domain/entity"
)

// SourceStateRepository tracks per-source scheduling state.
type SourceStateRepository interface {
	// Get returns the state row for sourceID, creating a zero row on
	// first use.
	Get(ctx context.Context, sourceID string) (*entity.SourceState, error)

	// MarkCheckSuccess stamps last_check/last_success and adds
	// postsPublished to the daily counter, resetting it on day rollover.
	MarkCheckSuccess(ctx context.Context, sourceID string, postsPublished int) error

	// MarkCheckError stamps last_check, records msg and increments
	// error_count.
	MarkCheckError(ctx context.Context, sourceID, msg string) error

	// DueForCheck returns enabled sources whose last_check is older than
	// interval, oldest first, at most limit rows.
	DueForCheck(ctx context.Context, interval time.Duration, limit int) ([]*entity.SourceState, error)
}

// ActivityRepository is the append-only activity log.
type ActivityRepository interface {
	Log(ctx context.Context, entry *entity.ActivityEntry) error
}
