// Package repository defines the narrow store contracts the gateway
// persists through. Implementations live under
// internal/infra/adapter/persistence.
package repository

import (
	"context"

	"mirrorpost/internal/domain/entity"
)

// PublishedRepository is the dedupe index over published posts.
type PublishedRepository interface {
	// Published reports whether (sourceID, postID) was already published.
	Published(ctx context.Context, sourceID, postID string) (bool, error)

	// MarkPublished upserts the dedupe row. A second call with the same
	// key is a no-op and must not fail.
	MarkPublished(ctx context.Context, row *entity.PublishedPost) error

	// FindByPlatformURI resolves a thread parent by its AT-style URI.
	// Returns (nil, nil) when no row matches.
	FindByPlatformURI(ctx context.Context, sourceID, uri string) (*entity.PublishedPost, error)

	// FindByPostID resolves a thread parent by its platform-native id.
	// Returns (nil, nil) when no row matches.
	FindByPostID(ctx context.Context, sourceID, postID string) (*entity.PublishedPost, error)
}

// EditBufferRepository backs the edit detector.
type EditBufferRepository interface {
	// Add upserts the buffer row for (sourceID, postID).
	Add(ctx context.Context, row *entity.EditBufferEntry) error

	// FindByTextHash returns the newest row matching (username, hash)
	// within the edit window, or (nil, nil).
	FindByTextHash(ctx context.Context, username, hash string) (*entity.EditBufferEntry, error)

	// Cleanup removes rows older than the retention period and returns
	// how many were deleted.
	Cleanup(ctx context.Context) (int64, error)
}
