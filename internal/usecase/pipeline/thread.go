package pipeline

import (
	"context"

	"mirrorpost/internal/domain/entity"
	"mirrorpost/internal/repository"
)

// ThreadResolver finds the target-side parent status for a thread post.
// The in-memory cache is scoped to one orchestrator or batch run: within
// a batch, consecutive replies from the same author chain onto the
// status published moments earlier without a store round-trip.
type ThreadResolver struct {
	published repository.PublishedRepository
	cache     map[string]map[string]string // source id → username → status id
}

// NewThreadResolver creates a resolver backed by the dedupe index.
func NewThreadResolver(published repository.PublishedRepository) *ThreadResolver {
	return &ThreadResolver{
		published: published,
		cache:     make(map[string]map[string]string),
	}
}

// Resolve returns the in_reply_to status id for a thread post, or ""
// when no parent can be found (the post is published standalone).
func (r *ThreadResolver) Resolve(ctx context.Context, sourceID string, post *entity.Post) (string, error) {
	if !post.IsThreadPost {
		return "", nil
	}

	if post.ReplyTo != "" {
		var (
			row *entity.PublishedPost
			err error
		)
		if post.Platform == entity.PlatformBluesky {
			row, err = r.published.FindByPlatformURI(ctx, sourceID, post.ReplyTo)
		} else {
			row, err = r.published.FindByPostID(ctx, sourceID, post.ReplyTo)
		}
		if err != nil {
			return "", err
		}
		if row != nil {
			return row.TargetStatusID, nil
		}
	}

	// Parent not persisted yet; fall back to the last status this run
	// published for the author.
	if byUser, ok := r.cache[sourceID]; ok {
		return byUser[post.Author.Username], nil
	}
	return "", nil
}

// Remember records the most recent status published for an author so
// the next reply in the batch can chain onto it.
func (r *ThreadResolver) Remember(sourceID, username, statusID string) {
	byUser, ok := r.cache[sourceID]
	if !ok {
		byUser = make(map[string]string)
		r.cache[sourceID] = byUser
	}
	byUser[username] = statusID
}
