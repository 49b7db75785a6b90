// Package adapter implements the per-platform fetchers that turn a
// source configuration into a finite, ordered list of normalised posts.
// Each adapter is a concrete type satisfying the Adapter interface.
// The RSS adapter and the scraper-bridge client wrap their network calls
// in the shared retry and circuit-breaker presets; the YouTube, Bluesky
// and embed-service fetchers do not use them.
package adapter

import (
	"context"
	"net"
	"net/http"
	"time"

	"mirrorpost/internal/domain/entity"
)

// Adapter fetches posts for one configured source.
type Adapter interface {
	// Platform names the upstream platform.
	Platform() entity.Platform

	// Fetch returns posts published after since, oldest first, at most
	// limit entries. A zero since disables the filter; limit <= 0 means
	// no cap.
	Fetch(ctx context.Context, since time.Time, limit int) ([]entity.Post, error)
}

// NewHTTPClient returns the HTTP client adapters use: explicit dial and
// overall timeouts so a dead upstream can never hang a source.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 20 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: 8 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   8 * time.Second,
			ResponseHeaderTimeout: 10 * time.Second,
			MaxIdleConnsPerHost:   4,
		},
	}
}

// filterSince drops posts published at or before since and caps the
// result, preserving the incoming order.
func filterSince(posts []entity.Post, since time.Time, limit int) []entity.Post {
	out := make([]entity.Post, 0, len(posts))
	for _, p := range posts {
		if !since.IsZero() && !p.PublishedAt.After(since) {
			continue
		}
		out = append(out, p)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
