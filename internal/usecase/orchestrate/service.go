// Package orchestrate drives the pull path: it selects due sources,
// fetches their posts through the adapters, and feeds each post through
// the pipeline, one source at a time.
package orchestrate

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"mirrorpost/internal/domain/entity"
	"mirrorpost/internal/infra/adapter"
	"mirrorpost/internal/observability/metrics"
	"mirrorpost/internal/repository"
	"mirrorpost/internal/usecase/pipeline"
)

// fetchLimit caps how many posts one check may process.
const fetchLimit = 20

// AdapterFactory builds the adapter for a source.
type AdapterFactory interface {
	AdapterFor(cfg *entity.SourceConfig) (adapter.Adapter, error)
}

// PostProcessor runs one post through the pipeline.
type PostProcessor interface {
	Process(ctx context.Context, cfg *entity.SourceConfig, post *entity.Post) pipeline.Result
}

// Service is one orchestrator run over the configured sources.
type Service struct {
	Sources  []*entity.SourceConfig
	States   repository.SourceStateRepository
	Activity repository.ActivityRepository
	Adapters AdapterFactory
	Pipeline PostProcessor
	Logger   *slog.Logger
	Now      func() time.Time
}

// RunStats summarises one orchestrator run.
type RunStats struct {
	Sources     int
	Checked     int
	Published   int
	Skipped     int
	Errors      int
	Interrupted bool
	Duration    time.Duration
}

// Run iterates the due sources sequentially. The soft channel requests
// a graceful stop: the source currently being processed finishes, the
// rest are skipped and Interrupted is set.
func (s *Service) Run(ctx context.Context, soft <-chan struct{}) (*RunStats, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	start := now()
	stats := &RunStats{Sources: len(s.Sources)}

	for _, cfg := range s.staleOrder(ctx) {
		select {
		case <-soft:
			stats.Interrupted = true
		case <-ctx.Done():
			stats.Interrupted = true
		default:
		}
		if stats.Interrupted {
			logger.Info("graceful shutdown requested, skipping remaining sources")
			break
		}

		if !cfg.Enabled {
			continue
		}
		if err := s.processSource(ctx, cfg, stats, logger, now); err != nil {
			return stats, err
		}
	}

	stats.Duration = now().Sub(start)
	logger.Info("orchestrator run completed",
		slog.Int("sources", stats.Sources),
		slog.Int("checked", stats.Checked),
		slog.Int("published", stats.Published),
		slog.Int("skipped", stats.Skipped),
		slog.Int("errors", stats.Errors),
		slog.Bool("interrupted", stats.Interrupted),
		slog.Duration("duration", stats.Duration))
	return stats, nil
}

func (s *Service) processSource(ctx context.Context, cfg *entity.SourceConfig, stats *RunStats, logger *slog.Logger, now func() time.Time) error {
	state, err := s.States.Get(ctx, cfg.ID)
	if err != nil {
		// The store being down aborts the run; nothing downstream works
		// without it.
		return &entity.StateError{Op: "get source state", Err: err}
	}
	if state.DisabledAt != nil {
		return nil
	}
	if !due(state, cfg.Priority, now()) {
		return nil
	}

	// Upstream maintenance windows: record the skip, touch nothing else.
	if cfg.InSkipWindow(now()) {
		s.logActivity(ctx, cfg.ID, entity.ActionSkip, map[string]any{"reason": "skip_hours"})
		return nil
	}

	stats.Checked++
	source, err := s.Adapters.AdapterFor(cfg)
	if err != nil {
		stats.Errors++
		logger.Error("no adapter for source",
			slog.String("source_id", cfg.ID), slog.Any("error", err))
		return nil
	}

	var since time.Time
	if state.LastSuccess != nil {
		since = *state.LastSuccess
	}

	fetchStart := now()
	posts, err := source.Fetch(ctx, since, fetchLimit)
	metrics.RecordAdapterFetch(string(cfg.Platform), now().Sub(fetchStart))
	if err != nil {
		if entity.IsTransient(err) {
			// Transient upstream failures never touch the error budget.
			metrics.RecordAdapterFetchError(string(cfg.Platform), "transient")
			s.logActivity(ctx, cfg.ID, entity.ActionTransientError, map[string]any{"error": err.Error()})
			return nil
		}
		stats.Errors++
		metrics.RecordAdapterFetchError(string(cfg.Platform), "fetch_failed")
		logger.Warn("source fetch failed",
			slog.String("source_id", cfg.ID), slog.Any("error", err))
		if markErr := s.States.MarkCheckError(ctx, cfg.ID, err.Error()); markErr != nil {
			logger.Error("failed to record check error", slog.Any("error", markErr))
		}
		return nil
	}

	s.logActivity(ctx, cfg.ID, entity.ActionFetch, map[string]any{"posts": len(posts)})

	published := 0
	for _, post := range posts {
		p := post
		result := s.Pipeline.Process(ctx, cfg, &p)
		switch result.Outcome {
		case pipeline.OutcomePublished, pipeline.OutcomeUpdated:
			published++
			stats.Published++
		case pipeline.OutcomeSkipped:
			stats.Skipped++
		case pipeline.OutcomeFailed:
			stats.Errors++
		}
	}

	if published == 0 {
		// Stamp the check even when nothing new arrived.
		if err := s.States.MarkCheckSuccess(ctx, cfg.ID, 0); err != nil {
			logger.Error("failed to stamp check",
				slog.String("source_id", cfg.ID), slog.Any("error", err))
		}
	}

	logger.Info("source check completed",
		slog.String("source_id", cfg.ID),
		slog.Int("fetched", len(posts)),
		slog.Int("published", published))
	return nil
}

// staleOrder sorts the configured sources by how stale the store says
// they are: never-checked sources first, then oldest last_check first.
// The per-priority due() check still decides what actually runs.
func (s *Service) staleOrder(ctx context.Context) []*entity.SourceConfig {
	rank := map[string]int{}
	if stale, err := s.States.DueForCheck(ctx, entity.PriorityHigh.Interval(), len(s.Sources)); err == nil {
		for i, st := range stale {
			rank[st.SourceID] = i + 1
		}
	}

	sorted := append([]*entity.SourceConfig(nil), s.Sources...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return rankOf(rank, sorted[i].ID) < rankOf(rank, sorted[j].ID)
	})
	return sorted
}

// rankOf places sources without a state row (never checked) ahead of
// everything the store already knows about.
func rankOf(rank map[string]int, id string) int {
	if r, ok := rank[id]; ok {
		return r
	}
	return 0
}

// due reports whether a source's priority-derived interval has elapsed.
func due(state *entity.SourceState, priority entity.Priority, now time.Time) bool {
	if state.LastCheck == nil {
		return true
	}
	return now.Sub(*state.LastCheck) >= priority.Interval()
}

func (s *Service) logActivity(ctx context.Context, sourceID string, action entity.ActivityAction, details map[string]any) {
	if s.Activity == nil {
		return
	}
	if err := s.Activity.Log(ctx, &entity.ActivityEntry{SourceID: sourceID, Action: action, Details: details}); err != nil {
		slog.Default().Warn("activity log write failed", slog.Any("error", err))
	}
}

// DefaultAdapterFactory builds the real platform adapters over one
// shared HTTP client.
type DefaultAdapterFactory struct {
	Client *http.Client
}

// AdapterFor returns the adapter matching the source's platform. The
// twitter pull path has no adapter: twitter sources are fed exclusively
// by the webhook queue.
func (f *DefaultAdapterFactory) AdapterFor(cfg *entity.SourceConfig) (adapter.Adapter, error) {
	client := f.Client
	if client == nil {
		client = adapter.NewHTTPClient()
	}
	switch cfg.Platform {
	case entity.PlatformRSS:
		return adapter.NewRSSAdapter(cfg, client), nil
	case entity.PlatformYouTube:
		return adapter.NewYouTubeAdapter(cfg, client), nil
	case entity.PlatformBluesky:
		return adapter.NewBlueskyAdapter(cfg, client), nil
	default:
		return nil, fmt.Errorf("platform %s has no pull adapter", cfg.Platform)
	}
}
