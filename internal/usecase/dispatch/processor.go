// Package dispatch drains the durable webhook queue: it resolves each
// job's source, rebuilds the full post through the tier engine and runs
// it through the pipeline, honouring priority-based batching and
// thread-aware ordering.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"mirrorpost/internal/domain/entity"
	"mirrorpost/internal/infra/queue"
	"mirrorpost/internal/observability/metrics"
	"mirrorpost/internal/usecase/pipeline"
	"mirrorpost/internal/usecase/tier"
)

// Batching bounds for normal/low priority jobs.
const (
	// BatchDelay is the minimum age before a normal/low job is handled;
	// it lets thread replies accumulate so ordering is deterministic.
	BatchDelay = 120 * time.Second
	// MaxAge bounds lateness: once the oldest job passes it, the whole
	// backlog is drained regardless of BatchDelay.
	MaxAge = 1800 * time.Second
)

// SourceResolver maps a webhook username or bot id onto a source
// config. It returns a non-nil error for unknown identities.
type SourceResolver interface {
	ResolveSource(username, botID string) (*entity.SourceConfig, error)
}

// PostBuilder rebuilds a complete post from a payload (the tier
// engine).
type PostBuilder interface {
	BuildPost(ctx context.Context, cfg *entity.SourceConfig, payload tier.Payload) (*entity.Post, error)
}

// PostProcessor runs one post through the pipeline.
type PostProcessor interface {
	Process(ctx context.Context, cfg *entity.SourceConfig, post *entity.Post) pipeline.Result
}

// Processor drains one environment's queue.
type Processor struct {
	Queue    *queue.Queue
	Env      string
	Sources  SourceResolver
	Engine   PostBuilder
	Pipeline PostProcessor
	Logger   *slog.Logger
	Now      func() time.Time
}

// RunStats summarises one processor pass.
type RunStats struct {
	Handled   int
	Published int
	Failed    int
	Deferred  int
}

// Run performs one processor pass. The caller holds the queue lock.
func (p *Processor) Run(ctx context.Context) (*RunStats, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}

	pending, err := p.Queue.Pending()
	if err != nil {
		return nil, fmt.Errorf("read pending queue: %w", err)
	}
	stats := &RunStats{}
	if len(pending) == 0 {
		return stats, nil
	}

	type resolved struct {
		file queue.File
		cfg  *entity.SourceConfig
	}
	var immediate, batch []resolved

	for _, file := range pending {
		if file.Job.Username == "" && file.Job.BotID == "" {
			p.fail(file, "invalid JSON", stats, logger)
			continue
		}
		cfg, err := p.Sources.ResolveSource(file.Job.Username, file.Job.BotID)
		if err != nil {
			reason := "no config found"
			if file.Job.BotID != "" {
				reason = fmt.Sprintf("unknown bot_id %q", file.Job.BotID)
			}
			p.fail(file, reason, stats, logger)
			continue
		}

		if cfg.Priority == entity.PriorityHigh {
			immediate = append(immediate, resolved{file, cfg})
		} else {
			batch = append(batch, resolved{file, cfg})
		}
	}

	// High priority: one at a time, in enqueue order.
	for _, item := range immediate {
		p.handle(ctx, item.file, item.cfg, stats, logger)
	}

	// Normal/low: only once aged past BatchDelay, or everything once the
	// oldest job passes MaxAge.
	current := now()
	drainAll := false
	for _, item := range batch {
		if item.file.Age(current) >= MaxAge {
			drainAll = true
			break
		}
	}

	eligible := make([]resolved, 0, len(batch))
	for _, item := range batch {
		if drainAll || item.file.Age(current) >= BatchDelay {
			eligible = append(eligible, item)
			continue
		}
		stats.Deferred++
	}

	// Same source + author sorted by ascending post id so thread replies
	// find their parent.
	sort.SliceStable(eligible, func(i, j int) bool {
		ki := eligible[i].cfg.ID + "|" + eligible[i].file.Job.Username
		kj := eligible[j].cfg.ID + "|" + eligible[j].file.Job.Username
		if ki != kj {
			return ki < kj
		}
		return postIDLess(eligible[i].file.Job.PostID, eligible[j].file.Job.PostID)
	})

	for _, item := range eligible {
		p.handle(ctx, item.file, item.cfg, stats, logger)
	}

	return stats, nil
}

func postIDLess(a, b string) bool {
	na, errA := strconv.ParseUint(a, 10, 64)
	nb, errB := strconv.ParseUint(b, 10, 64)
	if errA == nil && errB == nil {
		return na < nb
	}
	return a < b
}

func (p *Processor) handle(ctx context.Context, file queue.File, cfg *entity.SourceConfig, stats *RunStats, logger *slog.Logger) {
	stats.Handled++
	priority := string(cfg.Priority)

	payload := tier.NormalizePayload(file.Job.Payload, cfg)
	post, err := p.Engine.BuildPost(ctx, cfg, payload)
	if err != nil {
		p.failHandled(file, fmt.Sprintf("tier engine: %v", err), priority, stats, logger)
		return
	}

	result := p.Pipeline.Process(ctx, cfg, post)
	switch result.Outcome {
	case pipeline.OutcomePublished, pipeline.OutcomeUpdated, pipeline.OutcomeSkipped:
		if err := p.Queue.MarkProcessed(file.Name); err != nil {
			logger.Error("failed to mark job processed",
				slog.String("file", file.Name), slog.Any("error", err))
		}
		if result.Outcome != pipeline.OutcomeSkipped {
			stats.Published++
		}
		metrics.RecordQueueJob(priority, string(result.Outcome))
	case pipeline.OutcomeFailed:
		p.failHandled(file, result.Reason, priority, stats, logger)
	}
}

func (p *Processor) fail(file queue.File, reason string, stats *RunStats, logger *slog.Logger) {
	stats.Handled++
	stats.Failed++
	metrics.RecordQueueJob("unknown", "failed")
	logger.Warn("queue job failed",
		slog.String("file", file.Name), slog.String("reason", reason))
	if err := p.Queue.MarkFailed(file.Name, reason); err != nil {
		logger.Error("failed to move job to failed",
			slog.String("file", file.Name), slog.Any("error", err))
	}
}

func (p *Processor) failHandled(file queue.File, reason, priority string, stats *RunStats, logger *slog.Logger) {
	stats.Failed++
	metrics.RecordQueueJob(priority, "failed")
	logger.Warn("queue job failed",
		slog.String("file", file.Name), slog.String("reason", reason))
	if err := p.Queue.MarkFailed(file.Name, reason); err != nil {
		logger.Error("failed to move job to failed",
			slog.String("file", file.Name), slog.Any("error", err))
	}
}
