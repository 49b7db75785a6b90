// Package pipeline runs every post through the ordered stage machine:
// dedupe, edit detection, filtering, formatting, replacements, trimming,
// URL hygiene, media upload, publish, and state recording. Both the
// orchestrator pull path and the webhook push path enter here.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"mirrorpost/internal/domain/entity"
	"mirrorpost/internal/infra/publisher"
	"mirrorpost/internal/observability/metrics"
	"mirrorpost/internal/observability/tracing"
	"mirrorpost/internal/repository"
	"mirrorpost/internal/usecase/format"
	"mirrorpost/internal/utils/text"
)

// Outcome is the terminal state of one pipeline run.
type Outcome string

// Pipeline outcomes.
const (
	OutcomePublished Outcome = "published"
	OutcomeUpdated   Outcome = "updated"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Result reports what happened to one post.
type Result struct {
	Outcome  Outcome
	Reason   string
	StatusID string
	// Transient marks failures that must not count against the source's
	// error budget.
	Transient bool
}

// StatusPublisher is the slice of the publisher client the pipeline
// drives.
type StatusPublisher interface {
	UploadMedia(ctx context.Context, data []byte, filename, mimeType, altText string) (string, error)
	Publish(ctx context.Context, text string, mediaIDs []string, visibility, inReplyTo string) (*publisher.Status, error)
	UpdateStatus(ctx context.Context, statusID, text string) (*publisher.Status, error)
	DeleteStatus(ctx context.Context, statusID string) error
}

// PublisherFactory returns the client for a target account.
type PublisherFactory interface {
	ClientFor(targetAccount string) (StatusPublisher, error)
}

// MediaFetcher downloads one media URL.
type MediaFetcher interface {
	Download(ctx context.Context, url string) (data []byte, filename, mimeType string, err error)
}

// Service is the pipeline with its collaborators.
type Service struct {
	Published  repository.PublishedRepository
	States     repository.SourceStateRepository
	Activity   repository.ActivityRepository
	EditBuffer repository.EditBufferRepository
	Publishers PublisherFactory
	Media      MediaFetcher
	Threads    *ThreadResolver
	Logger     *slog.Logger
}

// NewService wires a pipeline service.
func NewService(
	published repository.PublishedRepository,
	states repository.SourceStateRepository,
	activity repository.ActivityRepository,
	editBuffer repository.EditBufferRepository,
	publishers PublisherFactory,
	media MediaFetcher,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Published:  published,
		States:     states,
		Activity:   activity,
		EditBuffer: editBuffer,
		Publishers: publishers,
		Media:      media,
		Threads:    NewThreadResolver(published),
		Logger:     logger,
	}
}

// Process runs one post through the stages. Terminal failures call
// MarkCheckError, successful publishes MarkCheckSuccess(+1); transient
// store failures are logged as transient_error and touch neither.
func (s *Service) Process(ctx context.Context, cfg *entity.SourceConfig, post *entity.Post) Result {
	ctx, span := tracing.GetTracer().Start(ctx, "pipeline.process")
	defer span.End()

	result := s.run(ctx, cfg, post)

	switch result.Outcome {
	case OutcomePublished, OutcomeUpdated:
		if err := s.States.MarkCheckSuccess(ctx, cfg.ID, 1); err != nil {
			s.Logger.Error("failed to mark check success",
				slog.String("source_id", cfg.ID), slog.Any("error", err))
		}
		s.logActivity(ctx, cfg.ID, entity.ActionPublish, map[string]any{
			"post_id": post.ID, "status_id": result.StatusID, "outcome": string(result.Outcome),
		})
	case OutcomeSkipped:
		metrics.RecordSkip(cfg.ID, result.Reason)
		s.logActivity(ctx, cfg.ID, entity.ActionSkip, map[string]any{
			"post_id": post.ID, "reason": result.Reason,
		})
	case OutcomeFailed:
		if result.Transient {
			s.logActivity(ctx, cfg.ID, entity.ActionTransientError, map[string]any{
				"post_id": post.ID, "reason": result.Reason,
			})
			break
		}
		metrics.RecordFailure(cfg.ID)
		if err := s.States.MarkCheckError(ctx, cfg.ID, result.Reason); err != nil {
			s.Logger.Error("failed to mark check error",
				slog.String("source_id", cfg.ID), slog.Any("error", err))
		}
		s.logActivity(ctx, cfg.ID, entity.ActionError, map[string]any{
			"post_id": post.ID, "reason": result.Reason,
		})
	}
	return result
}

func (s *Service) run(ctx context.Context, cfg *entity.SourceConfig, post *entity.Post) Result {
	// Stage 1: dedupe.
	published, err := s.Published.Published(ctx, cfg.ID, post.ID)
	if err != nil {
		return Result{Outcome: OutcomeFailed, Reason: fmt.Sprintf("dedupe lookup: %v", err), Transient: true}
	}
	if published {
		return Result{Outcome: OutcomeSkipped, Reason: "duplicate"}
	}

	// Stage 2: edit detection (twitter and bluesky only).
	var editTarget string
	editable := post.Platform == entity.PlatformTwitter || post.Platform == entity.PlatformBluesky
	normalized := NormalizeForHash(post.Text)
	hash := TextHash(normalized)
	if editable && normalized != "" {
		buffered, err := s.EditBuffer.FindByTextHash(ctx, post.Author.Username, hash)
		if err != nil {
			return Result{Outcome: OutcomeFailed, Reason: fmt.Sprintf("edit buffer lookup: %v", err), Transient: true}
		}
		switch decision, statusID := detectEdit(post, buffered); decision {
		case editSkipOlder:
			return Result{Outcome: OutcomeSkipped, Reason: "skip_older_version"}
		case editDuplicate:
			// Crash window repair: published but never recorded.
			s.markPublished(ctx, cfg, post, statusID)
			return Result{Outcome: OutcomeSkipped, Reason: "duplicate"}
		case editUpdate:
			editTarget = statusID
		}
	}

	// Stage 3: content filtering.
	if skip, reason := shouldSkipByKind(cfg.Filtering, post); skip {
		return Result{Outcome: OutcomeSkipped, Reason: reason}
	}
	if skip, reason := shouldSkipByRules(cfg.Filtering, post.Text); skip {
		return Result{Outcome: OutcomeSkipped, Reason: reason}
	}

	// Stages 4–7: format, replacements, trim, URL hygiene.
	formatter := format.New(cfg)
	status := formatter.Format(post)
	status = applyReplacements(status, cfg.Processing.Replacements)
	status = formatter.Trim(status)
	status = s.cleanURLs(status, cfg)

	client, err := s.Publishers.ClientFor(cfg.TargetAccount)
	if err != nil {
		return Result{Outcome: OutcomeFailed, Reason: fmt.Sprintf("no publisher for %s: %v", cfg.TargetAccount, err)}
	}

	// Edit path: text-only updates edit in place; media is immutable on
	// edit, so a new image forces delete + republish.
	if editTarget != "" {
		if len(entity.Attachable(post.Media, post.HasVideo)) == 0 {
			updated, err := client.UpdateStatus(ctx, editTarget, status)
			if err != nil {
				return s.publishFailure("update", err)
			}
			s.recordEditBuffer(ctx, cfg, post, normalized, hash, updated.ID)
			s.markPublished(ctx, cfg, post, updated.ID)
			return Result{Outcome: OutcomeUpdated, StatusID: updated.ID}
		}
		if err := client.DeleteStatus(ctx, editTarget); err != nil {
			s.Logger.Warn("delete before republish failed",
				slog.String("status_id", editTarget), slog.Any("error", err))
		}
	}

	// Stage 8: media upload.
	mediaIDs := s.uploadMedia(ctx, cfg, client, post)

	// Stage 9: publish, with the thread parent resolved.
	inReplyTo, err := s.Threads.Resolve(ctx, cfg.ID, post)
	if err != nil {
		s.Logger.Warn("thread parent lookup failed; publishing standalone",
			slog.String("source_id", cfg.ID), slog.Any("error", err))
		inReplyTo = ""
	}

	start := time.Now()
	created, err := client.Publish(ctx, status, mediaIDs, "", inReplyTo)
	if err != nil {
		return s.publishFailure("publish", err)
	}
	metrics.RecordPublish(cfg.ID, string(post.Platform), time.Since(start))
	s.Threads.Remember(cfg.ID, post.Author.Username, created.ID)

	// Stage 10: dedupe insert, only after the publish succeeded.
	s.markPublished(ctx, cfg, post, created.ID)

	// Stage 11: edit buffer insert.
	if editable {
		s.recordEditBuffer(ctx, cfg, post, normalized, hash, created.ID)
	}

	return Result{Outcome: OutcomePublished, StatusID: created.ID}
}

// cleanURLs is stage 7: tracking parameters, domain rewrites, visibly
// truncated URLs, and tail duplicates.
func (s *Service) cleanURLs(status string, cfg *entity.SourceConfig) string {
	status = text.CleanTrackingParams(status, cfg.Processing.TrackingAllowlist)
	status = text.RewriteDomains(status, cfg.Formatting.URLRewriteDomains, cfg.Formatting.URLRewriteTarget)
	status = text.DropTruncatedURLs(status)
	status = text.DedupeTrailingURLs(status)
	return strings.TrimSpace(status)
}

// uploadMedia is stage 8: at most MaxAttachments uploads, preview
// artifacts dropped when a playable video exists, and the id list
// re-capped afterwards as a safety net.
func (s *Service) uploadMedia(ctx context.Context, cfg *entity.SourceConfig, client StatusPublisher, post *entity.Post) []string {
	attachable := entity.Attachable(post.Media, post.HasVideo)
	mediaIDs := make([]string, 0, len(attachable))
	for _, m := range attachable {
		if s.Media == nil {
			break
		}
		data, filename, mimeType, err := s.Media.Download(ctx, m.URL)
		if err != nil {
			s.Logger.Warn("media download failed",
				slog.String("source_id", cfg.ID), slog.String("url", m.URL), slog.Any("error", err))
			continue
		}
		id, err := client.UploadMedia(ctx, data, filename, mimeType, m.AltText)
		if err != nil {
			s.Logger.Warn("media upload failed",
				slog.String("source_id", cfg.ID), slog.String("url", m.URL), slog.Any("error", err))
			continue
		}
		s.logActivity(ctx, cfg.ID, entity.ActionMediaUpload, map[string]any{
			"url": m.URL, "media_id": id,
		})
		mediaIDs = append(mediaIDs, id)
	}
	if len(mediaIDs) > entity.MaxAttachments {
		mediaIDs = mediaIDs[:entity.MaxAttachments]
	}
	return mediaIDs
}

func (s *Service) publishFailure(op string, err error) Result {
	reason := fmt.Sprintf("%s: %v", op, err)
	var validation *publisher.ValidationError
	if errors.As(err, &validation) && strings.Contains(validation.Message, entity.ErrEmptyText.Error()) {
		reason = entity.ErrEmptyText.Error()
	}
	return Result{Outcome: OutcomeFailed, Reason: reason}
}

func (s *Service) markPublished(ctx context.Context, cfg *entity.SourceConfig, post *entity.Post, statusID string) {
	platformURI, _ := post.Raw["uri"].(string)
	row := &entity.PublishedPost{
		SourceID:       cfg.ID,
		PostID:         post.ID,
		PostURL:        post.URL,
		TargetStatusID: statusID,
		PlatformURI:    platformURI,
		PublishedAt:    time.Now().UTC(),
	}
	if err := s.Published.MarkPublished(ctx, row); err != nil {
		// The next run repairs this through the edit-buffer hash lookup.
		s.Logger.Error("dedupe insert failed after publish",
			slog.String("source_id", cfg.ID), slog.String("post_id", post.ID), slog.Any("error", err))
	}
}

func (s *Service) recordEditBuffer(ctx context.Context, cfg *entity.SourceConfig, post *entity.Post, normalized, hash, statusID string) {
	entry := &entity.EditBufferEntry{
		SourceID:       cfg.ID,
		PostID:         post.ID,
		Username:       post.Author.Username,
		TextNormalized: normalized,
		TextHash:       hash,
		TargetStatusID: statusID,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.EditBuffer.Add(ctx, entry); err != nil {
		s.Logger.Warn("edit buffer insert failed",
			slog.String("source_id", cfg.ID), slog.Any("error", err))
	}
}

func (s *Service) logActivity(ctx context.Context, sourceID string, action entity.ActivityAction, details map[string]any) {
	if s.Activity == nil {
		return
	}
	entry := &entity.ActivityEntry{SourceID: sourceID, Action: action, Details: details}
	if err := s.Activity.Log(ctx, entry); err != nil {
		s.Logger.Warn("activity log write failed", slog.Any("error", err))
	}
}

// HTTPMediaFetcher downloads media over HTTP with a size ceiling.
type HTTPMediaFetcher struct {
	Client *http.Client
}

// Download fetches one media URL, rejecting oversize payloads before
// they are buffered whole.
func (f *HTTPMediaFetcher) Download(ctx context.Context, rawURL string) ([]byte, string, string, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, "", "", fmt.Errorf("media fetch returned %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, publisher.MaxMediaBytes+1))
	if err != nil {
		return nil, "", "", err
	}
	if len(data) > publisher.MaxMediaBytes {
		return nil, "", "", fmt.Errorf("media exceeds %d bytes", publisher.MaxMediaBytes)
	}

	filename := path.Base(req.URL.Path)
	if filename == "." || filename == "/" {
		filename = "media"
	}
	return data, filename, resp.Header.Get("Content-Type"), nil
}
