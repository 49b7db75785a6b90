package queue

import (
	"log/slog"
	"strings"
	"time"
)

// Retry ladder bounds.
const (
	// MaxRetries is how many times a failed job goes back to pending.
	MaxRetries = 1
	// MaxFailedAge is how long a failed job stays eligible for retry.
	MaxFailedAge = 6 * time.Hour
)

// Dead reasons stamped by the sweeper.
const (
	DeadPermanentError = "permanent_error"
	DeadTooOld         = "too_old"
	DeadMaxRetries     = "max_retries_exceeded"
)

// permanentErrorPatterns match failure reasons that no retry can fix.
var permanentErrorPatterns = []string{
	"invalid JSON",
	"tweet likely deleted",
	"no config found",
	"unknown bot_id",
	"text cannot be empty",
}

// SweepResult summarises one sweeper pass.
type SweepResult struct {
	Requeued int
	Dead     int
}

// Sweep walks failed/ (DEAD files excluded) and applies the retry
// ladder: permanent failures and exhausted or expired jobs are promoted
// to DEAD, everything else goes back to pending with its retry count
// bumped.
func (q *Queue) Sweep(logger *slog.Logger) (SweepResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var result SweepResult

	files, err := q.Failed()
	if err != nil {
		return result, err
	}
	now := time.Now().UTC()

	for _, file := range files {
		if strings.HasPrefix(file.Name, DeadPrefix) {
			continue
		}

		reason := deadReasonFor(file, now)
		if reason != "" {
			if err := q.MarkDead(file, reason); err != nil {
				logger.Error("failed to mark job dead",
					slog.String("file", file.Name), slog.Any("error", err))
				continue
			}
			logger.Warn("queue job promoted to DEAD",
				slog.String("file", file.Name),
				slog.String("dead_reason", reason))
			result.Dead++
			continue
		}

		if err := q.Requeue(file); err != nil {
			logger.Error("failed to requeue job",
				slog.String("file", file.Name), slog.Any("error", err))
			continue
		}
		logger.Info("queue job requeued", slog.String("file", file.Name))
		result.Requeued++
	}

	return result, nil
}

// deadReasonFor returns the DEAD reason for a failed job, or "" when it
// may be retried.
func deadReasonFor(file File, now time.Time) string {
	failure := file.Job.Failure
	if failure == nil {
		// No failure record at all; something wrote the file by hand.
		return DeadPermanentError
	}

	for _, pattern := range permanentErrorPatterns {
		if strings.Contains(failure.Reason, pattern) {
			return DeadPermanentError
		}
	}
	if !failure.FailedAt.IsZero() && now.Sub(failure.FailedAt) > MaxFailedAge {
		return DeadTooOld
	}
	if failure.RetryCount >= MaxRetries {
		return DeadMaxRetries
	}
	return ""
}
