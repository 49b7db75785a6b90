package metrics

import "time"

// RecordPublish records one successfully published status.
func RecordPublish(sourceID, platform string, duration time.Duration) {
	PostsPublishedTotal.WithLabelValues(sourceID, platform).Inc()
	PublishDuration.Observe(duration.Seconds())
}

// RecordSkip records a pipeline skip with its reason.
func RecordSkip(sourceID, reason string) {
	PostsSkippedTotal.WithLabelValues(sourceID, reason).Inc()
}

// RecordFailure records a terminal pipeline failure.
func RecordFailure(sourceID string) {
	PostsFailedTotal.WithLabelValues(sourceID).Inc()
}

// RecordMediaUpload records one media upload attempt.
func RecordMediaUpload(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	MediaUploadsTotal.WithLabelValues(result).Inc()
}

// RecordAdapterFetch records the duration of one upstream fetch.
func RecordAdapterFetch(platform string, duration time.Duration) {
	AdapterFetchDuration.WithLabelValues(platform).Observe(duration.Seconds())
}

// RecordAdapterFetchError records a fetch error by kind.
func RecordAdapterFetchError(platform, errorType string) {
	AdapterFetchErrors.WithLabelValues(platform, errorType).Inc()
}

// RecordTier records a tier-engine decision ("1", "1.5", "2", "3.5", "3").
func RecordTier(tier string) {
	TierSelectedTotal.WithLabelValues(tier).Inc()
}

// UpdateQueueDepth sets the queue-depth gauge for one env/state pair.
func UpdateQueueDepth(env, state string, count int) {
	QueueDepth.WithLabelValues(env, state).Set(float64(count))
}

// RecordQueueJob records one processed queue job.
func RecordQueueJob(priority, result string) {
	QueueJobsTotal.WithLabelValues(priority, result).Inc()
}
