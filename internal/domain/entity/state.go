package entity

import "time"

// PublishedPost is one row of the dedupe index. (SourceID, PostID) is
// unique; PlatformURI allows thread parents to be found by AT-style URI.
type PublishedPost struct {
	SourceID       string
	PostID         string
	PostURL        string
	TargetStatusID string
	PlatformURI    string
	PublishedAt    time.Time
}

// SourceState is the per-source scheduling row. A non-nil DisabledAt
// excludes the source from scheduling.
type SourceState struct {
	SourceID    string
	LastCheck   *time.Time
	LastSuccess *time.Time
	PostsToday  int
	LastReset   *time.Time
	ErrorCount  int
	LastError   string
	DisabledAt  *time.Time
}

// ActivityAction labels one activity-log row.
type ActivityAction string

// Activity-log actions.
const (
	ActionFetch          ActivityAction = "fetch"
	ActionPublish        ActivityAction = "publish"
	ActionSkip           ActivityAction = "skip"
	ActionError          ActivityAction = "error"
	ActionTransientError ActivityAction = "transient_error"
	ActionMediaUpload    ActivityAction = "media_upload"
	ActionProfileSync    ActivityAction = "profile_sync"
)

// ActivityEntry is one append-only activity-log row.
type ActivityEntry struct {
	SourceID  string
	Action    ActivityAction
	Details   map[string]any
	CreatedAt time.Time
}

// EditBufferEntry supports edit detection: recently published posts keyed
// by (SourceID, PostID), looked up by (Username, TextHash).
type EditBufferEntry struct {
	SourceID       string
	PostID         string
	Username       string
	TextNormalized string
	TextHash       string
	TargetStatusID string
	CreatedAt      time.Time
}

// EditBufferRetention is how long edit-buffer rows are kept.
const EditBufferRetention = 2 * time.Hour

// EditWindow is the span during which a high-similarity re-post under the
// same username is treated as an edit of the earlier post.
const EditWindow = 1 * time.Hour
