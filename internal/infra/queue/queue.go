// Package queue implements the durable file-backed webhook queue. A job
// is one JSON file; its lifecycle is pending/ → processed/ on success,
// failed/ on transient failure, and a DEAD_ filename prefix once it will
// never be retried. Ownership moves between states by rename, which the
// OS guarantees atomic within one directory tree.
package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Subdirectories of a queue root.
const (
	DirPending   = "pending"
	DirProcessed = "processed"
	DirFailed    = "failed"
)

// DeadPrefix marks jobs that will never be retried.
const DeadPrefix = "DEAD_"

// Payload is the normalised webhook payload as written by the ingress.
type Payload struct {
	Text         string `json:"text"`
	EmbedCode    string `json:"embed_code"`
	LinkToTweet  string `json:"link_to_tweet"`
	FirstLinkURL string `json:"first_link_url"`
	Username     string `json:"username"`
	BotID        string `json:"bot_id,omitempty"`
	PostID       string `json:"post_id,omitempty"`
}

// Failure is appended to a job on each failed attempt.
type Failure struct {
	Reason      string     `json:"reason"`
	FailedAt    time.Time  `json:"failed_at"`
	RetryCount  int        `json:"retry_count"`
	LastRetryAt *time.Time `json:"last_retry_at,omitempty"`
	DeadReason  string     `json:"dead_reason,omitempty"`
	DeadAt      *time.Time `json:"dead_at,omitempty"`
}

// Job is one queue file.
type Job struct {
	Payload
	Failure *Failure `json:"_failure,omitempty"`
}

// File pairs a parsed job with its on-disk identity.
type File struct {
	Name     string
	Path     string
	Job      Job
	Enqueued time.Time
}

// Age returns how long the file has been waiting.
func (f File) Age(now time.Time) time.Duration {
	return now.Sub(f.Enqueued)
}

// Queue is one environment's on-disk queue.
type Queue struct {
	root string
}

// New opens (creating if needed) the queue rooted at dir.
func New(dir string) (*Queue, error) {
	for _, sub := range []string{DirPending, DirProcessed, DirFailed} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create queue dir: %w", err)
		}
	}
	return &Queue{root: dir}, nil
}

// Root returns the queue's directory.
func (q *Queue) Root() string { return q.root }

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// FileName builds the canonical queue file name. Names sort
// lexicographically by enqueue time.
func FileName(now time.Time, username, postID string) string {
	username = unsafeNameChars.ReplaceAllString(username, "_")
	postID = unsafeNameChars.ReplaceAllString(postID, "_")
	now = now.UTC()
	return fmt.Sprintf("%s%03d_%s_%s.json",
		now.Format("20060102150405"), now.Nanosecond()/1e6, username, postID)
}

// Enqueue writes a new pending job and returns its file name. The write
// goes through a temp file so a half-written job can never be picked up.
func (q *Queue) Enqueue(payload Payload) (string, error) {
	name := FileName(time.Now(), payload.Username, payload.PostID)
	data, err := json.MarshalIndent(Job{Payload: payload}, "", "  ")
	if err != nil {
		return "", err
	}
	if err := q.writeAtomic(filepath.Join(q.root, DirPending, name), data); err != nil {
		return "", err
	}
	return name, nil
}

// EnqueueRaw persists an already-serialised body verbatim under the
// given name (broadcast webhooks keep their original payload).
func (q *Queue) EnqueueRaw(name string, body []byte) error {
	return q.writeAtomic(filepath.Join(q.root, DirPending, name), body)
}

func (q *Queue) writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// Pending returns all pending jobs sorted by file name (enqueue order).
// Unparseable files are returned with a zero Job so the processor can
// fail them with "invalid JSON".
func (q *Queue) Pending() ([]File, error) {
	return q.list(DirPending)
}

// Failed returns all failed jobs, DEAD files included.
func (q *Queue) Failed() ([]File, error) {
	return q.list(DirFailed)
}

func (q *Queue) list(sub string) ([]File, error) {
	dir := filepath.Join(q.root, sub)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	files := make([]File, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		f := File{Name: entry.Name(), Path: filepath.Join(dir, entry.Name())}
		if info, err := entry.Info(); err == nil {
			f.Enqueued = info.ModTime()
		}
		raw, err := os.ReadFile(f.Path)
		if err == nil {
			_ = json.Unmarshal(raw, &f.Job)
		}
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// MarkProcessed moves a pending job to processed/.
func (q *Queue) MarkProcessed(name string) error {
	return os.Rename(
		filepath.Join(q.root, DirPending, name),
		filepath.Join(q.root, DirProcessed, name))
}

// MarkFailed records the failure reason on the job and moves it to
// failed/, preserving any prior retry count.
func (q *Queue) MarkFailed(name, reason string) error {
	src := filepath.Join(q.root, DirPending, name)

	var job Job
	if raw, err := os.ReadFile(src); err == nil {
		_ = json.Unmarshal(raw, &job)
	}

	retryCount := 0
	var lastRetry *time.Time
	if job.Failure != nil {
		retryCount = job.Failure.RetryCount
		lastRetry = job.Failure.LastRetryAt
	}
	job.Failure = &Failure{
		Reason:      reason,
		FailedAt:    time.Now().UTC(),
		RetryCount:  retryCount,
		LastRetryAt: lastRetry,
	}

	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return err
	}
	if err := q.writeAtomic(filepath.Join(q.root, DirFailed, name), data); err != nil {
		return err
	}
	return os.Remove(src)
}

// Requeue moves a failed job back to pending/ with an incremented retry
// count.
func (q *Queue) Requeue(file File) error {
	now := time.Now().UTC()
	job := file.Job
	if job.Failure == nil {
		job.Failure = &Failure{}
	}
	job.Failure.RetryCount++
	job.Failure.LastRetryAt = &now

	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return err
	}
	if err := q.writeAtomic(filepath.Join(q.root, DirPending, file.Name), data); err != nil {
		return err
	}
	return os.Remove(file.Path)
}

// MarkDead renames a failed job with the DEAD_ prefix and stamps the
// reason. DEAD files stay in failed/ for operator inspection.
func (q *Queue) MarkDead(file File, deadReason string) error {
	now := time.Now().UTC()
	job := file.Job
	if job.Failure == nil {
		job.Failure = &Failure{FailedAt: now}
	}
	job.Failure.DeadReason = deadReason
	job.Failure.DeadAt = &now

	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return err
	}
	dead := filepath.Join(q.root, DirFailed, DeadPrefix+file.Name)
	if err := q.writeAtomic(dead, data); err != nil {
		return err
	}
	return os.Remove(file.Path)
}

// Stats counts files per state; dead files are counted separately from
// other failed ones.
func (q *Queue) Stats() (map[string]int, error) {
	stats := map[string]int{}
	for _, sub := range []string{DirPending, DirProcessed, DirFailed} {
		entries, err := os.ReadDir(filepath.Join(q.root, sub))
		if err != nil {
			return nil, err
		}
		count, dead := 0, 0
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			if strings.HasPrefix(entry.Name(), DeadPrefix) {
				dead++
				continue
			}
			count++
		}
		stats[sub] = count
		if sub == DirFailed {
			stats["dead"] = dead
		}
	}
	return stats, nil
}
