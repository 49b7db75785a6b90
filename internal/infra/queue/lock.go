package queue

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// ErrLocked is returned when another processor instance holds the lock.
var ErrLocked = errors.New("queue lock held by another instance")

// staleLockAge is the age past which a leftover lock from a crashed
// process is broken.
const staleLockAge = 10 * time.Minute

// Lock takes the single-writer advisory lock guarding a queue processor
// run. It creates the sentinel file exclusively; the caller must invoke
// the returned release function when done.
func Lock(path string) (func(), error) {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = f.WriteString(strconv.Itoa(os.Getpid()))
			_ = f.Close()
			return func() { _ = os.Remove(path) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("take queue lock: %w", err)
		}

		info, statErr := os.Stat(path)
		if statErr != nil || time.Since(info.ModTime()) < staleLockAge {
			return nil, ErrLocked
		}
		// Stale sentinel from a dead process; break it and try once more.
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, ErrLocked
		}
	}
	return nil, ErrLocked
}
