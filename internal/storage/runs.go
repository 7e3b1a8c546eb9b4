package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/skillflow/skillflow/internal/skill"
)

// runLockTimeout bounds how long AppendNodeExecution waits to acquire the
// cooperative file lock on a contended run log before giving up.
const runLockTimeout = 10 * time.Second

// runLocks caches one *flock.Flock per run-log path so concurrent
// appenders within this process contend on the same in-memory lock object,
// while the lock file itself also protects against other processes.
var runLocks sync.Map // path -> *flock.Flock

func lockFor(path string) *flock.Flock {
	if v, ok := runLocks.Load(path); ok {
		return v.(*flock.Flock)
	}
	l := flock.New(path + ".lock")
	actual, _ := runLocks.LoadOrStore(path, l)
	return actual.(*flock.Flock)
}

func (s *Store) runLogPath(runID string, day time.Time) string {
	return filepath.Join(s.runsDir(), day.Format("2006-01-02"), runID+".jsonl")
}

// AppendNodeExecution appends one NodeExecution record to the run's log
// file, creating it (and its date directory) on first use. Concurrent
// appenders to the same run log are serialised by a cooperative file lock
// keyed on the log path, per spec.md §4.C.
func (s *Store) AppendNodeExecution(ne skill.NodeExecution) error {
	path := s.runLogPath(ne.RunID, ne.StartedAt)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir run log dir: %w", err)
	}

	lock := lockFor(path)
	ctx, cancel := context.WithTimeout(context.Background(), runLockTimeout)
	defer cancel()
	locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil || !locked {
		return fmt.Errorf("storage: lock run log %q: %w", path, err)
	}
	defer lock.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("storage: open run log %q: %w", path, err)
	}
	defer f.Close()

	data, err := json.Marshal(ne)
	if err != nil {
		return fmt.Errorf("storage: marshal node execution: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("storage: append run log %q: %w", path, err)
	}
	return nil
}

// LoadRunLog reads every NodeExecution recorded for runID on the given
// day. Malformed lines are skipped with a log line rather than aborting
// the read.
func (s *Store) LoadRunLog(runID string, day time.Time) ([]skill.NodeExecution, error) {
	path := s.runLogPath(runID, day)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("storage: open run log %q: %w", path, err)
	}
	defer f.Close()

	var out []skill.NodeExecution
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var ne skill.NodeExecution
		if err := json.Unmarshal(scanner.Bytes(), &ne); err != nil {
			logSkipped("run log line", path, err)
			continue
		}
		out = append(out, ne)
	}
	return out, scanner.Err()
}
