package service

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lyzr/tufstash/common/contentdir"
	"github.com/lyzr/tufstash/common/models"
)

// errCancelled is the routine-internal signal that the transfer was cancelled.
// It never reaches a caller or a TransferState.
var errCancelled = errors.New("transfer cancelled")

// transfer is one registry entry. The owning routine is the only writer of
// the byte counters; Cancel only sets the flag and the cancelled status.
// Both happen under mu so readers never see a torn state.
type transfer struct {
	key  models.ArtifactKey
	path string

	ctx    context.Context
	cancel context.CancelFunc

	cancelled atomic.Bool

	mu          sync.Mutex
	state       models.TransferState
	file        fs.FileInfo // set once the destination file is created
	lastPercent int
}

func newTransfer(parent context.Context, id string, key models.ArtifactKey, dir *contentdir.Dir, now time.Time) *transfer {
	ctx, cancel := context.WithCancel(parent)
	path := dir.PathFor(key.Short(), key.Role)

	return &transfer{
		key:         key,
		path:        path,
		ctx:         ctx,
		cancel:      cancel,
		lastPercent: -1,
		state: models.TransferState{
			ID:             id,
			Commit:         key.Commit,
			ShortCommit:    key.Short(),
			Role:           key.Role,
			File:           key.Role.RemoteName(),
			Status:         models.StatusPending,
			DestinationDir: dir.DirFor(key.Short()),
			LocalFileName:  key.Role.LocalName(),
			StartedAt:      now,
		},
	}
}

// snapshot returns a copy of the current state
func (t *transfer) snapshot() models.TransferState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// begin moves pending to in_progress unless the transfer was cancelled first
func (t *transfer) begin() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Status != models.StatusPending {
		return false
	}
	t.state.Status = models.StatusInProgress
	return true
}

func (t *transfer) setTotal(total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.TotalBytes = total
}

// advance records n more bytes written. It reports whether the whole
// percentage changed, along with the resulting snapshot.
func (t *transfer) advance(n int64) (models.TransferState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Status.Terminal() {
		return t.state, false
	}

	t.state.DownloadedBytes += n
	if t.state.TotalBytes > 0 {
		t.state.ProgressPercent = models.PercentOf(t.state.DownloadedBytes, t.state.TotalBytes)
	}

	if t.state.ProgressPercent == t.lastPercent || t.state.TotalBytes <= 0 {
		return t.state, false
	}
	t.lastPercent = t.state.ProgressPercent
	return t.state, true
}

// createFile opens the destination, unless Cancel got there first. Holding
// mu across the check and the create means a cancelled transfer never
// creates a file Cancel could not see.
func (t *transfer) createFile(dir *contentdir.Dir) (*os.File, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancelled.Load() {
		return nil, errCancelled
	}

	f, err := dir.Create(t.key.Short(), t.key.Role)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		dir.RemoveFile(t.path)
		return nil, err
	}
	t.file = info
	return f, nil
}

// ownedFile returns the file this transfer created, if any
func (t *transfer) ownedFile() fs.FileInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.file
}

// complete marks a finished download. It fails if the transfer already
// reached a terminal state, which only happens when Cancel won the race.
func (t *transfer) complete(now time.Time) (models.TransferState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Status.Terminal() {
		return t.state, false
	}

	if t.state.TotalBytes <= 0 {
		t.state.TotalBytes = t.state.DownloadedBytes
	}
	t.state.Status = models.StatusComplete
	t.state.ProgressPercent = 100
	t.state.FinishedAt = &now
	return t.state, true
}

// fail records err as the terminal error, unless already terminal
func (t *transfer) fail(err error, now time.Time) (models.TransferState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Status.Terminal() {
		return t.state, false
	}

	t.state.Status = models.StatusError
	t.state.Error = err.Error()
	t.state.FinishedAt = &now
	return t.state, true
}

// markCancelled sets the cancel flag and status together and aborts any
// blocked read. It returns the file created so far, and false if the
// transfer had already finished.
func (t *transfer) markCancelled(now time.Time) (fs.FileInfo, models.TransferState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Status.Terminal() {
		return nil, t.state, false
	}

	t.cancelled.Store(true)
	t.state.Status = models.StatusCancelled
	t.state.FinishedAt = &now
	t.cancel()

	return t.file, t.state, true
}

// aborted reports whether a read failure should be treated as cancellation
func (t *transfer) aborted() bool {
	return t.cancelled.Load() || t.ctx.Err() != nil
}
