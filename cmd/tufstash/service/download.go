// Package service implements the download manager: admission of artifact
// transfers, the transfer routines themselves, cancellation, and progress
// queries backed by the content directory.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/lyzr/tufstash/common/clients"
	"github.com/lyzr/tufstash/common/contentdir"
	"github.com/lyzr/tufstash/common/events"
	"github.com/lyzr/tufstash/common/logger"
	"github.com/lyzr/tufstash/common/models"
)

const (
	// DefaultGraceWindow is how long a finished transfer stays queryable
	DefaultGraceWindow = 60 * time.Second

	// DefaultChunkSize is the read size of a transfer routine
	DefaultChunkSize = 32 * 1024
)

// ErrClosed is returned by Start once the manager has been closed
var ErrClosed = errors.New("download manager closed")

// CancelResult is the outcome of a cancel request
type CancelResult string

const (
	CancelResultCancelled CancelResult = "cancelled"
	CancelResultNotFound  CancelResult = "not_found"
)

// Options tunes a DownloadManager. Zero values take defaults.
type Options struct {
	ChunkSize   int64
	GraceWindow time.Duration
	Clock       clock.Clock
}

// DownloadManager persists artifacts from the artifact store into the
// content directory, one transfer routine per artifact at a time
type DownloadManager struct {
	store     clients.ArtifactStore
	dir       *contentdir.Dir
	publisher events.Publisher
	clock     clock.Clock
	log       *logger.Logger

	chunkSize int64
	grace     time.Duration

	ctx      context.Context
	shutdown context.CancelFunc
	wg       sync.WaitGroup

	// mu guards the maps and closed. Admission and insertion happen under
	// one hold of it.
	mu     sync.Mutex
	active map[string]*transfer
	closed bool

	// cancelled keeps transfers freed by Cancel queryable for the grace
	// window. It plays no part in admission.
	cancelled map[string]*transfer
}

// NewDownloadManager creates a new download manager
func NewDownloadManager(
	store clients.ArtifactStore,
	dir *contentdir.Dir,
	publisher events.Publisher,
	log *logger.Logger,
	opts Options,
) *DownloadManager {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.GraceWindow <= 0 {
		opts.GraceWindow = DefaultGraceWindow
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	ctx, shutdown := context.WithCancel(context.Background())

	return &DownloadManager{
		store:     store,
		dir:       dir,
		publisher: publisher,
		clock:     opts.Clock,
		log:       log,
		chunkSize: opts.ChunkSize,
		grace:     opts.GraceWindow,
		ctx:       ctx,
		shutdown:  shutdown,
		active:    make(map[string]*transfer),
		cancelled: make(map[string]*transfer),
	}
}

// Start begins a transfer of the artifact, or joins the one already in
// flight. It never waits on the network: the returned state is the
// transfer's state at admission and callers observe the rest via Query.
func (m *DownloadManager) Start(ctx context.Context, commit string, role models.Role) (models.TransferState, error) {
	key, err := models.NewArtifactKey(commit, role)
	if err != nil {
		return models.TransferState{}, err
	}
	log := m.log.WithContext(ctx).WithArtifact(key)

	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		return models.TransferState{}, ErrClosed
	}

	if t, ok := m.active[key.ID()]; ok {
		state := t.snapshot()
		if !state.Status.Terminal() {
			m.mu.Unlock()
			log.Debug("joining in-flight transfer", "transfer_id", state.ID)
			return state, nil
		}
	}

	path := m.dir.PathFor(key.Short(), key.Role)
	if m.dir.Exists(path) {
		m.mu.Unlock()
		log.Debug("artifact already persisted", "path", path)
		return m.persistedState(key, path), nil
	}

	tctx := m.ctx
	if requestID, ok := clients.GetRequestID(ctx); ok {
		tctx = clients.WithRequestID(tctx, requestID)
	}

	// The pending entry reserves the key while the directory is prepared
	// outside the lock; concurrent starts join it.
	t := newTransfer(tctx, uuid.New().String(), key, m.dir, m.clock.Now())
	m.active[key.ID()] = t
	delete(m.cancelled, key.ID())
	m.wg.Add(1)

	m.mu.Unlock()

	if err := m.prepare(key, log); err != nil {
		m.release(t, err)
		return models.TransferState{}, err
	}

	state := t.snapshot()
	if !state.Status.Terminal() {
		log.Info("transfer started", "transfer_id", state.ID, "path", path)
		m.publish(ctx, events.TypeStarted, state)
	}

	go m.run(t, log)

	return state, nil
}

// Cancel stops an in-flight transfer. The slot is freed immediately and any
// partial file is removed; the routine exits at its next chunk boundary.
// Cancelling an unknown or already finished transfer reports not found.
func (m *DownloadManager) Cancel(ctx context.Context, commit string, role models.Role) (CancelResult, error) {
	key, err := models.NewArtifactKey(commit, role)
	if err != nil {
		return "", err
	}

	m.mu.Lock()

	t, ok := m.active[key.ID()]
	if !ok {
		m.mu.Unlock()
		return CancelResultNotFound, nil
	}

	owned, state, ok := t.markCancelled(m.clock.Now())
	if !ok {
		m.mu.Unlock()
		return CancelResultNotFound, nil
	}
	delete(m.active, key.ID())
	m.cancelled[key.ID()] = t

	// The partial file goes before the slot is visible as free, so a
	// racing Start never mistakes it for a persisted artifact
	if owned != nil {
		m.dir.RemoveIfSame(t.path, owned)
	}

	m.mu.Unlock()

	m.evictAfterGrace(t)

	m.log.WithContext(ctx).WithArtifact(key).Info("transfer cancelled",
		"transfer_id", state.ID,
		"downloaded", state.DownloadedBytes,
	)
	m.publish(ctx, events.TypeCancelled, state)

	return CancelResultCancelled, nil
}

// Query returns the tracked state of the artifact's transfer. Untracked
// artifacts are reported complete when persisted, otherwise unknown.
func (m *DownloadManager) Query(commit string, role models.Role) (models.TransferState, error) {
	key, err := models.NewArtifactKey(commit, role)
	if err != nil {
		return models.TransferState{}, err
	}

	m.mu.Lock()
	t, ok := m.active[key.ID()]
	if !ok {
		t, ok = m.cancelled[key.ID()]
	}
	m.mu.Unlock()

	if ok {
		return t.snapshot(), nil
	}

	path := m.dir.PathFor(key.Short(), key.Role)
	if m.dir.Exists(path) {
		return m.persistedState(key, path), nil
	}

	return models.TransferState{
		Commit:        key.Commit,
		ShortCommit:   key.Short(),
		Role:          key.Role,
		File:          key.Role.RemoteName(),
		Status:        models.StatusUnknown,
		LocalFileName: key.Role.LocalName(),
	}, nil
}

// Active returns the state of every tracked transfer, finished ones included
// until their grace window ends
func (m *DownloadManager) Active() []models.TransferState {
	m.mu.Lock()
	transfers := make([]*transfer, 0, len(m.active))
	for _, t := range m.active {
		transfers = append(transfers, t)
	}
	m.mu.Unlock()

	states := make([]models.TransferState, 0, len(transfers))
	for _, t := range transfers {
		states = append(states, t.snapshot())
	}
	return states
}

// ListPersisted enumerates the content directory, most recently modified
// first. A commit whose archive is still being written is not complete.
func (m *DownloadManager) ListPersisted() ([]models.PersistedEntry, error) {
	entries, err := m.dir.List()
	if err != nil {
		return nil, fmt.Errorf("list persisted artifacts: %w", err)
	}

	writing := make(map[string]bool)
	for _, state := range m.Active() {
		if state.Role == models.RoleArchive && !state.Status.Terminal() {
			writing[state.ShortCommit] = true
		}
	}

	for i := range entries {
		if writing[entries[i].ShortCommit] {
			entries[i].Complete = false
			entries[i].SizeBytes = 0
		}
	}

	return entries, nil
}

// Close abandons every in-flight transfer and waits for the routines to
// remove their partial files, or for ctx to end
func (m *DownloadManager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true

	abandoned := 0
	now := m.clock.Now()
	for _, t := range m.active {
		if _, _, ok := t.markCancelled(now); ok {
			abandoned++
		}
	}
	m.mu.Unlock()

	m.shutdown()
	m.log.Info("closing download manager", "abandoned_transfers", abandoned)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for transfer routines: %w", ctx.Err())
	}
}

// prepare creates the commit directory and its marker
func (m *DownloadManager) prepare(key models.ArtifactKey, log *logger.Logger) error {
	if err := m.dir.EnsureDir(key.Short()); err != nil {
		return err
	}
	if err := m.dir.WriteCommitMarker(key.Short(), key.Commit); err != nil {
		// The marker is informational; the artifact can still be persisted
		log.Warn("failed to write commit marker", "error", err)
	}
	return nil
}

// release drops a reservation whose routine never started
func (m *DownloadManager) release(t *transfer, err error) {
	t.fail(err, m.clock.Now())
	t.cancel()

	m.mu.Lock()
	if m.active[t.key.ID()] == t {
		delete(m.active, t.key.ID())
	}
	m.mu.Unlock()

	// A Cancel may have turned the reservation into a tombstone
	m.evictAfterGrace(t)
	m.wg.Done()
}

// evictAfterGrace forgets t once the grace window ends, unless a newer
// transfer has taken its slot
func (m *DownloadManager) evictAfterGrace(t *transfer) {
	id := t.key.ID()
	m.clock.AfterFunc(m.grace, func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		if m.active[id] == t {
			delete(m.active, id)
		}
		if m.cancelled[id] == t {
			delete(m.cancelled, id)
		}
	})
}

func (m *DownloadManager) persistedState(key models.ArtifactKey, path string) models.TransferState {
	size, err := m.dir.SizeOf(path)
	if err != nil {
		m.log.Warn("failed to stat persisted artifact", "path", path, "error", err)
	}

	return models.TransferState{
		Commit:          key.Commit,
		ShortCommit:     key.Short(),
		Role:            key.Role,
		File:            key.Role.RemoteName(),
		Status:          models.StatusComplete,
		TotalBytes:      size,
		DownloadedBytes: size,
		ProgressPercent: 100,
		DestinationDir:  m.dir.DirFor(key.Short()),
		LocalFileName:   key.Role.LocalName(),
	}
}

func (m *DownloadManager) publish(ctx context.Context, typ events.Type, state models.TransferState) {
	m.publisher.Publish(ctx, events.Event{
		Type:     typ,
		Transfer: state,
		At:       m.clock.Now(),
	})
}
