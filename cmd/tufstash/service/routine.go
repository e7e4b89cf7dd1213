package service

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/lyzr/tufstash/common/events"
	"github.com/lyzr/tufstash/common/logger"
)

// run is the transfer routine. Its outcome is only ever recorded in t's state.
func (m *DownloadManager) run(t *transfer, log *logger.Logger) {
	defer m.wg.Done()
	defer m.evictAfterGrace(t)
	defer t.cancel()

	if !t.begin() {
		log.Debug("transfer cancelled before fetch")
		return
	}

	dl, err := m.store.Fetch(t.ctx, t.key.Commit, t.key.Role)
	if err != nil {
		if t.aborted() {
			log.Debug("transfer cancelled while connecting")
			return
		}
		m.fail(t, log, fmt.Errorf("fetch %s: %w", t.key.Role.RemoteName(), err))
		return
	}
	defer dl.Body.Close()

	t.setTotal(dl.Size)
	log.Debug("artifact stream opened", "size", humanize.IBytes(uint64(dl.Size)))

	f, err := t.createFile(m.dir)
	if errors.Is(err, errCancelled) {
		return
	}
	if err != nil {
		m.fail(t, log, err)
		return
	}

	err = m.copyChunks(t, f, dl.Body)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close %s: %w", t.key.Role.LocalName(), closeErr)
	}

	if errors.Is(err, errCancelled) {
		m.dir.RemoveIfSame(t.path, t.ownedFile())
		log.Debug("transfer routine observed cancellation")
		return
	}
	if err != nil {
		m.dir.RemoveIfSame(t.path, t.ownedFile())
		m.fail(t, log, err)
		return
	}

	state, ok := t.complete(m.clock.Now())
	if !ok {
		// Cancelled after the last chunk; the file must not outlive the cancel
		m.dir.RemoveIfSame(t.path, t.ownedFile())
		return
	}

	log.Info("transfer complete",
		"transfer_id", state.ID,
		"size", humanize.IBytes(uint64(state.DownloadedBytes)),
	)
	m.publish(t.ctx, events.TypeCompleted, state)
}

// copyChunks streams body into f one chunk at a time, checking for
// cancellation at every chunk boundary
func (m *DownloadManager) copyChunks(t *transfer, f *os.File, body io.Reader) error {
	buf := make([]byte, m.chunkSize)

	for {
		if t.cancelled.Load() {
			return errCancelled
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				return fmt.Errorf("write %s: %w", t.key.Role.LocalName(), err)
			}
			if state, changed := t.advance(int64(n)); changed {
				m.publish(t.ctx, events.TypeProgress, state)
			}
		}

		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			if t.aborted() {
				return errCancelled
			}
			return fmt.Errorf("read %s: %w", t.key.Role.RemoteName(), readErr)
		}
	}
}

func (m *DownloadManager) fail(t *transfer, log *logger.Logger, err error) {
	state, ok := t.fail(err, m.clock.Now())
	if !ok {
		return
	}
	log.Warn("transfer failed", "transfer_id", state.ID, "error", err)
	m.publish(t.ctx, events.TypeFailed, state)
}
