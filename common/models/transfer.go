package models

import "time"

// TransferStatus is the lifecycle status of a transfer
type TransferStatus string

const (
	StatusPending    TransferStatus = "pending"
	StatusInProgress TransferStatus = "in_progress"
	StatusComplete   TransferStatus = "complete"
	StatusError      TransferStatus = "error"
	StatusCancelled  TransferStatus = "cancelled"

	// StatusUnknown is only ever reported by queries for keys that are
	// neither tracked nor persisted
	StatusUnknown TransferStatus = "unknown"
)

// Terminal reports whether no further transitions can happen from s
func (s TransferStatus) Terminal() bool {
	switch s {
	case StatusComplete, StatusError, StatusCancelled:
		return true
	default:
		return false
	}
}

// TransferState is a point-in-time copy of one transfer's progress.
// Values handed to callers are never mutated afterwards.
type TransferState struct {
	// Transfer attempt ID; empty for states synthesized from disk
	ID string `json:"id,omitempty"`

	Commit      string         `json:"commit"`
	ShortCommit string         `json:"short_commit"`
	Role        Role           `json:"role"`
	File        string         `json:"file"`
	Status      TransferStatus `json:"status"`

	TotalBytes      int64 `json:"total_bytes"`
	DownloadedBytes int64 `json:"downloaded_bytes"`
	ProgressPercent int   `json:"progress"`

	// Set only when Status is StatusError
	Error string `json:"error,omitempty"`

	DestinationDir string `json:"path,omitempty"`
	LocalFileName  string `json:"local_name,omitempty"`

	StartedAt  time.Time  `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// PercentOf returns round(downloaded/total*100), or 0 when total is unknown
func PercentOf(downloaded, total int64) int {
	if total <= 0 {
		return 0
	}
	return int((downloaded*100 + total/2) / total)
}

// PersistedEntry describes one short-commit directory in the content root
type PersistedEntry struct {
	ShortCommit  string    `json:"short_sha"`
	Path         string    `json:"path"`
	Complete     bool      `json:"complete"`
	SizeBytes    int64     `json:"size"`
	Files        []string  `json:"files"`
	LastModified time.Time `json:"mtime"`
}
