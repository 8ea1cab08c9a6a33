package domain

import (
	"encoding/json"
	"time"

	"gigsync-server/pkg/vclock"
)

// PushChange is one client-side mutation. Data is nil for deletions.
// VersionVector may be nil for clients that do not track vectors; the
// server then treats the write as superseding what the device last saw.
type PushChange struct {
	Table          string          `json:"table" validate:"required"`
	ID             string          `json:"id" validate:"required"`
	Data           json.RawMessage `json:"data,omitempty"`
	Deleted        bool            `json:"deleted"`
	LastModified   time.Time       `json:"last_modified"`
	VersionVector  vclock.Vector   `json:"version_vector,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

type PushRequest struct {
	DeviceID string       `json:"device_id" validate:"required"`
	Changes  []PushChange `json:"changes" validate:"required,dive"`
}

type ChangeStatus string

const (
	StatusApplied   ChangeStatus = "applied"
	StatusDuplicate ChangeStatus = "duplicate"
	StatusStale     ChangeStatus = "rejected-stale"
	StatusConflict  ChangeStatus = "conflict-resolved"
	StatusInvalid   ChangeStatus = "invalid"
)

// ChangeResult is the per-mutation outcome returned inline with the push
// response; validation failures land here instead of failing the call.
type ChangeResult struct {
	Table        string       `json:"table"`
	ID           string       `json:"id"`
	Status       ChangeStatus `json:"status"`
	Error        string       `json:"error,omitempty"`
	WinnerDevice string       `json:"winner_device,omitempty"`
}

type PushResponse struct {
	Applied       int            `json:"applied"`
	Conflicts     int            `json:"conflicts"`
	ConflictedIDs []string       `json:"conflicted_ids"`
	Results       []ChangeResult `json:"results"`
	Checkpoint    int64          `json:"checkpoint"`
	Timestamp     time.Time      `json:"timestamp"`
}

// PullRequest asks for everything past Checkpoint. Zero checkpoint means
// a full initial sync. Limit bounds the page; the server clamps it.
type PullRequest struct {
	DeviceID   string `json:"device_id" validate:"required"`
	Checkpoint int64  `json:"checkpoint"`
	Limit      int    `json:"limit,omitempty"`
}

// TableChanges groups a pull delta for one table. Deleted carries ids
// only; a tombstoned record never appears in Created or Updated.
type TableChanges struct {
	Created []*RecordResponse `json:"created"`
	Updated []*RecordResponse `json:"updated"`
	Deleted []string          `json:"deleted"`
}

type PullResponse struct {
	Changes    map[string]*TableChanges `json:"changes"`
	Checkpoint int64                    `json:"checkpoint"`
	HasMore    bool                     `json:"has_more"`
	Timestamp  time.Time                `json:"timestamp"`
}
