package domain

import (
	"encoding/json"
	"time"

	"gigsync-server/pkg/vclock"
)

type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

type ConflictPolicy string

const (
	PolicyLastWriteWins ConflictPolicy = "last-write-wins"
	PolicyServerWins    ConflictPolicy = "server-wins"
	PolicyClientWins    ConflictPolicy = "client-wins"
)

// Resolution records the outcome of a resolved conflict for audit.
// LosingData holds the payload of the side that lost.
type Resolution struct {
	Policy       ConflictPolicy  `json:"policy"`
	WinnerDevice string          `json:"winner_device"`
	LosingData   json.RawMessage `json:"losing_data,omitempty"`
}

// ChangesetEntry is one row of the append-only changeset log. Entries are
// written exactly once, at push time; applied entries carry the winning
// payload in NewData so the log alone can rebuild any record.
type ChangesetEntry struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	TableName       string          `json:"table_name"`
	RecordID        string          `json:"record_id"`
	Operation       Operation       `json:"operation"`
	OldData         json.RawMessage `json:"old_data,omitempty"`
	NewData         json.RawMessage `json:"new_data,omitempty"`
	DeviceID        string          `json:"device_id"`
	ChangeTimestamp time.Time       `json:"change_timestamp"`
	VersionVector   vclock.Vector   `json:"version_vector"`
	SequenceNumber  int64           `json:"sequence_number"`
	Applied         bool            `json:"is_applied"`
	IsConflict      bool            `json:"is_conflict"`
	Resolution      *Resolution     `json:"conflict_resolution,omitempty"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}
