package domain

import (
	"encoding/json"
	"time"

	"gigsync-server/pkg/vclock"
)

// Record is the materialized current state of one synced entity. The
// payload is opaque to the engine; only the sync metadata is interpreted.
// Tombstoned records are kept forever so deletions replicate.
type Record struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	TableName     string          `json:"table_name"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	LastModified  time.Time       `json:"last_modified"`
	LastDevice    string          `json:"last_edit_device"`
	VersionVector vclock.Vector   `json:"version_vector"`
	IsDeleted     bool            `json:"is_deleted"`

	// CreatedSeq is the sequence number of the accepted insert that
	// created the record; LastSeq is the most recent contributing one.
	CreatedSeq int64 `json:"created_seq"`
	LastSeq    int64 `json:"last_seq"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.VersionVector = r.VersionVector.Clone()
	if r.Payload != nil {
		out.Payload = append(json.RawMessage(nil), r.Payload...)
	}
	return &out
}

// RecordResponse is the wire shape of a record: the payload plus the sync
// metadata a client replica needs.
type RecordResponse struct {
	ID            string          `json:"id"`
	Data          json.RawMessage `json:"data,omitempty"`
	LastModified  time.Time       `json:"last_modified"`
	VersionVector vclock.Vector   `json:"version_vector"`
	IsDeleted     bool            `json:"is_deleted"`
}

func (r *Record) ToResponse() *RecordResponse {
	return &RecordResponse{
		ID:            r.ID,
		Data:          r.Payload,
		LastModified:  r.LastModified,
		VersionVector: r.VersionVector,
		IsDeleted:     r.IsDeleted,
	}
}
