package service

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"gigsync-server/internal/domain"
	"gigsync-server/internal/repository"

	"github.com/google/uuid"
)

// PushService accepts batched device mutations, resolves each one against
// the materialized store and appends the outcome to the changeset log.
// Mutations commit independently: the batch is not atomic as a unit, but
// each accepted mutation's log entry and record update land together.
type PushService struct {
	records  repository.RecordRepository
	changes  repository.ChangesetRepository
	resolver *Resolver
	locks    *recordLocks
	tables   map[string]struct{}
}

func NewPushService(
	records repository.RecordRepository,
	changes repository.ChangesetRepository,
	resolver *Resolver,
	tables []string,
) *PushService {
	known := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		known[t] = struct{}{}
	}
	return &PushService{
		records:  records,
		changes:  changes,
		resolver: resolver,
		locks:    newRecordLocks(),
		tables:   known,
	}
}

// Push processes the batch in submitted order. Malformed mutations fail
// only themselves; a storage failure fails the whole call, leaving state
// consistent up to the last committed mutation.
func (s *PushService) Push(userID string, req *domain.PushRequest) (*domain.PushResponse, error) {
	resp := &domain.PushResponse{
		ConflictedIDs: []string{},
		Results:       make([]domain.ChangeResult, 0, len(req.Changes)),
	}

	var maxSeq int64
	for i := range req.Changes {
		change := &req.Changes[i]

		result, seq, err := s.applyChange(userID, req.DeviceID, change)
		if err != nil {
			return nil, fmt.Errorf("failed to apply change %s/%s: %w", change.Table, change.ID, err)
		}
		if seq > maxSeq {
			maxSeq = seq
		}

		resp.Results = append(resp.Results, result)
		switch result.Status {
		case domain.StatusApplied, domain.StatusDuplicate:
			resp.Applied++
		case domain.StatusConflict:
			resp.Conflicts++
			resp.ConflictedIDs = append(resp.ConflictedIDs, change.ID)
		}
	}

	if maxSeq == 0 {
		// Nothing new was committed (all duplicates or invalid); the
		// checkpoint still has to be usable, so report the latest.
		seq, err := s.changes.LatestSequence(userID)
		if err != nil {
			return nil, fmt.Errorf("failed to read latest sequence: %w", err)
		}
		maxSeq = seq
	}

	resp.Checkpoint = maxSeq
	resp.Timestamp = time.Now()

	log.Printf("push: user=%s device=%s changes=%d applied=%d conflicts=%d checkpoint=%d",
		userID, req.DeviceID, len(req.Changes), resp.Applied, resp.Conflicts, resp.Checkpoint)

	return resp, nil
}

func (s *PushService) applyChange(userID, deviceID string, change *domain.PushChange) (domain.ChangeResult, int64, error) {
	result := domain.ChangeResult{Table: change.Table, ID: change.ID}

	if _, ok := s.tables[change.Table]; !ok {
		result.Status = domain.StatusInvalid
		result.Error = ErrUnknownTable.Error()
		return result, 0, nil
	}
	if change.ID == "" {
		result.Status = domain.StatusInvalid
		result.Error = ErrMissingRecordID.Error()
		return result, 0, nil
	}
	if !change.Deleted && !isJSONObject(change.Data) {
		result.Status = domain.StatusInvalid
		result.Error = ErrInvalidPayload.Error()
		return result, 0, nil
	}

	// Client-supplied idempotency keys short-circuit retried mutations
	// before any state is touched.
	if change.IdempotencyKey != "" {
		entry, err := s.changes.FindByIdempotencyKey(userID, change.IdempotencyKey)
		if err != nil {
			return result, 0, err
		}
		if entry != nil {
			return resultFromEntry(entry), entry.SequenceNumber, nil
		}
	}

	release := s.locks.Acquire(userID + "/" + change.Table + "/" + change.ID)
	defer release()

	current, err := s.records.Find(userID, change.Table, change.ID)
	if err != nil {
		return result, 0, err
	}

	changedAt := change.LastModified
	if changedAt.IsZero() {
		changedAt = time.Now()
	}

	decision := s.resolver.Resolve(current, change, deviceID, changedAt)

	if decision.Status == domain.StatusDuplicate {
		// Replayed write: store and log stay untouched.
		result.Status = domain.StatusDuplicate
		return result, 0, nil
	}

	now := time.Now()
	entry := &domain.ChangesetEntry{
		ID:              uuid.New().String(),
		UserID:          userID,
		TableName:       change.Table,
		RecordID:        change.ID,
		Operation:       operationFor(current, change),
		DeviceID:        deviceID,
		ChangeTimestamp: changedAt,
		IdempotencyKey:  change.IdempotencyKey,
		CreatedAt:       now,
	}
	if current != nil {
		entry.OldData = current.Payload
	}

	var record *domain.Record

	switch decision.Status {
	case domain.StatusStale:
		// Rejected, but still logged for audit.
		entry.Applied = false
		entry.NewData = change.Data
		entry.VersionVector = decision.Incoming
		result.Status = domain.StatusStale

	case domain.StatusApplied:
		entry.Applied = true
		entry.NewData = change.Data
		entry.VersionVector = decision.Merged
		record = buildRecord(current, change, decision, deviceID, userID, changedAt, now)
		result.Status = domain.StatusApplied
		result.WinnerDevice = deviceID

	case domain.StatusConflict:
		entry.Applied = true
		entry.IsConflict = true
		entry.Resolution = decision.Resolution
		entry.VersionVector = decision.Merged
		// NewData carries the winning payload so the log alone can
		// rebuild the record; the loser sits in the resolution.
		if decision.IncomingWins {
			entry.NewData = change.Data
		} else {
			entry.NewData = current.Payload
		}
		record = buildRecord(current, change, decision, deviceID, userID, changedAt, now)
		result.Status = domain.StatusConflict
		result.WinnerDevice = decision.Resolution.WinnerDevice
	}

	seq, err := s.changes.CommitChange(entry, record)
	if err != nil {
		return result, 0, err
	}

	return result, seq, nil
}

// buildRecord produces the post-commit record state. On a conflict the
// losing side still contributes its vector, never its value.
func buildRecord(current *domain.Record, change *domain.PushChange, decision Decision, deviceID, userID string, changedAt, now time.Time) *domain.Record {
	record := current.Clone()
	if record == nil {
		record = &domain.Record{
			ID:        change.ID,
			UserID:    userID,
			TableName: change.Table,
			CreatedAt: now,
		}
	}

	record.VersionVector = decision.Merged
	record.UpdatedAt = now

	if decision.IncomingWins {
		if change.Deleted {
			// Tombstone: keep the last payload for audit reads.
			record.IsDeleted = true
		} else {
			record.Payload = change.Data
			record.IsDeleted = false
		}
		record.LastModified = changedAt
		record.LastDevice = deviceID
	}

	return record
}

func operationFor(current *domain.Record, change *domain.PushChange) domain.Operation {
	switch {
	case change.Deleted:
		return domain.OpDelete
	case current == nil:
		return domain.OpInsert
	default:
		return domain.OpUpdate
	}
}

// resultFromEntry reconstructs the outcome a mutation got when it was
// first committed, so retried batches report identical counts.
func resultFromEntry(entry *domain.ChangesetEntry) domain.ChangeResult {
	result := domain.ChangeResult{Table: entry.TableName, ID: entry.RecordID}
	switch {
	case !entry.Applied:
		result.Status = domain.StatusStale
	case entry.IsConflict:
		result.Status = domain.StatusConflict
		if entry.Resolution != nil {
			result.WinnerDevice = entry.Resolution.WinnerDevice
		}
	default:
		result.Status = domain.StatusDuplicate
	}
	return result
}

func isJSONObject(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var obj map[string]json.RawMessage
	return json.Unmarshal(raw, &obj) == nil
}
