package service

import (
	"gigsync-server/internal/domain"
	"gigsync-server/internal/repository"
)

// ChangelogService exposes the audit side of the changeset log: per-record
// history, and replaying that history back into a materialized record.
type ChangelogService struct {
	records repository.RecordRepository
	changes repository.ChangesetRepository
}

func NewChangelogService(records repository.RecordRepository, changes repository.ChangesetRepository) *ChangelogService {
	return &ChangelogService{
		records: records,
		changes: changes,
	}
}

func (s *ChangelogService) History(userID, table, recordID string) ([]*domain.ChangesetEntry, error) {
	entries, err := s.changes.ListByRecord(userID, table, recordID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrRecordNotFound
	}
	return entries, nil
}

// Replay folds a record's applied changeset history, in sequence order,
// into its materialized state without touching the store.
func (s *ChangelogService) Replay(userID, table, recordID string) (*domain.Record, error) {
	entries, err := s.changes.ListByRecord(userID, table, recordID)
	if err != nil {
		return nil, err
	}

	var record *domain.Record
	for _, entry := range entries {
		if !entry.Applied {
			continue
		}

		if record == nil {
			record = &domain.Record{
				ID:         recordID,
				UserID:     userID,
				TableName:  table,
				CreatedSeq: entry.SequenceNumber,
				CreatedAt:  entry.CreatedAt,
			}
		}

		record.VersionVector = entry.VersionVector.Clone()
		record.LastSeq = entry.SequenceNumber
		record.UpdatedAt = entry.CreatedAt

		// On a conflict the entry's device may have lost; the record's
		// value fields only move when the entry's writer won.
		winner := entry.DeviceID
		if entry.IsConflict && entry.Resolution != nil {
			winner = entry.Resolution.WinnerDevice
		}
		if winner != entry.DeviceID {
			continue
		}

		record.LastModified = entry.ChangeTimestamp
		record.LastDevice = entry.DeviceID
		if entry.Operation == domain.OpDelete {
			record.IsDeleted = true
		} else {
			record.Payload = entry.NewData
			record.IsDeleted = false
		}
	}

	if record == nil {
		return nil, ErrRecordNotFound
	}
	return record, nil
}

// Rebuild replays a record's history and writes the result back to the
// materialized store, repairing a diverged projection.
func (s *ChangelogService) Rebuild(userID, table, recordID string) (*domain.Record, error) {
	record, err := s.Replay(userID, table, recordID)
	if err != nil {
		return nil, err
	}
	if err := s.records.Save(record); err != nil {
		return nil, err
	}
	return record, nil
}
