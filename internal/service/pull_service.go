package service

import (
	"log"
	"time"

	"gigsync-server/internal/domain"
	"gigsync-server/internal/repository"
)

// PullService computes the delta a device has not yet observed: every
// record whose most recent contributing sequence exceeds the checkpoint,
// grouped per table. Responses are bounded; a clipped page carries a
// checkpoint that is immediately reusable for the next call.
type PullService struct {
	records  repository.RecordRepository
	pageSize int
	maxPage  int
}

func NewPullService(records repository.RecordRepository, pageSize, maxPage int) *PullService {
	if pageSize <= 0 {
		pageSize = 500
	}
	if maxPage <= 0 {
		maxPage = 2000
	}
	return &PullService{
		records:  records,
		pageSize: pageSize,
		maxPage:  maxPage,
	}
}

// Pull is read-only: repeated calls with the same checkpoint return the
// same result set until new data lands.
func (s *PullService) Pull(userID string, req *domain.PullRequest) (*domain.PullResponse, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = s.pageSize
	}
	if limit > s.maxPage {
		limit = s.maxPage
	}

	records, err := s.records.ListChangedSince(userID, req.Checkpoint, limit+1)
	if err != nil {
		return nil, err
	}

	hasMore := len(records) > limit
	if hasMore {
		records = records[:limit]
	}

	changes := make(map[string]*domain.TableChanges)
	checkpoint := req.Checkpoint

	for _, record := range records {
		table, ok := changes[record.TableName]
		if !ok {
			table = &domain.TableChanges{
				Created: []*domain.RecordResponse{},
				Updated: []*domain.RecordResponse{},
				Deleted: []string{},
			}
			changes[record.TableName] = table
		}

		switch {
		case record.IsDeleted:
			// Tombstones land in deleted regardless of what the device
			// previously saw of the record.
			table.Deleted = append(table.Deleted, record.ID)
		case record.CreatedSeq > req.Checkpoint:
			table.Created = append(table.Created, record.ToResponse())
		default:
			table.Updated = append(table.Updated, record.ToResponse())
		}

		if record.LastSeq > checkpoint {
			checkpoint = record.LastSeq
		}
	}

	log.Printf("pull: user=%s device=%s checkpoint=%d records=%d has_more=%t",
		userID, req.DeviceID, req.Checkpoint, len(records), hasMore)

	return &domain.PullResponse{
		Changes:    changes,
		Checkpoint: checkpoint,
		HasMore:    hasMore,
		Timestamp:  time.Now(),
	}, nil
}
