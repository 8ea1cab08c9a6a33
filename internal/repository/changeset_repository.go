package repository

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"

	"gigsync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

// ErrSequenceOverflow is fatal: the per-account sequence counter must
// never wrap.
var ErrSequenceOverflow = errors.New("sequence counter overflow")

// ChangesetRepository is the append-only changeset log, the durable
// source of truth for convergence and audit.
type ChangesetRepository interface {
	// CommitChange assigns the next per-account sequence number, appends
	// the entry and, when record is non-nil, upserts the materialized
	// record in the same commit. It fills entry.SequenceNumber and
	// record.LastSeq, and record.CreatedSeq for records without one.
	CommitChange(entry *domain.ChangesetEntry, record *domain.Record) (int64, error)

	// FindByIdempotencyKey returns (nil, nil) when no entry carries key.
	FindByIdempotencyKey(userID, key string) (*domain.ChangesetEntry, error)

	ListSince(userID string, afterSeq int64, limit int) ([]*domain.ChangesetEntry, error)
	ListByRecord(userID, table, recordID string) ([]*domain.ChangesetEntry, error)
	LatestSequence(userID string) (int64, error)
}

type couchChangesetRepository struct {
	client  *kivik.Client
	dbName  string
	records RecordRepository

	// Serializes sequence assignment per account; CouchDB has no
	// cross-document transactions.
	mu       sync.Mutex
	accounts map[string]*sync.Mutex
}

const changeRecordIndex = "changes-by-record"

// historyPageSize bounds one _find round trip while ListByRecord walks a
// record's full history via bookmarks.
const historyPageSize = 500

func NewChangesetRepository(client *kivik.Client, dbName string, records RecordRepository) ChangesetRepository {
	r := &couchChangesetRepository{
		client:   client,
		dbName:   dbName,
		records:  records,
		accounts: make(map[string]*sync.Mutex),
	}
	r.ensureIndexes()
	return r
}

func (r *couchChangesetRepository) ensureIndexes() {
	db := r.client.DB(r.dbName)
	index := map[string]interface{}{
		"fields": []string{"user_id", "table_name", "record_id", "sequence_number"},
	}
	if err := db.CreateIndex(context.Background(), changeRecordIndex, changeRecordIndex, index); err != nil {
		log.Printf("failed to create %s index: %v", changeRecordIndex, err)
	}
}

func changeDocID(userID string, seq int64) string {
	return fmt.Sprintf("change:%s:%012d", userID, seq)
}

func counterDocID(userID string) string {
	return fmt.Sprintf("seq:%s", userID)
}

func (r *couchChangesetRepository) accountLock(userID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.accounts[userID]
	if !ok {
		lock = &sync.Mutex{}
		r.accounts[userID] = lock
	}
	return lock
}

func (r *couchChangesetRepository) CommitChange(entry *domain.ChangesetEntry, record *domain.Record) (int64, error) {
	lock := r.accountLock(entry.UserID)
	lock.Lock()
	defer lock.Unlock()

	seq, err := r.nextSequence(entry.UserID)
	if err != nil {
		return 0, err
	}

	entry.SequenceNumber = seq

	db := r.client.DB(r.dbName)
	doc, err := toDoc(entry)
	if err != nil {
		return 0, fmt.Errorf("failed to encode changeset entry: %w", err)
	}
	if _, err := db.Put(context.Background(), changeDocID(entry.UserID, seq), doc); err != nil {
		return 0, fmt.Errorf("failed to append changeset entry: %w", err)
	}

	if record != nil {
		record.LastSeq = seq
		if record.CreatedSeq == 0 {
			record.CreatedSeq = seq
		}
		if err := r.records.Save(record); err != nil {
			return 0, err
		}
	}

	return seq, nil
}

func (r *couchChangesetRepository) nextSequence(userID string) (int64, error) {
	db := r.client.DB(r.dbName)
	docID := counterDocID(userID)

	current := int64(0)
	doc := map[string]interface{}{"user_id": userID}

	row := db.Get(context.Background(), docID)
	var existing map[string]interface{}
	if err := row.ScanDoc(&existing); err == nil {
		if v, ok := existing["value"].(float64); ok {
			current = int64(v)
		}
		doc["_rev"] = existing["_rev"]
	} else if kivik.HTTPStatus(err) != http.StatusNotFound {
		return 0, fmt.Errorf("failed to read sequence counter: %w", err)
	}

	next := current + 1
	if next <= current {
		return 0, ErrSequenceOverflow
	}

	doc["value"] = next
	if _, err := db.Put(context.Background(), docID, doc); err != nil {
		return 0, fmt.Errorf("failed to advance sequence counter: %w", err)
	}

	return next, nil
}

func (r *couchChangesetRepository) FindByIdempotencyKey(userID, key string) (*domain.ChangesetEntry, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"user_id":         userID,
			"idempotency_key": key,
		},
		"limit": 1,
	}

	rows := db.Find(context.Background(), query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query idempotency key: %w", err)
	}
	defer rows.Close()

	if rows.Next() {
		var entry domain.ChangesetEntry
		if err := rows.ScanDoc(&entry); err != nil {
			return nil, fmt.Errorf("failed to decode changeset entry: %w", err)
		}
		return &entry, nil
	}

	return nil, nil
}

func (r *couchChangesetRepository) ListSince(userID string, afterSeq int64, limit int) ([]*domain.ChangesetEntry, error) {
	db := r.client.DB(r.dbName)

	params := map[string]interface{}{
		"startkey":     changeDocID(userID, afterSeq+1),
		"endkey":       fmt.Sprintf("change:%s:\ufff0", userID),
		"include_docs": true,
	}
	if limit > 0 {
		params["limit"] = limit
	}

	rows := db.AllDocs(context.Background(), kivik.Params(params))
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list changeset entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.ChangesetEntry
	for rows.Next() {
		var entry domain.ChangesetEntry
		if err := rows.ScanDoc(&entry); err != nil {
			continue
		}
		entries = append(entries, &entry)
	}

	return entries, nil
}

// recordHistoryQuery builds one page of a record's history. The explicit
// limit and server-side sort keep CouchDB from applying its default _find
// page of 25 in index order; pages continue via the bookmark.
func recordHistoryQuery(userID, table, recordID string, limit int, bookmark string) map[string]interface{} {
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"user_id":    userID,
			"table_name": table,
			"record_id":  recordID,
			"sequence_number": map[string]interface{}{
				"$gt": 0,
			},
		},
		"sort": []map[string]string{
			{"user_id": "asc"},
			{"table_name": "asc"},
			{"record_id": "asc"},
			{"sequence_number": "asc"},
		},
		"use_index": changeRecordIndex,
		"limit":     limit,
	}
	if bookmark != "" {
		query["bookmark"] = bookmark
	}
	return query
}

func (r *couchChangesetRepository) ListByRecord(userID, table, recordID string) ([]*domain.ChangesetEntry, error) {
	db := r.client.DB(r.dbName)

	var entries []*domain.ChangesetEntry
	bookmark := ""

	for {
		rows := db.Find(context.Background(), recordHistoryQuery(userID, table, recordID, historyPageSize, bookmark))
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to list record history: %w", err)
		}

		page := 0
		for rows.Next() {
			page++
			var entry domain.ChangesetEntry
			if err := rows.ScanDoc(&entry); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to decode changeset entry: %w", err)
			}
			entries = append(entries, &entry)
		}
		meta, err := rows.Metadata()
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to read pagination metadata: %w", err)
		}
		bookmark = meta.Bookmark
		rows.Close()

		if page < historyPageSize {
			break
		}
	}

	return entries, nil
}

func (r *couchChangesetRepository) LatestSequence(userID string) (int64, error) {
	db := r.client.DB(r.dbName)

	row := db.Get(context.Background(), counterDocID(userID))

	var doc map[string]interface{}
	if err := row.ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read sequence counter: %w", err)
	}

	if v, ok := doc["value"].(float64); ok {
		return int64(v), nil
	}
	return 0, nil
}
