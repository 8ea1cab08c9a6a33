package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"gigsync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

// RecordRepository is the materialized record store: the current-state
// projection of every synced entity, derived from the changeset log.
type RecordRepository interface {
	// Find returns (nil, nil) when the record does not exist.
	Find(userID, table, recordID string) (*domain.Record, error)
	Save(record *domain.Record) error
	// ListChangedSince returns records whose last contributing sequence
	// exceeds afterSeq, ordered by that sequence, at most limit of them.
	ListChangedSince(userID string, afterSeq int64, limit int) ([]*domain.Record, error)
}

type couchRecordRepository struct {
	client *kivik.Client
	dbName string
}

const recordSeqIndex = "records-by-last-seq"

func NewRecordRepository(client *kivik.Client, dbName string) RecordRepository {
	r := &couchRecordRepository{
		client: client,
		dbName: dbName,
	}
	r.ensureIndexes()
	return r
}

func (r *couchRecordRepository) ensureIndexes() {
	db := r.client.DB(r.dbName)
	index := map[string]interface{}{
		"fields": []string{"user_id", "last_seq"},
	}
	if err := db.CreateIndex(context.Background(), recordSeqIndex, recordSeqIndex, index); err != nil {
		log.Printf("failed to create %s index: %v", recordSeqIndex, err)
	}
}

func recordDocID(userID, table, recordID string) string {
	return fmt.Sprintf("record:%s:%s:%s", userID, table, recordID)
}

func (r *couchRecordRepository) Find(userID, table, recordID string) (*domain.Record, error) {
	db := r.client.DB(r.dbName)

	row := db.Get(context.Background(), recordDocID(userID, table, recordID))

	var record domain.Record
	if err := row.ScanDoc(&record); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find record: %w", err)
	}

	return &record, nil
}

func (r *couchRecordRepository) Save(record *domain.Record) error {
	db := r.client.DB(r.dbName)
	docID := recordDocID(record.UserID, record.TableName, record.ID)

	doc, err := toDoc(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	var existing map[string]interface{}
	row := db.Get(context.Background(), docID)
	if err := row.ScanDoc(&existing); err == nil {
		doc["_rev"] = existing["_rev"]
	} else if kivik.HTTPStatus(err) != http.StatusNotFound {
		return fmt.Errorf("failed to fetch record for update: %w", err)
	}

	if _, err := db.Put(context.Background(), docID, doc); err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}

	return nil
}

// changedSinceQuery builds the Mango query for ListChangedSince. The limit
// and sort live server-side: without them CouchDB applies its default _find
// page of 25 in index order, which would silently drop changed records.
func changedSinceQuery(userID string, afterSeq int64, limit int) map[string]interface{} {
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"user_id":  userID,
			"last_seq": map[string]interface{}{"$gt": afterSeq},
		},
		"sort": []map[string]string{
			{"user_id": "asc"},
			{"last_seq": "asc"},
		},
		"use_index": recordSeqIndex,
	}
	if limit > 0 {
		query["limit"] = limit
	}
	return query
}

func (r *couchRecordRepository) ListChangedSince(userID string, afterSeq int64, limit int) ([]*domain.Record, error) {
	db := r.client.DB(r.dbName)

	rows := db.Find(context.Background(), changedSinceQuery(userID, afterSeq, limit))
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list changed records: %w", err)
	}
	defer rows.Close()

	var records []*domain.Record
	for rows.Next() {
		var record domain.Record
		if err := rows.ScanDoc(&record); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		records = append(records, &record)
	}

	return records, nil
}

// toDoc flattens a value into a CouchDB document map so _id/_rev can be
// attached alongside its JSON fields.
func toDoc(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
