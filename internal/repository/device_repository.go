package repository

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"gigsync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

// ErrDeviceNotFound distinguishes an unregistered device from a storage
// failure.
var ErrDeviceNotFound = errors.New("device not found")

type DeviceRepository interface {
	Create(device *domain.Device) error
	List(userID string) ([]*domain.Device, error)
	FindByID(deviceID string) (*domain.Device, error)
	Revoke(deviceID string) error
	UpdateLastActive(deviceID string) error
}

type couchDeviceRepository struct {
	client *kivik.Client
	dbName string
}

func NewDeviceRepository(client *kivik.Client, dbName string) DeviceRepository {
	return &couchDeviceRepository{
		client: client,
		dbName: dbName,
	}
}

func (r *couchDeviceRepository) Create(device *domain.Device) error {
	db := r.client.DB(r.dbName)

	docID := fmt.Sprintf("device:%s", device.ID)
	if _, err := db.Put(context.Background(), docID, device); err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}

	return nil
}

func (r *couchDeviceRepository) List(userID string) ([]*domain.Device, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"user_id":  userID,
			"platform": map[string]interface{}{"$exists": true},
		},
	}

	rows := db.Find(context.Background(), query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var devices []*domain.Device
	for rows.Next() {
		var device domain.Device
		if err := rows.ScanDoc(&device); err != nil {
			continue // Skip malformed docs
		}
		devices = append(devices, &device)
	}

	return devices, nil
}

func (r *couchDeviceRepository) FindByID(deviceID string) (*domain.Device, error) {
	db := r.client.DB(r.dbName)

	row := db.Get(context.Background(), fmt.Sprintf("device:%s", deviceID))

	var device domain.Device
	if err := row.ScanDoc(&device); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("failed to find device: %w", err)
	}

	return &device, nil
}

func (r *couchDeviceRepository) Revoke(deviceID string) error {
	return r.patch(deviceID, func(doc map[string]interface{}) {
		doc["is_revoked"] = true
	})
}

func (r *couchDeviceRepository) UpdateLastActive(deviceID string) error {
	return r.patch(deviceID, func(doc map[string]interface{}) {
		doc["last_active"] = time.Now()
	})
}

func (r *couchDeviceRepository) patch(deviceID string, mutate func(map[string]interface{})) error {
	db := r.client.DB(r.dbName)
	docID := fmt.Sprintf("device:%s", deviceID)

	var doc map[string]interface{}
	row := db.Get(context.Background(), docID)
	if err := row.ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return ErrDeviceNotFound
		}
		return fmt.Errorf("failed to fetch device: %w", err)
	}

	mutate(doc)

	if _, err := db.Put(context.Background(), docID, doc); err != nil {
		return fmt.Errorf("failed to update device: %w", err)
	}

	return nil
}
