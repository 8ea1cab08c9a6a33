package service

import (
	"errors"
	"sort"
	"sync"

	"gigsync-server/internal/domain"
	"gigsync-server/internal/repository"
)

// In-memory repositories backing the service tests.

type mockRecordRepository struct {
	mu      sync.Mutex
	records map[string]*domain.Record
}

func newMockRecordRepository() *mockRecordRepository {
	return &mockRecordRepository{records: make(map[string]*domain.Record)}
}

func recordKey(userID, table, recordID string) string {
	return userID + "/" + table + "/" + recordID
}

func (m *mockRecordRepository) Find(userID, table, recordID string) (*domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[recordKey(userID, table, recordID)]
	if !ok {
		return nil, nil
	}
	return record.Clone(), nil
}

func (m *mockRecordRepository) Save(record *domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[recordKey(record.UserID, record.TableName, record.ID)] = record.Clone()
	return nil
}

func (m *mockRecordRepository) ListChangedSince(userID string, afterSeq int64, limit int) ([]*domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.Record
	for _, record := range m.records {
		if record.UserID == userID && record.LastSeq > afterSeq {
			out = append(out, record.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeq < out[j].LastSeq })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type mockChangesetRepository struct {
	mu      sync.Mutex
	seq     map[string]int64
	entries map[string][]*domain.ChangesetEntry
	records *mockRecordRepository
}

func newMockChangesetRepository(records *mockRecordRepository) *mockChangesetRepository {
	return &mockChangesetRepository{
		seq:     make(map[string]int64),
		entries: make(map[string][]*domain.ChangesetEntry),
		records: records,
	}
}

func (m *mockChangesetRepository) CommitChange(entry *domain.ChangesetEntry, record *domain.Record) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq[entry.UserID]++
	seq := m.seq[entry.UserID]
	entry.SequenceNumber = seq

	stored := *entry
	m.entries[entry.UserID] = append(m.entries[entry.UserID], &stored)

	if record != nil {
		record.LastSeq = seq
		if record.CreatedSeq == 0 {
			record.CreatedSeq = seq
		}
		if err := m.records.Save(record); err != nil {
			return 0, err
		}
	}

	return seq, nil
}

func (m *mockChangesetRepository) FindByIdempotencyKey(userID, key string) (*domain.ChangesetEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range m.entries[userID] {
		if entry.IdempotencyKey == key {
			copied := *entry
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *mockChangesetRepository) ListSince(userID string, afterSeq int64, limit int) ([]*domain.ChangesetEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.ChangesetEntry
	for _, entry := range m.entries[userID] {
		if entry.SequenceNumber > afterSeq {
			copied := *entry
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockChangesetRepository) ListByRecord(userID, table, recordID string) ([]*domain.ChangesetEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.ChangesetEntry
	for _, entry := range m.entries[userID] {
		if entry.TableName == table && entry.RecordID == recordID {
			copied := *entry
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out, nil
}

func (m *mockChangesetRepository) LatestSequence(userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seq[userID], nil
}

func (m *mockChangesetRepository) count(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries[userID])
}

type mockUserRepository struct {
	mu    sync.Mutex
	users map[string]*domain.User

	// failWith, when set, makes every lookup fail like a storage outage.
	failWith error
}

func newMockUserRepository() *mockUserRepository {
	return &mockUserRepository{users: make(map[string]*domain.User)}
}

func (m *mockUserRepository) Create(user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *user
	m.users[user.ID] = &copied
	return nil
}

func (m *mockUserRepository) FindByID(id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	user, ok := m.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

func (m *mockUserRepository) FindByEmail(email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	for _, user := range m.users {
		if user.Email == email {
			copied := *user
			return &copied, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (m *mockUserRepository) EmailExists(email string) (bool, error) {
	_, err := m.FindByEmail(email)
	if errors.Is(err, repository.ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

type mockDeviceRepository struct {
	mu      sync.Mutex
	devices map[string]*domain.Device

	failWith error
}

func newMockDeviceRepository() *mockDeviceRepository {
	return &mockDeviceRepository{devices: make(map[string]*domain.Device)}
}

func (m *mockDeviceRepository) Create(device *domain.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *device
	m.devices[device.ID] = &copied
	return nil
}

func (m *mockDeviceRepository) List(userID string) ([]*domain.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Device
	for _, device := range m.devices {
		if device.UserID == userID {
			copied := *device
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockDeviceRepository) FindByID(deviceID string) (*domain.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	device, ok := m.devices[deviceID]
	if !ok {
		return nil, repository.ErrDeviceNotFound
	}
	copied := *device
	return &copied, nil
}

func (m *mockDeviceRepository) Revoke(deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	device, ok := m.devices[deviceID]
	if !ok {
		return repository.ErrDeviceNotFound
	}
	device.IsRevoked = true
	return nil
}

func (m *mockDeviceRepository) UpdateLastActive(deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[deviceID]; !ok {
		return repository.ErrDeviceNotFound
	}
	return nil
}
