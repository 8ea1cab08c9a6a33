package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"gigsync-server/internal/domain"

	// Pure Go SQLite driver
	_ "modernc.org/sqlite"
)

// SQLiteStore is the embedded storage backend. It implements every
// repository interface on a single database file, which keeps the
// entry append and record upsert of a commit in one transaction.
type SQLiteStore struct {
	db *sql.DB
}

var (
	_ RecordRepository    = (*SQLiteStore)(nil)
	_ ChangesetRepository = (*SQLiteStore)(nil)
	_ UserRepository      = (*SQLiteStore)(nil)
	_ DeviceRepository    = (*sqliteDeviceRepository)(nil)
)

func NewSQLiteStore(path string, busyTimeoutMs int) (*SQLiteStore, error) {
	if busyTimeoutMs <= 0 {
		busyTimeoutMs = 5000
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL", path, busyTimeoutMs)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			password TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS devices (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			platform TEXT NOT NULL DEFAULT '',
			app_version TEXT NOT NULL DEFAULT '',
			last_active TEXT NOT NULL,
			created_at TEXT NOT NULL,
			is_revoked INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_devices_user ON devices(user_id);

		CREATE TABLE IF NOT EXISTS records (
			user_id TEXT NOT NULL,
			table_name TEXT NOT NULL,
			id TEXT NOT NULL,
			payload TEXT,
			last_modified TEXT NOT NULL,
			last_device TEXT NOT NULL DEFAULT '',
			version_vector TEXT NOT NULL,
			is_deleted INTEGER NOT NULL DEFAULT 0,
			created_seq INTEGER NOT NULL,
			last_seq INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (user_id, table_name, id)
		);
		CREATE INDEX IF NOT EXISTS idx_records_last_seq ON records(user_id, last_seq);

		CREATE TABLE IF NOT EXISTS changesets (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			table_name TEXT NOT NULL,
			record_id TEXT NOT NULL,
			operation TEXT NOT NULL,
			old_data TEXT,
			new_data TEXT,
			device_id TEXT NOT NULL,
			change_timestamp TEXT NOT NULL,
			version_vector TEXT NOT NULL,
			sequence_number INTEGER NOT NULL,
			is_applied INTEGER NOT NULL,
			is_conflict INTEGER NOT NULL,
			conflict_resolution TEXT,
			idempotency_key TEXT,
			created_at TEXT NOT NULL,
			UNIQUE (user_id, sequence_number)
		);
		CREATE INDEX IF NOT EXISTS idx_changesets_record
			ON changesets(user_id, table_name, record_id, sequence_number);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_changesets_idem
			ON changesets(user_id, idempotency_key)
			WHERE idempotency_key IS NOT NULL AND idempotency_key != '';

		CREATE TABLE IF NOT EXISTS sequences (
			user_id TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- RecordRepository ---

const recordColumns = `user_id, table_name, id, payload, last_modified, last_device,
	version_vector, is_deleted, created_seq, last_seq, created_at, updated_at`

func (s *SQLiteStore) Find(userID, table, recordID string) (*domain.Record, error) {
	row := s.db.QueryRow(
		`SELECT `+recordColumns+` FROM records WHERE user_id = ? AND table_name = ? AND id = ?`,
		userID, table, recordID,
	)

	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find record: %w", err)
	}
	return record, nil
}

func (s *SQLiteStore) Save(record *domain.Record) error {
	return s.saveRecord(s.db, record)
}

type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func (s *SQLiteStore) saveRecord(db execer, record *domain.Record) error {
	vector, err := json.Marshal(record.VersionVector.Clone())
	if err != nil {
		return fmt.Errorf("failed to encode version vector: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, table_name, id) DO UPDATE SET
			payload = excluded.payload,
			last_modified = excluded.last_modified,
			last_device = excluded.last_device,
			version_vector = excluded.version_vector,
			is_deleted = excluded.is_deleted,
			last_seq = excluded.last_seq,
			updated_at = excluded.updated_at`,
		record.UserID, record.TableName, record.ID,
		nullString(string(record.Payload)),
		record.LastModified.Format(time.RFC3339Nano),
		record.LastDevice,
		string(vector),
		boolToInt(record.IsDeleted),
		record.CreatedSeq, record.LastSeq,
		record.CreatedAt.Format(time.RFC3339Nano),
		record.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListChangedSince(userID string, afterSeq int64, limit int) ([]*domain.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records
		WHERE user_id = ? AND last_seq > ? ORDER BY last_seq ASC`
	args := []interface{}{userID, afterSeq}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list changed records: %w", err)
	}
	defer rows.Close()

	var records []*domain.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*domain.Record, error) {
	var (
		record       domain.Record
		payload      sql.NullString
		lastModified string
		vector       string
		isDeleted    int
		createdAt    string
		updatedAt    string
	)

	err := row.Scan(
		&record.UserID, &record.TableName, &record.ID,
		&payload, &lastModified, &record.LastDevice,
		&vector, &isDeleted, &record.CreatedSeq, &record.LastSeq,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if payload.Valid {
		record.Payload = json.RawMessage(payload.String)
	}
	record.IsDeleted = isDeleted != 0
	if err := json.Unmarshal([]byte(vector), &record.VersionVector); err != nil {
		return nil, fmt.Errorf("corrupt version vector: %w", err)
	}
	record.LastModified = parseTime(lastModified)
	record.CreatedAt = parseTime(createdAt)
	record.UpdatedAt = parseTime(updatedAt)

	return &record, nil
}

// --- ChangesetRepository ---

func (s *SQLiteStore) CommitChange(entry *domain.ChangesetEntry, record *domain.Record) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin commit: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRow(`
		INSERT INTO sequences (user_id, value) VALUES (?, 1)
		ON CONFLICT (user_id) DO UPDATE SET value = value + 1
		RETURNING value`,
		entry.UserID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to advance sequence counter: %w", err)
	}
	if seq <= 0 {
		return 0, ErrSequenceOverflow
	}

	entry.SequenceNumber = seq

	vector, err := json.Marshal(entry.VersionVector.Clone())
	if err != nil {
		return 0, fmt.Errorf("failed to encode version vector: %w", err)
	}
	var resolution sql.NullString
	if entry.Resolution != nil {
		raw, err := json.Marshal(entry.Resolution)
		if err != nil {
			return 0, fmt.Errorf("failed to encode resolution: %w", err)
		}
		resolution = sql.NullString{String: string(raw), Valid: true}
	}

	_, err = tx.Exec(`
		INSERT INTO changesets (
			id, user_id, table_name, record_id, operation,
			old_data, new_data, device_id, change_timestamp,
			version_vector, sequence_number, is_applied, is_conflict,
			conflict_resolution, idempotency_key, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.UserID, entry.TableName, entry.RecordID, string(entry.Operation),
		nullString(string(entry.OldData)), nullString(string(entry.NewData)),
		entry.DeviceID, entry.ChangeTimestamp.Format(time.RFC3339Nano),
		string(vector), seq, boolToInt(entry.Applied), boolToInt(entry.IsConflict),
		resolution, nullString(entry.IdempotencyKey),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to append changeset entry: %w", err)
	}

	if record != nil {
		record.LastSeq = seq
		if record.CreatedSeq == 0 {
			record.CreatedSeq = seq
		}
		if err := s.saveRecord(tx, record); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit change: %w", err)
	}

	return seq, nil
}

const changesetColumns = `id, user_id, table_name, record_id, operation,
	old_data, new_data, device_id, change_timestamp, version_vector,
	sequence_number, is_applied, is_conflict, conflict_resolution,
	idempotency_key, created_at`

func (s *SQLiteStore) FindByIdempotencyKey(userID, key string) (*domain.ChangesetEntry, error) {
	row := s.db.QueryRow(
		`SELECT `+changesetColumns+` FROM changesets WHERE user_id = ? AND idempotency_key = ?`,
		userID, key,
	)

	entry, err := scanChangeset(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query idempotency key: %w", err)
	}
	return entry, nil
}

func (s *SQLiteStore) ListSince(userID string, afterSeq int64, limit int) ([]*domain.ChangesetEntry, error) {
	query := `SELECT ` + changesetColumns + ` FROM changesets
		WHERE user_id = ? AND sequence_number > ? ORDER BY sequence_number ASC`
	args := []interface{}{userID, afterSeq}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	return s.queryChangesets(query, args...)
}

func (s *SQLiteStore) ListByRecord(userID, table, recordID string) ([]*domain.ChangesetEntry, error) {
	return s.queryChangesets(
		`SELECT `+changesetColumns+` FROM changesets
		WHERE user_id = ? AND table_name = ? AND record_id = ?
		ORDER BY sequence_number ASC`,
		userID, table, recordID,
	)
}

func (s *SQLiteStore) queryChangesets(query string, args ...interface{}) ([]*domain.ChangesetEntry, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query changesets: %w", err)
	}
	defer rows.Close()

	var entries []*domain.ChangesetEntry
	for rows.Next() {
		entry, err := scanChangeset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to decode changeset entry: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func scanChangeset(row rowScanner) (*domain.ChangesetEntry, error) {
	var (
		entry           domain.ChangesetEntry
		oldData         sql.NullString
		newData         sql.NullString
		changeTimestamp string
		vector          string
		applied         int
		isConflict      int
		resolution      sql.NullString
		idemKey         sql.NullString
		createdAt       string
		operation       string
	)

	err := row.Scan(
		&entry.ID, &entry.UserID, &entry.TableName, &entry.RecordID, &operation,
		&oldData, &newData, &entry.DeviceID, &changeTimestamp, &vector,
		&entry.SequenceNumber, &applied, &isConflict, &resolution,
		&idemKey, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	entry.Operation = domain.Operation(operation)
	if oldData.Valid {
		entry.OldData = json.RawMessage(oldData.String)
	}
	if newData.Valid {
		entry.NewData = json.RawMessage(newData.String)
	}
	entry.ChangeTimestamp = parseTime(changeTimestamp)
	if err := json.Unmarshal([]byte(vector), &entry.VersionVector); err != nil {
		return nil, fmt.Errorf("corrupt version vector: %w", err)
	}
	entry.Applied = applied != 0
	entry.IsConflict = isConflict != 0
	if resolution.Valid {
		var res domain.Resolution
		if err := json.Unmarshal([]byte(resolution.String), &res); err != nil {
			return nil, fmt.Errorf("corrupt conflict resolution: %w", err)
		}
		entry.Resolution = &res
	}
	if idemKey.Valid {
		entry.IdempotencyKey = idemKey.String
	}
	entry.CreatedAt = parseTime(createdAt)

	return &entry, nil
}

func (s *SQLiteStore) LatestSequence(userID string) (int64, error) {
	var seq int64
	err := s.db.QueryRow(`SELECT value FROM sequences WHERE user_id = ?`, userID).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read sequence counter: %w", err)
	}
	return seq, nil
}

// --- UserRepository ---

func (s *SQLiteStore) Create(user *domain.User) error {
	_, err := s.db.Exec(
		`INSERT INTO users (id, email, password, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		user.ID, user.Email, user.Password,
		user.CreatedAt.Format(time.RFC3339Nano), user.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FindByID(id string) (*domain.User, error) {
	return s.findUser(`SELECT id, email, password, created_at, updated_at FROM users WHERE id = ?`, id)
}

func (s *SQLiteStore) FindByEmail(email string) (*domain.User, error) {
	return s.findUser(`SELECT id, email, password, created_at, updated_at FROM users WHERE email = ?`, email)
}

func (s *SQLiteStore) findUser(query string, arg interface{}) (*domain.User, error) {
	var (
		user      domain.User
		createdAt string
		updatedAt string
	)
	err := s.db.QueryRow(query, arg).Scan(&user.ID, &user.Email, &user.Password, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	user.CreatedAt = parseTime(createdAt)
	user.UpdatedAt = parseTime(updatedAt)
	return &user, nil
}

func (s *SQLiteStore) EmailExists(email string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM users WHERE email = ?`, email).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check email: %w", err)
	}
	return true, nil
}

// --- DeviceRepository ---

// Devices adapts the store to the DeviceRepository interface; the method
// names clash with the user methods on SQLiteStore itself.
func (s *SQLiteStore) Devices() DeviceRepository {
	return &sqliteDeviceRepository{store: s}
}

type sqliteDeviceRepository struct {
	store *SQLiteStore
}

func (r *sqliteDeviceRepository) Create(device *domain.Device) error {
	return r.store.CreateDevice(device)
}

func (r *sqliteDeviceRepository) List(userID string) ([]*domain.Device, error) {
	return r.store.ListDevices(userID)
}

func (r *sqliteDeviceRepository) FindByID(deviceID string) (*domain.Device, error) {
	return r.store.FindDeviceByID(deviceID)
}

func (r *sqliteDeviceRepository) Revoke(deviceID string) error {
	return r.store.RevokeDevice(deviceID)
}

func (r *sqliteDeviceRepository) UpdateLastActive(deviceID string) error {
	return r.store.UpdateDeviceLastActive(deviceID)
}

func (s *SQLiteStore) CreateDevice(device *domain.Device) error {
	_, err := s.db.Exec(`
		INSERT INTO devices (id, user_id, name, platform, app_version, last_active, created_at, is_revoked)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		device.ID, device.UserID, device.Name, device.Platform, device.AppVersion,
		device.LastActive.Format(time.RFC3339Nano), device.CreatedAt.Format(time.RFC3339Nano),
		boolToInt(device.IsRevoked),
	)
	if err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListDevices(userID string) ([]*domain.Device, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, name, platform, app_version, last_active, created_at, is_revoked
		FROM devices WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var devices []*domain.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to decode device: %w", err)
		}
		devices = append(devices, device)
	}

	return devices, rows.Err()
}

func (s *SQLiteStore) FindDeviceByID(deviceID string) (*domain.Device, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, name, platform, app_version, last_active, created_at, is_revoked
		FROM devices WHERE id = ?`, deviceID)

	device, err := scanDevice(row)
	if err == sql.ErrNoRows {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find device: %w", err)
	}
	return device, nil
}

func scanDevice(row rowScanner) (*domain.Device, error) {
	var (
		device     domain.Device
		lastActive string
		createdAt  string
		revoked    int
	)
	err := row.Scan(&device.ID, &device.UserID, &device.Name, &device.Platform,
		&device.AppVersion, &lastActive, &createdAt, &revoked)
	if err != nil {
		return nil, err
	}
	device.LastActive = parseTime(lastActive)
	device.CreatedAt = parseTime(createdAt)
	device.IsRevoked = revoked != 0
	return &device, nil
}

func (s *SQLiteStore) RevokeDevice(deviceID string) error {
	_, err := s.db.Exec(`UPDATE devices SET is_revoked = 1 WHERE id = ?`, deviceID)
	if err != nil {
		return fmt.Errorf("failed to revoke device: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateDeviceLastActive(deviceID string) error {
	_, err := s.db.Exec(`UPDATE devices SET last_active = ? WHERE id = ?`,
		time.Now().Format(time.RFC3339Nano), deviceID)
	if err != nil {
		return fmt.Errorf("failed to update last active: %w", err)
	}
	return nil
}

// --- helpers ---

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
