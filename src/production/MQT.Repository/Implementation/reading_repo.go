package implementation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	config "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Config"
	logger "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Logger"
	mqtmodels "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Models"
	interfaces "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Repository/Interfaces"
)

var (
	// ErrStorageUnavailable is returned when the store file or engine cannot be opened.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrStorageWriteFailed is returned when a single insert does not commit.
	ErrStorageWriteFailed = errors.New("storage write failed")
	// ErrBackupFailed is returned when the store file cannot be copied to its backup.
	ErrBackupFailed = errors.New("backup failed")
	// ErrRestoreFailed is returned when an existing backup cannot be copied back.
	ErrRestoreFailed = errors.New("restore failed")
)

const createDeviceDataTable = `
	CREATE TABLE IF NOT EXISTS device_data (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		device    TEXT NOT NULL,
		status    TEXT NOT NULL,
		value     REAL NOT NULL,
		timestamp TEXT NOT NULL
	);
`

const insertDeviceData = `
	INSERT INTO device_data (device, status, value, timestamp)
	VALUES (?, ?, ?, ?)
`

// SQLiteReadingRepository is the storage gateway for device_data. The
// connection pool is opened lazily and may be closed and reopened around a
// restore; callers never hold a *sql.DB themselves.
type SQLiteReadingRepository struct {
	path        string
	busyTimeout time.Duration
	logger      *logger.Logger

	mu sync.Mutex
	db *sql.DB
}

var (
	_ interfaces.ReadingRepository = (*SQLiteReadingRepository)(nil)
	_ interfaces.StoreMaintenance  = (*SQLiteReadingRepository)(nil)
)

func NewSQLiteReadingRepository(cfg config.StoreConfig, log *logger.Logger) *SQLiteReadingRepository {
	return &SQLiteReadingRepository{
		path:        cfg.Path,
		busyTimeout: cfg.BusyTimeout,
		logger:      log.WithComponent("storage").WithField("store", cfg.Path),
	}
}

// Path returns the store file location.
func (r *SQLiteReadingRepository) Path() string {
	return r.path
}

func (r *SQLiteReadingRepository) backupPath() string {
	return r.path + ".backup"
}

func (r *SQLiteReadingRepository) dsn(mode string) string {
	// The path is percent-encoded so '#', '?' and '%' stay part of the file
	// name instead of starting a fragment or the query.
	name := (&url.URL{Path: r.path}).EscapedPath()
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_txlock=immediate", name, r.busyTimeout.Milliseconds())
	if mode != "" {
		dsn += "&mode=" + mode
	}
	return dsn
}

func (r *SQLiteReadingRepository) pool(ctx context.Context) (*sql.DB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db != nil {
		return r.db, nil
	}

	db, err := sql.Open("sqlite3", r.dsn(""))
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrStorageUnavailable, r.path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: open %s: %w", ErrStorageUnavailable, r.path, err)
	}

	r.db = db
	r.logger.Debug("Database connection pool opened")
	return db, nil
}

// Bootstrap opens or creates the store and ensures device_data exists. It
// is safe to call repeatedly.
func (r *SQLiteReadingRepository) Bootstrap(ctx context.Context) error {
	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			err = fmt.Errorf("%w: create directory %s: %w", ErrStorageUnavailable, dir, err)
			r.logger.ErrorWithError(err, "Database setup failed")
			return err
		}
	}

	db, err := r.pool(ctx)
	if err != nil {
		r.logger.ErrorWithError(err, "Database setup failed")
		return err
	}

	if _, err := db.ExecContext(ctx, createDeviceDataTable); err != nil {
		err = fmt.Errorf("%w: create device_data: %w", ErrStorageUnavailable, err)
		r.logger.ErrorWithError(err, "Database setup failed")
		return err
	}

	r.logger.Info("Database setup complete")
	return nil
}

// Acquire checks one connection out of the pool for the caller's exclusive
// use until Release.
func (r *SQLiteReadingRepository) Acquire(ctx context.Context) (interfaces.ReadingSession, error) {
	return r.acquire(ctx)
}

func (r *SQLiteReadingRepository) acquire(ctx context.Context) (*Session, error) {
	db, err := r.pool(ctx)
	if err != nil {
		r.logger.ErrorWithError(err, "Error connecting to database")
		return nil, err
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		err = fmt.Errorf("%w: acquire connection: %w", ErrStorageUnavailable, err)
		r.logger.ErrorWithError(err, "Error connecting to database")
		return nil, err
	}

	return &Session{repo: r, conn: conn}, nil
}

// Insert appends one reading under its own transaction and returns the id
// the store assigned. Failures are logged and wrap ErrStorageWriteFailed.
func (r *SQLiteReadingRepository) Insert(ctx context.Context, s *Session, reading mqtmodels.DeviceReading) (int64, error) {
	id, err := r.insert(ctx, s, reading)
	if err != nil {
		err = fmt.Errorf("%w: device %q: %w", ErrStorageWriteFailed, reading.Device, err)
		r.logger.Logger.Error().Err(err).Str("device", reading.Device).Msg("Error inserting data")
		return 0, err
	}

	r.logger.Logger.Debug().
		Int64("id", id).
		Str("device", reading.Device).
		Str("status", reading.Status).
		Msg("Data inserted")
	return id, nil
}

func (r *SQLiteReadingRepository) insert(ctx context.Context, s *Session, reading mqtmodels.DeviceReading) (int64, error) {
	if s == nil || s.conn == nil {
		return 0, errors.New("session is released")
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, insertDeviceData, reading.Device, reading.Status, reading.Value, reading.Timestamp)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// Readings returns up to limit rows, newest first.
func (r *SQLiteReadingRepository) Readings(ctx context.Context, limit int) ([]mqtmodels.DeviceReading, error) {
	db, err := r.pool(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, device, status, value, timestamp FROM device_data ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []mqtmodels.DeviceReading
	for rows.Next() {
		var rd mqtmodels.DeviceReading
		if err := rows.Scan(&rd.ID, &rd.Device, &rd.Status, &rd.Value, &rd.Timestamp); err != nil {
			return nil, err
		}
		readings = append(readings, rd)
	}

	return readings, rows.Err()
}

// Count returns the number of rows in device_data.
func (r *SQLiteReadingRepository) Count(ctx context.Context) (int64, error) {
	db, err := r.pool(ctx)
	if err != nil {
		return 0, err
	}

	var n int64
	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM device_data`).Scan(&n)
	return n, err
}

// HealthCheck opens a fresh connection outside the pool and runs a trivial
// query. It never returns an error or panics; any failure reads as false.
func (r *SQLiteReadingRepository) HealthCheck(ctx context.Context) (healthy bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Logger.Error().Interface("panic", rec).Msg("Database health check failed")
			healthy = false
		}
	}()

	// mode=rw keeps a health check from creating an empty store where none exists.
	db, err := sql.Open("sqlite3", r.dsn("rw"))
	if err != nil {
		r.logger.ErrorWithError(err, "Database health check failed")
		return false
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		r.logger.ErrorWithError(err, "Database health check failed")
		return false
	}
	if one != 1 {
		r.logger.Warn("Database health check failed: unexpected result")
		return false
	}

	r.logger.Debug("Database health check passed")
	return true
}

// Close closes the connection pool. Sessions still checked out are closed
// when released.
func (r *SQLiteReadingRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	r.logger.Debug("Database connection pool closed")
	return err
}

// Session is a scoped store session: one pooled connection owned by a
// single caller between Acquire and Release.
type Session struct {
	repo *SQLiteReadingRepository
	conn *sql.Conn
}

// Insert is shorthand for repo.Insert(ctx, s, reading).
func (s *Session) Insert(ctx context.Context, reading mqtmodels.DeviceReading) (int64, error) {
	return s.repo.Insert(ctx, s, reading)
}

// Release returns the connection to the pool. Calling it twice is a no-op.
func (s *Session) Release() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
