package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/tazhate/eventtracker/internal/domain"
)

// ErrDuplicate is returned when a unique column already holds the value.
var ErrDuplicate = errors.New("duplicate value")

type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// one writer at a time; the worker, the alarm dispatcher and the API share it
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			login TEXT UNIQUE NOT NULL,
			password_hash TEXT DEFAULT '',
			phone TEXT DEFAULT '',
			telegram_chat_id INTEGER DEFAULT 0,
			device_token TEXT DEFAULT '',
			sms_enabled INTEGER DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`DROP INDEX IF EXISTS idx_users_telegram`,
		// a chat belongs to at most one account
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_telegram_chat ON users(telegram_chat_id) WHERE telegram_chat_id != 0`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			event_time INTEGER NOT NULL,
			title TEXT NOT NULL,
			description TEXT DEFAULT '',
			card_color INTEGER NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_user_time ON events(user_id, event_time)`,
		`CREATE TABLE IF NOT EXISTS preferences (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS alarms (
			key TEXT PRIMARY KEY,
			event_id TEXT NOT NULL,
			fire_at INTEGER NOT NULL,
			user_id TEXT DEFAULT '',
			destination TEXT DEFAULT '',
			message TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alarms_fire_at ON alarms(fire_at)`,
		`ALTER TABLE alarms ADD COLUMN user_id TEXT DEFAULT ''`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// Ignore "duplicate column" errors for ALTER TABLE
			if !strings.Contains(err.Error(), "duplicate column") {
				return fmt.Errorf("exec migration: %w", err)
			}
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// === Users ===

const userColumns = `id, login, password_hash, phone, telegram_chat_id, device_token, sms_enabled, created_at`

func scanUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	u := &domain.User{}
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &u.Phone, &u.TelegramChatID, &u.DeviceToken, &u.SMSEnabled, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Storage) CreateUser(ctx context.Context, u *domain.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, login, password_hash, phone, telegram_chat_id, device_token, sms_enabled) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Login, u.PasswordHash, u.Phone, u.TelegramChatID, u.DeviceToken, u.SMSEnabled,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return err
	}
	u.CreatedAt = time.Now()
	return nil
}

// EnsureUser creates a profile row for an externally authenticated user.
// An existing row is left untouched.
func (s *Storage) EnsureUser(ctx context.Context, id, login string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, login) VALUES (?, ?) ON CONFLICT DO NOTHING`,
		id, login,
	)
	return err
}

func (s *Storage) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (s *Storage) GetUserByLogin(ctx context.Context, login string) (*domain.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE login = ?`, login))
}

func (s *Storage) GetUserByTelegramChatID(ctx context.Context, chatID int64) (*domain.User, error) {
	if chatID == 0 {
		return nil, nil
	}
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE telegram_chat_id = ?`, chatID))
}

// UpdateUserContact sets where a user's reminders are delivered. A chat id
// already linked to another user yields ErrDuplicate.
func (s *Storage) UpdateUserContact(ctx context.Context, u *domain.User) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET phone = ?, telegram_chat_id = ?, device_token = ? WHERE id = ?`,
		u.Phone, u.TelegramChatID, u.DeviceToken, u.ID,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (s *Storage) SetSMSEnabled(ctx context.Context, userID string, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET sms_enabled = ? WHERE id = ?`, enabled, userID)
	return err
}

// === Events ===

func parseEventID(id string) (int64, bool) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func scanEvent(row interface{ Scan(...any) error }) (*domain.Event, error) {
	var (
		id     int64
		millis int64
		color  int64
	)
	e := &domain.Event{}
	if err := row.Scan(&id, &e.UserID, &millis, &e.Title, &e.Description, &color); err != nil {
		return nil, err
	}
	e.ID = strconv.FormatInt(id, 10)
	e.Time = time.UnixMilli(millis)
	e.Color = domain.Color(color)
	return e, nil
}

func (s *Storage) CreateEvent(ctx context.Context, e *domain.Event) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (user_id, event_time, title, description, card_color) VALUES (?, ?, ?, ?, ?)`,
		e.UserID, e.Time.UnixMilli(), e.Title, e.Description, int64(e.Color),
	)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	e.ID = strconv.FormatInt(id, 10)
	return nil
}

func (s *Storage) GetEvent(ctx context.Context, userID, id string) (*domain.Event, error) {
	n, ok := parseEventID(id)
	if !ok {
		return nil, nil
	}
	e, err := scanEvent(s.db.QueryRowContext(ctx,
		`SELECT id, user_id, event_time, title, description, card_color FROM events WHERE id = ? AND user_id = ? LIMIT 1`,
		n, userID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// UpdateEvent rewrites the mutable fields and reports whether a row matched.
func (s *Storage) UpdateEvent(ctx context.Context, e *domain.Event) (bool, error) {
	n, ok := parseEventID(e.ID)
	if !ok {
		return false, nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE events SET event_time = ?, title = ?, description = ?, card_color = ? WHERE id = ? AND user_id = ?`,
		e.Time.UnixMilli(), e.Title, e.Description, int64(e.Color), n, e.UserID,
	)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *Storage) DeleteEvent(ctx context.Context, userID, id string) error {
	n, ok := parseEventID(id)
	if !ok {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ? AND user_id = ?`, n, userID)
	return err
}

// ListUpcomingEvents returns a user's events starting at or after from, soonest first.
func (s *Storage) ListUpcomingEvents(ctx context.Context, userID string, from time.Time) ([]*domain.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, event_time, title, description, card_color FROM events
		 WHERE user_id = ? AND event_time >= ?
		 ORDER BY event_time ASC`,
		userID, from.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// === Preferences ===

// GetString returns the stored value for key, or def when it is missing or
// cannot be read.
func (s *Storage) GetString(ctx context.Context, key, def string) string {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if err != nil {
		return def
	}
	return value
}

func (s *Storage) PutString(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("put preference[%s]: %w", key, err)
	}
	return nil
}

// === Alarms ===

// SaveAlarm inserts the alarm or replaces the one with the same key.
func (s *Storage) SaveAlarm(ctx context.Context, a *domain.Alarm) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alarms (key, event_id, fire_at, user_id, destination, message) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			event_id = excluded.event_id,
			fire_at = excluded.fire_at,
			user_id = excluded.user_id,
			destination = excluded.destination,
			message = excluded.message,
			created_at = CURRENT_TIMESTAMP
	`, a.Key, a.Payload.EventID, a.FireAt.UnixMilli(), a.Payload.UserID, a.Payload.Destination, a.Payload.Message)
	if err != nil {
		return fmt.Errorf("save alarm[%s]: %w", a.Key, err)
	}
	return nil
}

func (s *Storage) DeleteAlarm(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM alarms WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete alarm[%s]: %w", key, err)
	}
	return nil
}

// ListAlarms returns every stored alarm ordered by fire time.
func (s *Storage) ListAlarms(ctx context.Context) ([]*domain.Alarm, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, event_id, fire_at, user_id, destination, message, created_at FROM alarms ORDER BY fire_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alarms []*domain.Alarm
	for rows.Next() {
		a := &domain.Alarm{}
		var fireAt int64
		if err := rows.Scan(&a.Key, &a.Payload.EventID, &fireAt, &a.Payload.UserID, &a.Payload.Destination, &a.Payload.Message, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.FireAt = time.UnixMilli(fireAt)
		alarms = append(alarms, a)
	}
	return alarms, rows.Err()
}
