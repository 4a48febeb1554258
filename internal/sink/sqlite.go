package sink

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"dbwinlog/internal/dbwin"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrNoSession is returned when a store has no session to read or write.
var ErrNoSession = errors.New("no capture session")

// Session is one capture run stored in a database.
type Session struct {
	ID        string
	Channel   string
	StartedAt time.Time
	EndedAt   sql.NullTime
}

// SQLite stores lines in a SQLite database, grouped by capture session.
type SQLite struct {
	db      *sql.DB
	session string
	now     func() time.Time
}

// OpenSQLite opens or creates the database at path, applies migrations and
// starts a new session for channel.
func OpenSQLite(path, channel string) (*SQLite, error) {
	s, err := OpenSQLiteStore(path)
	if err != nil {
		return nil, err
	}

	s.session = uuid.NewString()
	_, err = s.db.Exec(`INSERT INTO sessions (id, channel, started_at) VALUES (?, ?, ?)`,
		s.session, channel, s.now().UTC())
	if err != nil {
		_ = s.db.Close()
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	return s, nil
}

// OpenSQLiteStore opens the database at path for reading stored sessions
// without starting a new one. Accept fails on such a store.
func OpenSQLiteStore(path string) (*SQLite, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // sqlite
	db.SetConnMaxLifetime(0)

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate %s: %w", path, err)
	}
	return &SQLite{db: db, now: time.Now}, nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return err
	}
	// Closing m would close db as well; only the source is released.
	defer src.Close()

	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return err
	}

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

// SessionID returns the id of the session lines are stored under.
func (s *SQLite) SessionID() string {
	return s.session
}

func (s *SQLite) Accept(lines []dbwin.Line) error {
	if s.session == "" {
		return ErrNoSession
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO lines (session_id, pid, process, captured_at, elapsed_ns, text) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, l := range lines {
		if _, err := stmt.Exec(s.session, l.PID, l.Process, l.SystemTime.UTC(), int64(l.Time), l.Text); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to store line: %w", err)
		}
	}
	return tx.Commit()
}

// Sessions lists all stored sessions, oldest first.
func (s *SQLite) Sessions() ([]Session, error) {
	rows, err := s.db.Query(`SELECT id, channel, started_at, ended_at FROM sessions ORDER BY started_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var ss Session
		if err := rows.Scan(&ss.ID, &ss.Channel, &ss.StartedAt, &ss.EndedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, ss)
	}
	return sessions, rows.Err()
}

// Lines returns the lines of session in capture order. An empty session
// selects the current one.
func (s *SQLite) Lines(session string) ([]dbwin.Line, error) {
	if session == "" {
		session = s.session
	}
	rows, err := s.db.Query(`SELECT pid, process, captured_at, elapsed_ns, text FROM lines WHERE session_id = ? ORDER BY id`, session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []dbwin.Line
	for rows.Next() {
		var l dbwin.Line
		var elapsed int64
		if err := rows.Scan(&l.PID, &l.Process, &l.SystemTime, &elapsed, &l.Text); err != nil {
			return nil, err
		}
		l.Time = time.Duration(elapsed)
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// LastSession returns the id of the most recently started session.
func (s *SQLite) LastSession() (string, error) {
	var id string
	err := s.db.QueryRow(`SELECT id FROM sessions ORDER BY started_at DESC, rowid DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoSession
	}
	return id, err
}

// Close ends the session and closes the database.
func (s *SQLite) Close() error {
	var err error
	if s.session != "" {
		_, err = s.db.Exec(`UPDATE sessions SET ended_at = ? WHERE id = ?`, s.now().UTC(), s.session)
	}
	return errors.Join(err, s.db.Close())
}
