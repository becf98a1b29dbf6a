// Package store keeps the annotation schema and the tags of one document in
// SQLite and answers the span queries the editor and the agreement engine
// need.
package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/pbaille/mae/internal/apperr"
	"github.com/pbaille/mae/internal/domain"
	"github.com/pbaille/mae/internal/ids"
	"github.com/pbaille/mae/internal/logging"
)

//go:embed schema.sql
var schema string

// Keys of the task table
const (
	keyTaskName    = "task_name"
	keyPrimaryText = "primary_text"
	keyFilename    = "annotation_file"
)

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Store handles database operations for one annotation document. A Store is
// not safe for concurrent use.
type Store struct {
	db      *sql.DB
	ids     *ids.Allocator
	session string
	changed bool
	schema  *domain.Schema
}

// New creates a new Store with the given database path. An empty path opens
// a private in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps an in-memory database alive and orders all writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	s := &Store{db: db, ids: ids.New(), session: uuid.New().String()}
	if err := s.registerExistingIDs(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Debug("store opened", "path", dbPath, "driver", driverType, "session", s.session)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// SessionID identifies this store instance in logs and API responses
func (s *Store) SessionID() string {
	return s.session
}

// Driver names the SQLite implementation compiled in
func Driver() string {
	return driverType
}

// Changed reports whether the store was modified since it was opened,
// loaded or last saved.
func (s *Store) Changed() bool {
	return s.changed
}

// MarkSaved clears the modification flag
func (s *Store) MarkSaved() {
	s.changed = false
}

func (s *Store) touch() {
	s.changed = true
}

// withTx runs fn in a transaction. The single connection is held by the
// transaction, so fn must only use tx.
func (s *Store) withTx(op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return apperr.Storage(op, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return wrap(op, err)
	}
	if err := tx.Commit(); err != nil {
		return apperr.Storage(op, err)
	}
	return nil
}

// wrap turns any error into a *apperr.StoreError for op. Model violations
// keep their kind; everything else is reported as a storage fault.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *apperr.StoreError
	if errors.As(err, &se) {
		return err
	}
	if apperr.IsNotFound(err) || apperr.IsInvalid(err) || apperr.IsDuplicate(err) {
		return apperr.Integrity(op, err)
	}
	return apperr.Storage(op, err)
}

func (s *Store) registerExistingIDs() error {
	rows, err := s.db.Query("SELECT tid, tag_type FROM tags")
	if err != nil {
		return apperr.Storage("register ids", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tid, tagType string
		if err := rows.Scan(&tid, &tagType); err != nil {
			return apperr.Storage("scan id", err)
		}
		if err := s.ids.Add(tagType, tid); err != nil {
			return wrap("register ids", err)
		}
	}
	if err := rows.Err(); err != nil {
		return apperr.Storage("register ids", err)
	}
	return nil
}

func getMeta(q querier, key string) (string, error) {
	var value string
	err := q.QueryRow("SELECT value FROM task WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", apperr.Storage("get "+key, err)
	}
	return value, nil
}

func setMeta(q querier, key, value string) error {
	_, err := q.Exec(
		"INSERT INTO task (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return apperr.Storage("set "+key, err)
	}
	return nil
}

// TaskName returns the name of the annotation task, empty if unset
func (s *Store) TaskName() (string, error) {
	return getMeta(s.db, keyTaskName)
}

// SetTaskName names the annotation task
func (s *Store) SetTaskName(name string) error {
	if name == "" {
		return apperr.Integrity("set task name", apperr.NewValidation("task name", "must not be empty"))
	}
	if err := setMeta(s.db, keyTaskName, name); err != nil {
		return err
	}
	s.schema = nil
	s.touch()
	return nil
}

// PrimaryText returns the text being annotated
func (s *Store) PrimaryText() (string, error) {
	return getMeta(s.db, keyPrimaryText)
}

// SetPrimaryText sets the text being annotated. The text is immutable once
// tags refer to it.
func (s *Store) SetPrimaryText(text string) error {
	n, err := s.countTags(s.db)
	if err != nil {
		return err
	}
	if n > 0 {
		return apperr.Integrity("set primary text",
			apperr.NewValidation("primary text", "cannot change while tags exist"))
	}
	if err := setMeta(s.db, keyPrimaryText, text); err != nil {
		return err
	}
	s.touch()
	return nil
}

// AnnotationFileName returns the file the annotations were loaded from or
// saved to.
func (s *Store) AnnotationFileName() (string, error) {
	return getMeta(s.db, keyFilename)
}

// SetAnnotationFileName records the file backing the annotations
func (s *Store) SetAnnotationFileName(name string) error {
	return setMeta(s.db, keyFilename, name)
}

func (s *Store) countTags(q querier) (int, error) {
	var n int
	if err := q.QueryRow("SELECT COUNT(*) FROM tags").Scan(&n); err != nil {
		return 0, apperr.Storage("count tags", err)
	}
	return n, nil
}
