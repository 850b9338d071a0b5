// Package db implements the note store on an encrypted SQLite (SQLCipher)
// file. It is the embedded alternative to the MongoDB store and backs the
// test suites.
package db

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kuitang/persona-notes/internal/errs"
	"github.com/kuitang/persona-notes/internal/notes"
)

const (
	// MaxOpenConns is the maximum number of open connections.
	// SQLite is single-writer, so high connection counts are counterproductive.
	MaxOpenConns = 10

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns = 2

	// KeyBytes is the SQLCipher key size.
	KeyBytes = 32
)

// updatableColumns maps logical note fields to columns. Anything else is
// rejected by PartialUpdate.
var updatableColumns = map[string]string{
	notes.FieldTitle:        "title",
	notes.FieldContent:      "content",
	notes.FieldDateModified: "date_modified",
}

// NoteStore implements notes.Store on a single shared *sql.DB.
type NoteStore struct {
	db *sql.DB
}

var _ notes.Store = (*NoteStore)(nil)

// NewNoteStoreFromSQL wraps an existing sql.DB that already has the schema.
func NewNoteStoreFromSQL(sqlDB *sql.DB) *NoteStore {
	return &NoteStore{db: sqlDB}
}

// Open opens (creating if needed) the encrypted notes database at path and
// applies the schema. keyHex is the 32-byte SQLCipher key as hex.
func Open(ctx context.Context, path, keyHex string) (*NoteStore, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil || len(key) != KeyBytes {
		return nil, fmt.Errorf("database key must be %d hex-encoded bytes", KeyBytes)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", path, hex.EncodeToString(key))
	dsn = appendSQLiteParams(dsn, sqliteCommonParams())

	sqlDB, err := sql.Open(SQLiteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open notes database: %w", err)
	}
	sqlDB.SetMaxOpenConns(MaxOpenConns)
	sqlDB.SetMaxIdleConns(MaxIdleConns)

	// A wrong key only shows up on the first read.
	var sqliteVersion string
	if err := sqlDB.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&sqliteVersion); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to verify notes database: %w", err)
	}

	if _, err := sqlDB.ExecContext(ctx, NotesSchema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize notes schema: %w", err)
	}

	return NewNoteStoreFromSQL(sqlDB), nil
}

// Close closes the database.
func (s *NoteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Insert stores note under a new UUID.
func (s *NoteStore) Insert(ctx context.Context, note notes.Note) (*notes.Note, error) {
	note.ID = uuid.New().String()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notes (id, persona_id, title, content, date_created, date_modified) VALUES (?, ?, ?, ?, ?, ?)`,
		note.ID, note.PersonaID, note.Title, note.Content,
		note.DateCreated.UnixMilli(), note.DateModified.UnixMilli(),
	)
	if err != nil {
		return nil, storeError("failed to insert note", err)
	}
	return &note, nil
}

// FindByID returns notes.ErrNotFound when the id does not exist.
func (s *NoteStore) FindByID(ctx context.Context, id string) (*notes.Note, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, persona_id, title, content, date_created, date_modified FROM notes WHERE id = ?`, id)

	note, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notes.ErrNotFound
	}
	if err != nil {
		return nil, storeError("failed to read note", err)
	}
	return note, nil
}

// FindByOwner lists a persona's notes by date_modified, newest first.
func (s *NoteStore) FindByOwner(ctx context.Context, personaID string) ([]notes.Note, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, persona_id, title, content, date_created, date_modified FROM notes
		 WHERE persona_id = ? ORDER BY date_modified DESC, id ASC`, personaID)
	if err != nil {
		return nil, storeError("failed to list notes", err)
	}
	defer rows.Close()

	found := make([]notes.Note, 0)
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, storeError("failed to read note", err)
		}
		found = append(found, *note)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("failed to list notes", err)
	}
	return found, nil
}

// PartialUpdate sets only the given fields. Updating a missing id is a no-op.
func (s *NoteStore) PartialUpdate(ctx context.Context, id string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	assignments := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys)+1)
	for _, key := range keys {
		column, ok := updatableColumns[key]
		if !ok {
			return errs.Invalid(key, "field cannot be updated")
		}
		value, err := columnValue(key, fields[key])
		if err != nil {
			return err
		}
		assignments = append(assignments, column+" = ?")
		args = append(args, value)
	}
	args = append(args, id)

	query := "UPDATE notes SET " + strings.Join(assignments, ", ") + " WHERE id = ?"
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return storeError("failed to update note", err)
	}
	return nil
}

// DeleteByID hard-deletes at most one note.
func (s *NoteStore) DeleteByID(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id); err != nil {
		return storeError("failed to delete note", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (*notes.Note, error) {
	var (
		note                  notes.Note
		createdMS, modifiedMS int64
	)
	if err := row.Scan(&note.ID, &note.PersonaID, &note.Title, &note.Content, &createdMS, &modifiedMS); err != nil {
		return nil, err
	}
	note.DateCreated = time.UnixMilli(createdMS).UTC()
	note.DateModified = time.UnixMilli(modifiedMS).UTC()
	return &note, nil
}

func columnValue(key string, value any) (any, error) {
	switch key {
	case notes.FieldDateModified:
		t, ok := value.(time.Time)
		if !ok {
			return nil, errs.Invalid(key, "must be a timestamp")
		}
		return t.UnixMilli(), nil
	default:
		str, ok := value.(string)
		if !ok {
			return nil, errs.Invalid(key, "must be a string")
		}
		return str, nil
	}
}

func storeError(message string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.Unavailable, message, err)
	}
	return errs.Wrap(errs.Internal, message, err)
}

func sqliteCommonParams() string {
	// Production-safe defaults: WAL + NORMAL provides good throughput while preserving safety.
	return "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
}

func appendSQLiteParams(dsn, params string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + params
	}
	return dsn + "?" + params
}
