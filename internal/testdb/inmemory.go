package testdb

import (
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/kuitang/persona-notes/internal/db"
)

// testKeyHex is the SQLCipher key for in-memory test databases.
var testKeyHex = strings.Repeat("5a", db.KeyBytes)

var counter atomic.Int64

// NewNoteStoreInMemory creates an isolated in-memory encrypted note store.
// Each call gets its own database, even when name repeats.
func NewNoteStoreInMemory(name string) (*db.NoteStore, error) {
	if name == "" {
		name = "notes-test"
	}
	name = fmt.Sprintf("%s-%d", name, counter.Add(1))

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma_key=x'%s'&_pragma_cipher_page_size=4096", name, testKeyHex)

	sqlDB, err := sql.Open(db.SQLiteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory notes database: %w", err)
	}

	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetMaxOpenConns(10)

	var sqliteVersion string
	if err := sqlDB.QueryRow("SELECT sqlite_version()").Scan(&sqliteVersion); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to verify in-memory notes database: %w", err)
	}

	if err := applyFastSQLitePragmas(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to apply fast SQLite pragmas: %w", err)
	}

	if _, err := sqlDB.Exec(db.NotesSchema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize in-memory notes schema: %w", err)
	}

	return db.NewNoteStoreFromSQL(sqlDB), nil
}

func applyFastSQLitePragmas(sqlDB *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=MEMORY",
		"PRAGMA synchronous=OFF",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			return err
		}
	}
	return nil
}
