package db

import (
	"database/sql"

	sqlite3 "github.com/mutecomm/go-sqlcipher/v4"
)

const (
	// SQLiteDriverName is the project-specific SQLCipher driver name.
	SQLiteDriverName = "sqlite3_persona_notes"
)

func init() {
	sql.Register(SQLiteDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			// Deleted notes must not linger in free pages.
			_, err := conn.Exec("PRAGMA secure_delete = ON", nil)
			return err
		},
	})
}
