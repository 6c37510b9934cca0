package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS eeprom (
		address INTEGER PRIMARY KEY CHECK(address >= 0 AND address < 1024),
		value INTEGER NOT NULL CHECK(value >= 0 AND value < 256)
	)`,
	`CREATE TABLE IF NOT EXISTS flash (
		block INTEGER PRIMARY KEY CHECK(block >= 0 AND block < 512),
		data BLOB NOT NULL
	)`,
}

// Open opens the sqlite store at path and makes sure the tables exist. An
// absent row reads as erased memory, so a new file behaves like a blank chip.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection keeps ":memory:" databases shared and writes serialised
	db.SetMaxOpenConns(1)

	if err := ApplySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	log.Debug().Str("path", path).Msg("Store opened")
	return db, nil
}

func ApplySchema(db *sql.DB) error {
	tx, err := StartTransaction(db)
	if err != nil {
		return err
	}
	for _, stmt := range schema {
		if _, err := tx.Exec(stmt); err != nil {
			RollbackTransaction(tx)
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return CommitTransaction(tx)
}
