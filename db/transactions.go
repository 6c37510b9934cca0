package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/thatsimonsguy/cbus-node/internal/nvm"
)

// StartTransaction starts a new database transaction.
func StartTransaction(db *sql.DB) (*sql.Tx, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	return tx, nil
}

// CommitTransaction commits the given transaction.
func CommitTransaction(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RollbackTransaction rolls back the given transaction.
func RollbackTransaction(tx *sql.Tx) {
	tx.Rollback()
}

// NVM exposes the store as the node's EEPROM and flash.
type NVM struct {
	db *sql.DB
}

func NewNVM(db *sql.DB) *NVM {
	return &NVM{db: db}
}

func (s *NVM) ReadEE(addr uint16) (byte, error) {
	if addr >= nvm.EEPROMSize {
		return 0, nvm.ErrOutOfRange
	}
	var v int
	err := s.db.QueryRow(`SELECT value FROM eeprom WHERE address = ?`, addr).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nvm.Erased, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read eeprom 0x%03X: %w", addr, err)
	}
	return byte(v), nil
}

func (s *NVM) WriteEE(addr uint16, v byte) error {
	if addr >= nvm.EEPROMSize {
		return nvm.ErrOutOfRange
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}
	_, err = tx.Exec(`INSERT OR REPLACE INTO eeprom (address, value) VALUES (?, ?)`, addr, v)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("write eeprom 0x%03X: %w", addr, err)
	}
	return tx.Commit()
}

func (s *NVM) ReadFlash(addr uint16, buf []byte) error {
	if int(addr)+len(buf) > nvm.FlashSize {
		return nvm.ErrOutOfRange
	}
	for i := range buf {
		buf[i] = nvm.Erased
	}
	if len(buf) == 0 {
		return nil
	}
	first := int(addr) / nvm.FlashBlockSize
	last := (int(addr) + len(buf) - 1) / nvm.FlashBlockSize

	rows, err := s.db.Query(`SELECT block, data FROM flash WHERE block BETWEEN ? AND ?`, first, last)
	if err != nil {
		return fmt.Errorf("failed to query flash: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var block int
		var data []byte
		if err := rows.Scan(&block, &data); err != nil {
			return fmt.Errorf("failed to scan flash block: %w", err)
		}
		start := block * nvm.FlashBlockSize
		for i, v := range data {
			pos := start + i - int(addr)
			if pos >= 0 && pos < len(buf) {
				buf[pos] = v
			}
		}
	}
	return rows.Err()
}

func (s *NVM) WriteBlock(block uint16, data []byte) error {
	if len(data) != nvm.FlashBlockSize || int(block) >= nvm.FlashSize/nvm.FlashBlockSize {
		return nvm.ErrOutOfRange
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}
	_, err = tx.Exec(`INSERT OR REPLACE INTO flash (block, data) VALUES (?, ?)`, block, data)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("write flash block %d: %w", block, err)
	}
	return tx.Commit()
}

// Erase forgets everything, returning the store to a blank chip.
func (s *NVM) Erase() error {
	tx, err := StartTransaction(s.db)
	if err != nil {
		return err
	}
	for _, stmt := range []string{`DELETE FROM eeprom`, `DELETE FROM flash`} {
		if _, err := tx.Exec(stmt); err != nil {
			RollbackTransaction(tx)
			return fmt.Errorf("erase store: %w", err)
		}
	}
	return CommitTransaction(tx)
}
