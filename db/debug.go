package db

import (
	"github.com/thatsimonsguy/cbus-node/internal/nvm"
)

// DumpEEPROMCLI returns the whole EEPROM image.
func DumpEEPROMCLI(dbPath string) ([]byte, error) {
	dbConn, err := Open(dbPath)
	if err != nil {
		return nil, err
	}
	defer dbConn.Close()

	store := NewNVM(dbConn)
	image := make([]byte, nvm.EEPROMSize)
	for addr := range image {
		v, err := store.ReadEE(uint16(addr))
		if err != nil {
			return nil, err
		}
		image[addr] = v
	}
	return image, nil
}

// DumpFlashCLI returns n bytes of flash from addr.
func DumpFlashCLI(dbPath string, addr uint16, n int) ([]byte, error) {
	dbConn, err := Open(dbPath)
	if err != nil {
		return nil, err
	}
	defer dbConn.Close()

	buf := make([]byte, n)
	if err := NewNVM(dbConn).ReadFlash(addr, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WipeSentinelCLI invalidates the first-boot sentinel so the next start
// re-initialises the node to defaults.
func WipeSentinelCLI(dbPath string) error {
	dbConn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer dbConn.Close()
	return NewNVM(dbConn).WriteEE(nvm.EEReset, nvm.Erased)
}

// EraseCLI returns the store to a blank chip.
func EraseCLI(dbPath string) error {
	dbConn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer dbConn.Close()
	return NewNVM(dbConn).Erase()
}
