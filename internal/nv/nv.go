package nv

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/thatsimonsguy/cbus-node/internal/cbus"
	"github.com/thatsimonsguy/cbus-node/internal/nvm"
)

var (
	ErrInvalidIndex error = cbus.CmdErrInvNVIdx
	ErrInvalidValue error = cbus.CmdErrInvNVValue
)

// Validator accepts or rejects a new value before it is stored.
type Validator func(index, value uint8) error

// ApplyFunc makes a stored value take effect.
type ApplyFunc func(index, old, value uint8)

// Table is the node variable table. Indexes count from 1. Values live in
// flash and are mirrored in RAM.
type Table struct {
	image    *nvm.FlashImage
	base     uint16
	values   []byte
	validate Validator
	apply    ApplyFunc
}

func New(image *nvm.FlashImage, base uint16, count uint8, validate Validator, apply ApplyFunc) *Table {
	return &Table{
		image:    image,
		base:     base,
		values:   make([]byte, count),
		validate: validate,
		apply:    apply,
	}
}

// Load refreshes the RAM mirror from flash.
func (t *Table) Load() error {
	if err := t.image.Read(t.base, t.values); err != nil {
		return fmt.Errorf("load node variables: %w", err)
	}
	return nil
}

func (t *Table) Count() uint8 {
	return uint8(len(t.values))
}

func (t *Table) valid(index uint8) bool {
	return index >= 1 && int(index) <= len(t.values)
}

func (t *Table) Read(index uint8) (byte, error) {
	if !t.valid(index) {
		return 0, ErrInvalidIndex
	}
	return t.values[index-1], nil
}

// Value is Read for callers that already hold a valid index.
func (t *Table) Value(index uint8) byte {
	if !t.valid(index) {
		return 0
	}
	return t.values[index-1]
}

// Write validates, stores and then applies value. A rejected value leaves
// the table unchanged.
func (t *Table) Write(index, value uint8) error {
	if !t.valid(index) {
		return ErrInvalidIndex
	}
	if t.validate != nil {
		if err := t.validate(index, value); err != nil {
			log.Debug().Uint8("nv", index).Uint8("value", value).Err(err).Msg("Node variable rejected")
			return err
		}
	}
	old := t.values[index-1]
	if err := t.Store(index, value); err != nil {
		return err
	}
	if t.apply != nil {
		t.apply(index, old, value)
	}
	return nil
}

// Store persists value without validation or apply hook.
func (t *Table) Store(index, value uint8) error {
	if !t.valid(index) {
		return ErrInvalidIndex
	}
	if err := t.image.Write(t.base+uint16(index-1), []byte{value}); err != nil {
		return fmt.Errorf("store nv %d: %w", index, err)
	}
	if err := t.image.Flush(); err != nil {
		return fmt.Errorf("store nv %d: %w", index, err)
	}
	t.values[index-1] = value
	return nil
}

// Reset overwrites the whole table with defaults.
func (t *Table) Reset(defaults []byte) error {
	if len(defaults) != len(t.values) {
		return fmt.Errorf("nv defaults: want %d values, got %d", len(t.values), len(defaults))
	}
	if err := t.image.Write(t.base, defaults); err != nil {
		return fmt.Errorf("reset node variables: %w", err)
	}
	if err := t.image.Flush(); err != nil {
		return fmt.Errorf("reset node variables: %w", err)
	}
	copy(t.values, defaults)
	return nil
}

// Values returns a copy of the table, NV1 first.
func (t *Table) Values() []byte {
	out := make([]byte, len(t.values))
	copy(out, t.values)
	return out
}

// Check runs the validator over every stored value.
func (t *Table) Check() error {
	if t.validate == nil {
		return nil
	}
	for i, v := range t.values {
		if err := t.validate(uint8(i+1), v); err != nil {
			return fmt.Errorf("nv %d = %d: %w", i+1, v, err)
		}
	}
	return nil
}
