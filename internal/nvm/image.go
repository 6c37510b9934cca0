package nvm

import "fmt"

// FlashImage caches one flash block in RAM so that byte-sized updates can be
// collected and written back as a single block. Moving to another block, or
// calling Flush, writes the cached block if it changed.
type FlashImage struct {
	backend Flash
	block   int
	buf     [FlashBlockSize]byte
	dirty   bool
}

func NewFlashImage(backend Flash) *FlashImage {
	return &FlashImage{backend: backend, block: -1}
}

// Read fills buf from addr, seeing unflushed writes.
func (fi *FlashImage) Read(addr uint16, buf []byte) error {
	if err := checkFlash(addr, len(buf)); err != nil {
		return err
	}
	if err := fi.backend.ReadFlash(addr, buf); err != nil {
		return fmt.Errorf("read flash 0x%04X: %w", addr, err)
	}
	if fi.block < 0 {
		return nil
	}
	start := fi.block * FlashBlockSize
	for i := range buf {
		a := int(addr) + i
		if a >= start && a < start+FlashBlockSize {
			buf[i] = fi.buf[a-start]
		}
	}
	return nil
}

func (fi *FlashImage) Byte(addr uint16) (byte, error) {
	var b [1]byte
	err := fi.Read(addr, b[:])
	return b[0], err
}

// Write updates the image. Data spanning several blocks flushes each
// completed block on the way.
func (fi *FlashImage) Write(addr uint16, data []byte) error {
	if err := checkFlash(addr, len(data)); err != nil {
		return err
	}
	for i, v := range data {
		a := int(addr) + i
		if err := fi.load(a / FlashBlockSize); err != nil {
			return err
		}
		off := a % FlashBlockSize
		if fi.buf[off] != v {
			fi.buf[off] = v
			fi.dirty = true
		}
	}
	return nil
}

func (fi *FlashImage) load(block int) error {
	if fi.block == block {
		return nil
	}
	if err := fi.Flush(); err != nil {
		return err
	}
	if err := fi.backend.ReadFlash(uint16(block*FlashBlockSize), fi.buf[:]); err != nil {
		fi.block = -1
		return fmt.Errorf("load flash block %d: %w", block, err)
	}
	fi.block = block
	return nil
}

// Flush writes the cached block back if it changed. A failed write drops
// the cached block, so later writes start again from what flash holds.
func (fi *FlashImage) Flush() error {
	if !fi.dirty {
		return nil
	}
	if err := fi.backend.WriteBlock(uint16(fi.block), fi.buf[:]); err != nil {
		block := fi.block
		fi.Discard()
		return fmt.Errorf("write flash block %d: %w", block, err)
	}
	fi.dirty = false
	return nil
}

// Discard forgets the cached block and any unflushed writes to it.
func (fi *FlashImage) Discard() {
	fi.block = -1
	fi.dirty = false
}

// Dirty reports whether the image holds unflushed writes.
func (fi *FlashImage) Dirty() bool {
	return fi.dirty
}
