package nvm

import "sync"

// Memory is a RAM-backed EEPROM and Flash. It starts erased. A write budget
// can be set to make writes fail part way through a sequence, which is how
// tests interrupt first-boot initialisation.
type Memory struct {
	mu     sync.Mutex
	ee     [EEPROMSize]byte
	flash  [FlashSize]byte
	budget int
	writes int
}

func NewMemory() *Memory {
	m := &Memory{budget: -1}
	for i := range m.ee {
		m.ee[i] = Erased
	}
	for i := range m.flash {
		m.flash[i] = Erased
	}
	return m
}

// FailAfter lets n more writes succeed; the rest return ErrPowerLost.
// A negative n removes the limit.
func (m *Memory) FailAfter(n int) {
	m.mu.Lock()
	m.budget = n
	m.mu.Unlock()
}

// Writes returns the number of successful writes.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *Memory) spend() error {
	if m.budget == 0 {
		return ErrPowerLost
	}
	if m.budget > 0 {
		m.budget--
	}
	m.writes++
	return nil
}

func (m *Memory) ReadEE(addr uint16) (byte, error) {
	if err := checkEE(addr); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ee[addr], nil
}

func (m *Memory) WriteEE(addr uint16, v byte) error {
	if err := checkEE(addr); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.spend(); err != nil {
		return err
	}
	m.ee[addr] = v
	return nil
}

func (m *Memory) ReadFlash(addr uint16, buf []byte) error {
	if err := checkFlash(addr, len(buf)); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copy(buf, m.flash[addr:])
	return nil
}

func (m *Memory) WriteBlock(block uint16, data []byte) error {
	if len(data) != FlashBlockSize || int(block) >= FlashSize/FlashBlockSize {
		return ErrOutOfRange
	}
	addr := int(block) * FlashBlockSize
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.spend(); err != nil {
		return err
	}
	copy(m.flash[addr:], data)
	return nil
}
