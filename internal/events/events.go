package events

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/thatsimonsguy/cbus-node/internal/cbus"
	"github.com/thatsimonsguy/cbus-node/internal/nvm"
)

const (
	HashLength        = 32
	ChainLength       = 20
	EVperEVT          = 17
	NumConsumedEvents = 192

	// SlotSize is NN, EN and the event variables.
	SlotSize = 4 + EVperEVT
	free     = 0xFFFF
)

var (
	ErrTableFull    error = cbus.CmdErrTooManyEvents
	ErrNotFound     error = cbus.CmdErrInvalidEvent
	ErrInvalidIndex error = cbus.CmdErrInvEvIdx
)

// Event is a bus event identifier. NN 0 denotes a short event, matched on
// the event number alone.
type Event struct {
	NN uint16
	EN uint16
}

func (e Event) Short() bool {
	return e.NN == 0
}

func (e Event) String() string {
	return fmt.Sprintf("%d:%d", e.NN, e.EN)
}

// Record is one taught consumed event.
type Record struct {
	Event
	EVs [EVperEVT]byte
}

// Actions returns the non-zero event variables in order.
func (r Record) Actions() []uint8 {
	var out []uint8
	for _, ev := range r.EVs {
		if ev != 0 {
			out = append(out, ev)
		}
	}
	return out
}

// Hash picks the bucket for an event.
func Hash(e Event) int {
	h := int(e.EN ^ (e.EN >> 8))
	h = 7*h + int(e.NN^(e.NN>>8))
	return h % HashLength
}

// Table maps consumed events to actions and producer actions to the events
// they send. Records live in flash; the slots and the hash of slot numbers
// are mirrored in RAM so a lookup never touches flash.
type Table struct {
	image     *nvm.FlashImage
	records   [NumConsumedEvents]Record
	used      [NumConsumedEvents]bool
	buckets   [HashLength][]uint8
	count     int
	producers []Event
}

// New creates a table with producer actions 1..producers.
func New(image *nvm.FlashImage, producers int) *Table {
	return &Table{image: image, producers: make([]Event, producers)}
}

func slotAddr(slot int) uint16 {
	return uint16(nvm.AtEvent2Action + slot*SlotSize)
}

func producerAddr(action uint8) uint16 {
	return uint16(nvm.AtAction2Event + int(action-1)*4)
}

// Load rebuilds the RAM mirror from flash.
func (t *Table) Load() error {
	for b := range t.buckets {
		t.buckets[b] = t.buckets[b][:0]
	}
	t.count = 0

	buf := make([]byte, SlotSize)
	for slot := range t.records {
		if err := t.image.Read(slotAddr(slot), buf); err != nil {
			return fmt.Errorf("load event slot %d: %w", slot, err)
		}
		r := decode(buf)
		t.records[slot] = r
		t.used[slot] = !(r.NN == free && r.EN == free)
		if !t.used[slot] {
			continue
		}
		b := Hash(r.Event)
		if len(t.buckets[b]) >= ChainLength {
			return fmt.Errorf("event %s: bucket %d overflows", r.Event, b)
		}
		t.buckets[b] = append(t.buckets[b], uint8(slot))
		t.count++
	}

	pbuf := make([]byte, 4)
	for i := range t.producers {
		if err := t.image.Read(producerAddr(uint8(i+1)), pbuf); err != nil {
			return fmt.Errorf("load produced event %d: %w", i+1, err)
		}
		t.producers[i] = Event{NN: word(pbuf[0:]), EN: word(pbuf[2:])}
	}
	log.Debug().Int("events", t.count).Msg("Event table loaded")
	return nil
}

func word(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

func decode(buf []byte) Record {
	r := Record{Event: Event{NN: word(buf[0:]), EN: word(buf[2:])}}
	copy(r.EVs[:], buf[4:])
	return r
}

func encode(r Record) []byte {
	buf := make([]byte, SlotSize)
	buf[0], buf[1] = byte(r.NN>>8), byte(r.NN)
	buf[2], buf[3] = byte(r.EN>>8), byte(r.EN)
	copy(buf[4:], r.EVs[:])
	return buf
}

func (t *Table) find(e Event) (int, bool) {
	for _, slot := range t.buckets[Hash(e)] {
		if t.records[slot].Event == e {
			return int(slot), true
		}
	}
	return 0, false
}

// Lookup returns the record taught for e. Events never taught report false.
func (t *Table) Lookup(e Event) (Record, bool) {
	slot, ok := t.find(e)
	if !ok {
		return Record{}, false
	}
	return t.records[slot], true
}

// Teach sets event variable evIndex (from 1) of e. A first EV naming a
// producer action makes e the event that action sends instead. Either the
// whole change is stored or, on error, nothing is.
func (t *Table) Teach(e Event, evIndex, value uint8) error {
	if evIndex < 1 || evIndex > EVperEVT {
		return ErrInvalidIndex
	}
	if e.NN == free && e.EN == free {
		return ErrNotFound
	}
	if evIndex == 1 && value >= 1 && int(value) <= len(t.producers) {
		return t.SetProducer(value, e)
	}

	slot, ok := t.find(e)
	if !ok {
		b := Hash(e)
		if t.count >= NumConsumedEvents || len(t.buckets[b]) >= ChainLength {
			return ErrTableFull
		}
		slot = t.freeSlot()
		r := Record{Event: e}
		r.EVs[evIndex-1] = value
		if err := t.writeSlot(slot, r); err != nil {
			return err
		}
		t.records[slot] = r
		t.used[slot] = true
		t.buckets[b] = append(t.buckets[b], uint8(slot))
		t.count++
		return nil
	}

	r := t.records[slot]
	r.EVs[evIndex-1] = value
	if err := t.writeSlot(slot, r); err != nil {
		return err
	}
	t.records[slot] = r
	return nil
}

func (t *Table) freeSlot() int {
	for slot, used := range t.used {
		if !used {
			return slot
		}
	}
	return -1
}

func (t *Table) writeSlot(slot int, r Record) error {
	if err := t.image.Write(slotAddr(slot), encode(r)); err != nil {
		return fmt.Errorf("write event slot %d: %w", slot, err)
	}
	if err := t.image.Flush(); err != nil {
		return fmt.Errorf("write event slot %d: %w", slot, err)
	}
	return nil
}

// Unlearn forgets e. An event that was taught as a produced event is
// released from its producer action.
func (t *Table) Unlearn(e Event) error {
	slot, ok := t.find(e)
	if !ok {
		for i, p := range t.producers {
			if p == e {
				return t.SetProducer(uint8(i+1), Event{NN: free, EN: free})
			}
		}
		return ErrNotFound
	}
	if err := t.writeSlot(slot, Record{Event: Event{NN: free, EN: free}, EVs: erasedEVs()}); err != nil {
		return err
	}
	b := Hash(e)
	chain := t.buckets[b]
	for i, s := range chain {
		if int(s) == slot {
			t.buckets[b] = append(chain[:i], chain[i+1:]...)
			break
		}
	}
	t.used[slot] = false
	t.records[slot] = Record{}
	t.count--
	return nil
}

func erasedEVs() [EVperEVT]byte {
	var evs [EVperEVT]byte
	for i := range evs {
		evs[i] = nvm.Erased
	}
	return evs
}

// Clear forgets every consumed event. Producer actions are left alone.
func (t *Table) Clear() error {
	erased := make([]byte, NumConsumedEvents*SlotSize)
	for i := range erased {
		erased[i] = nvm.Erased
	}
	if err := t.image.Write(nvm.AtEvent2Action, erased); err != nil {
		return fmt.Errorf("clear events: %w", err)
	}
	if err := t.image.Flush(); err != nil {
		return fmt.Errorf("clear events: %w", err)
	}
	for b := range t.buckets {
		t.buckets[b] = t.buckets[b][:0]
	}
	t.records = [NumConsumedEvents]Record{}
	t.used = [NumConsumedEvents]bool{}
	t.count = 0
	return nil
}

// EV returns event variable evIndex (from 1) of a taught event.
func (t *Table) EV(e Event, evIndex uint8) (byte, error) {
	r, ok := t.Lookup(e)
	if !ok {
		return 0, ErrNotFound
	}
	if evIndex < 1 || evIndex > EVperEVT {
		return 0, ErrInvalidIndex
	}
	return r.EVs[evIndex-1], nil
}

// Count is the number of taught consumed events.
func (t *Table) Count() int {
	return t.count
}

// Free is the number of unused slots.
func (t *Table) Free() int {
	return NumConsumedEvents - t.count
}

// Slot returns the record held in slot, for reads by index.
func (t *Table) Slot(slot int) (Record, bool) {
	if slot < 0 || slot >= NumConsumedEvents || !t.used[slot] {
		return Record{}, false
	}
	return t.records[slot], true
}

// Slots lists the used slot numbers in ascending order.
func (t *Table) Slots() []int {
	out := make([]int, 0, t.count)
	for slot, used := range t.used {
		if used {
			out = append(out, slot)
		}
	}
	return out
}

// Producer returns the event a producer action sends.
func (t *Table) Producer(action uint8) (Event, bool) {
	if action < 1 || int(action) > len(t.producers) {
		return Event{}, false
	}
	e := t.producers[action-1]
	if e.NN == free && e.EN == free {
		return Event{}, false
	}
	return e, true
}

func (t *Table) SetProducer(action uint8, e Event) error {
	if action < 1 || int(action) > len(t.producers) {
		return ErrInvalidIndex
	}
	buf := []byte{byte(e.NN >> 8), byte(e.NN), byte(e.EN >> 8), byte(e.EN)}
	if err := t.image.Write(producerAddr(action), buf); err != nil {
		return fmt.Errorf("write produced event %d: %w", action, err)
	}
	if err := t.image.Flush(); err != nil {
		return fmt.Errorf("write produced event %d: %w", action, err)
	}
	t.producers[action-1] = e
	return nil
}

// ResetProducers stores defaults[i] as the event of producer action i+1.
func (t *Table) ResetProducers(defaults []Event) error {
	for i, e := range defaults {
		if err := t.SetProducer(uint8(i+1), e); err != nil {
			return err
		}
	}
	return nil
}

// Producers returns the producer table, action 1 first.
func (t *Table) Producers() []Event {
	out := make([]Event, len(t.producers))
	copy(out, t.producers)
	return out
}
