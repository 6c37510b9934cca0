package gpio

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/thatsimonsguy/cbus-node/internal/pinctrl"
)

// NumIO is the number of configurable IO pins on the module.
const NumIO = 16

// DigitalPin is the capability an IO needs from the hardware.
type DigitalPin interface {
	SetDirection(output bool) error
	Set(high bool) error
	Read() (bool, error)
}

// PulsePin is a DigitalPin able to generate servo pulses.
type PulsePin interface {
	DigitalPin
	SetPulse(width time.Duration) error
}

// Config is the static wiring of one IO: connector pin, port letter and bit
// on the module's original controller.
type Config struct {
	Pin  int
	Port byte
	Bit  uint8
}

func (c Config) String() string {
	return fmt.Sprintf("R%c%d(pin %d)", c.Port, c.Bit, c.Pin)
}

// PinMap is fixed for the life of the hardware.
var PinMap = [NumIO]Config{
	{18, 'C', 7},
	{17, 'C', 6},
	{16, 'C', 5},
	{15, 'C', 4},
	{14, 'C', 3},
	{13, 'C', 2},
	{12, 'C', 1},
	{11, 'C', 0},
	{21, 'B', 0},
	{22, 'B', 1},
	{25, 'B', 4},
	{26, 'B', 5},
	{3, 'A', 1},
	{2, 'A', 0},
	{5, 'A', 3},
	{7, 'A', 5},
}

// Pin is an IO's wiring together with the handle that drives it.
type Pin struct {
	Config
	DigitalPin
}

// Resolve binds every entry of PinMap to a handle, once, at startup.
func Resolve(open func(io int, c Config) DigitalPin) [NumIO]Pin {
	var pins [NumIO]Pin
	for i, c := range PinMap {
		pins[i] = Pin{Config: c, DigitalPin: open(i, c)}
	}
	return pins
}

var (
	safeMu   sync.RWMutex
	safeMode bool
)

// SetSafeMode stops Line from driving hardware. Reads still happen.
func SetSafeMode(enabled bool) {
	safeMu.Lock()
	safeMode = enabled
	safeMu.Unlock()
}

func inSafeMode() bool {
	safeMu.RLock()
	defer safeMu.RUnlock()
	return safeMode
}

// Line is a Raspberry Pi GPIO line driven through pinctrl.
type Line struct {
	Number int
	Pull   string // "pu", "pd" or "pn" when an input
}

func NewLine(number int) *Line {
	return &Line{Number: number, Pull: "pu"}
}

func (l *Line) SetDirection(output bool) error {
	if inSafeMode() {
		log.Debug().Int("line", l.Number).Bool("output", output).Msg("Safe mode: direction not set")
		return nil
	}
	if output {
		return pinctrl.SetPin(l.Number, "op", "pn")
	}
	return pinctrl.SetPin(l.Number, "ip", l.Pull)
}

func (l *Line) Set(high bool) error {
	if inSafeMode() {
		log.Debug().Int("line", l.Number).Bool("high", high).Msg("Safe mode: level not set")
		return nil
	}
	if high {
		return pinctrl.SetPin(l.Number, "op", "dh")
	}
	return pinctrl.SetPin(l.Number, "op", "dl")
}

func (l *Line) Read() (bool, error) {
	return pinctrl.ReadLevel(l.Number)
}

// ValidateLines checks each named line against `pinctrl get`. A line that
// pinctrl does not report, or that is held by an alternate function, is an
// error.
func ValidateLines(lines map[string]int) error {
	states, err := pinctrl.ReadAllPins()
	if err != nil {
		return err
	}

	names := make([]string, 0, len(lines))
	for name := range lines {
		names = append(names, name)
	}
	sort.Strings(names)

	var problems []string
	for _, name := range names {
		number := lines[name]
		st, ok := states[number]
		switch {
		case !ok:
			problems = append(problems, fmt.Sprintf("%s: GPIO%d not reported", name, number))
		case st.Mode != "ip" && st.Mode != "op" && st.Mode != "no":
			problems = append(problems, fmt.Sprintf("%s: GPIO%d is in use (%s)", name, number, st.Comment))
		default:
			log.Debug().
				Str("name", name).
				Int("line", number).
				Str("mode", st.Mode).
				Str("pull", st.Pull).
				Str("level", st.Level).
				Msg("Line available")
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("unusable GPIO lines: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Fake is an in-memory pin for simulations and tests. It also accepts servo
// pulses.
type Fake struct {
	mu     sync.Mutex
	output bool
	level  bool
	pulse  time.Duration
	sets   int
}

func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) SetDirection(output bool) error {
	f.mu.Lock()
	f.output = output
	f.mu.Unlock()
	return nil
}

func (f *Fake) Set(high bool) error {
	f.mu.Lock()
	f.level = high
	f.sets++
	f.mu.Unlock()
	return nil
}

func (f *Fake) Read() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.level, nil
}

func (f *Fake) SetPulse(width time.Duration) error {
	f.mu.Lock()
	f.pulse = width
	f.mu.Unlock()
	return nil
}

// Drive sets the level seen by Read, as external wiring would.
func (f *Fake) Drive(high bool) {
	f.mu.Lock()
	f.level = high
	f.mu.Unlock()
}

func (f *Fake) Output() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.output
}

func (f *Fake) Level() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.level
}

func (f *Fake) Pulse() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pulse
}

// Sets counts calls to Set.
func (f *Fake) Sets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sets
}
