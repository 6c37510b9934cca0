package node

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/thatsimonsguy/cbus-node/internal/can"
	"github.com/thatsimonsguy/cbus-node/internal/cbus"
	"github.com/thatsimonsguy/cbus-node/internal/datadog"
	"github.com/thatsimonsguy/cbus-node/internal/events"
	"github.com/thatsimonsguy/cbus-node/internal/flim"
	"github.com/thatsimonsguy/cbus-node/internal/gpio"
	"github.com/thatsimonsguy/cbus-node/internal/ioport"
	"github.com/thatsimonsguy/cbus-node/internal/notifications"
	"github.com/thatsimonsguy/cbus-node/internal/nv"
	"github.com/thatsimonsguy/cbus-node/internal/nvm"
	"github.com/thatsimonsguy/cbus-node/internal/params"
	"github.com/thatsimonsguy/cbus-node/internal/tick"
	"github.com/thatsimonsguy/cbus-node/system/shutdown"
	"github.com/thatsimonsguy/cbus-node/system/startup"
)

var ErrCorrupt = errors.New("node: stored configuration invalid")

// Options wires a node to its memories, bus and pins. Switch, LEDs and
// CPU are optional.
type Options struct {
	EEPROM nvm.EEPROM
	Flash  nvm.Flash
	Port   can.Port
	Clock  tick.Source
	Rand   flim.Rand
	Pins   [gpio.NumIO]gpio.Pin
	Switch gpio.DigitalPin
	Green  gpio.DigitalPin
	Yellow gpio.DigitalPin
	CPU    params.CPUIDSource

	// Restart and Boot end the process; they default to the shutdown
	// package.
	Restart func(reason string)
	Boot    func()
}

// Node is one CBUS node: its identity, tables and IO. Every method except
// HandleFrame and Do belongs to the main loop.
type Node struct {
	ee     nvm.EEPROM
	image  *nvm.FlashImage
	ctrl   *can.Controller
	clock  tick.Source
	params *params.Block
	nvs    *nv.Table
	events *events.Table
	io     *ioport.Driver
	flim   *flim.Machine
	start  *startup.Sequencer

	// multi-frame answer, sent one frame per Poll
	stream []cbus.Message

	requests chan func()
	restart  func(string)
	boot     func()

	lastReport    tick.Tick
	clashReported bool
	log           zerolog.Logger
}

func New(opts Options) *Node {
	n := &Node{
		ee:       opts.EEPROM,
		image:    nvm.NewFlashImage(opts.Flash),
		ctrl:     can.NewController(opts.Port, 0),
		clock:    opts.Clock,
		params:   params.New(Module, opts.CPU),
		requests: make(chan func(), 8),
		restart:  opts.Restart,
		boot:     opts.Boot,
		log:      log.Logger,
	}
	if n.restart == nil {
		n.restart = shutdown.Restart
	}
	if n.boot == nil {
		n.boot = shutdown.Boot
	}
	n.nvs = nv.New(n.image, nvm.AtNV, NVCount, validateNV, n.applyNV)
	n.events = events.New(n.image, NumProducerActions)
	n.io = ioport.New(opts.Pins, opts.EEPROM, opts.Clock)
	n.flim = flim.New(flim.Options{
		EEPROM: opts.EEPROM,
		Bus:    n.ctrl,
		Clock:  opts.Clock,
		Rand:   opts.Rand,
		Switch: opts.Switch,
		Green:  opts.Green,
		Yellow: opts.Yellow,
	})
	n.start = startup.NewSequencer(opts.Clock)
	return n
}

// HandleFrame is the receive interrupt. Bind it to the transport.
func (n *Node) HandleFrame(f can.Frame) {
	n.ctrl.HandleFrame(f)
}

// Initialise brings the node up from persistent memory. A store that was
// never initialised, or whose contents fail validation, is reset to
// defaults first. Outputs are restored before it returns.
func (n *Node) Initialise() error {
	sentinel, err := n.ee.ReadEE(nvm.EEReset)
	if err != nil {
		return fmt.Errorf("read sentinel: %w", err)
	}
	if sentinel != nvm.ResetSentinel {
		n.log.Warn().Msg("Persistent memory not initialised, writing defaults")
		if err := n.defaults(); err != nil {
			return err
		}
	} else if err := n.load(); err != nil {
		n.log.Error().Err(err).Msg("Persistent memory corrupt, restoring defaults")
		notifications.Notify("CBUS node reset to defaults", err.Error())
		if err := n.defaults(); err != nil {
			return err
		}
	} else {
		return n.finishBoot()
	}
	if err := n.load(); err != nil {
		return fmt.Errorf("load defaults: %w", err)
	}
	return n.finishBoot()
}

// defaults writes the first-boot image. The sentinel is cleared first and
// written last, so an interrupted reset is redone on the next boot.
func (n *Node) defaults() error {
	if err := n.ee.WriteEE(nvm.EEReset, nvm.Erased); err != nil {
		return fmt.Errorf("clear sentinel: %w", err)
	}
	if err := n.ee.WriteEE(nvm.EEBootFlag, 0); err != nil {
		return fmt.Errorf("write boot flag: %w", err)
	}
	if err := flim.Defaults(n.ee, DefaultCanID); err != nil {
		return fmt.Errorf("write identity: %w", err)
	}
	for i := 0; i < gpio.NumIO; i++ {
		if err := n.ee.WriteEE(nvm.EEOpState+uint16(i), 0); err != nil {
			return fmt.Errorf("write output state: %w", err)
		}
	}
	if err := n.nvs.Reset(DefaultNVs()); err != nil {
		return err
	}
	if err := n.events.Clear(); err != nil {
		return err
	}
	if err := n.events.ResetProducers(DefaultProducers()); err != nil {
		return err
	}
	if err := n.ee.WriteEE(nvm.EEReset, nvm.ResetSentinel); err != nil {
		return fmt.Errorf("write sentinel: %w", err)
	}
	return nil
}

// load reads and validates everything persisted. Nothing is driven.
func (n *Node) load() error {
	canID, err := n.ee.ReadEE(nvm.EECanID)
	if err != nil {
		return err
	}
	if canID < can.MinCanID || canID > can.MaxCanID {
		return fmt.Errorf("%w: CAN id %d", ErrCorrupt, canID)
	}
	mode, err := n.ee.ReadEE(nvm.EEFlimMode)
	if err != nil {
		return err
	}
	if !flim.ValidStoredMode(mode) {
		return fmt.Errorf("%w: mode byte 0x%02X", ErrCorrupt, mode)
	}
	nn, err := nvm.ReadWord(n.ee, nvm.EENodeID)
	if err != nil {
		return err
	}
	if mode == flim.StoredFLiM && nn == 0 {
		return fmt.Errorf("%w: FLiM without a node number", ErrCorrupt)
	}
	if err := n.nvs.Load(); err != nil {
		return err
	}
	if err := n.nvs.Check(); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := n.events.Load(); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	n.ctrl.SetCanID(canID)
	return nil
}

func (n *Node) finishBoot() error {
	if err := n.params.Verify(); err != nil {
		return err
	}
	flag, err := n.ee.ReadEE(nvm.EEBootFlag)
	if err != nil {
		return err
	}
	if flag == nvm.BootRequested {
		n.log.Info().Msg("Back from bootloader")
		if err := n.ee.WriteEE(nvm.EEBootFlag, 0); err != nil {
			return err
		}
	}
	if err := n.flim.Load(); err != nil {
		return err
	}
	n.log = log.With().Uint8("node", n.ctrl.CanID()).Logger()

	n.io.SetDebounce(n.nvs.Value(NVDebounce))
	for i := 0; i < gpio.NumIO; i++ {
		if err := n.io.Configure(i, n.settings(i)); err != nil {
			return err
		}
	}
	n.lastReport = n.clock.Now()
	n.log.Info().
		Str("mode", n.flim.Mode().String()).
		Uint16("nn", n.flim.NN()).
		Int("events", n.events.Count()).
		Msg("Node initialised")
	return nil
}

func (n *Node) settings(io int) ioport.Settings {
	s := ioport.Settings{
		Type:   ioport.Type(n.nvs.Value(IONV(io, nvType))),
		Invert: n.nvs.Value(IONV(io, nvFlags))&FlagInvert != 0,
	}
	for k := range s.Params {
		s.Params[k] = n.nvs.Value(IONV(io, nvParams+k))
	}
	return s
}

// applyNV makes a stored node variable take effect.
func (n *Node) applyNV(index, old, value uint8) {
	if index == NVDebounce {
		n.io.SetDebounce(value)
		return
	}
	io, field, ok := ioField(index)
	if !ok {
		return
	}
	if field == nvType && old != value {
		t := ioport.Type(value)
		defaults := ioport.DefaultParams(t)
		for k, v := range defaults {
			if err := n.nvs.Store(IONV(io, nvParams+k), v); err != nil {
				n.log.Error().Err(err).Int("io", io).Msg("Failed to reset IO parameters")
			}
		}
		rest := byte(0)
		if t == ioport.Servo {
			rest = defaults[ioport.ServoOffPosition]
		}
		if err := n.ee.WriteEE(nvm.EEOpState+uint16(io), rest); err != nil {
			n.log.Error().Err(err).Int("io", io).Msg("Failed to reset output state")
		}
		action := ActionProducerInput(io)
		if err := n.events.SetProducer(action, DefaultProducers()[action-1]); err != nil {
			n.log.Error().Err(err).Int("io", io).Msg("Failed to reset produced event")
		}
		n.log.Info().Int("io", io).Str("type", t.String()).Msg("IO type changed")
	}
	if err := n.io.Configure(io, n.settings(io)); err != nil {
		n.log.Error().Err(err).Int("io", io).Msg("Failed to reconfigure IO")
	}
}

// Poll runs one main-loop iteration. It never blocks.
func (n *Node) Poll() {
	n.serveRequests()

	if len(n.stream) > 0 {
		n.send(n.stream[0])
		n.stream = n.stream[1:]
	}
	if f, ok := n.ctrl.Receive(); ok {
		datadog.Count("frames.received", 1)
		n.receive(f)
	}

	n.flim.Poll()
	n.start.Poll(n.nvs.Value(NVSODDelay), n.nvs.Value(NVSendSOD) == 1, n.sendSOD)
	if n.start.Started() {
		for _, c := range n.io.Scan() {
			n.produce(c.IO, c.On)
		}
	}
	n.io.Step()
	n.report()
}

func (n *Node) report() {
	if tick.Since(n.clock, n.lastReport) < tick.OneSecond*10 {
		return
	}
	n.lastReport = n.clock.Now()
	datadog.Gauge("mailbox.dropped", float64(n.ctrl.Dropped()))
	datadog.Gauge("frames.transmitted", float64(n.ctrl.Transmitted()))
	datadog.Gauge("mode", float64(n.flim.Mode()))
	datadog.Gauge("events.taught", float64(n.events.Count()))

	clash := n.flim.CanIDClash()
	if clash && !n.clashReported {
		n.log.Error().Uint16("nn", n.flim.NN()).Msg("No free CAN id")
		notifications.Notify("CBUS node has no CAN id", fmt.Sprintf("node %d found no free CAN id", n.flim.NN()))
	}
	n.clashReported = clash
}

// Do runs fn on the main loop and waits for it. It is how other goroutines
// read or change the node.
func (n *Node) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case n.requests <- func() { fn(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Node) serveRequests() {
	for {
		select {
		case fn := <-n.requests:
			fn()
		default:
			return
		}
	}
}

func (n *Node) send(msg cbus.Message) {
	if err := n.ctrl.Send(msg.Bytes()); err != nil {
		n.log.Error().Err(err).Str("msg", msg.String()).Msg("Failed to send")
	}
}
