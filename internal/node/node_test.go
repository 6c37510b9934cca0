package node

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thatsimonsguy/cbus-node/internal/can"
	"github.com/thatsimonsguy/cbus-node/internal/cbus"
	"github.com/thatsimonsguy/cbus-node/internal/events"
	"github.com/thatsimonsguy/cbus-node/internal/flim"
	"github.com/thatsimonsguy/cbus-node/internal/gpio"
	"github.com/thatsimonsguy/cbus-node/internal/ioport"
	"github.com/thatsimonsguy/cbus-node/internal/nvm"
	"github.com/thatsimonsguy/cbus-node/internal/tick"
	"github.com/thatsimonsguy/cbus-node/system/startup"
)

const toolID = 120

// watchedPin reports every Set before passing it on.
type watchedPin struct {
	*gpio.Fake
	onSet func(high bool)
}

func (w watchedPin) Set(high bool) error {
	if w.onSet != nil {
		w.onSet(high)
	}
	return w.Fake.Set(high)
}

type rig struct {
	t     *testing.T
	bus   *can.LoopbackBus
	rec   *can.Recorder
	tool  *can.Endpoint
	ep    *can.Endpoint
	clock *tick.Counter
	mem   *nvm.Memory
	pins  [gpio.NumIO]*gpio.Fake
	n     *Node

	observe  func(io int, high bool)
	restarts []string
	boots    int
}

func rigOn(t *testing.T, mem *nvm.Memory) *rig {
	bus := can.NewLoopbackBus()
	return &rig{
		t:     t,
		bus:   bus,
		rec:   bus.Record(),
		tool:  bus.Open(),
		clock: tick.NewCounter(),
		mem:   mem,
	}
}

func newRig(t *testing.T) *rig {
	r := rigOn(t, nvm.NewMemory())
	require.NoError(t, r.boot())
	return r
}

// boot powers the node up again over the same memory with fresh pins.
func (r *rig) boot() error {
	if r.ep != nil {
		r.ep.Close()
	}
	for i := range r.pins {
		r.pins[i] = gpio.NewFake()
	}
	pins := gpio.Resolve(func(io int, c gpio.Config) gpio.DigitalPin {
		return watchedPin{Fake: r.pins[io], onSet: func(high bool) {
			if r.observe != nil {
				r.observe(io, high)
			}
		}}
	})
	r.ep = r.bus.Open()
	r.n = New(Options{
		EEPROM:  r.mem,
		Flash:   r.mem,
		Port:    r.ep,
		Clock:   r.clock,
		Rand:    rand.New(rand.NewSource(1)),
		Pins:    pins,
		Restart: func(reason string) { r.restarts = append(r.restarts, reason) },
		Boot:    func() { r.boots++ },
	})
	r.ep.Bind(r.n.HandleFrame)
	return r.n.Initialise()
}

func (r *rig) numbered(nn uint16) {
	require.NoError(r.t, nvm.WriteWord(r.mem, nvm.EENodeID, nn))
	require.NoError(r.t, r.mem.WriteEE(nvm.EEFlimMode, flim.StoredFLiM))
	require.NoError(r.t, r.boot())
	require.Equal(r.t, flim.FLiM, r.n.Mode())
}

// request sends msg from a configuration tool and runs one main-loop
// iteration, returning what the node sent.
func (r *rig) request(msg cbus.Message) []cbus.Message {
	r.rec.Reset()
	require.NoError(r.t, r.tool.Transmit(can.NewFrame(can.DefaultPriority, toolID, msg.Bytes())))
	r.n.Poll()
	return r.replies()
}

func (r *rig) replies() []cbus.Message {
	var out []cbus.Message
	for _, f := range r.rec.Frames() {
		if f.CanID() == toolID || f.RTR || f.Len == 0 {
			continue
		}
		msg, err := cbus.Parse(f.Payload())
		require.NoError(r.t, err)
		out = append(out, msg)
	}
	return out
}

func (r *rig) advance(ms tick.Tick) {
	for elapsed := tick.Tick(0); elapsed < ms; elapsed += 10 {
		r.clock.Advance(10)
		r.n.Poll()
	}
}

func (r *rig) wrack(msg cbus.Message) {
	replies := r.request(msg)
	require.Len(r.t, replies, 1, "reply to %s", msg)
	require.Equal(r.t, cbus.OpWRACK, replies[0].Opcode(), "reply to %s: %s", msg, replies[0])
}

func (r *rig) teach(nn uint16, e events.Event, evIndex, value uint8) {
	r.request(cbus.NewNN(cbus.OpNNLRN, nn))
	require.Equal(r.t, flim.Learn, r.n.Mode())
	r.wrack(cbus.NewEvent(cbus.OpEVLRN, e.NN, e.EN, evIndex, value))
	r.request(cbus.NewNN(cbus.OpNNULN, nn))
}

func cmderr(t *testing.T, replies []cbus.Message) cbus.CmdErr {
	t.Helper()
	require.Len(t, replies, 1)
	require.Equal(t, cbus.OpCMDERR, replies[0].Opcode())
	return cbus.CmdErr(replies[0].Byte(3))
}

func snapshot(t *testing.T, m *nvm.Memory) ([]byte, []byte) {
	ee := make([]byte, nvm.EEPROMSize)
	for a := range ee {
		v, err := m.ReadEE(uint16(a))
		require.NoError(t, err)
		ee[a] = v
	}
	flash := make([]byte, nvm.FlashSize)
	require.NoError(t, m.ReadFlash(0, flash))
	return ee, flash
}

func TestFirstBootDefaults(t *testing.T) {
	r := newRig(t)
	assert.Equal(t, flim.SLiM, r.n.Mode())
	assert.Equal(t, uint16(0), r.n.NN())
	assert.Equal(t, uint8(DefaultCanID), r.n.CanID())

	sentinel, _ := r.mem.ReadEE(nvm.EEReset)
	assert.Equal(t, byte(nvm.ResetSentinel), sentinel)

	nvs := r.n.NVs()
	require.Len(t, nvs, NVCount)
	assert.Equal(t, byte(DefaultDebounce), nvs[NVDebounce-1])
	for _, s := range r.n.IO() {
		assert.Equal(t, "input", s.Type)
	}
	assert.Empty(t, r.n.Events())
	produced := r.n.Produced()
	require.Len(t, produced, NumProducerActions)
	assert.Equal(t, ProducedEvent{Action: ActionProducerSOD, NN: 0, EN: 17}, produced[0])
	assert.Equal(t, ProducedEvent{Action: ActionProducerInput(0), NN: 0, EN: 1}, produced[1])
}

func TestInterruptedFirstBoot(t *testing.T) {
	ref := newRig(t)
	wantEE, wantFlash := snapshot(t, ref.mem)
	total := ref.mem.Writes()
	require.Greater(t, total, 1)

	// the last budget loses power just before the sentinel is written
	for budget := 0; budget < total; budget++ {
		mem := nvm.NewMemory()
		mem.FailAfter(budget)
		r := rigOn(t, mem)
		require.Error(t, r.boot(), "budget %d", budget)
		sentinel, _ := mem.ReadEE(nvm.EEReset)
		assert.NotEqual(t, byte(nvm.ResetSentinel), sentinel, "budget %d", budget)

		mem.FailAfter(-1)
		require.NoError(t, r.boot(), "budget %d", budget)
		ee, flash := snapshot(t, mem)
		assert.Equal(t, wantEE, ee, "budget %d", budget)
		assert.Equal(t, wantFlash, flash, "budget %d", budget)

		writes := mem.Writes()
		require.NoError(t, r.boot())
		assert.Equal(t, writes, mem.Writes(), "an initialised store is not written again")
	}
}

func TestCorruptStoreIsReset(t *testing.T) {
	t.Run("mode byte", func(t *testing.T) {
		r := newRig(t)
		r.numbered(300)
		r.teach(300, events.Event{NN: 1, EN: 1}, 1, ActionConsumerOutput(0))
		require.NoError(t, r.mem.WriteEE(nvm.EEFlimMode, 7))

		require.NoError(t, r.boot())
		assert.Equal(t, flim.SLiM, r.n.Mode())
		assert.Empty(t, r.n.Events())
	})
	t.Run("node variable", func(t *testing.T) {
		r := newRig(t)
		image := nvm.NewFlashImage(r.mem)
		require.NoError(t, image.Write(nvm.AtNV+NVSendSOD-1, []byte{9}))
		require.NoError(t, image.Flush())

		require.NoError(t, r.boot())
		v, err := r.n.ReadNV(NVSendSOD)
		require.NoError(t, err)
		assert.Equal(t, byte(0), v)
	})
	t.Run("CAN id", func(t *testing.T) {
		r := newRig(t)
		require.NoError(t, r.mem.WriteEE(nvm.EECanID, 0))
		require.NoError(t, r.boot())
		assert.Equal(t, uint8(DefaultCanID), r.n.CanID())
	})
}

func TestACONDrivesTaughtOutput(t *testing.T) {
	r := newRig(t)
	r.numbered(257)
	r.wrack(cbus.NewNN(cbus.OpNVSET, 257, IONV(0, nvType), byte(ioport.Output)))
	r.wrack(cbus.NewNN(cbus.OpNVSET, 257, IONV(1, nvType), byte(ioport.Output)))
	assert.True(t, r.pins[0].Output())

	e := events.Event{NN: 0x0102, EN: 0x0005}
	r.teach(257, e, 1, ActionConsumerOutput(0))
	r.teach(257, e, 2, ActionConsumerOutputInverted(1))

	var persisted []byte
	r.observe = func(io int, high bool) {
		if io == 0 {
			v, _ := r.mem.ReadEE(nvm.EEOpState)
			persisted = append(persisted, v)
		}
	}

	replies := r.request(cbus.Message{Len: 5, Data: [8]byte{0x90, 0x01, 0x02, 0x00, 0x05}})
	assert.Empty(t, replies)
	assert.True(t, r.pins[0].Level())
	assert.False(t, r.pins[1].Level())
	assert.Equal(t, []byte{1}, persisted, "state stored before the pin is driven")

	r.request(cbus.NewEvent(cbus.OpACOF, 0x0102, 0x0005))
	assert.False(t, r.pins[0].Level())
	assert.True(t, r.pins[1].Level())
	stored, _ := r.mem.ReadEE(nvm.EEOpState)
	assert.Equal(t, byte(0), stored)

	// an event nobody taught changes nothing
	r.request(cbus.NewEvent(cbus.OpACON, 0x0102, 0x0006))
	assert.False(t, r.pins[0].Level())
}

func TestShortEventMatchesOnEventNumber(t *testing.T) {
	r := newRig(t)
	r.numbered(257)
	r.wrack(cbus.NewNN(cbus.OpNVSET, 257, IONV(4, nvType), byte(ioport.Output)))
	r.teach(257, events.Event{NN: 0, EN: 42}, 1, ActionConsumerOutput(4))

	r.request(cbus.NewEvent(cbus.OpASON, 999, 42))
	assert.True(t, r.pins[4].Level())
	r.request(cbus.NewEvent(cbus.OpASOF1, 12, 42, 0xAA))
	assert.False(t, r.pins[4].Level())
}

func TestOutputRestoredAfterPowerLoss(t *testing.T) {
	r := newRig(t)
	r.numbered(257)
	r.wrack(cbus.NewNN(cbus.OpNVSET, 257, IONV(0, nvType), byte(ioport.Output)))
	r.teach(257, events.Event{NN: 0x0102, EN: 5}, 1, ActionConsumerOutput(0))
	r.request(cbus.NewEvent(cbus.OpACON, 0x0102, 5))
	require.True(t, r.pins[0].Level())

	require.NoError(t, r.boot())
	assert.True(t, r.pins[0].Output())
	assert.True(t, r.pins[0].Level(), "restored before any bus traffic")
}

func TestNodeVariables(t *testing.T) {
	r := newRig(t)
	r.numbered(300)

	r.wrack(cbus.NewNN(cbus.OpNVSET, 300, NVSendSOD, 1))
	assert.Equal(t, cbus.CmdErrInvNVValue, cmderr(t, r.request(cbus.NewNN(cbus.OpNVSET, 300, NVSendSOD, 2))))

	replies := r.request(cbus.NewNN(cbus.OpNVRD, 300, NVSendSOD))
	require.Len(t, replies, 1)
	assert.Equal(t, cbus.OpNVANS, replies[0].Opcode())
	assert.Equal(t, byte(NVSendSOD), replies[0].Byte(3))
	assert.Equal(t, byte(1), replies[0].Byte(4))

	// addressed to another node
	assert.Empty(t, r.request(cbus.NewNN(cbus.OpNVRD, 301, NVSendSOD)))
}

func TestTypeChangeResetsParameters(t *testing.T) {
	r := newRig(t)
	r.numbered(300)
	r.teach(300, events.Event{NN: 300, EN: 60}, 1, ActionProducerInput(1))
	r.wrack(cbus.NewNN(cbus.OpNVSET, 300, IONV(1, nvParams), 99))
	r.wrack(cbus.NewNN(cbus.OpNVSET, 300, IONV(1, nvType), byte(ioport.Servo)))

	produced := r.n.Produced()
	assert.Equal(t, ProducedEvent{Action: ActionProducerInput(1), NN: 0, EN: 2}, produced[ActionProducerInput(1)-1])

	nvs := r.n.NVs()
	assert.Equal(t, byte(200), nvs[IONV(1, nvParams+ioport.ServoOnPosition)-1])
	assert.Equal(t, byte(55), nvs[IONV(1, nvParams+ioport.ServoOffPosition)-1])
	assert.True(t, r.pins[1].Output())
	status := r.n.IO()[1]
	assert.Equal(t, "servo", status.Type)
	assert.Equal(t, uint8(55), status.Position)

	assert.Equal(t, cbus.CmdErrInvNVValue, cmderr(t, r.request(cbus.NewNN(cbus.OpNVSET, 300, IONV(1, nvType), 9))))
	assert.Equal(t, cbus.CmdErrInvNVValue, cmderr(t, r.request(cbus.NewNN(cbus.OpNVSET, 300, IONV(1, nvFlags), 2))))
}

func TestServoFollowsEvents(t *testing.T) {
	r := newRig(t)
	r.numbered(300)
	r.wrack(cbus.NewNN(cbus.OpNVSET, 300, IONV(2, nvType), byte(ioport.Servo)))
	r.teach(300, events.Event{NN: 7, EN: 7}, 1, ActionConsumerOutput(2))

	r.request(cbus.NewEvent(cbus.OpACON, 7, 7))
	stored, _ := r.mem.ReadEE(nvm.EEOpState + 2)
	assert.Equal(t, byte(200), stored)
	assert.True(t, r.n.IO()[2].Moving)

	r.advance(tick.OneSecond)
	status := r.n.IO()[2]
	assert.Equal(t, uint8(200), status.Position)
	assert.False(t, status.Moving)
}

func TestCommandErrors(t *testing.T) {
	tests := []struct {
		name  string
		learn bool
		msg   cbus.Message
		want  cbus.CmdErr
	}{
		{"nv index 0", false, cbus.NewNN(cbus.OpNVRD, 300, 0), cbus.CmdErrInvNVIdx},
		{"nv index past end", false, cbus.NewNN(cbus.OpNVRD, 300, NVCount+1), cbus.CmdErrInvNVIdx},
		{"nvset index", false, cbus.NewNN(cbus.OpNVSET, 300, NVCount+1, 0), cbus.CmdErrInvNVIdx},
		{"parameter index", false, cbus.NewNN(cbus.OpRQNPN, 300, 21), cbus.CmdErrInvParamIdx},
		{"empty slot", false, cbus.NewNN(cbus.OpNENRD, 300, 5), cbus.CmdErrInvalidEvent},
		{"clear outside learn", false, cbus.NewNN(cbus.OpNNCLR, 300), cbus.CmdErrNotLrn},
		{"bad CAN id", false, cbus.NewNN(cbus.OpCANID, 300, 0), cbus.CmdErrInvCmd},
		{"unlearn unknown", true, cbus.NewEvent(cbus.OpEVULN, 1, 2), cbus.CmdErrInvalidEvent},
		{"ev index", true, cbus.NewEvent(cbus.OpEVLRN, 1, 2, 18, 19), cbus.CmdErrInvEvIdx},
		{"ev value", true, cbus.NewEvent(cbus.OpEVLRN, 1, 2, 1, MaxAction+1), cbus.CmdErrInvEvValue},
		{"producer outside ev1", true, cbus.NewEvent(cbus.OpEVLRN, 1, 2, 2, ActionProducerSOD), cbus.CmdErrInvEvValue},
		{"read unknown", true, cbus.NewEvent(cbus.OpREQEV, 1, 2, 1), cbus.CmdErrInvalidEvent},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := newRig(t)
			r.numbered(300)
			if tc.learn {
				r.request(cbus.NewNN(cbus.OpNNLRN, 300))
			}
			assert.Equal(t, tc.want, cmderr(t, r.request(tc.msg)))
			assert.Equal(t, uint16(300), r.n.NN(), "node undisturbed")
		})
	}
}

func TestTableFull(t *testing.T) {
	r := newRig(t)
	r.numbered(300)
	r.request(cbus.NewNN(cbus.OpNNLRN, 300))
	// six events per hash bucket, so no chain fills first
	for en := uint16(1); en <= events.NumConsumedEvents; en++ {
		r.wrack(cbus.NewEvent(cbus.OpEVLRN, 1, en, 1, ActionConsumerOutput(0)))
	}
	assert.Equal(t, cbus.CmdErrTooManyEvents, cmderr(t, r.request(cbus.NewEvent(cbus.OpEVLRN, 1, events.NumConsumedEvents+1, 1, ActionConsumerOutput(0)))))

	r.request(cbus.NewNN(cbus.OpNNULN, 300))
	replies := r.request(cbus.NewNN(cbus.OpNNEVN, 300))
	require.Len(t, replies, 1)
	assert.Equal(t, cbus.OpEVNLF, replies[0].Opcode())
	assert.Equal(t, byte(0), replies[0].Byte(3))
}

func TestLearnOpcodesIgnoredOutsideLearn(t *testing.T) {
	r := newRig(t)
	r.numbered(300)
	assert.Empty(t, r.request(cbus.NewEvent(cbus.OpEVLRN, 1, 2, 1, ActionConsumerOutput(0))))
	assert.Empty(t, r.n.Events())
}

func TestEventReadback(t *testing.T) {
	r := newRig(t)
	r.numbered(300)
	r.teach(300, events.Event{NN: 1, EN: 1}, 1, ActionConsumerOutput(0))
	r.teach(300, events.Event{NN: 1, EN: 2}, 3, ActionConsumerOutput(1))

	replies := r.request(cbus.NewNN(cbus.OpRQEVN, 300))
	require.Len(t, replies, 1)
	assert.Equal(t, cbus.OpNUMEV, replies[0].Opcode())
	assert.Equal(t, byte(2), replies[0].Byte(3))

	replies = r.request(cbus.NewNN(cbus.OpNENRD, 300, 1))
	require.Len(t, replies, 1)
	assert.Equal(t, cbus.OpENRSP, replies[0].Opcode())
	assert.Equal(t, uint16(1), replies[0].Word(3))
	assert.Equal(t, uint16(2), replies[0].Word(5))

	replies = r.request(cbus.NewNN(cbus.OpREVAL, 300, 1, 3))
	require.Len(t, replies, 1)
	assert.Equal(t, cbus.OpNEVAL, replies[0].Opcode())
	assert.Equal(t, ActionConsumerOutput(1), replies[0].Byte(5))

	r.request(cbus.NewNN(cbus.OpNNLRN, 300))
	replies = r.request(cbus.NewEvent(cbus.OpREQEV, 1, 2, 3))
	require.Len(t, replies, 1)
	assert.Equal(t, cbus.OpEVANS, replies[0].Opcode())
	assert.Equal(t, ActionConsumerOutput(1), replies[0].Byte(6))

	r.wrack(cbus.NewEvent(cbus.OpEVULN, 1, 1))
	r.wrack(cbus.NewNN(cbus.OpNNCLR, 300))
	assert.Empty(t, r.n.Events())
}

func TestTeachProducedEvent(t *testing.T) {
	r := newRig(t)
	r.numbered(300)
	r.teach(300, events.Event{NN: 300, EN: 50}, 1, ActionProducerInput(5))
	assert.Empty(t, r.n.Events(), "a produced event takes no consumed slot")

	r.advance(startup.SettleTime)
	r.pins[5].Drive(true)
	r.rec.Reset()
	r.advance(100)
	replies := r.replies()
	require.Len(t, replies, 1)
	assert.Equal(t, cbus.OpACON, replies[0].Opcode())
	assert.Equal(t, uint16(300), replies[0].NN())
	assert.Equal(t, uint16(50), replies[0].EN())
}

func TestNERDStreamsOneFramePerPoll(t *testing.T) {
	r := newRig(t)
	r.numbered(300)
	for en := uint16(1); en <= 3; en++ {
		r.teach(300, events.Event{NN: 9, EN: en}, 1, ActionConsumerOutput(0))
	}

	assert.Empty(t, r.request(cbus.NewNN(cbus.OpNERD, 300)))
	for slot := 0; slot < 3; slot++ {
		r.rec.Reset()
		r.n.Poll()
		replies := r.replies()
		require.Len(t, replies, 1)
		assert.Equal(t, cbus.OpENRSP, replies[0].Opcode())
		assert.Equal(t, uint16(9), replies[0].Word(3))
		assert.Equal(t, uint16(slot+1), replies[0].Word(5))
		assert.Equal(t, byte(slot), replies[0].Byte(7))
	}
	r.rec.Reset()
	r.n.Poll()
	assert.Empty(t, r.replies())
}

func TestUnknownOpcodesIgnored(t *testing.T) {
	r := newRig(t)
	r.numbered(300)
	for _, msg := range []cbus.Message{
		cbus.New(cbus.OpRSTAT),
		cbus.New(cbus.OpKLOC, 1),
		cbus.NewNN(cbus.OpDSPD, 300),
		cbus.NewNN(cbus.OpRQNN, 300),
		cbus.New(cbus.OpRDCC3, 1, 2, 3, 4),
		cbus.New(cbus.OpEXTC6),
	} {
		assert.Empty(t, r.request(msg), "opcode 0x%02X", byte(msg.Opcode()))
	}

	r.rec.Reset()
	require.NoError(t, r.tool.Transmit(can.NewFrame(can.DefaultPriority, toolID, []byte{0x90, 0x01})))
	r.n.Poll()
	assert.Empty(t, r.replies(), "short frames are dropped")
}

func TestMailboxDropsSecondFrame(t *testing.T) {
	r := newRig(t)
	for i := 0; i < 2; i++ {
		require.NoError(t, r.tool.Transmit(can.NewFrame(can.DefaultPriority, toolID, []byte{byte(cbus.OpQNN)})))
	}
	r.rec.Reset()
	r.n.Poll()
	r.n.Poll()
	assert.Len(t, r.replies(), 1)
	assert.Equal(t, uint32(1), r.n.Info().Dropped)
}

func TestQueryNode(t *testing.T) {
	r := newRig(t)
	replies := r.request(cbus.New(cbus.OpQNN))
	require.Len(t, replies, 1)
	assert.Equal(t, cbus.OpPNN, replies[0].Opcode())
	assert.Equal(t, uint16(0), replies[0].NN())
	assert.Equal(t, cbus.ManuMERG, replies[0].Byte(3))
	assert.Equal(t, cbus.MtypCANMIO, replies[0].Byte(4))
	assert.Equal(t, byte(cbus.PFCombi|cbus.PFBoot), replies[0].Byte(5))

	r.numbered(300)
	replies = r.request(cbus.New(cbus.OpQNN))
	require.Len(t, replies, 1)
	assert.Equal(t, uint16(300), replies[0].NN())
	assert.Equal(t, byte(cbus.PFCombi|cbus.PFFLiM|cbus.PFBoot), replies[0].Byte(5))
}

func TestSetupOverTheBus(t *testing.T) {
	r := newRig(t)
	assert.Empty(t, r.request(cbus.New(cbus.OpRQNP)), "parameters only in setup")

	r.rec.Reset()
	r.n.flim.RequestSetup()
	rqnn := r.replies()
	require.Len(t, rqnn, 1)
	assert.Equal(t, cbus.OpRQNN, rqnn[0].Opcode())

	assert.Empty(t, r.request(cbus.New(cbus.OpQNN)))

	replies := r.request(cbus.New(cbus.OpRQNP))
	require.Len(t, replies, 1)
	assert.Equal(t, []byte{byte(cbus.OpPARAMS), 165, 'a', 32, 192, 17, 120, 1}, replies[0].Bytes())

	replies = r.request(cbus.New(cbus.OpRQMN))
	require.Len(t, replies, 1)
	assert.Equal(t, "MIO    ", string(replies[0].Bytes()[1:]))

	assert.Empty(t, r.request(cbus.NewNN(cbus.OpSNN, 0x0100)))
	r.rec.Reset()
	r.advance(flim.EnumWindow + 10)
	nnack := r.replies()
	require.Len(t, nnack, 1)
	assert.Equal(t, cbus.OpNNACK, nnack[0].Opcode())
	assert.Equal(t, uint16(0x0100), nnack[0].NN())
	assert.Equal(t, flim.FLiM, r.n.Mode())

	replies = r.request(cbus.NewNN(cbus.OpRQNPN, 0x0100, 0))
	require.Len(t, replies, 1)
	assert.Equal(t, cbus.OpPARAN, replies[0].Opcode())
	assert.Equal(t, byte(20), replies[0].Byte(4))
}

func TestStartOfDay(t *testing.T) {
	r := newRig(t)
	r.numbered(300)
	r.wrack(cbus.NewNN(cbus.OpNVSET, 300, NVSendSOD, 1))
	require.NoError(t, r.boot())

	r.rec.Reset()
	r.advance(startup.SettleTime - 10)
	assert.Empty(t, r.replies())

	r.advance(10)
	replies := r.replies()
	require.Len(t, replies, 1)
	assert.Equal(t, cbus.OpASON, replies[0].Opcode())
	assert.Equal(t, uint16(300), replies[0].NN())
	assert.Equal(t, uint16(17), replies[0].EN())

	r.rec.Reset()
	r.advance(startup.SettleTime)
	assert.Empty(t, r.replies(), "once per power cycle")
}

func TestStartOfDayDelay(t *testing.T) {
	r := newRig(t)
	r.numbered(300)
	r.wrack(cbus.NewNN(cbus.OpNVSET, 300, NVSendSOD, 1))
	r.wrack(cbus.NewNN(cbus.OpNVSET, 300, NVSODDelay, 5))
	require.NoError(t, r.boot())

	r.rec.Reset()
	r.advance(startup.SettleTime + 490)
	assert.Empty(t, r.replies())
	r.advance(10)
	assert.Len(t, r.replies(), 1)
}

func TestInputsProduceEventsInFLiM(t *testing.T) {
	r := newRig(t)
	r.advance(startup.SettleTime)
	r.pins[3].Drive(true)
	r.rec.Reset()
	r.advance(100)
	assert.Empty(t, r.replies(), "SLiM sends nothing")

	r.numbered(300)
	r.advance(startup.SettleTime)
	r.rec.Reset()
	r.pins[3].Drive(true)
	r.advance(DefaultDebounce - 10)
	assert.Empty(t, r.replies(), "still bouncing")
	r.advance(30)
	replies := r.replies()
	require.Len(t, replies, 1)
	assert.Equal(t, cbus.OpASON, replies[0].Opcode())
	assert.Equal(t, uint16(300), replies[0].NN())
	assert.Equal(t, uint16(4), replies[0].EN())

	r.rec.Reset()
	r.pins[3].Drive(false)
	r.advance(100)
	replies = r.replies()
	require.Len(t, replies, 1)
	assert.Equal(t, cbus.OpASOF, replies[0].Opcode())
}

func TestConsumedStartOfDayReportsInputs(t *testing.T) {
	r := newRig(t)
	r.numbered(300)
	r.wrack(cbus.NewNN(cbus.OpNVSET, 300, IONV(0, nvType), byte(ioport.Output)))
	r.teach(300, events.Event{NN: 0x0200, EN: 1}, 1, ActionConsumerSOD)
	r.advance(startup.SettleTime)
	r.pins[2].Drive(true)
	r.advance(100)

	assert.Empty(t, r.request(cbus.NewEvent(cbus.OpACON, 0x0200, 1)))
	r.rec.Reset()
	for i := 0; i < gpio.NumIO; i++ {
		r.n.Poll()
	}
	replies := r.replies()
	require.Len(t, replies, gpio.NumIO-1, "one per input")
	assert.Equal(t, cbus.OpASOF, replies[0].Opcode())
	assert.Equal(t, uint16(2), replies[0].EN())
	assert.Equal(t, cbus.OpASON, replies[1].Opcode())
	assert.Equal(t, uint16(3), replies[1].EN())
}

func TestStreamsQueueBehindEachOther(t *testing.T) {
	r := newRig(t)
	r.numbered(300)
	r.wrack(cbus.NewNN(cbus.OpNVSET, 300, IONV(0, nvType), byte(ioport.Output)))
	r.teach(300, events.Event{NN: 0x0200, EN: 1}, 1, ActionConsumerSOD)
	r.teach(300, events.Event{NN: 9, EN: 1}, 1, ActionConsumerOutput(0))
	r.advance(startup.SettleTime)

	assert.Empty(t, r.request(cbus.NewNN(cbus.OpNERD, 300)))
	first := r.request(cbus.NewEvent(cbus.OpACON, 0x0200, 1))
	require.Len(t, first, 1)
	assert.Equal(t, cbus.OpENRSP, first[0].Opcode())

	r.rec.Reset()
	for i := 0; i < 2*gpio.NumIO; i++ {
		r.n.Poll()
	}
	replies := r.replies()
	require.Len(t, replies, 1+gpio.NumIO-1)
	assert.Equal(t, cbus.OpENRSP, replies[0].Opcode(), "NERD finishes first")
	for _, msg := range replies[1:] {
		assert.Equal(t, cbus.OpASOF, msg.Opcode())
	}
}

func TestResetToDefaults(t *testing.T) {
	r := newRig(t)
	r.numbered(300)
	r.teach(300, events.Event{NN: 1, EN: 1}, 1, ActionConsumerOutput(0))

	r.request(cbus.NewNN(cbus.OpNNRSM, 300))
	assert.Equal(t, []string{"NNRSM"}, r.restarts)

	require.NoError(t, r.boot())
	assert.Equal(t, flim.SLiM, r.n.Mode())
	assert.Empty(t, r.n.Events())
}

func TestRestartAndBoot(t *testing.T) {
	r := newRig(t)
	r.numbered(300)
	r.request(cbus.NewNN(cbus.OpNNRST, 301))
	assert.Empty(t, r.restarts)
	r.request(cbus.NewNN(cbus.OpNNRST, 300))
	assert.Equal(t, []string{"NNRST"}, r.restarts)

	r.request(cbus.NewNN(cbus.OpBOOT, 300))
	assert.Equal(t, 1, r.boots)
	flag, _ := r.mem.ReadEE(nvm.EEBootFlag)
	assert.Equal(t, byte(nvm.BootRequested), flag)

	require.NoError(t, r.boot())
	flag, _ = r.mem.ReadEE(nvm.EEBootFlag)
	assert.Equal(t, byte(0), flag)
}

func TestSetCanID(t *testing.T) {
	r := newRig(t)
	r.numbered(300)
	r.wrack(cbus.NewNN(cbus.OpCANID, 300, 42))
	assert.Equal(t, uint8(42), r.n.CanID())
	stored, _ := r.mem.ReadEE(nvm.EECanID)
	assert.Equal(t, byte(42), stored)
}

func TestEnumerateOnRequest(t *testing.T) {
	r := newRig(t)
	r.numbered(300)
	require.NoError(t, r.mem.WriteEE(nvm.EECanID, 50))
	require.NoError(t, r.boot())
	require.Equal(t, uint8(50), r.n.CanID())

	r.request(cbus.NewNN(cbus.OpENUM, 300))
	r.advance(flim.EnumWindow + 10)
	assert.Equal(t, uint8(1), r.n.CanID())
}

func TestDoRunsOnMainLoop(t *testing.T) {
	r := newRig(t)
	done := make(chan error, 1)
	var got Info
	go func() {
		done <- r.n.Do(context.Background(), func() { got = r.n.Info() })
	}()

	var err error
	require.Eventually(t, func() bool {
		r.n.Poll()
		select {
		case err = <-done:
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "slim", got.Mode)
	assert.Equal(t, "CANMIO", got.Name)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.n.Do(ctx, func() {}), context.Canceled)
}
