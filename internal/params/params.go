package params

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/thatsimonsguy/cbus-node/internal/cbus"
)

// Count is the number of indexed parameters, reported for RQNPN index 0.
const Count = 20

// NameLength is the fixed width of the NAME response.
const NameLength = 7

// Identity is what a module reports about itself.
type Identity struct {
	Manufacturer    uint8
	MinorVersion    uint8 // letter, 'a' for the first release
	ModuleType      uint8
	Events          uint8
	EVsPerEvent     uint8
	NVs             uint8
	MajorVersion    uint8
	Flags           uint8
	CPU             uint8
	BusType         uint8
	LoadAddress     uint32
	CPUManufacturer uint8
	Beta            uint8
	Name            string
}

// CPUIDSource reads the processor's own identification. It is consulted on
// every request and never stored in the block.
type CPUIDSource interface {
	CPUID() [4]byte
}

type StaticCPUID [4]byte

func (s StaticCPUID) CPUID() [4]byte { return s }

// Block is the parameter block image plus the live CPU id source.
type Block struct {
	image [cbus.ParBlockSize]byte
	name  string
	cpu   CPUIDSource
}

// New lays out id and computes the checksum. The CPU id bytes are left zero
// in the image.
func New(id Identity, cpu CPUIDSource) *Block {
	b := &Block{name: id.Name, cpu: cpu}
	if cpu == nil {
		b.cpu = StaticCPUID{}
	}
	p := b.image[:]
	p[cbus.ParManu-1] = id.Manufacturer
	p[cbus.ParMinVer-1] = id.MinorVersion
	p[cbus.ParMtyp-1] = id.ModuleType
	p[cbus.ParEvtNum-1] = id.Events
	p[cbus.ParEvNum-1] = id.EVsPerEvent
	p[cbus.ParNVNum-1] = id.NVs
	p[cbus.ParMajVer-1] = id.MajorVersion
	p[cbus.ParFlags-1] = id.Flags
	p[cbus.ParCPUID-1] = id.CPU
	p[cbus.ParBusType-1] = id.BusType
	binary.LittleEndian.PutUint32(p[cbus.ParLoad-1:], id.LoadAddress)
	p[cbus.ParCPUMan-1] = id.CPUManufacturer
	p[cbus.ParBeta-1] = id.Beta

	binary.LittleEndian.PutUint16(p[cbus.ParCountOffset:], Count)
	// the name follows the block in the image
	binary.LittleEndian.PutUint32(p[cbus.ParNameOffset:], id.LoadAddress+cbus.ParBlockSize)
	binary.LittleEndian.PutUint16(p[cbus.ParChecksumOffset:], Checksum(p))
	return b
}

// Checksum sums the block up to the checksum field. The CPU id bytes are
// read from the chip at request time and are counted as zero.
func Checksum(image []byte) uint16 {
	var sum uint16
	for i := 0; i < cbus.ParChecksumOffset && i < len(image); i++ {
		if i >= cbus.ParCPUMID-1 && i < cbus.ParCPUMID-1+4 {
			continue
		}
		sum += uint16(image[i])
	}
	return sum
}

// Verify recomputes the checksum over the stored image.
func (b *Block) Verify() error {
	stored := binary.LittleEndian.Uint16(b.image[cbus.ParChecksumOffset:])
	if got := Checksum(b.image[:]); got != stored {
		return fmt.Errorf("parameter checksum 0x%04X, stored 0x%04X", got, stored)
	}
	return nil
}

// Bytes returns the block as transmitted, live CPU id included.
func (b *Block) Bytes() []byte {
	out := b.image
	id := b.cpu.CPUID()
	copy(out[cbus.ParCPUMID-1:], id[:])
	return out[:]
}

// Index returns parameter i, counting from 1. Index 0 is the count.
func (b *Block) Index(i uint8) (byte, error) {
	switch {
	case i == 0:
		return Count, nil
	case i > Count:
		return 0, cbus.CmdErrInvParamIdx
	case i >= cbus.ParCPUMID && i < cbus.ParCPUMID+4:
		id := b.cpu.CPUID()
		return id[i-cbus.ParCPUMID], nil
	}
	return b.image[i-1], nil
}

func (b *Block) Flags() uint8 {
	return b.image[cbus.ParFlags-1]
}

func (b *Block) Name() string {
	return b.name
}

// ParamsMessage builds the PARAMS response carrying the first seven
// parameters.
func (b *Block) ParamsMessage() cbus.Message {
	return cbus.New(cbus.OpPARAMS, b.image[:7]...)
}

// NameMessage builds the NAME response: the module name without the "CAN"
// prefix, space padded to seven characters.
func (b *Block) NameMessage() cbus.Message {
	name := strings.TrimPrefix(b.name, "CAN")
	if len(name) > NameLength {
		name = name[:NameLength]
	}
	name += strings.Repeat(" ", NameLength-len(name))
	return cbus.New(cbus.OpNAME, []byte(name)...)
}
