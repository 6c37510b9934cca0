package cbus

// Manufacturers
const (
	ManuMERG     uint8 = 165
	ManuRocrail  uint8 = 70
	ManuSpectrum uint8 = 80
)

// MERG module types used by this firmware family.
const (
	MtypSLiM       uint8 = 0
	MtypCANACE8C   uint8 = 5
	MtypCAN8I8O    uint8 = 18
	MtypCANACE16C  uint8 = 22
	MtypCANIO8     uint8 = 23
	MtypCANMIO     uint8 = 32
	MtypCANACE8MIO uint8 = 33
	MtypCANBIP     uint8 = 35
	MtypCANPiWi    uint8 = 46
	MtypCANSW      uint8 = 0xFF
	MtypEmpty      uint8 = 0xFE
	MtypCANUSB     uint8 = 0xFD
)

// Parameter indexes as used by RQNPN/PARAN. Index 0 requests the count.
const (
	ParManu    = 1  // Manufacturer id
	ParMinVer  = 2  // Minor version letter
	ParMtyp    = 3  // Module type code
	ParEvtNum  = 4  // Number of events supported
	ParEvNum   = 5  // Event variables per event
	ParNVNum   = 6  // Number of node variables
	ParMajVer  = 7  // Major version number
	ParFlags   = 8  // Node flags
	ParCPUID   = 9  // Processor type
	ParBusType = 10 // Bus type
	ParLoad    = 11 // Load address, 4 bytes
	ParCPUMID  = 15 // CPU manufacturer's id read from the chip, 4 bytes
	ParCPUMan  = 19 // CPU manufacturer code
	ParBeta    = 20 // Beta revision, 0 for a release
)

// Offsets of the values stored above the indexed parameters.
const (
	ParCountOffset    = 0x18
	ParNameOffset     = 0x1A
	ParChecksumOffset = 0x1E
	ParBlockSize      = 0x20
)

// Flags in ParFlags.
const (
	PFNoEvents uint8 = 0
	PFConsumer uint8 = 1
	PFProducer uint8 = 2
	PFCombi    uint8 = 3
	PFFLiM     uint8 = 4
	PFBoot     uint8 = 8
)

// Bus types
const (
	PBCAN  uint8 = 1
	PBEth  uint8 = 2
	PBMiWi uint8 = 3
)

// Processor manufacturers
const (
	CPUMMicrochip uint8 = 1
	CPUMAtmel     uint8 = 2
	CPUMARM       uint8 = 3
)

// Processor types reported in ParCPUID.
const (
	P18F25K80 uint8 = 13
	P18F26K80 uint8 = 15

	ARM1176JZFS  uint8 = 1
	ARMCortexA7  uint8 = 2
	ARMCortexA53 uint8 = 3
)

// Throttle speed modes for STMOD.
const (
	TmodSpdMask uint8 = 3
	TmodSpd128  uint8 = 0
	TmodSpd14   uint8 = 1
	TmodSpd28I  uint8 = 2
	TmodSpd28   uint8 = 3
)
