package cbus

// Opcode is the first byte of every CBUS message. Bits 7..5 carry the number
// of data bytes that follow.
type Opcode uint8

// DataLen returns the number of data bytes implied by the opcode.
func (o Opcode) DataLen() int {
	return int(o >> 5)
}

const (
	// 0 data bytes
	OpACK   Opcode = 0x00 // General ack
	OpNAK   Opcode = 0x01 // General nak
	OpHLT   Opcode = 0x02 // Bus Halt
	OpBON   Opcode = 0x03 // Bus on
	OpTOF   Opcode = 0x04 // Track off
	OpTON   Opcode = 0x05 // Track on
	OpESTOP Opcode = 0x06 // Track stopped
	OpARST  Opcode = 0x07 // System reset
	OpRTOF  Opcode = 0x08 // Request track off
	OpRTON  Opcode = 0x09 // Request track on
	OpRESTP Opcode = 0x0A // Request emergency stop all
	OpRSTAT Opcode = 0x0C // Request command station status
	OpQNN   Opcode = 0x0D // Query nodes
	OpRQNP  Opcode = 0x10 // Read node parameters
	OpRQMN  Opcode = 0x11 // Request name of module type

	// 1 data byte
	OpKLOC  Opcode = 0x21 // Release engine by handle
	OpQLOC  Opcode = 0x22 // Query engine by handle
	OpDKEEP Opcode = 0x23 // Keep alive for cab
	OpDBG1  Opcode = 0x30 // Debug message with 1 status byte
	OpEXTC  Opcode = 0x3F // Extended opcode

	// 2 data bytes
	OpRLOC  Opcode = 0x40 // Request session for loco
	OpQCON  Opcode = 0x41 // Query consist
	OpSNN   Opcode = 0x42 // Set node number
	OpALOC  Opcode = 0x43 // Allocate loco (used to allocate to a shuttle in cancmd)
	OpSTMOD Opcode = 0x44 // Set Throttle mode
	OpPCON  Opcode = 0x45 // Consist loco
	OpKCON  Opcode = 0x46 // De-consist loco
	OpDSPD  Opcode = 0x47 // Loco speed/dir
	OpDFLG  Opcode = 0x48 // Set engine flags
	OpDFNON Opcode = 0x49 // Loco function on
	OpDFNOF Opcode = 0x4A // Loco function off
	OpSSTAT Opcode = 0x4C // Service mode status
	OpNNRSM Opcode = 0x4F // Reset to manufacturer defaults
	OpRQNN  Opcode = 0x50 // Request Node number in setup mode
	OpNNREL Opcode = 0x51 // Node number release
	OpNNACK Opcode = 0x52 // Node number acknowledge
	OpNNLRN Opcode = 0x53 // Set learn mode
	OpNNULN Opcode = 0x54 // Release learn mode
	OpNNCLR Opcode = 0x55 // Clear all events
	OpNNEVN Opcode = 0x56 // Read available event slots
	OpNERD  Opcode = 0x57 // Read all stored events
	OpRQEVN Opcode = 0x58 // Read number of stored events
	OpWRACK Opcode = 0x59 // Write acknowledge
	OpRQDAT Opcode = 0x5A // Request node data event
	OpRQDDS Opcode = 0x5B // Request short data frame
	OpBOOT  Opcode = 0x5C // Put node into boot mode
	OpENUM  Opcode = 0x5D // Force can_id self enumeration
	OpNNRST Opcode = 0x5E // Reset node (as in restart)
	OpEXTC1 Opcode = 0x5F // Extended opcode with 1 data byte

	// 3 data bytes
	OpDFUN   Opcode = 0x60 // Set engine functions
	OpGLOC   Opcode = 0x61 // Get loco (with support for steal/share)
	OpERR    Opcode = 0x63 // Command station error
	OpCMDERR Opcode = 0x6F // Errors from nodes during config
	OpEVNLF  Opcode = 0x70 // Event slots left response
	OpNVRD   Opcode = 0x71 // Request read of node variable
	OpNENRD  Opcode = 0x72 // Request read stored event by index
	OpRQNPN  Opcode = 0x73 // Request read module parameters
	OpNUMEV  Opcode = 0x74 // Number of events stored response
	OpCANID  Opcode = 0x75 // Set canid
	OpEXTC2  Opcode = 0x7F // Extended opcode with 2 data bytes

	// 4 data bytes
	OpRDCC3 Opcode = 0x80 // 3 byte DCC packet
	OpWCVO  Opcode = 0x82 // Write CV byte Ops mode by handle
	OpWCVB  Opcode = 0x83 // Write CV bit Ops mode by handle
	OpQCVS  Opcode = 0x84 // Read CV
	OpPCVS  Opcode = 0x85 // Report CV
	OpACON  Opcode = 0x90 // on event
	OpACOF  Opcode = 0x91 // off event
	OpAREQ  Opcode = 0x92 // Accessory Request event
	OpARON  Opcode = 0x93 // Accessory response event on
	OpAROF  Opcode = 0x94 // Accessory response event off
	OpEVULN Opcode = 0x95 // Unlearn event
	OpNVSET Opcode = 0x96 // Set a node variable
	OpNVANS Opcode = 0x97 // Node variable value response
	OpASON  Opcode = 0x98 // Short event on
	OpASOF  Opcode = 0x99 // Short event off
	OpASRQ  Opcode = 0x9A // Short Request event
	OpPARAN Opcode = 0x9B // Single node parameter response
	OpREVAL Opcode = 0x9C // Request read of event variable
	OpARSON Opcode = 0x9D // Accessory short response on event
	OpARSOF Opcode = 0x9E // Accessory short response off event
	OpEXTC3 Opcode = 0x9F // Extended opcode with 3 data bytes

	// 5 data bytes
	OpRDCC4  Opcode = 0xA0 // 4 byte DCC packet
	OpWCVS   Opcode = 0xA2 // Write CV service mode
	OpACON1  Opcode = 0xB0 // On event with one data byte
	OpACOF1  Opcode = 0xB1 // Off event with one data byte
	OpREQEV  Opcode = 0xB2 // Read event variable in learn mode
	OpARON1  Opcode = 0xB3 // Accessory on response (1 data byte)
	OpAROF1  Opcode = 0xB4 // Accessory off response (1 data byte)
	OpNEVAL  Opcode = 0xB5 // Event variable by index read response
	OpPNN    Opcode = 0xB6 // Response to QNN
	OpASON1  Opcode = 0xB8 // Accessory short on with 1 data byte
	OpASOF1  Opcode = 0xB9 // Accessory short off with 1 data byte
	OpARSON1 Opcode = 0xBD // Short response event on with one data byte
	OpARSOF1 Opcode = 0xBE // Short response event off with one data byte
	OpEXTC4  Opcode = 0xBF // Extended opcode with 4 data bytes

	// 6 data bytes
	OpRDCC5  Opcode = 0xC0 // 5 byte DCC packet
	OpWCVOA  Opcode = 0xC1 // Write CV ops mode by address
	OpFCLK   Opcode = 0xCF // Fast clock
	OpACON2  Opcode = 0xD0 // On event with two data bytes
	OpACOF2  Opcode = 0xD1 // Off event with two data bytes
	OpEVLRN  Opcode = 0xD2 // Teach event
	OpEVANS  Opcode = 0xD3 // Event variable read response in learn mode
	OpARON2  Opcode = 0xD4 // Accessory on response
	OpAROF2  Opcode = 0xD5 // Accessory off response
	OpASON2  Opcode = 0xD8 // Accessory short on with 2 data bytes
	OpASOF2  Opcode = 0xD9 // Accessory short off with 2 data bytes
	OpARSON2 Opcode = 0xDD // Short response event on with two data bytes
	OpARSOF2 Opcode = 0xDE // Short response event off with two data bytes
	OpEXTC5  Opcode = 0xDF // Extended opcode with 5 data bytes

	// 7 data bytes
	OpRDCC6  Opcode = 0xE0 // 6 byte DCC packets
	OpPLOC   Opcode = 0xE1 // Loco session report
	OpNAME   Opcode = 0xE2 // Module name response
	OpSTAT   Opcode = 0xE3 // Command station status report
	OpPARAMS Opcode = 0xEF // Node parameters response
	OpACON3  Opcode = 0xF0 // On event with 3 data bytes
	OpACOF3  Opcode = 0xF1 // Off event with 3 data bytes
	OpENRSP  Opcode = 0xF2 // Read node events response
	OpARON3  Opcode = 0xF3 // Accessory on response
	OpAROF3  Opcode = 0xF4 // Accessory off response
	OpEVLRNI Opcode = 0xF5 // Teach event using event indexing
	OpACDAT  Opcode = 0xF6 // Accessory data event: 5 bytes of node data (eg: RFID)
	OpARDAT  Opcode = 0xF7 // Accessory data response
	OpASON3  Opcode = 0xF8 // Accessory short on with 3 data bytes
	OpASOF3  Opcode = 0xF9 // Accessory short off with 3 data bytes
	OpDDES   Opcode = 0xFA // Short data frame aka device data event (device id plus 5 data bytes)
	OpDDRS   Opcode = 0xFB // Short data frame response aka device data response
	OpARSON3 Opcode = 0xFD // Short response event on with 3 data bytes
	OpARSOF3 Opcode = 0xFE // Short response event off with 3 data bytes
	OpEXTC6  Opcode = 0xFF // Extended opcode with 6 data byes
)
