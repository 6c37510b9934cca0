package cbus

import "fmt"

// CmdErr is the sub-code carried by a CMDERR frame. Configuration operations
// return these values as errors so the dispatcher can report them verbatim.
type CmdErr uint8

const (
	CmdErrInvCmd        CmdErr = 1
	CmdErrNotLrn        CmdErr = 2
	CmdErrNotSetup      CmdErr = 3
	CmdErrTooManyEvents CmdErr = 4
	CmdErrInvEvIdx      CmdErr = 6
	CmdErrInvalidEvent  CmdErr = 7
	CmdErrInvParamIdx   CmdErr = 9
	CmdErrInvNVIdx      CmdErr = 10
	CmdErrInvEvValue    CmdErr = 11
	CmdErrInvNVValue    CmdErr = 12
)

func (e CmdErr) Error() string {
	switch e {
	case CmdErrInvCmd:
		return "invalid command"
	case CmdErrNotLrn:
		return "not in learn mode"
	case CmdErrNotSetup:
		return "not in setup mode"
	case CmdErrTooManyEvents:
		return "too many events"
	case CmdErrInvEvIdx:
		return "invalid event variable index"
	case CmdErrInvalidEvent:
		return "invalid event"
	case CmdErrInvParamIdx:
		return "invalid parameter index"
	case CmdErrInvNVIdx:
		return "invalid node variable index"
	case CmdErrInvEvValue:
		return "invalid event variable value"
	case CmdErrInvNVValue:
		return "invalid node variable value"
	default:
		return fmt.Sprintf("command error %d", uint8(e))
	}
}

// SessionErr is the sub-code carried by an ERR frame from a command station.
type SessionErr uint8

const (
	ErrLocoStackFull     SessionErr = 1
	ErrLocoAddrTaken     SessionErr = 2
	ErrSessionNotPresent SessionErr = 3
	ErrConsistEmpty      SessionErr = 4
	ErrLocoNotFound      SessionErr = 5
	ErrCmdRxBufOflow     SessionErr = 6
	ErrInvalidRequest    SessionErr = 7
	ErrSessionCancelled  SessionErr = 8
)

func (e SessionErr) Error() string {
	switch e {
	case ErrLocoStackFull:
		return "loco stack full"
	case ErrLocoAddrTaken:
		return "loco address taken"
	case ErrSessionNotPresent:
		return "session not present"
	case ErrConsistEmpty:
		return "consist empty"
	case ErrLocoNotFound:
		return "loco not found"
	case ErrCmdRxBufOflow:
		return "command station receive buffer overflow"
	case ErrInvalidRequest:
		return "invalid request"
	case ErrSessionCancelled:
		return "session cancelled"
	default:
		return fmt.Sprintf("session error %d", uint8(e))
	}
}

// ServiceStatus is the status code carried by an SSTAT frame.
type ServiceStatus uint8

const (
	SStatNoAck   ServiceStatus = 1
	SStatOvld    ServiceStatus = 2
	SStatWrAck   ServiceStatus = 3
	SStatBusy    ServiceStatus = 4
	SStatCVError ServiceStatus = 5
)

func (s ServiceStatus) Error() string {
	switch s {
	case SStatNoAck:
		return "no acknowledge"
	case SStatOvld:
		return "overload"
	case SStatWrAck:
		return "write acknowledge"
	case SStatBusy:
		return "busy"
	case SStatCVError:
		return "CV error"
	default:
		return fmt.Sprintf("service status %d", uint8(s))
	}
}
