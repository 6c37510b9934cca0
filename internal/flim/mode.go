package flim

import "fmt"

// Mode is the node's identity state.
type Mode uint8

const (
	Uninitialized Mode = iota
	SLiM
	FLiM
	SetupPending
	Learn
)

func (m Mode) String() string {
	switch m {
	case Uninitialized:
		return "uninitialized"
	case SLiM:
		return "slim"
	case FLiM:
		return "flim"
	case SetupPending:
		return "setup"
	case Learn:
		return "learn"
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

// Numbered reports whether the node holds a node number in this mode.
func (m Mode) Numbered() bool {
	return m == FLiM || m == Learn
}

// Persisted values of the mode byte. Setup and learn are never stored.
const (
	StoredSLiM = 0
	StoredFLiM = 1
)

// ValidStoredMode reports whether b is a mode byte a node can boot from.
func ValidStoredMode(b byte) bool {
	return b == StoredSLiM || b == StoredFLiM
}
