// Package module defines the unit of dispatch discovered inside a firmware
// volume: its identity, kind, dependency program, and lifecycle state.
package module

import (
	"fmt"

	"github.com/google/uuid"
)

// Kind is the file type recorded in a volume's file header. Only Driver and
// FirmwareVolumeImage are dispatchable; the management-mode and combined
// kinds are recognized for diagnostics but never scheduled.
type Kind uint8

const (
	KindUnknown                         Kind = 0x00
	KindDriver                          Kind = 0x07
	KindCombinedPeiDriver               Kind = 0x08
	KindManagementModeModule            Kind = 0x0A
	KindFirmwareVolumeImage             Kind = 0x0B
	KindCombinedManagementModeAndDriver Kind = 0x0C
	KindManagementModeCore              Kind = 0x0D
)

func (k Kind) String() string {
	switch k {
	case KindDriver:
		return "Driver"
	case KindCombinedPeiDriver:
		return "CombinedPeiDriver"
	case KindManagementModeModule:
		return "ManagementModeModule"
	case KindFirmwareVolumeImage:
		return "FirmwareVolumeImage"
	case KindCombinedManagementModeAndDriver:
		return "CombinedManagementModeAndDriver"
	case KindManagementModeCore:
		return "ManagementModeCore"
	default:
		return "Unknown"
	}
}

// Dispatchable reports whether modules of this kind may be scheduled.
func (k Kind) Dispatchable() bool {
	return k == KindDriver || k == KindFirmwareVolumeImage
}

// ParseKind maps a kind name to its file-type value.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "Driver":
		return KindDriver, nil
	case "CombinedPeiDriver":
		return KindCombinedPeiDriver, nil
	case "ManagementModeModule":
		return KindManagementModeModule, nil
	case "FirmwareVolumeImage":
		return KindFirmwareVolumeImage, nil
	case "CombinedManagementModeAndDriver":
		return KindCombinedManagementModeAndDriver, nil
	case "ManagementModeCore":
		return KindManagementModeCore, nil
	default:
		return KindUnknown, fmt.Errorf("unknown module kind %q", s)
	}
}

// State is the dispatch lifecycle of a discovered module. Every state other
// than Pending is terminal.
type State uint8

const (
	Pending State = iota
	Dispatched
	DepexMalformed
	Skipped
)

func (s State) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Dispatched:
		return "Dispatched"
	case DepexMalformed:
		return "DepexMalformed"
	case Skipped:
		return "Skipped"
	default:
		return "Unknown"
	}
}

// Reason explains why a module appears in the non-dispatched portion of the
// final report.
type Reason string

const (
	ReasonMalformedProgram Reason = "MalformedProgram"
	ReasonNonDispatchable  Reason = "NonDispatchable"
	ReasonUnknownKind      Reason = "UnknownKind"
	ReasonBlockedPending   Reason = "BlockedPending"
)

// Module is one discoverable unit inside a firmware volume. It is immutable
// once the scanner has produced it; lifecycle state lives in the dispatcher.
type Module struct {
	ID        uuid.UUID `json:"id"`
	Kind      Kind      `json:"kind"`
	Volume    int       `json:"volume"`
	FileIndex int       `json:"file_index"`

	// Depex is the raw dependency program, nil when the file carried no
	// depex section (implicit TRUE).
	Depex []byte `json:"depex,omitempty"`

	// Alignment is the section alignment requirement in bytes, 1 when the
	// file declared none.
	Alignment uint32 `json:"alignment"`

	// Image is the payload of the file's executable section, if any.
	Image []byte `json:"-"`

	// VolumeImage is the nested volume payload of a FirmwareVolumeImage
	// file, scanned lazily when the module is dispatched.
	VolumeImage []byte `json:"-"`
}
