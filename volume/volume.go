// Package volume parses the firmware-volume wire format into the ordered
// module sequence the dispatcher schedules. The layout is a simplified FFS:
// a volume header followed by files back to back, each file a header plus a
// sequence of typed sections.
package volume

import (
	"errors"
)

// Volume header: magic, uint16 revision, uint16 file count.
const (
	Magic        = "_FVH"
	Revision     = 1
	headerSize   = 8
	fileHdrSize  = 24
	sectHdrSize  = 8
	maxAlignment = 31 // log2, anything larger cannot fit a uint32 byte count
)

// Section type byte values, PI encoding.
const (
	SectPE32        byte = 0x10
	SectDepex       byte = 0x13
	SectVolumeImage byte = 0x17
	SectRaw         byte = 0x19
)

// ErrVolumeCorrupt is returned for any structural damage to a volume: bad
// magic, unknown revision, truncated headers, or bodies overrunning the
// region. The failure is scoped to that volume only.
var ErrVolumeCorrupt = errors.New("volume corrupt")
