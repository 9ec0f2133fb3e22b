package volume

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/firmkit/fwdispatch/module"
)

// Scan parses a raw volume region into its ordered module sequence. On-disk
// file order is preserved exactly: it is the dispatch tie-break and is never
// re-sorted. Non-dispatchable and unknown kinds are still returned so the
// report can account for them.
func Scan(raw []byte) ([]module.Module, error) {
	if len(raw) < headerSize {
		return nil, fmt.Errorf("%w: region of %d bytes is smaller than the volume header", ErrVolumeCorrupt, len(raw))
	}
	if string(raw[:4]) != Magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrVolumeCorrupt, raw[:4])
	}
	if rev := binary.LittleEndian.Uint16(raw[4:6]); rev != Revision {
		return nil, fmt.Errorf("%w: unknown revision %d", ErrVolumeCorrupt, rev)
	}
	count := int(binary.LittleEndian.Uint16(raw[6:8]))

	modules := make([]module.Module, 0, count)
	off := headerSize
	for i := 0; i < count; i++ {
		m, next, err := scanFile(raw, off, i)
		if err != nil {
			return nil, err
		}
		modules = append(modules, m)
		off = next
	}
	if off != len(raw) {
		return nil, fmt.Errorf("%w: %d trailing bytes after last file", ErrVolumeCorrupt, len(raw)-off)
	}

	return modules, nil
}

func scanFile(raw []byte, off, index int) (module.Module, int, error) {
	if off+fileHdrSize > len(raw) {
		return module.Module{}, 0, fmt.Errorf("%w: truncated header for file %d", ErrVolumeCorrupt, index)
	}
	hdr := raw[off : off+fileHdrSize]

	id, err := uuid.FromBytes(hdr[:16])
	if err != nil {
		return module.Module{}, 0, fmt.Errorf("%w: file %d name: %s", ErrVolumeCorrupt, index, err)
	}
	kind := module.Kind(hdr[16])
	alignLog2 := hdr[17]
	if alignLog2 > maxAlignment {
		return module.Module{}, 0, fmt.Errorf("%w: file %d alignment 2^%d out of range", ErrVolumeCorrupt, index, alignLog2)
	}
	if reserved := binary.LittleEndian.Uint16(hdr[18:20]); reserved != 0 {
		return module.Module{}, 0, fmt.Errorf("%w: file %d reserved field is 0x%04x", ErrVolumeCorrupt, index, reserved)
	}
	bodyLen := int(binary.LittleEndian.Uint32(hdr[20:24]))

	bodyStart := off + fileHdrSize
	if bodyStart+bodyLen > len(raw) {
		return module.Module{}, 0, fmt.Errorf("%w: file %d body overruns volume", ErrVolumeCorrupt, index)
	}

	m := module.Module{
		ID:        id,
		Kind:      kind,
		FileIndex: index,
		Alignment: 1 << alignLog2,
	}
	if err := scanSections(raw[bodyStart:bodyStart+bodyLen], index, &m); err != nil {
		return module.Module{}, 0, err
	}

	return m, bodyStart + bodyLen, nil
}

func scanSections(body []byte, index int, m *module.Module) error {
	for off := 0; off < len(body); {
		if off+sectHdrSize > len(body) {
			return fmt.Errorf("%w: truncated section header in file %d", ErrVolumeCorrupt, index)
		}
		typ := body[off]
		if body[off+1] != 0 || body[off+2] != 0 || body[off+3] != 0 {
			return fmt.Errorf("%w: nonzero reserved section bytes in file %d", ErrVolumeCorrupt, index)
		}
		payloadLen := int(binary.LittleEndian.Uint32(body[off+4 : off+8]))
		payloadStart := off + sectHdrSize
		if payloadStart+payloadLen > len(body) {
			return fmt.Errorf("%w: section payload overruns file %d body", ErrVolumeCorrupt, index)
		}
		payload := body[payloadStart : payloadStart+payloadLen]

		switch typ {
		case SectDepex:
			m.Depex = payload
		case SectPE32:
			m.Image = payload
		case SectVolumeImage:
			m.VolumeImage = payload
		default:
			// Unknown section types are skipped for forward compatibility.
		}
		off = payloadStart + payloadLen
	}

	return nil
}
