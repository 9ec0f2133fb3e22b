package volume

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/google/uuid"

	"github.com/firmkit/fwdispatch/module"
)

// Builder composes a volume image file by file. Files appear in the output
// in the order they were added.
type Builder struct {
	files []*fileSpec
}

type fileSpec struct {
	id        uuid.UUID
	kind      module.Kind
	alignLog2 byte
	sections  []sectionSpec
}

type sectionSpec struct {
	typ     byte
	payload []byte
}

// File starts a new file entry and returns a handle for attaching sections.
func (b *Builder) File(id uuid.UUID, kind module.Kind) *FileBuilder {
	fs := &fileSpec{id: id, kind: kind}
	b.files = append(b.files, fs)

	return &FileBuilder{spec: fs}
}

// FileBuilder attaches sections and metadata to one file entry.
type FileBuilder struct {
	spec *fileSpec
}

// Alignment sets the file's section alignment requirement in bytes; it must
// be a power of two.
func (f *FileBuilder) Alignment(bytes uint32) *FileBuilder {
	if bytes != 0 && bytes&(bytes-1) == 0 {
		f.spec.alignLog2 = byte(bits.TrailingZeros32(bytes))
	}

	return f
}

func (f *FileBuilder) Depex(program []byte) *FileBuilder {
	return f.Section(SectDepex, program)
}

func (f *FileBuilder) Image(payload []byte) *FileBuilder {
	return f.Section(SectPE32, payload)
}

func (f *FileBuilder) VolumeImage(payload []byte) *FileBuilder {
	return f.Section(SectVolumeImage, payload)
}

func (f *FileBuilder) Section(typ byte, payload []byte) *FileBuilder {
	f.spec.sections = append(f.spec.sections, sectionSpec{typ: typ, payload: payload})

	return f
}

// Build serializes the volume.
func (b *Builder) Build() ([]byte, error) {
	if len(b.files) > 0xFFFF {
		return nil, fmt.Errorf("volume cannot hold %d files", len(b.files))
	}

	out := make([]byte, headerSize)
	copy(out, Magic)
	binary.LittleEndian.PutUint16(out[4:6], Revision)
	binary.LittleEndian.PutUint16(out[6:8], uint16(len(b.files)))

	for _, f := range b.files {
		var body []byte
		for _, s := range f.sections {
			sh := make([]byte, sectHdrSize)
			sh[0] = s.typ
			binary.LittleEndian.PutUint32(sh[4:8], uint32(len(s.payload)))
			body = append(body, sh...)
			body = append(body, s.payload...)
		}

		hdr := make([]byte, fileHdrSize)
		copy(hdr, f.id[:])
		hdr[16] = byte(f.kind)
		hdr[17] = f.alignLog2
		binary.LittleEndian.PutUint32(hdr[20:24], uint32(len(body)))

		out = append(out, hdr...)
		out = append(out, body...)
	}

	return out, nil
}
