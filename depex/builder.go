package depex

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Builder assembles a dependency program in postfix order. The zero value is
// ready to use.
type Builder struct {
	buf []byte
}

func (b *Builder) Push(token uuid.UUID) *Builder {
	b.buf = append(b.buf, OpPush)
	b.buf = append(b.buf, token[:]...)

	return b
}

func (b *Builder) And() *Builder {
	b.buf = append(b.buf, OpAnd)

	return b
}

func (b *Builder) Or() *Builder {
	b.buf = append(b.buf, OpOr)

	return b
}

func (b *Builder) Not() *Builder {
	b.buf = append(b.buf, OpNot)

	return b
}

func (b *Builder) True() *Builder {
	b.buf = append(b.buf, OpTrue)

	return b
}

func (b *Builder) False() *Builder {
	b.buf = append(b.buf, OpFalse)

	return b
}

// End terminates the program and returns the encoded bytes.
func (b *Builder) End() []byte {
	b.buf = append(b.buf, OpEnd)

	return b.buf
}

// Assemble builds a program from mnemonic lines, one operator per line:
// "PUSH <guid>", "AND", "OR", "NOT", "TRUE", "FALSE". The terminating END is
// appended automatically.
func Assemble(lines []string) ([]byte, error) {
	var b Builder
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch op := strings.ToUpper(fields[0]); op {
		case "PUSH":
			if len(fields) != 2 {
				return nil, fmt.Errorf("PUSH takes exactly one GUID operand, got %q", line)
			}
			token, err := uuid.Parse(fields[1])
			if err != nil {
				return nil, fmt.Errorf("PUSH operand %q: %w", fields[1], err)
			}
			b.Push(token)
		case "AND":
			b.And()
		case "OR":
			b.Or()
		case "NOT":
			b.Not()
		case "TRUE":
			b.True()
		case "FALSE":
			b.False()
		default:
			return nil, fmt.Errorf("unknown mnemonic %q", op)
		}
	}

	return b.End(), nil
}

// Disassemble renders a program one mnemonic per line, for diagnostics. It
// does not validate the program beyond what is needed to walk it; undecodable
// regions are rendered as an error line.
func Disassemble(program []byte) string {
	if len(program) == 0 {
		return "TRUE (implicit)\nEND"
	}

	var sb strings.Builder
	for pc := 0; pc < len(program); {
		op := program[pc]
		pc++

		switch op {
		case OpPush:
			if pc+tokenSize > len(program) {
				sb.WriteString("PUSH <truncated>\n")

				return sb.String()
			}
			token, _ := uuid.FromBytes(program[pc : pc+tokenSize])
			pc += tokenSize
			fmt.Fprintf(&sb, "PUSH %s\n", token)
		case OpAnd:
			sb.WriteString("AND\n")
		case OpOr:
			sb.WriteString("OR\n")
		case OpNot:
			sb.WriteString("NOT\n")
		case OpTrue:
			sb.WriteString("TRUE\n")
		case OpFalse:
			sb.WriteString("FALSE\n")
		case OpEnd:
			sb.WriteString("END\n")
		default:
			fmt.Fprintf(&sb, "0x%02x <unrecognized>\n", op)
		}
	}

	return strings.TrimSuffix(sb.String(), "\n")
}
