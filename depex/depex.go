// Package depex implements the dependency-expression stack machine. A
// program is a postfix byte sequence of boolean operators over capability
// tokens; a module may run once its program evaluates true against the
// tokens published so far.
package depex

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/firmkit/fwdispatch/registry"
)

// Opcode byte values follow the PI DXE depex encoding so programs built by
// external tooling evaluate identically.
const (
	OpBefore byte = 0x00
	OpAfter  byte = 0x01
	OpPush   byte = 0x02
	OpAnd    byte = 0x03
	OpOr     byte = 0x04
	OpNot    byte = 0x05
	OpTrue   byte = 0x06
	OpFalse  byte = 0x07
	OpEnd    byte = 0x08
	OpSor    byte = 0x09
)

var ErrMalformedProgram = errors.New("malformed dependency program")

const tokenSize = 16

// Evaluate runs a dependency program against the published token set and
// returns its verdict. A nil or empty program is the implicit TRUE program.
// Evaluation never mutates the registry.
//
// The ordering-override opcodes BEFORE, AFTER and SOR are rejected as
// malformed: dispatch order is derived from declared dependencies and
// discovery order only.
func Evaluate(program []byte, reg *registry.Registry) (bool, error) {
	if len(program) == 0 {
		return true, nil
	}

	var stack []bool
	pop := func() (bool, error) {
		if len(stack) == 0 {
			return false, fmt.Errorf("%w: stack underflow", ErrMalformedProgram)
		}
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		return v, nil
	}

	for pc := 0; pc < len(program); {
		op := program[pc]
		pc++

		switch op {
		case OpPush:
			if pc+tokenSize > len(program) {
				return false, fmt.Errorf("%w: truncated PUSH operand at offset %d", ErrMalformedProgram, pc-1)
			}
			token, err := uuid.FromBytes(program[pc : pc+tokenSize])
			if err != nil {
				return false, fmt.Errorf("%w: %s", ErrMalformedProgram, err)
			}
			pc += tokenSize
			stack = append(stack, reg.Has(token))

		case OpAnd, OpOr:
			rhs, err := pop()
			if err != nil {
				return false, err
			}
			lhs, err := pop()
			if err != nil {
				return false, err
			}
			if op == OpAnd {
				stack = append(stack, lhs && rhs)
			} else {
				stack = append(stack, lhs || rhs)
			}

		case OpNot:
			v, err := pop()
			if err != nil {
				return false, err
			}
			stack = append(stack, !v)

		case OpTrue:
			stack = append(stack, true)

		case OpFalse:
			stack = append(stack, false)

		case OpEnd:
			if pc != len(program) {
				return false, fmt.Errorf("%w: %d trailing bytes after END", ErrMalformedProgram, len(program)-pc)
			}
			if len(stack) != 1 {
				return false, fmt.Errorf("%w: END with stack depth %d", ErrMalformedProgram, len(stack))
			}

			return stack[0], nil

		default:
			return false, fmt.Errorf("%w: unrecognized opcode 0x%02x at offset %d", ErrMalformedProgram, op, pc-1)
		}
	}

	return false, fmt.Errorf("%w: missing END", ErrMalformedProgram)
}
