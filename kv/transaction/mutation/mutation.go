// Package mutation computes the results of atomic operations: updates whose new value is merged from
// the stored value and an operand when the mutation is applied, so that transactions issuing them do
// not have to read the key first. A transaction issuing an atomic operation records a write
// conflict on the key but no read conflict, which is what lets concurrent blind updates of the same
// key (counters, bitmaps, high-water marks) commit without conflicting with each other.
//
// Integer operations (Add, Max, Min) interpret values as unsigned little-endian integers whose width is
// the operand's length; the stored value is truncated or zero-extended to that width first. The
// behaviour for a missing key is fixed per opcode and documented on each constant.
package mutation

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/pingcap/errors"
)

// Opcode identifies an atomic operation.
type Opcode int

const (
	// Add adds the operand to the stored value with carry; overflow wraps. A missing or empty stored
	// value counts as zero, so the result is the operand.
	Add Opcode = iota + 1
	// BitAnd is bitwise and. A missing key yields the operand, i.e. the missing value behaves as all
	// ones. An empty stored value behaves as zero.
	BitAnd
	// BitOr is bitwise or; stored bytes past the operand are dropped, missing bytes count as zero.
	BitOr
	// BitXor is bitwise exclusive or, with the same width rules as BitOr.
	BitXor
	// Max keeps the larger of the stored value and the operand as unsigned integers. A missing or
	// empty stored value yields the operand.
	Max
	// Min keeps the smaller of the stored value and the operand. A missing key yields the operand; an
	// empty stored value counts as zero.
	Min
	// ByteMax keeps the lexicographically larger byte string. A missing key yields the operand.
	ByteMax
	// ByteMin keeps the lexicographically smaller byte string. A missing key yields the operand.
	ByteMin
	// AppendIfFits appends the operand unless the result would exceed the value size limit, in which
	// case the stored value is left alone.
	AppendIfFits
	// CompareAndClear clears the key if the stored value equals the operand.
	CompareAndClear
	// SetVersionstampedKey sets a key with the commit's versionstamp written into it. The key ends
	// with a 4 byte little-endian offset locating the 10 byte placeholder.
	SetVersionstampedKey
	// SetVersionstampedValue sets a value with the commit's versionstamp written into it. The
	// operand ends with a 4 byte little-endian offset locating the 10 byte placeholder.
	SetVersionstampedValue
)

// ValueSizeLimit is the database's hard value size limit. Apply uses it to bound AppendIfFits.
const ValueSizeLimit = 100000

var opcodeNames = map[Opcode]string{
	Add:                    "add",
	BitAnd:                 "bit_and",
	BitOr:                  "bit_or",
	BitXor:                 "bit_xor",
	Max:                    "max",
	Min:                    "min",
	ByteMax:                "byte_max",
	ByteMin:                "byte_min",
	AppendIfFits:           "append_if_fits",
	CompareAndClear:        "compare_and_clear",
	SetVersionstampedKey:   "set_versionstamped_key",
	SetVersionstampedValue: "set_versionstamped_value",
}

func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("opcode(%d)", int(op))
}

// Valid reports whether op is a known opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeNames[op]
	return ok
}

// IsVersionstamp reports whether op needs the commit version to be computed.
func (op Opcode) IsVersionstamp() bool {
	return op == SetVersionstampedKey || op == SetVersionstampedValue
}

// ParseOpcode looks an opcode up by its name, e.g. "add" or "bit_and".
func ParseOpcode(name string) (Opcode, error) {
	name = strings.ToLower(strings.Replace(name, "-", "_", -1))
	for op, n := range opcodeNames {
		if n == name {
			return op, nil
		}
	}
	return 0, errors.Errorf("unknown atomic operation %q", name)
}

// Apply merges operand into the stored value. existing is only meaningful when exists is true. It
// returns the new value and whether the key still exists; false means the key is cleared. Apply
// never retains or modifies its arguments.
//
// Versionstamp opcodes are not merges and are rejected with a panic; they are resolved by the
// storage layer when the commit version is known.
func Apply(op Opcode, existing []byte, exists bool, operand []byte) ([]byte, bool) {
	return ApplyWithLimit(op, existing, exists, operand, ValueSizeLimit)
}

// ApplyWithLimit is Apply with AppendIfFits bounded by valueLimit instead of ValueSizeLimit. A
// valueLimit of zero or less means ValueSizeLimit.
func ApplyWithLimit(op Opcode, existing []byte, exists bool, operand []byte, valueLimit int) ([]byte, bool) {
	if valueLimit <= 0 {
		valueLimit = ValueSizeLimit
	}
	if !exists {
		existing = nil
	}
	switch op {
	case Add:
		return add(existing, operand), true
	case BitAnd:
		if !exists {
			return clone(operand), true
		}
		return and(existing, operand), true
	case BitOr:
		return bitwise(existing, operand, func(a, b byte) byte { return a | b }), true
	case BitXor:
		return bitwise(existing, operand, func(a, b byte) byte { return a ^ b }), true
	case Max:
		if len(existing) == 0 || len(operand) == 0 {
			return clone(operand), true
		}
		return pickInt(existing, operand, 1), true
	case Min:
		if !exists || len(operand) == 0 {
			return clone(operand), true
		}
		return pickInt(existing, operand, -1), true
	case ByteMax:
		if !exists || bytes.Compare(operand, existing) > 0 {
			return clone(operand), true
		}
		return clone(existing), true
	case ByteMin:
		if !exists || bytes.Compare(operand, existing) < 0 {
			return clone(operand), true
		}
		return clone(existing), true
	case AppendIfFits:
		if len(existing) == 0 {
			return clone(operand), true
		}
		if len(existing)+len(operand) > valueLimit {
			return clone(existing), true
		}
		result := make([]byte, 0, len(existing)+len(operand))
		result = append(result, existing...)
		return append(result, operand...), true
	case CompareAndClear:
		if exists && bytes.Equal(existing, operand) {
			return nil, false
		}
		return clone(existing), exists
	}
	panic(fmt.Sprintf("mutation: %s cannot be applied to a value", op))
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

// resize truncates or zero extends b to n bytes.
func resize(b []byte, n int) []byte {
	result := make([]byte, n)
	copy(result, b)
	return result
}

func add(existing, operand []byte) []byte {
	if len(existing) == 0 || len(operand) == 0 {
		return clone(operand)
	}
	result := make([]byte, len(operand))
	carry := 0
	for i := range operand {
		sum := int(operand[i]) + carry
		if i < len(existing) {
			sum += int(existing[i])
		}
		result[i] = byte(sum)
		carry = sum >> 8
	}
	return result
}

func and(existing, operand []byte) []byte {
	result := make([]byte, len(operand))
	for i := range operand {
		if i < len(existing) {
			result[i] = existing[i] & operand[i]
		}
	}
	return result
}

func bitwise(existing, operand []byte, f func(a, b byte) byte) []byte {
	if len(existing) == 0 || len(operand) == 0 {
		return clone(operand)
	}
	result := make([]byte, len(operand))
	for i := range operand {
		if i < len(existing) {
			result[i] = f(existing[i], operand[i])
		} else {
			result[i] = operand[i]
		}
	}
	return result
}

// compareInt compares a and b, both of the same width, as little-endian unsigned integers.
func compareInt(a, b []byte) int {
	for i := len(a) - 1; i >= 0; i-- {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// pickInt returns the larger (sign 1) or smaller (sign -1) of existing and operand at operand's
// width.
func pickInt(existing, operand []byte, sign int) []byte {
	e := resize(existing, len(operand))
	if compareInt(e, operand)*sign > 0 {
		return e
	}
	return clone(operand)
}
