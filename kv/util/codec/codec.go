package codec

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/pingcap/errors"
)

var (
	// MinKey is the smallest key of the legal key space.
	MinKey = []byte{}
	// MaxKey is the first key past the legal key space. Key selectors that run off the end of the
	// key space resolve to it.
	MaxKey = []byte{0xff}
)

// KeyAfter returns the smallest key strictly greater than key, i.e. key followed by a zero byte. The
// returned slice never aliases key.
func KeyAfter(key []byte) []byte {
	after := make([]byte, len(key)+1)
	copy(after, key)
	return after
}

// PrefixEnd returns the first key that does not have prefix as a prefix: trailing 0xff bytes are
// stripped and the last remaining byte is incremented.
// For example:
//
//	[1, 2, 3]       -> [1, 2, 4]
//	[1, 2, 0xff]    -> [1, 3]
//	[0xff, 0xff]    -> error
func PrefixEnd(prefix []byte) ([]byte, error) {
	end := len(prefix)
	for end > 0 && prefix[end-1] == 0xff {
		end--
	}
	if end == 0 {
		return nil, errors.Errorf("key %s must contain at least one byte not equal to 0xff",
			Printable(prefix))
	}
	result := make([]byte, end)
	copy(result, prefix[:end])
	result[end-1]++
	return result, nil
}

// PrefixRange returns the half-open range [prefix, PrefixEnd(prefix)) holding every key that starts
// with prefix. An empty prefix spans the whole legal key space.
func PrefixRange(prefix []byte) ([]byte, []byte, error) {
	if len(prefix) == 0 {
		return MinKey, MaxKey, nil
	}
	end, err := PrefixEnd(prefix)
	if err != nil {
		return nil, nil, err
	}
	begin := make([]byte, len(prefix))
	copy(begin, prefix)
	return begin, end, nil
}

// Printable renders a byte string the way the database's tooling does: printable ASCII is kept, a
// backslash is doubled and every other byte is written as \xNN.
func Printable(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		switch {
		case c == '\\':
			sb.WriteString(`\\`)
		case c >= 32 && c < 127:
			sb.WriteByte(c)
		default:
			fmt.Fprintf(&sb, `\x%02x`, c)
		}
	}
	return sb.String()
}

// ParsePrintable is the inverse of Printable.
func ParsePrintable(s string) ([]byte, error) {
	result := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			result = append(result, s[i])
			continue
		}
		if i+1 < len(s) && s[i+1] == '\\' {
			result = append(result, '\\')
			i++
			continue
		}
		if i+4 > len(s) || s[i+1] != 'x' {
			return nil, errors.Errorf("invalid escape at offset %d in %q", i, s)
		}
		c, err := strconv.ParseUint(s[i+2:i+4], 16, 8)
		if err != nil {
			return nil, errors.Annotatef(err, "invalid escape at offset %d in %q", i, s)
		}
		result = append(result, byte(c))
		i += 3
	}
	return result, nil
}

// EncodeInt64 encodes v as an 8 byte little-endian integer, the operand format of the Add, Min and
// Max atomic operations.
func EncodeInt64(v int64) []byte {
	return EncodeUint64(uint64(v))
}

// EncodeUint64 encodes v as an 8 byte little-endian integer.
func EncodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// DecodeInt64 decodes a little-endian integer of up to 8 bytes. Shorter values are zero extended and
// bytes past the eighth are ignored.
func DecodeInt64(b []byte) int64 {
	return int64(DecodeUint64(b))
}

// DecodeUint64 is the unsigned form of DecodeInt64.
func DecodeUint64(b []byte) uint64 {
	var buf [8]byte
	copy(buf[:], b)
	return binary.LittleEndian.Uint64(buf[:])
}
