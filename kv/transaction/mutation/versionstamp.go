package mutation

import (
	"encoding/binary"

	"github.com/pingcap/errors"

	"github.com/fdbmem/fdbmem/kv/transaction/txnerr"
)

// VersionstampLength is the size of a versionstamp: an 8 byte big-endian commit version followed by a
// 2 byte big-endian batch order.
const VersionstampLength = 10

const offsetLength = 4

// Versionstamp builds the versionstamp for a commit version. Every commit is its own batch here so the
// batch order is always zero, but it is kept in the encoding for compatibility.
func Versionstamp(version uint64, order uint16) []byte {
	stamp := make([]byte, VersionstampLength)
	binary.BigEndian.PutUint64(stamp, version)
	binary.BigEndian.PutUint16(stamp[8:], order)
	return stamp
}

// VersionstampVersion extracts the commit version from a versionstamp.
func VersionstampVersion(stamp []byte) uint64 {
	return binary.BigEndian.Uint64(stamp)
}

// placeholder validates b, which ends in a 4 byte offset, and returns the body and the placeholder
// offset within it.
func placeholder(b []byte) ([]byte, int, error) {
	if len(b) < offsetLength {
		return nil, 0, errors.Trace(txnerr.ErrInvalidOperation)
	}
	body := b[:len(b)-offsetLength]
	offset := int(binary.LittleEndian.Uint32(b[len(b)-offsetLength:]))
	if offset+VersionstampLength > len(body) {
		return nil, 0, errors.Trace(txnerr.ErrInvalidOperation)
	}
	return body, offset, nil
}

// ValidateVersionstamp checks that b carries a usable placeholder offset.
func ValidateVersionstamp(b []byte) error {
	_, _, err := placeholder(b)
	return err
}

// FillVersionstamp strips the trailing offset from b and writes stamp at that offset.
func FillVersionstamp(b []byte, stamp []byte) ([]byte, error) {
	body, offset, err := placeholder(b)
	if err != nil {
		return nil, err
	}
	result := make([]byte, len(body))
	copy(result, body)
	copy(result[offset:], stamp)
	return result, nil
}

// VersionstampKeyRange returns the smallest range containing every key b can turn into once its
// placeholder is filled. The end is exclusive.
func VersionstampKeyRange(b []byte) ([]byte, []byte, error) {
	body, offset, err := placeholder(b)
	if err != nil {
		return nil, nil, err
	}
	begin := make([]byte, len(body))
	copy(begin, body)
	end := make([]byte, len(body)+1)
	copy(end, body)
	for i := offset; i < offset+VersionstampLength; i++ {
		begin[i] = 0x00
		end[i] = 0xff
	}
	return begin, end, nil
}
