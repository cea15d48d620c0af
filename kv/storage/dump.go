package storage

import (
	"encoding/binary"
	"fmt"
	"io"
	"strconv"

	"github.com/dgryski/go-farm"
	"github.com/google/btree"
	"github.com/olekukonko/tablewriter"
	"github.com/pingcap/errors"

	"github.com/fdbmem/fdbmem/kv/util/codec"
)

// Stats summarizes the contents of the store.
type Stats struct {
	// Keys counts keys whose newest revision is a value.
	Keys int
	// Entries counts keys with any history, including cleared ones.
	Entries   int
	Revisions int
	Version   uint64
}

// Stats walks the whole store.
func (s *MemStorage) Stats() Stats {
	tree := s.tree()
	stats := Stats{Version: s.version.Load()}
	tree.Ascend(func(item btree.Item) bool {
		e := item.(entry)
		stats.Entries++
		stats.Revisions += len(e.revs)
		if _, live := e.latest(); live {
			stats.Keys++
		}
		return true
	})
	return stats
}

// Digest fingerprints the key space visible at version. Two stores holding the same pairs at their
// respective versions have the same digest regardless of how they got there.
func (s *MemStorage) Digest(version uint64) uint64 {
	var digest uint64
	var lenBuf [binary.MaxVarintLen64]byte
	buf := make([]byte, 0, 256)
	for it := s.Reader(version).Iter(nil, nil, false); it.Valid(); it.Next() {
		buf = buf[:0]
		n := binary.PutUvarint(lenBuf[:], uint64(len(it.Key())))
		buf = append(buf, lenBuf[:n]...)
		buf = append(buf, it.Key()...)
		buf = append(buf, it.Value()...)
		digest = farm.Hash64WithSeed(buf, digest)
	}
	return digest
}

// Dump writes a table of every revision of every key, newest first, for debugging. Cleared revisions
// show as <cleared>.
func (s *MemStorage) Dump(w io.Writer) error {
	tree := s.tree()
	version := s.version.Load()

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Key", "Version", "Value"})
	table.SetAutoWrapText(false)
	keys, revisions := 0, 0
	tree.Ascend(func(item btree.Item) bool {
		e := item.(entry)
		keys++
		for i, rev := range e.revs {
			revisions++
			key := ""
			if i == 0 {
				key = codec.Printable(e.key)
			}
			value := "<cleared>"
			if !rev.tombstone {
				value = codec.Printable(rev.value)
			}
			table.Append([]string{key, strconv.FormatUint(rev.version, 10), value})
		}
		return true
	})
	table.Render()

	_, err := fmt.Fprintf(w, "%d keys, %d revisions, version %d\n", keys, revisions, version)
	return errors.Trace(err)
}
