package storage

import (
	"sort"

	"github.com/google/btree"
	"github.com/pingcap/errors"
)

// CompactStats reports what a compaction removed.
type CompactStats struct {
	Floor     uint64
	Keys      int
	Revisions int
}

// Compact drops history that no read at or above floor can observe. For every key it keeps the
// revisions newer than floor plus the newest one at or below floor, which is dropped too when it is a
// tombstone; keys left without revisions are removed. Reads at versions below floor are no longer
// answered correctly afterwards, so the caller must make sure none can happen.
func (s *MemStorage) Compact(floor uint64) (CompactStats, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	stats := CompactStats{Floor: floor}
	if applied := s.version.Load(); floor > applied {
		return stats, errors.Errorf("storage: compaction floor %d is above applied version %d", floor, applied)
	}

	tree := s.tree().Clone()
	var updates []entry
	var removals []entry
	tree.Ascend(func(item btree.Item) bool {
		e := item.(entry)
		i := sort.Search(len(e.revs), func(i int) bool {
			return e.revs[i].version <= floor
		})
		if i == len(e.revs) {
			return true
		}
		keep := i + 1
		if e.revs[i].tombstone {
			keep = i
		}
		if keep == len(e.revs) {
			return true
		}
		stats.Revisions += len(e.revs) - keep
		if keep == 0 {
			removals = append(removals, e)
			return true
		}
		revs := make([]revision, keep)
		copy(revs, e.revs[:keep])
		updates = append(updates, entry{key: e.key, revs: revs})
		return true
	})

	for _, e := range removals {
		tree.Delete(e)
	}
	for _, e := range updates {
		tree.ReplaceOrInsert(e)
	}
	stats.Keys = len(removals)

	s.root.Store(tree)
	return stats, nil
}
