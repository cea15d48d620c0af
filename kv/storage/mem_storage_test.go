package storage

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fdbmem/fdbmem/kv/transaction/mutation"
	"github.com/fdbmem/fdbmem/kv/util/codec"
)

func put(key, value string) Modify {
	return Modify{Data: Put{Key: []byte(key), Value: []byte(value)}}
}

func del(key string) Modify {
	return Modify{Data: Delete{Key: []byte(key)}}
}

func delRange(start, end string) Modify {
	return Modify{Data: DeleteRange{Start: []byte(start), End: []byte(end)}}
}

func atomicOp(key string, op mutation.Opcode, param []byte) Modify {
	return Modify{Data: Atomic{Key: []byte(key), Op: op, Param: param}}
}

func mustWrite(t *testing.T, s *MemStorage, version uint64, batch ...Modify) {
	require.Nil(t, s.Write(version, batch))
}

func assertGet(t *testing.T, s *MemStorage, key string, version uint64, expected string) {
	value, ok := s.Get([]byte(key), version)
	require.True(t, ok, "%s@%d should exist", key, version)
	assert.Equal(t, expected, string(value))
}

func assertAbsent(t *testing.T, s *MemStorage, key string, version uint64) {
	_, ok := s.Get([]byte(key), version)
	assert.False(t, ok, "%s@%d should not exist", key, version)
}

func keysOf(pairs []KvPair) []string {
	keys := make([]string, 0, len(pairs))
	for _, p := range pairs {
		keys = append(keys, string(p.Key))
	}
	return keys
}

func TestGetAtVersion(t *testing.T) {
	s := NewMemStorage()
	mustWrite(t, s, 1, put("hello", "World!"))
	mustWrite(t, s, 2, put("hello", "Le Monde!"))
	mustWrite(t, s, 3, put("hello", "Sekai!"))
	mustWrite(t, s, 5, del("hello"))

	assertAbsent(t, s, "hello", 0)
	assertGet(t, s, "hello", 1, "World!")
	assertGet(t, s, "hello", 2, "Le Monde!")
	assertGet(t, s, "hello", 3, "Sekai!")
	assertGet(t, s, "hello", 4, "Sekai!")
	assertAbsent(t, s, "hello", 5)
	assertAbsent(t, s, "hello", 100)
	assertAbsent(t, s, "other", 100)
	assert.Equal(t, uint64(5), s.Version())
}

func TestWriteRejectsOldVersion(t *testing.T) {
	s := NewMemStorage()
	mustWrite(t, s, 2, put("a", "1"))
	assert.NotNil(t, s.Write(2, []Modify{put("a", "2")}))
	assert.NotNil(t, s.Write(1, []Modify{put("a", "2")}))
	assertGet(t, s, "a", 10, "1")
}

func TestWriteIsAllOrNothing(t *testing.T) {
	s := NewMemStorage()
	mustWrite(t, s, 1, put("a", "1"))

	err := s.Write(2, []Modify{
		put("a", "2"),
		put("b", "2"),
		atomicOp("c", mutation.SetVersionstampedValue, []byte("bad")),
	})
	require.NotNil(t, err)
	assertGet(t, s, "a", 10, "1")
	assertAbsent(t, s, "b", 10)
	assert.Equal(t, uint64(1), s.Version())

	err = s.Write(2, []Modify{put("x", "1"), {Data: "nonsense"}})
	require.NotNil(t, err)
	assertAbsent(t, s, "x", 10)
}

func TestBatchOrdering(t *testing.T) {
	s := NewMemStorage()
	mustWrite(t, s, 1,
		put("a", "1"),
		put("a", "2"),
		put("b", "x"),
		del("b"),
		atomicOp("c", mutation.Add, codec.EncodeInt64(2)),
		atomicOp("c", mutation.Add, codec.EncodeInt64(3)),
	)
	assertGet(t, s, "a", 1, "2")
	assertAbsent(t, s, "b", 1)
	value, ok := s.Get([]byte("c"), 1)
	require.True(t, ok)
	assert.Equal(t, int64(5), codec.DecodeInt64(value))

	stats := s.Stats()
	assert.Equal(t, 2, stats.Keys)
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, 2, stats.Revisions)
}

func TestClearRange(t *testing.T) {
	s := NewMemStorage()
	var batch []Modify
	for i := 0; i < 10; i++ {
		batch = append(batch, put(fmt.Sprintf("k%d", i), "v"))
	}
	mustWrite(t, s, 1, batch...)
	mustWrite(t, s, 2, delRange("k3", "k7"))

	assert.Equal(t, []string{"k0", "k1", "k2", "k7", "k8", "k9"}, keysOf(s.Scan(nil, nil, 2, false, 0)))
	assert.Len(t, s.Scan(nil, nil, 1, false, 0), 10)

	// Clearing already cleared keys adds no history.
	mustWrite(t, s, 3, delRange("k3", "k7"), del("k4"), del("missing"))
	assert.Equal(t, 14, s.Stats().Revisions)
}

func TestAtomicApply(t *testing.T) {
	s := NewMemStorage()
	mustWrite(t, s, 1, atomicOp("counter", mutation.Add, codec.EncodeInt64(1)))
	mustWrite(t, s, 2, atomicOp("counter", mutation.Add, codec.EncodeInt64(1)))
	value, _ := s.Get([]byte("counter"), 2)
	assert.Equal(t, int64(2), codec.DecodeInt64(value))
	value, _ = s.Get([]byte("counter"), 1)
	assert.Equal(t, int64(1), codec.DecodeInt64(value))

	mustWrite(t, s, 3, atomicOp("counter", mutation.CompareAndClear, codec.EncodeInt64(2)))
	assertAbsent(t, s, "counter", 3)

	mustWrite(t, s, 4, atomicOp("bits", mutation.BitAnd, []byte{0x0f}))
	assertGet(t, s, "bits", 4, "\x0f")

	assert.NotNil(t, s.Write(5, []Modify{atomicOp("x", mutation.Opcode(42), nil)}))
}

func TestVersionstamps(t *testing.T) {
	s := NewMemStorage()
	key := append([]byte("log/"), make([]byte, mutation.VersionstampLength)...)
	key = append(key, 4, 0, 0, 0)
	value := append(make([]byte, mutation.VersionstampLength), 0, 0, 0, 0)
	mustWrite(t, s, 7,
		Modify{Data: Atomic{Key: key, Op: mutation.SetVersionstampedKey, Param: []byte("entry")}},
		Modify{Data: Atomic{Key: []byte("last"), Op: mutation.SetVersionstampedValue, Param: value}},
	)

	stamp := mutation.Versionstamp(7, 0)
	assertGet(t, s, "log/"+string(stamp), 7, "entry")
	assertGet(t, s, "last", 7, string(stamp))
}

func TestScan(t *testing.T) {
	s := NewMemStorage()
	var batch []Modify
	for i := 0; i <= 100; i++ {
		batch = append(batch, put(fmt.Sprintf("%03d", i), fmt.Sprintf("v%d", i)))
	}
	mustWrite(t, s, 1, batch...)

	pairs := s.Scan([]byte("000"), []byte("050"), 1, false, 0)
	require.Len(t, pairs, 50)
	assert.Equal(t, "000", string(pairs[0].Key))
	assert.Equal(t, "049", string(pairs[49].Key))
	assert.Equal(t, "v49", string(pairs[49].Value))

	reversed := s.Scan([]byte("000"), []byte("050"), 1, true, 0)
	require.Len(t, reversed, 50)
	for i := range pairs {
		assert.Equal(t, pairs[i], reversed[49-i])
	}

	limited := s.Scan([]byte("010"), nil, 1, true, 5)
	assert.Equal(t, []string{"100", "099", "098", "097", "096"}, keysOf(limited))

	assert.Empty(t, s.Scan([]byte("060"), []byte("050"), 1, false, 0))
	assert.Empty(t, s.Scan([]byte("060"), []byte("050"), 1, true, 0))
	assert.Empty(t, s.Scan(nil, nil, 0, false, 0))
}

func TestIteratorSkipsInvisibleHistory(t *testing.T) {
	s := NewMemStorage()
	var batch []Modify
	for i := 0; i < 3*iterBatchSize; i++ {
		batch = append(batch, put(fmt.Sprintf("k%04d", i), "v"))
	}
	mustWrite(t, s, 1, batch...)
	// Clear every key but a few, so the iterator must walk over long runs of tombstones.
	mustWrite(t, s, 2, delRange("k0001", "k0190"))

	assert.Equal(t, []string{"k0000", "k0190", "k0191"}, keysOf(s.Scan(nil, nil, 2, false, 0)))
	assert.Equal(t, []string{"k0191", "k0190", "k0000"}, keysOf(s.Scan(nil, nil, 2, true, 0)))
	assert.Len(t, s.Scan(nil, nil, 1, true, 0), 3*iterBatchSize)
}

func TestReaderIsPinned(t *testing.T) {
	s := NewMemStorage()
	mustWrite(t, s, 1, put("a", "1"))
	r := s.Reader(1)
	mustWrite(t, s, 2, put("a", "2"), put("b", "2"))
	mustWrite(t, s, 3, delRange("", "\xff"))

	value, ok := r.Get([]byte("a"))
	require.True(t, ok)
	assert.Equal(t, "1", string(value))
	it := r.Iter(nil, nil, false)
	require.True(t, it.Valid())
	assert.Equal(t, "a", string(it.Key()))
	it.Next()
	assert.False(t, it.Valid())
}

func TestValuesAreCopied(t *testing.T) {
	s := NewMemStorage()
	value := []byte("abc")
	mustWrite(t, s, 1, Modify{Data: Put{Key: []byte("k"), Value: value}})
	value[0] = 'z'
	got, _ := s.Get([]byte("k"), 1)
	got[1] = 'z'
	assertGet(t, s, "k", 1, "abc")
}

func TestConcurrentReadersAndWriter(t *testing.T) {
	s := NewMemStorage()
	var wg sync.WaitGroup
	done := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				v := s.Version()
				pairs := s.Scan(nil, nil, v, false, 0)
				// Every committed batch writes two keys, so a consistent snapshot holds an even count.
				if len(pairs)%2 != 0 {
					t.Errorf("torn read at version %d: %d pairs", v, len(pairs))
					return
				}
			}
		}()
	}
	for v := uint64(1); v <= 200; v++ {
		mustWrite(t, s, v, put(fmt.Sprintf("a%03d", v), "x"), put(fmt.Sprintf("b%03d", v), "y"))
	}
	close(done)
	wg.Wait()
	assert.Equal(t, 400, s.Stats().Keys)
}

func TestCompact(t *testing.T) {
	s := NewMemStorage()
	mustWrite(t, s, 1, put("a", "1"), put("b", "1"), put("c", "1"))
	mustWrite(t, s, 2, put("a", "2"), del("b"))
	mustWrite(t, s, 3, put("a", "3"))
	mustWrite(t, s, 4, put("c", "4"))

	_, err := s.Compact(10)
	assert.NotNil(t, err)

	stats, err := s.Compact(3)
	require.Nil(t, err)
	assert.Equal(t, uint64(3), stats.Floor)
	// a loses versions 1 and 2, b loses everything, c keeps both.
	assert.Equal(t, 1, stats.Keys)
	assert.Equal(t, 4, stats.Revisions)

	assertGet(t, s, "a", 3, "3")
	assertAbsent(t, s, "b", 3)
	assertGet(t, s, "c", 3, "1")
	assertGet(t, s, "c", 4, "4")
	assert.Equal(t, Stats{Keys: 2, Entries: 2, Revisions: 3, Version: 4}, s.Stats())
}

func TestDumpAndDigest(t *testing.T) {
	s := NewMemStorage()
	mustWrite(t, s, 1, put("hello", "World!"), put("bin\x00", "\x01"))
	mustWrite(t, s, 2, del("hello"))

	var buf bytes.Buffer
	require.Nil(t, s.Dump(&buf))
	out := buf.String()
	assert.True(t, strings.Contains(out, "hello"))
	assert.True(t, strings.Contains(out, "World!"))
	assert.True(t, strings.Contains(out, "<cleared>"))
	assert.True(t, strings.Contains(out, `bin\x00`))
	assert.True(t, strings.Contains(out, "2 keys, 3 revisions, version 2"))

	other := NewMemStorage()
	mustWrite(t, other, 1, put("bin\x00", "\x01"))
	assert.Equal(t, s.Digest(2), other.Digest(1))
	assert.NotEqual(t, s.Digest(1), other.Digest(1))
}

func TestMergeRanges(t *testing.T) {
	r := func(a, b string) KeyRange { return KeyRange{Start: []byte(a), End: []byte(b)} }
	merged := MergeRanges([]KeyRange{r("d", "f"), r("a", "b"), r("b", "c"), r("e", "g"), r("x", "x")})
	assert.Equal(t, []KeyRange{r("a", "c"), r("d", "g")}, merged)

	assert.True(t, RangesIntersect(merged, []KeyRange{r("c", "e")}))
	assert.False(t, RangesIntersect(merged, []KeyRange{r("c", "d"), r("g", "z")}))
	assert.True(t, r("a", "b").Contains([]byte("a")))
	assert.False(t, r("a", "b").Contains([]byte("b")))
}
