package transaction

// The transaction package implements fdbmem's transaction layer on top of the versioned store (kv/storage). It turns
// the reads and writes of a client transaction into reads of a store snapshot and a single atomic batch applied at
// commit.
//
// A transaction reads at a read version fixed when it begins. Everything it writes is buffered locally until commit,
// and its own reads see those buffered writes merged over the snapshot ("read your writes"). While it runs, the
// transaction records the key ranges its reads depended on (read conflict ranges) and the ranges it wrote (write
// conflict ranges).
//
// Commit goes through the oracle (see the oracle package). The oracle serializes commits: it checks the read conflict
// ranges of the transaction against the write conflict ranges of every transaction that committed after the read
// version, and on overlap the commit fails with not_committed (1020) and nothing is applied. Otherwise the buffered
// mutations are applied to the store at the next version. Because conflicts are only detected at commit, a client is
// expected to run its transaction in a retry loop (see kv/db) that re-executes it after retryable errors.
//
// Within this package, `txnerr` defines the numbered errors reported to clients, `mutation` the atomic operations and
// versionstamps, `oracle` the commit and conflict detection, and `mvcc` the client transaction itself: the write
// buffer, key selectors, range reads and the paging scanner.
//
// ## Versions
//
// Versions are unsigned integers. The store starts at version 0 and every commit that writes something advances it by
// one; read-only commits consume no version. A read at version v sees exactly the writes of commits with version <= v.
//
// ## Atomic operations
//
// Atomic operations (add, bitwise and/or/xor, min/max and so on) are applied to whatever value is committed when the
// transaction commits, not to the value the transaction read. A transaction that only applies atomic operations to a
// key does not read it, so concurrent transactions adding to the same counter never conflict.
//
// ## Key selectors
//
// Range reads and GetKey take key selectors, a reference key, an or-equal flag and an offset, which are resolved against
// the transaction's view of the database. A selector that runs off either end of the key space resolves to "" or
// "\xff", the bounds of the legal key space.
//
// ## Compaction
//
// By default the whole history is kept. When compaction is enabled, history that is older than both the retention
// window and the oldest open transaction is discarded, and reads below the resulting floor fail with
// transaction_too_old (1007).
