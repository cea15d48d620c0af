package fdbmem

/*
fdbmem is an in-memory, ordered, transactional key/value store. Transactions read a consistent snapshot of the
database and commit with optimistic concurrency control: a transaction fails to commit when something it read was
written by another transaction that committed after its snapshot was taken. Every committed transaction is
serializable.

Building fdbmem produces a single executable, fdbmem, which can run the database with a status HTTP API, drive an
interactive shell or run benchmark workloads.

The `fdbmem` module is organized into the following packages:

* `kv/storage`: the versioned store. Every key keeps its history of values, each tagged with the version that wrote it.
* `kv/transaction`: transactions on top of the store, see its documentation.
* `kv/db`: opening a database, retry loops and background compaction of old versions.
* `kv/config`: configuration and logging setup.
* `kv/api`, `kv/shell`, `kv/bench`: the status HTTP API, the interactive client and the benchmark.
* `cmd/fdbmem`: the command line entry point.
*/
