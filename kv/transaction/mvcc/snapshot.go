package mvcc

// Snapshot reads through a transaction without recording read conflict ranges. Its reads still see the
// writes of the transaction, but the transaction will not conflict with commits that change what
// they returned.
type Snapshot struct {
	txn *Txn
}

// Get is Txn.Get without a read conflict.
func (s *Snapshot) Get(key []byte) ([]byte, error) {
	return s.txn.get(key, true)
}

// GetKey is Txn.GetKey without a read conflict.
func (s *Snapshot) GetKey(sel KeySelector) ([]byte, error) {
	return s.txn.getKey(sel, true)
}

// GetRange is Txn.GetRange without a read conflict.
func (s *Snapshot) GetRange(begin, end KeySelector, opts RangeOptions) (RangeResult, error) {
	return s.txn.getRange(begin, end, opts, true)
}

// Scan is Txn.Scan without read conflicts.
func (s *Snapshot) Scan(begin, end KeySelector, opts ScanOptions) *Scanner {
	return NewScanner(s, begin, end, opts)
}
