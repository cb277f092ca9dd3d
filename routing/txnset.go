package routing

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	cuckoo "github.com/linvon/cuckoo-filter"
)

const (
	txnFilterBucketSize      = 4
	txnFilterFingerprintSize = 32
	txnFilterMaxKeys         = 1 << 16
)

// txnSet counts distinct transaction ids seen in a pass in bounded memory.
// The count is approximate once more than txnFilterMaxKeys ids were seen.
type txnSet struct {
	filter *cuckoo.Filter
	buf    []byte
	count  int64
	full   bool
}

func newTxnSet() *txnSet {
	return &txnSet{
		filter: cuckoo.NewFilter(txnFilterBucketSize, txnFilterFingerprintSize,
			txnFilterMaxKeys, cuckoo.TableTypePacked),
		buf: make([]byte, 8),
	}
}

// Add records a transaction id and reports whether it was new
func (s *txnSet) Add(txnID string) bool {
	if txnID == "" {
		return false
	}
	binary.LittleEndian.PutUint64(s.buf, xxhash.Sum64String(txnID))
	if s.filter.Contain(s.buf) {
		return false
	}
	s.count++
	if !s.full && !s.filter.Add(s.buf) {
		s.full = true
	}
	return true
}

// Len returns the number of distinct ids added
func (s *txnSet) Len() int64 {
	return s.count
}
