package filter

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// BloomFilter answers "definitely not a known code" for resolve lookups.
// It is safe for concurrent use.
type BloomFilter struct {
	mu       sync.RWMutex
	filter   *bloom.BloomFilter
	pending  []string // adds seen while a rebuild is loading, nil otherwise
	capacity uint
	fpRate   float64

	rebuildMu sync.Mutex
}

// NewBloomFilter creates a new Bloom filter with specified capacity and false positive rate
func NewBloomFilter(capacity uint, fpRate float64) *BloomFilter {
	return &BloomFilter{
		filter:   bloom.NewWithEstimates(capacity, fpRate),
		capacity: capacity,
		fpRate:   fpRate,
	}
}

// Add records a code as possibly existing
func (bf *BloomFilter) Add(code string) {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	bf.filter.AddString(code)
	if bf.pending != nil {
		bf.pending = append(bf.pending, code)
	}
}

// Test returns false only if the code was never added
func (bf *BloomFilter) Test(code string) bool {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	return bf.filter.TestString(code)
}

// Rebuild replaces the filter contents with the codes returned by load.
// Purged codes drop out and codes created by other instances are picked up.
// Codes added while load runs are carried into the new filter.
func (bf *BloomFilter) Rebuild(load func() ([]string, error)) error {
	bf.rebuildMu.Lock()
	defer bf.rebuildMu.Unlock()

	bf.mu.Lock()
	bf.pending = []string{}
	bf.mu.Unlock()

	codes, err := load()
	if err != nil {
		bf.mu.Lock()
		bf.pending = nil
		bf.mu.Unlock()
		return err
	}

	capacity := bf.capacity
	if n := uint(len(codes)) * 2; n > capacity {
		capacity = n
	}
	fresh := bloom.NewWithEstimates(capacity, bf.fpRate)
	for _, code := range codes {
		fresh.AddString(code)
	}

	bf.mu.Lock()
	defer bf.mu.Unlock()
	for _, code := range bf.pending {
		fresh.AddString(code)
	}
	bf.pending = nil
	bf.filter = fresh
	return nil
}
