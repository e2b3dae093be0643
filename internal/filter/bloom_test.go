package filter

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticCodes(codes ...string) func() ([]string, error) {
	return func() ([]string, error) { return codes, nil }
}

func TestBloomFilterAddTest(t *testing.T) {
	bf := NewBloomFilter(1000, 0.001)

	assert.False(t, bf.Test("abc123"))
	bf.Add("abc123")
	assert.True(t, bf.Test("abc123"))
}

func TestBloomFilterRebuild(t *testing.T) {
	bf := NewBloomFilter(1000, 0.001)
	bf.Add("stale")

	require.NoError(t, bf.Rebuild(staticCodes("one", "two")))

	assert.True(t, bf.Test("one"))
	assert.True(t, bf.Test("two"))
	assert.False(t, bf.Test("stale"))
}

func TestBloomFilterRebuildGrowsCapacity(t *testing.T) {
	bf := NewBloomFilter(10, 0.01)

	codes := make([]string, 500)
	for i := range codes {
		codes[i] = fmt.Sprintf("code%d", i)
	}
	require.NoError(t, bf.Rebuild(staticCodes(codes...)))

	for _, c := range codes {
		assert.True(t, bf.Test(c))
	}
}

func TestBloomFilterRebuildKeepsConcurrentAdds(t *testing.T) {
	bf := NewBloomFilter(1000, 0.001)

	err := bf.Rebuild(func() ([]string, error) {
		// created while the store was being read
		bf.Add("fresh")
		return []string{"loaded"}, nil
	})
	require.NoError(t, err)

	assert.True(t, bf.Test("loaded"))
	assert.True(t, bf.Test("fresh"))
}

func TestBloomFilterRebuildErrorKeepsOldFilter(t *testing.T) {
	bf := NewBloomFilter(1000, 0.001)
	bf.Add("kept")

	err := bf.Rebuild(func() ([]string, error) { return nil, errors.New("store down") })
	assert.Error(t, err)
	assert.True(t, bf.Test("kept"))

	bf.Add("after")
	assert.True(t, bf.Test("after"))
}

func TestBloomFilterConcurrent(t *testing.T) {
	bf := NewBloomFilter(10000, 0.01)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			code := fmt.Sprintf("c%d", i)
			bf.Add(code)
			assert.True(t, bf.Test(code))
		}(i)
	}
	wg.Wait()
}
