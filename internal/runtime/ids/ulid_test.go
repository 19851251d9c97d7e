package ids

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewULIDFormat(t *testing.T) {
	id := NewULID()
	assert.Len(t, id, 26)
	assert.True(t, IsValid(id))
}

func TestNewULIDMonotonicWithinProcess(t *testing.T) {
	ids := make([]string, 100)
	for i := range ids {
		ids[i] = NewULID()
	}

	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	assert.Equal(t, sorted, ids, "ids should already be in generation order")
}

func TestNewULIDConcurrent(t *testing.T) {
	const n = 50
	var wg sync.WaitGroup
	out := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out <- NewULID()
		}()
	}
	wg.Wait()
	close(out)

	seen := make(map[string]bool, n)
	for id := range out {
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

func TestIsValid(t *testing.T) {
	assert.True(t, IsValid(NewULID()))
	assert.False(t, IsValid(""))
	assert.False(t, IsValid("not-a-ulid"))
	assert.False(t, IsValid("0000000000000000000000000!"))
}
