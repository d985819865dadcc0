package ids

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateUniqueAndIncreasing(t *testing.T) {
	prev := Generate()
	for i := 0; i < 10_000; i++ {
		id := Generate()
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestGenerateConcurrentUnique(t *testing.T) {
	const per = 2000
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[int64]struct{}, 8*per)

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < per; i++ {
				id := Generate()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 8*per)
}

func TestSetNodeIDClampsRange(t *testing.T) {
	SetNodeID(5000) // out of range falls back to the default
	assert.EqualValues(t, 1, defaultGen.nodeID)

	SetNodeID(42)
	assert.EqualValues(t, 42, defaultGen.nodeID)
	SetNodeID(1)
}

func TestGenerateString(t *testing.T) {
	assert.NotEmpty(t, GenerateString())
	assert.NotEqual(t, GenerateString(), GenerateString())
}
