package session

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDGenerator(t *testing.T) {
	g := NewIDGenerator(0)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := g.NewID()
		require.NoError(t, err)
		assert.Len(t, id, DefaultIDLength)
		for _, r := range id {
			assert.True(t, strings.ContainsRune(idAlphabet, r), "недопустимый символ %q", r)
		}
		assert.False(t, seen[id], "повтор ID %s", id)
		seen[id] = true
	}

	short, err := NewIDGenerator(4).NewID()
	require.NoError(t, err)
	assert.Len(t, short, 4)
}

func TestIDGeneratorConcurrent(t *testing.T) {
	g := DefaultIDGenerator()
	assert.Same(t, g, DefaultIDGenerator())

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		ids = make(map[string]bool)
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id, err := g.NewID()
				if err != nil {
					continue
				}
				mu.Lock()
				ids[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, ids, 400)
}

func TestNewSSRC(t *testing.T) {
	g := NewIDGenerator(DefaultIDLength)
	distinct := make(map[uint32]bool)
	for i := 0; i < 32; i++ {
		ssrc, err := g.NewSSRC()
		require.NoError(t, err)
		distinct[ssrc] = true
	}
	assert.Greater(t, len(distinct), 30)
}
