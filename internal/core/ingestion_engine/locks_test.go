package ingestion_engine

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockTable(t *testing.T) {
	l := NewLockTable()

	assert.True(t, l.TryLock("doc-1"))
	assert.False(t, l.TryLock("doc-1"))
	assert.True(t, l.TryLock("doc-2"), "locks are per document")
	assert.True(t, l.Held("doc-1"))

	l.Unlock("doc-1")
	assert.False(t, l.Held("doc-1"))
	assert.True(t, l.TryLock("doc-1"))
}

func TestLockTableSingleWinner(t *testing.T) {
	l := NewLockTable()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryLock("doc") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}
