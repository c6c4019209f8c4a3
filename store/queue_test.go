package store_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevemurr/fansite-store/store"
)

func TestQueueRunsInSubmissionOrder(t *testing.T) {
	q := store.NewQueue()
	gate := make(chan struct{})

	var mu sync.Mutex
	var order []int

	const n = 50
	results := make([]<-chan error, 0, n+1)
	// the first op holds the chain so everything after it has to queue
	results = append(results, q.Submit("k", func() error {
		<-gate
		return nil
	}))
	for i := 0; i < n; i++ {
		i := i
		results = append(results, q.Submit("k", func() error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}))
	}
	close(gate)
	for _, r := range results {
		require.NoError(t, <-r)
	}

	want := make([]int, n)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, order)
}

func TestQueueOneAtATimePerKey(t *testing.T) {
	q := store.NewQueue()
	var running, maxRunning atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Do("k", func() error {
				cur := running.Add(1)
				for {
					m := maxRunning.Load()
					if cur <= m || maxRunning.CompareAndSwap(m, cur) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				running.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxRunning.Load())
}

func TestQueueFailureDoesNotWedgeChain(t *testing.T) {
	q := store.NewQueue()
	boom := errors.New("boom")

	first := q.Submit("k", func() error { return boom })
	second := q.Submit("k", func() error { panic("kaboom") })
	var ran bool
	third := q.Submit("k", func() error {
		ran = true
		return nil
	})

	assert.ErrorIs(t, <-first, boom)
	err := <-second
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
	require.NoError(t, <-third)
	assert.True(t, ran)
}

func TestQueueKeysAreIndependent(t *testing.T) {
	q := store.NewQueue()
	release := make(chan struct{})

	blocked := q.Submit("a", func() error {
		select {
		case <-release:
			return nil
		case <-time.After(5 * time.Second):
			return errors.New("never released")
		}
	})

	// "b" must finish while "a" is still parked
	require.NoError(t, q.Do("b", func() error { return nil }))
	close(release)
	require.NoError(t, <-blocked)
}

func TestQueueCleansUpDrainedKeys(t *testing.T) {
	q := store.NewQueue()
	gate := make(chan struct{})

	a := q.Submit("a", func() error { <-gate; return nil })
	b := q.Submit("b", func() error { <-gate; return nil })
	a2 := q.Submit("a", func() error { return nil })
	assert.Equal(t, 2, q.Len())

	close(gate)
	require.NoError(t, <-a)
	require.NoError(t, <-b)
	require.NoError(t, <-a2)
	assert.Equal(t, 0, q.Len())

	for i := 0; i < 100; i++ {
		require.NoError(t, q.Do(string(rune('a'+i%26))+"-key", func() error { return nil }))
	}
	assert.Equal(t, 0, q.Len())
}
