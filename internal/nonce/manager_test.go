package nonce

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChain struct {
	mu    sync.Mutex
	calls int
	nonce uint64
	err   error
}

func (c *fakeChain) PendingNonceAt(ctx context.Context, address string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return 0, c.err
	}
	return c.nonce, nil
}

func TestNextReconcilesOnFirstSight(t *testing.T) {
	m := NewManager()
	chain := &fakeChain{nonce: 5}

	n, release, err := m.Next(context.Background(), chain, "1", "0xabc")
	require.NoError(t, err)
	release()

	assert.Equal(t, uint64(5), n)
	assert.Equal(t, 1, chain.calls)
}

func TestNextUsesCacheAfterAdvance(t *testing.T) {
	m := NewManager()
	chain := &fakeChain{nonce: 5}

	n, release, err := m.Next(context.Background(), chain, "1", "0xabc")
	require.NoError(t, err)
	release()
	m.Advance("1", "0xabc", n)

	n2, release2, err := m.Next(context.Background(), chain, "1", "0xabc")
	require.NoError(t, err)
	release2()

	assert.Equal(t, uint64(6), n2)
	assert.Equal(t, 1, chain.calls, "second Next should use the cached nonce, not hit the chain again")
}

func TestResyncForcesRefetch(t *testing.T) {
	m := NewManager()
	chain := &fakeChain{nonce: 5}

	n, release, err := m.Next(context.Background(), chain, "1", "0xabc")
	require.NoError(t, err)
	release()
	m.Advance("1", "0xabc", n)

	m.Resync("1", "0xabc")
	chain.nonce = 9

	n2, release2, err := m.Next(context.Background(), chain, "1", "0xabc")
	require.NoError(t, err)
	release2()

	assert.Equal(t, uint64(9), n2)
	assert.Equal(t, 2, chain.calls)
}

func TestNextPropagatesChainError(t *testing.T) {
	m := NewManager()
	chain := &fakeChain{err: errors.New("rpc down")}

	_, _, err := m.Next(context.Background(), chain, "1", "0xabc")
	assert.Error(t, err)
}

func TestNextSerializesPerKey(t *testing.T) {
	m := NewManager()
	chain := &fakeChain{nonce: 0}

	var wg sync.WaitGroup
	results := make(chan uint64, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, release, err := m.Next(context.Background(), chain, "1", "0xabc")
			if err != nil {
				return
			}
			m.Advance("1", "0xabc", n)
			release()
			results <- n
		}()
	}
	wg.Wait()
	close(results)

	seen := map[uint64]bool{}
	for n := range results {
		assert.False(t, seen[n], "nonce %d handed out more than once under concurrency", n)
		seen[n] = true
	}
	assert.Len(t, seen, 10)
}

func TestNextDoesNotSerializeDistinctKeys(t *testing.T) {
	m := NewManager()
	chainA := &fakeChain{nonce: 1}
	chainB := &fakeChain{nonce: 100}

	nA, releaseA, err := m.Next(context.Background(), chainA, "1", "0xabc")
	require.NoError(t, err)
	nB, releaseB, err := m.Next(context.Background(), chainB, "8453", "0xdef")
	require.NoError(t, err)
	releaseA()
	releaseB()

	assert.Equal(t, uint64(1), nA)
	assert.Equal(t, uint64(100), nB)
}
