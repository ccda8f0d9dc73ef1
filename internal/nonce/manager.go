// Package nonce serializes transaction submission per (chain, address) so
// two goroutines writing through the same hot wallet never race on the
// account's pending nonce.
package nonce

import (
	"context"
	"fmt"
	"sync"
)

// Chain is the minimal surface the manager needs from a chain client to
// discover the next usable nonce.
type Chain interface {
	PendingNonceAt(ctx context.Context, address string) (uint64, error)
}

// Manager hands out serialized critical sections keyed by "chain:address".
// A single Manager instance must be shared by every signer that submits
// transactions from the same address on the same chain — the payment
// scheme's signer and the bridge worker's signer included, when they
// happen to share a hot wallet.
type Manager struct {
	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	pending map[string]uint64
}

// NewManager constructs an empty Manager.
func NewManager() *Manager {
	return &Manager{
		locks:   make(map[string]*sync.Mutex),
		pending: make(map[string]uint64),
	}
}

func key(chainID, address string) string {
	return chainID + ":" + address
}

func (m *Manager) lockFor(k string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[k]
	if !ok {
		l = &sync.Mutex{}
		m.locks[k] = l
	}
	return l
}

// Next reserves the next nonce for (chainID, address), reconciling against
// the chain's own pending-nonce view the first time it sees this key (or
// whenever the caller asks it to resync). Callers must call Release when
// the submission attempt is done, successful or not.
func (m *Manager) Next(ctx context.Context, chain Chain, chainID, address string) (uint64, func(), error) {
	k := key(chainID, address)
	lock := m.lockFor(k)
	lock.Lock()

	m.mu.Lock()
	cached, known := m.pending[k]
	m.mu.Unlock()

	if !known {
		onChain, err := chain.PendingNonceAt(ctx, address)
		if err != nil {
			lock.Unlock()
			return 0, nil, fmt.Errorf("reconcile nonce for %s: %w", k, err)
		}
		cached = onChain
	}

	release := func() {
		lock.Unlock()
	}
	return cached, release, nil
}

// Advance records that nonce n on (chainID, address) was consumed, so the
// next Next() call returns n+1 without a round trip to the chain.
func (m *Manager) Advance(chainID, address string, n uint64) {
	k := key(chainID, address)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[k] = n + 1
}

// Resync discards the cached nonce for (chainID, address), forcing the next
// Next() call to re-fetch it from the chain. Used after a submission
// failure that may have left the cache out of sync (e.g. "nonce too low").
func (m *Manager) Resync(chainID, address string) {
	k := key(chainID, address)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, k)
}
