// Package testchain runs an in-memory chain for tests.
package testchain

import (
	"crypto/ecdsa"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/stretchr/testify/require"

	"wallet_playground/internal/domain/entity"
)

// ChainID of the simulated backend.
const ChainID = 1337

// Chain is the definition matching the simulated backend.
var Chain = entity.Chain{ID: ChainID, Token: "ETH", Label: "Simulated", Decimals: 18}

// Ether is 10^18 wei.
var Ether = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Sim is a running simulated chain with funded test keys.
type Sim struct {
	Backend *simulated.Backend
	Client  simulated.Client
	Keys    []*ecdsa.PrivateKey
}

// Address returns the address of the i-th funded key.
func (s *Sim) Address(i int) common.Address {
	return crypto.PubkeyToAddress(s.Keys[i].PublicKey)
}

// New starts a simulated chain funding one key per entry of balances.
// A background loop seals a block every few milliseconds until the test ends.
func New(t *testing.T, balances ...*big.Int) *Sim {
	t.Helper()
	alloc := types.GenesisAlloc{}
	keys := make([]*ecdsa.PrivateKey, 0, len(balances))
	for _, balance := range balances {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		keys = append(keys, key)
		alloc[crypto.PubkeyToAddress(key.PublicKey)] = types.Account{Balance: balance}
	}

	backend := simulated.NewBackend(alloc)
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				backend.Commit()
			}
		}
	}()
	t.Cleanup(func() {
		close(done)
		<-stopped
		_ = backend.Close()
	})

	return &Sim{Backend: backend, Client: backend.Client(), Keys: keys}
}
