package walletconnect

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"wallet_playground/internal/app/port"
	"wallet_playground/internal/domain/entity"
)

type session struct {
	bridge  *bridgeConn
	logger  *zap.Logger
	timeout time.Duration
	peerID  string
	signer  *remoteSigner

	onDisconnect func(error)
	onChange     func(chainID uint64, accounts []entity.Account)
	established  atomic.Bool

	mu       sync.RWMutex
	chain    port.ChainClient
	chainID  uint64
	accounts []entity.Account
}

var _ port.WalletSession = (*session)(nil)

func (s *session) Accounts() []entity.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]entity.Account, len(s.accounts))
	copy(out, s.accounts)
	return out
}

func (s *session) Signer() port.Signer {
	return s.signer
}

func (s *session) currentChainID() *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return new(big.Int).SetUint64(s.chainID)
}

func (s *session) call(ctx context.Context, method string, params ...interface{}) ([]byte, error) {
	if s.peerID == "" {
		return nil, errNoPeer
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.bridge.request(ctx, s.peerID, method, params...)
}

// SwitchChain asks the wallet to change network, then rebinds to chain.
func (s *session) SwitchChain(ctx context.Context, chain port.ChainClient) error {
	id := chain.Definition().ID
	if _, err := s.call(ctx, methodSwitchChain, switchChainParams{ChainID: hexutil.EncodeUint64(id)}); err != nil {
		return fmt.Errorf("switch wallet to chain %d: %w", id, err)
	}
	s.mu.Lock()
	s.chain = chain
	s.chainID = id
	s.mu.Unlock()
	return nil
}

// BindChain follows a chain change the wallet already made.
func (s *session) BindChain(chain port.ChainClient) {
	s.mu.Lock()
	s.chain = chain
	s.chainID = chain.Definition().ID
	s.mu.Unlock()
}

// Close tells the wallet the session is over and hangs up.
func (s *session) Close(context.Context) error {
	if s.bridge.closed.Load() {
		return nil
	}
	var notifyErr error
	if s.peerID != "" {
		notifyErr = s.bridge.notify(s.peerID, methodSessionUpdate, sessionUpdate{Approved: false})
	}
	if err := s.bridge.close(); err != nil {
		return fmt.Errorf("close wallet connect bridge: %w", err)
	}
	if notifyErr != nil {
		return fmt.Errorf("notify wallet of disconnect: %w", notifyErr)
	}
	return nil
}
