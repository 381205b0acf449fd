// Package sessiontest provides in-memory wallet modules and chain clients for tests.
package sessiontest

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"wallet_playground/internal/app/port"
	"wallet_playground/internal/domain/entity"
)

// ChainClient is a port.ChainClient answering from fixed values.
type ChainClient struct {
	Chain    entity.Chain
	Balance  *big.Int
	Receipt  *types.Receipt
	BalErr   error
	WaitErr  error
	mu       sync.Mutex
	balCalls int
}

func (c *ChainClient) Definition() entity.Chain { return c.Chain }

func (c *ChainClient) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).SetUint64(c.Chain.ID), nil
}

func (c *ChainClient) NativeBalance(context.Context, common.Address) (*big.Int, error) {
	c.mu.Lock()
	c.balCalls++
	c.mu.Unlock()
	if c.BalErr != nil {
		return nil, c.BalErr
	}
	if c.Balance == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(c.Balance), nil
}

// BalanceCalls reports how many balance lookups were made.
func (c *ChainClient) BalanceCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balCalls
}

func (c *ChainClient) CodeAt(context.Context, common.Address) ([]byte, error) { return nil, nil }

func (c *ChainClient) CallContract(context.Context, ethereum.CallMsg) ([]byte, error) {
	return nil, errors.New("no contracts")
}

func (c *ChainClient) PrepareTransfer(context.Context, entity.TxRequest) (*types.Transaction, error) {
	return nil, errors.New("not supported by fake chain")
}

func (c *ChainClient) SendTransaction(context.Context, *types.Transaction) error {
	return errors.New("not supported by fake chain")
}

func (c *ChainClient) WaitMined(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	if c.WaitErr != nil {
		return nil, c.WaitErr
	}
	if c.Receipt != nil {
		return c.Receipt, nil
	}
	return &types.Receipt{TxHash: hash, Status: types.ReceiptStatusSuccessful}, nil
}

// Clients hands out one fake client per chain id.
type Clients struct {
	mu      sync.Mutex
	clients map[uint64]*ChainClient
	// Err is returned by every GetClient call when set.
	Err error
}

func NewClients() *Clients {
	return &Clients{clients: make(map[uint64]*ChainClient)}
}

func (p *Clients) GetClient(chain entity.Chain) (port.ChainClient, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	return p.Client(chain), nil
}

// Client returns the fake bound to chain, creating it on first use.
func (p *Clients) Client(chain entity.Chain) *ChainClient {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.clients[chain.ID]
	if !ok {
		c = &ChainClient{Chain: chain}
		p.clients[chain.ID] = c
	}
	return c
}

// Signer is a port.Signer whose behaviour is set per test.
type Signer struct {
	Addr          common.Address
	Chain         func() port.ChainClient
	SignMessageFn func(ctx context.Context, msg []byte) ([]byte, error)
	SignTypedFn   func(ctx context.Context, data apitypes.TypedData) ([]byte, error)
	SendFn        func(ctx context.Context, req entity.TxRequest) (common.Hash, error)
}

func (s *Signer) Address() common.Address { return s.Addr }

func (s *Signer) ChainID(ctx context.Context) (*big.Int, error) {
	return s.Chain().ChainID(ctx)
}

func (s *Signer) SignMessage(ctx context.Context, msg []byte) ([]byte, error) {
	if s.SignMessageFn == nil {
		return nil, entity.ErrUserRejected
	}
	return s.SignMessageFn(ctx, msg)
}

func (s *Signer) SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error) {
	if s.SignTypedFn == nil {
		return nil, entity.ErrUserRejected
	}
	return s.SignTypedFn(ctx, data)
}

func (s *Signer) SendTransaction(ctx context.Context, req entity.TxRequest) (common.Hash, error) {
	if s.SendFn == nil {
		return common.Hash{}, entity.ErrUserRejected
	}
	return s.SendFn(ctx, req)
}

// Session is a port.WalletSession over a Signer.
type Session struct {
	Module   *Module
	mu       sync.Mutex
	chain    port.ChainClient
	signer   *Signer
	closed   bool
	CloseErr error
	// Hooks are those passed to Connect, for simulating remote events.
	Hooks port.ConnectHooks
}

func (s *Session) Accounts() []entity.Account {
	if s.signer.Addr == (common.Address{}) {
		return nil
	}
	return []entity.Account{{Address: s.signer.Addr}}
}

func (s *Session) Signer() port.Signer { return s.signer }

func (s *Session) SwitchChain(_ context.Context, chain port.ChainClient) error {
	if s.Module.SwitchErr != nil {
		return s.Module.SwitchErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chain = chain
	return nil
}

func (s *Session) BindChain(chain port.ChainClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chain = chain
}

func (s *Session) current() port.ChainClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chain
}

func (s *Session) Close(context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.CloseErr
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Module is a configurable port.WalletModule.
type Module struct {
	Name       string
	WalletKind entity.WalletKind
	Unusable   bool
	Preferred  uint64
	Address    common.Address
	ConnectErr error
	SwitchErr  error
	CloseErr   error
	PairingURI string
	// Gate, when set, blocks Connect until it is closed or ctx is done.
	Gate chan struct{}
	// Configure adjusts the signer of each new session.
	Configure func(s *Signer)

	mu       sync.Mutex
	sessions []*Session
}

func (m *Module) Label() string           { return m.Name }
func (m *Module) Kind() entity.WalletKind { return m.WalletKind }
func (m *Module) Available() bool         { return !m.Unusable }
func (m *Module) PreferredChainID() uint64 {
	return m.Preferred
}

func (m *Module) Connect(ctx context.Context, chain port.ChainClient, hooks port.ConnectHooks) (port.WalletSession, error) {
	if m.PairingURI != "" && hooks.OnPairingURI != nil {
		hooks.OnPairingURI(m.PairingURI)
	}
	if m.Gate != nil {
		select {
		case <-m.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.ConnectErr != nil {
		return nil, m.ConnectErr
	}
	s := &Session{Module: m, chain: chain, CloseErr: m.CloseErr, Hooks: hooks}
	s.signer = &Signer{Addr: m.Address, Chain: s.current}
	if m.Configure != nil {
		m.Configure(s.signer)
	}
	m.mu.Lock()
	m.sessions = append(m.sessions, s)
	m.mu.Unlock()
	return s, nil
}

// Sessions returns every session the module created.
func (m *Module) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Session(nil), m.sessions...)
}

// Last returns the most recent session, nil if none.
func (m *Module) Last() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessions) == 0 {
		return nil
	}
	return m.sessions[len(m.sessions)-1]
}
