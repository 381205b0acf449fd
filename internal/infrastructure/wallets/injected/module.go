package injected

import (
	"context"
	"crypto/ecdsa"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"

	"wallet_playground/internal/app/port"
	"wallet_playground/internal/domain/entity"
)

// Label is shown on the wallet selector.
const Label = "Injected"

// Module exposes keys available to the process as a browser-style injected wallet.
type Module struct {
	keys   []*ecdsa.PrivateKey
	logger port.Logger
}

// NewModule creates the module. With no keys it reports itself unavailable.
func NewModule(keys []*ecdsa.PrivateKey, log port.Logger) *Module {
	return &Module{keys: keys, logger: log.With("wallet", Label)}
}

var _ port.WalletModule = (*Module)(nil)

func (m *Module) Label() string { return Label }
func (m *Module) Kind() entity.WalletKind { return entity.WalletKindInjected }
func (m *Module) Available() bool { return len(m.keys) > 0 }
func (m *Module) PreferredChainID() uint64 { return 0 }

// Connect binds the keys to chain. Nothing has to be approved, the keys are already unlocked.
func (m *Module) Connect(ctx context.Context, chain port.ChainClient, _ port.ConnectHooks) (port.WalletSession, error) {
	if !m.Available() {
		return nil, entity.ErrNoWalletAvailable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &session{chain: chain}
	s.signer = NewKeySigner(m.keys[0], s.client)
	for _, k := range m.keys {
		s.accounts = append(s.accounts, entity.Account{Address: crypto.PubkeyToAddress(k.PublicKey)})
	}
	m.logger.Info("Injected wallet connected", "accounts", len(s.accounts), "chain_id", chain.Definition().ID)
	return s, nil
}

type session struct {
	mu       sync.RWMutex
	chain    port.ChainClient
	accounts []entity.Account
	signer   *KeySigner
}

func (s *session) client() port.ChainClient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chain
}

func (s *session) Accounts() []entity.Account {
	out := make([]entity.Account, len(s.accounts))
	copy(out, s.accounts)
	return out
}

func (s *session) Signer() port.Signer {
	return s.signer
}

func (s *session) SwitchChain(_ context.Context, chain port.ChainClient) error {
	s.BindChain(chain)
	return nil
}

func (s *session) BindChain(chain port.ChainClient) {
	s.mu.Lock()
	s.chain = chain
	s.mu.Unlock()
}

func (s *session) Close(context.Context) error {
	return nil
}
