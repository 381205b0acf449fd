package unipass

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"go.uber.org/zap"

	"wallet_playground/internal/app/port"
	"wallet_playground/internal/domain/entity"
)

// Label is shown on the wallet selector.
const Label = "UniPass"

// Module is the email / social login wallet backed by a hosted signer.
type Module struct {
	client      Client
	email       string
	returnEmail bool
	chainID     uint64
	logger      *zap.Logger
}

// ModuleConfig holds the login options of the module.
type ModuleConfig struct {
	Email       string
	ReturnEmail bool
	ChainID     uint64
}

// NewModule creates the module. A nil client makes it unavailable.
func NewModule(client Client, cfg ModuleConfig, logger *zap.Logger) *Module {
	return &Module{
		client:      client,
		email:       cfg.Email,
		returnEmail: cfg.ReturnEmail,
		chainID:     cfg.ChainID,
		logger:      logger.Named("unipass"),
	}
}

var _ port.WalletModule = (*Module)(nil)

func (m *Module) Label() string { return Label }

func (m *Module) Kind() entity.WalletKind { return entity.WalletKindUniPass }

func (m *Module) Available() bool { return m.client != nil }

func (m *Module) PreferredChainID() uint64 { return m.chainID }

// Connect lists the accounts of the logged-in user.
func (m *Module) Connect(ctx context.Context, chain port.ChainClient, _ port.ConnectHooks) (port.WalletSession, error) {
	if m.client == nil {
		return nil, entity.ErrNoWalletAvailable
	}
	var addrs []common.Address
	if err := m.client.Call(ctx, &addrs, "account_list"); err != nil {
		return nil, fmt.Errorf("unipass login: %w", err)
	}
	if len(addrs) == 0 {
		return nil, entity.ErrNoAccounts
	}
	s := &session{client: m.client, chain: chain}
	for _, a := range addrs {
		acc := entity.Account{Address: a}
		if m.returnEmail {
			acc.Email = m.email
		}
		s.accounts = append(s.accounts, acc)
	}
	m.logger.Info("UniPass wallet connected", zap.String("address", addrs[0].Hex()), zap.Int("accounts", len(addrs)))
	return s, nil
}

type session struct {
	client   Client
	accounts []entity.Account

	mu    sync.RWMutex
	chain port.ChainClient
}

func (s *session) current() port.ChainClient {
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
	return &signer{session: s}
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

// signer signs through the hosted signer and broadcasts through the chain client.
type signer struct {
	session *session
}

var _ port.Signer = (*signer)(nil)

func (s *signer) Address() common.Address {
	return s.session.accounts[0].Address
}

func (s *signer) ChainID(ctx context.Context) (*big.Int, error) {
	return s.session.current().ChainID(ctx)
}

func (s *signer) SignMessage(ctx context.Context, msg []byte) ([]byte, error) {
	var sig hexutil.Bytes
	if err := s.session.client.Call(ctx, &sig, "account_signData", "text/plain", s.Address().Hex(), hexutil.Bytes(msg)); err != nil {
		return nil, err
	}
	return normalizeSignature(sig)
}

func (s *signer) SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error) {
	var sig hexutil.Bytes
	if err := s.session.client.Call(ctx, &sig, "account_signTypedData", s.Address().Hex(), data); err != nil {
		return nil, err
	}
	return normalizeSignature(sig)
}

// SendTransaction lets the chain client fill fees, has the signer sign and broadcasts the result.
func (s *signer) SendTransaction(ctx context.Context, req entity.TxRequest) (common.Hash, error) {
	chain := s.session.current()
	req.From = s.Address()
	tx, err := chain.PrepareTransfer(ctx, req)
	if err != nil {
		return common.Hash{}, err
	}

	data := hexutil.Bytes(tx.Data())
	to := common.NewMixedcaseAddress(*tx.To())
	args := apitypes.SendTxArgs{
		From:                 common.NewMixedcaseAddress(req.From),
		To:                   &to,
		Gas:                  hexutil.Uint64(tx.Gas()),
		MaxFeePerGas:         (*hexutil.Big)(tx.GasFeeCap()),
		MaxPriorityFeePerGas: (*hexutil.Big)(tx.GasTipCap()),
		Value:                hexutil.Big(*tx.Value()),
		Nonce:                hexutil.Uint64(tx.Nonce()),
		Data:                 &data,
		ChainID:              (*hexutil.Big)(tx.ChainId()),
	}

	var res apitypes.SignTransactionResult
	if err := s.session.client.Call(ctx, &res, "account_signTransaction", args); err != nil {
		return common.Hash{}, err
	}
	signed := new(types.Transaction)
	if err := signed.UnmarshalBinary(res.Raw); err != nil {
		return common.Hash{}, fmt.Errorf("decode signed transaction: %w", err)
	}
	if err := chain.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, err
	}
	return signed.Hash(), nil
}

func normalizeSignature(sig []byte) ([]byte, error) {
	if len(sig) != crypto.SignatureLength {
		return nil, fmt.Errorf("unexpected signature length %d", len(sig))
	}
	out := append([]byte(nil), sig...)
	if out[crypto.RecoveryIDOffset] < 27 {
		out[crypto.RecoveryIDOffset] += 27
	}
	return out, nil
}
