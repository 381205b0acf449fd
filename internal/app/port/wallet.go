package port

import (
	"context"
	"math/big"

	"wallet_playground/internal/domain/entity"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Signer is an unlocked account able to sign and submit on the chain it is bound to.
type Signer interface {
	Address() common.Address
	ChainID(ctx context.Context) (*big.Int, error)

	// SignMessage signs msg with the EIP-191 personal prefix. V is 27 or 28.
	SignMessage(ctx context.Context, msg []byte) ([]byte, error)

	// SignTypedData signs an EIP-712 payload. V is 27 or 28.
	SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error)

	// SendTransaction submits a transfer and returns its hash without waiting for it.
	SendTransaction(ctx context.Context, req entity.TxRequest) (common.Hash, error)
}

// Provider is the handle the page works with while a wallet is connected.
type Provider interface {
	GetBalance(ctx context.Context, address common.Address) (*big.Int, error)
	GetSigner() Signer
	WaitForTransaction(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	Chain() ChainClient
}

// ConnectHooks lets a wallet module report out-of-band events of a session.
type ConnectHooks struct {
	// OnPairingURI is called when a remote wallet must be paired (e.g. show a QR code).
	OnPairingURI func(uri string)
	// OnDisconnect is called when the wallet ends the session on its own.
	OnDisconnect func(reason error)
	// OnChange is called when the wallet moves to another chain or account on its own.
	// chainID is 0 and accounts is empty for the part that did not change.
	OnChange func(chainID uint64, accounts []entity.Account)
}

// WalletModule is one wallet type offered to the user.
type WalletModule interface {
	Label() string
	Kind() entity.WalletKind
	// Available reports whether the module can be selected right now.
	Available() bool
	// PreferredChainID is the chain to connect to when none was requested, 0 for no preference.
	PreferredChainID() uint64
	Connect(ctx context.Context, chain ChainClient, hooks ConnectHooks) (WalletSession, error)
}

// WalletSession is a live connection produced by a WalletModule.
type WalletSession interface {
	Accounts() []entity.Account
	Signer() Signer
	SwitchChain(ctx context.Context, chain ChainClient) error
	// BindChain rebinds the session to chain without asking the wallet, after the wallet switched itself.
	BindChain(chain ChainClient)
	Close(ctx context.Context) error
}
