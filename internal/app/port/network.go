package port

import (
	"context"
	"math/big"

	"wallet_playground/internal/domain/entity"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ChainClient defines the interface for interacting with a blockchain network.
type ChainClient interface {
	// Definition returns the chain this client is bound to.
	Definition() entity.Chain

	// ChainID asks the node which chain it serves.
	ChainID(ctx context.Context) (*big.Int, error)

	// NativeBalance fetches the native currency balance of an address in base units.
	NativeBalance(ctx context.Context, address common.Address) (*big.Int, error)

	CodeAt(ctx context.Context, address common.Address) ([]byte, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)

	// PrepareTransfer fills nonce, fees and gas of an unsigned EIP-1559 transaction.
	// It fails with entity.ErrInsufficientFunds when the sender cannot cover value and fees.
	PrepareTransfer(ctx context.Context, req entity.TxRequest) (*types.Transaction, error)

	// SendTransaction broadcasts a signed transaction.
	SendTransaction(ctx context.Context, tx *types.Transaction) error

	// WaitMined blocks until the transaction has a receipt or ctx is done.
	WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// ChainClientProvider defines the interface for providing chain clients.
type ChainClientProvider interface {
	GetClient(chain entity.Chain) (ChainClient, error)
}
