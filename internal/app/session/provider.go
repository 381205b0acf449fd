package session

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"wallet_playground/internal/app/port"
)

// chainProvider pairs the chain client a wallet is bound to with the wallet's signer.
type chainProvider struct {
	chain  port.ChainClient
	signer port.Signer
}

func newProvider(chain port.ChainClient, signer port.Signer) port.Provider {
	return &chainProvider{chain: chain, signer: signer}
}

func (p *chainProvider) GetBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	return p.chain.NativeBalance(ctx, address)
}

func (p *chainProvider) GetSigner() port.Signer {
	return p.signer
}

func (p *chainProvider) WaitForTransaction(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return p.chain.WaitMined(ctx, hash)
}

func (p *chainProvider) Chain() port.ChainClient {
	return p.chain
}
