package injected

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"wallet_playground/internal/app/port"
	"wallet_playground/internal/domain/entity"
)

// KeySigner signs with a private key held in memory and submits through a chain client.
type KeySigner struct {
	key    *ecdsa.PrivateKey
	client func() port.ChainClient
}

// NewKeySigner binds key to the chain returned by client at call time.
func NewKeySigner(key *ecdsa.PrivateKey, client func() port.ChainClient) *KeySigner {
	return &KeySigner{key: key, client: client}
}

var _ port.Signer = (*KeySigner)(nil)

func (s *KeySigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

func (s *KeySigner) ChainID(ctx context.Context) (*big.Int, error) {
	return s.client().ChainID(ctx)
}

// SignMessage signs the EIP-191 personal message hash of msg.
func (s *KeySigner) SignMessage(_ context.Context, msg []byte) ([]byte, error) {
	return s.signHash(accounts.TextHash(msg))
}

// SignTypedData signs the EIP-712 digest of data.
func (s *KeySigner) SignTypedData(_ context.Context, data apitypes.TypedData) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %w", err)
	}
	return s.signHash(hash)
}

func (s *KeySigner) signHash(hash []byte) ([]byte, error) {
	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// SendTransaction prepares, signs and broadcasts a transfer from the signer's address.
func (s *KeySigner) SendTransaction(ctx context.Context, req entity.TxRequest) (common.Hash, error) {
	client := s.client()
	req.From = s.Address()
	tx, err := client.PrepareTransfer(ctx, req)
	if err != nil {
		return common.Hash{}, err
	}
	chainID := new(big.Int).SetUint64(client.Definition().ID)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, err
	}
	return signed.Hash(), nil
}
