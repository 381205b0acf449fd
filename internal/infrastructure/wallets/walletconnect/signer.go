package walletconnect

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"wallet_playground/internal/app/port"
	"wallet_playground/internal/domain/entity"
)

// remoteSigner forwards every signing request to the paired wallet.
type remoteSigner struct {
	session *session
}

var _ port.Signer = (*remoteSigner)(nil)

func (r *remoteSigner) Address() common.Address {
	accounts := r.session.Accounts()
	if len(accounts) == 0 {
		return common.Address{}
	}
	return accounts[0].Address
}

// ChainID is the chain the wallet last reported.
func (r *remoteSigner) ChainID(context.Context) (*big.Int, error) {
	return r.session.currentChainID(), nil
}

func (r *remoteSigner) SignMessage(ctx context.Context, msg []byte) ([]byte, error) {
	raw, err := r.session.call(ctx, methodPersonalSign, hexutil.Encode(msg), r.Address().Hex())
	if err != nil {
		return nil, err
	}
	return decodeSignature(raw)
}

func (r *remoteSigner) SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal typed data: %w", err)
	}
	raw, err := r.session.call(ctx, methodSignTypedData, r.Address().Hex(), string(encoded))
	if err != nil {
		return nil, err
	}
	return decodeSignature(raw)
}

func (r *remoteSigner) SendTransaction(ctx context.Context, req entity.TxRequest) (common.Hash, error) {
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	raw, err := r.session.call(ctx, methodSendTx, txParams{
		From:  r.Address().Hex(),
		To:    req.To.Hex(),
		Value: hexutil.EncodeBig(value),
		Data:  hexutil.Encode(req.Data),
	})
	if err != nil {
		return common.Hash{}, err
	}
	var hash string
	if err := json.Unmarshal(raw, &hash); err != nil {
		return common.Hash{}, fmt.Errorf("decode transaction hash: %w", err)
	}
	b, err := hexutil.Decode(hash)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("wallet returned invalid transaction hash %q", hash)
	}
	return common.BytesToHash(b), nil
}

// decodeSignature accepts a JSON hex string and normalizes V to 27/28.
func decodeSignature(raw []byte) ([]byte, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	sig, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("decode signature hex: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return nil, fmt.Errorf("unexpected signature length %d", len(sig))
	}
	if sig[crypto.RecoveryIDOffset] < 27 {
		sig[crypto.RecoveryIDOffset] += 27
	}
	return sig, nil
}
