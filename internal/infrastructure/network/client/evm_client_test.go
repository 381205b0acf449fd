package client

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wallet_playground/internal/domain/entity"
	"wallet_playground/internal/pkg/testchain"
)

var recipient = common.HexToAddress("0x2B6c74b4e8631854051B1A821029005476C3AF06")

func newSimClient(t *testing.T, balances ...*big.Int) (*EVMClient, *testchain.Sim) {
	t.Helper()
	sim := testchain.New(t, balances...)
	c := NewEVMClientWithBackend(testchain.Chain, sim.Client, Options{
		CallTimeout:    5 * time.Second,
		RateLimit:      1000,
		ReceiptPoll:    10 * time.Millisecond,
		ReceiptTimeout: 10 * time.Second,
	}, zap.NewNop())
	return c, sim
}

func TestEVMClientChainAndBalance(t *testing.T) {
	c, sim := newSimClient(t, testchain.Ether)
	ctx := context.Background()

	id, err := c.ChainID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(testchain.ChainID), id.Uint64())

	balance, err := c.NativeBalance(ctx, sim.Address(0))
	require.NoError(t, err)
	assert.Equal(t, 0, balance.Cmp(testchain.Ether))

	code, err := c.CodeAt(ctx, sim.Address(0))
	require.NoError(t, err)
	assert.Empty(t, code)
}

func TestEVMClientTransferRoundTrip(t *testing.T) {
	c, sim := newSimClient(t, testchain.Ether)
	ctx := context.Background()
	value := big.NewInt(1_000_000_000_000_000)

	tx, err := c.PrepareTransfer(ctx, entity.TxRequest{From: sim.Address(0), To: recipient, Value: value})
	require.NoError(t, err)
	assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
	assert.Equal(t, uint64(21000), tx.Gas())

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(big.NewInt(testchain.ChainID)), sim.Keys[0])
	require.NoError(t, err)
	require.NoError(t, c.SendTransaction(ctx, signed))

	receipt, err := c.WaitMined(ctx, signed.Hash())
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
	assert.Len(t, receipt.TxHash.Hex(), 66)

	got, err := c.NativeBalance(ctx, recipient)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Cmp(value))
}

func TestEVMClientPrepareTransferInsufficientFunds(t *testing.T) {
	c, sim := newSimClient(t, big.NewInt(1000))

	_, err := c.PrepareTransfer(context.Background(), entity.TxRequest{
		From:  sim.Address(0),
		To:    recipient,
		Value: big.NewInt(1_000_000_000_000_000),
	})
	require.ErrorIs(t, err, entity.ErrInsufficientFunds)
}

func TestEVMClientPrepareTransferCannotCoverFees(t *testing.T) {
	c, sim := newSimClient(t, big.NewInt(1000))

	_, err := c.PrepareTransfer(context.Background(), entity.TxRequest{
		From:  sim.Address(0),
		To:    recipient,
		Value: big.NewInt(1),
	})
	require.ErrorIs(t, err, entity.ErrInsufficientFunds)
}

func TestEVMClientWaitMinedHonoursContext(t *testing.T) {
	c, _ := newSimClient(t, testchain.Ether)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.WaitMined(ctx, common.HexToHash("0x01"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewEVMClientRejectsEmptyURLs(t *testing.T) {
	_, err := NewEVMClient(entity.Chain{ID: 5, Label: "Broken"}, Options{}, zap.NewNop())
	require.Error(t, err)
}

func TestProviderCachesByChain(t *testing.T) {
	p := NewEVMClientProvider(Options{}, zap.NewNop())
	defer p.Close()

	chain := entity.Chain{ID: 5, Label: "Goerli", RPCURL: "http://127.0.0.1:1"}
	first, err := p.GetClient(chain)
	require.NoError(t, err)
	second, err := p.GetClient(chain)
	require.NoError(t, err)
	assert.Same(t, first, second)

	chain.RPCURL = "http://127.0.0.1:2"
	third, err := p.GetClient(chain)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
}

func TestProviderSurfacesMalformedURL(t *testing.T) {
	p := NewEVMClientProvider(Options{}, zap.NewNop())
	_, err := p.GetClient(entity.Chain{ID: 5, Label: "Goerli", RPCURL: "ftp://nowhere"})
	require.Error(t, err)
}
