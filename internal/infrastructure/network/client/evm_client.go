package client

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"wallet_playground/internal/app/port"
	"wallet_playground/internal/domain/entity"
	"wallet_playground/internal/pkg/metrics"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Backend is the part of a node connection the client needs.
// Both *ethclient.Client and the simulated backend client satisfy it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Options tune timeouts and rate limiting of a client.
type Options struct {
	ConnectTimeout time.Duration
	CallTimeout    time.Duration
	RateLimit      int
	BurstLimit     int
	ReceiptPoll    time.Duration
	ReceiptTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 10 * time.Second
	}
	if o.RateLimit <= 0 {
		o.RateLimit = 10
	}
	if o.BurstLimit <= 0 {
		o.BurstLimit = o.RateLimit
	}
	if o.ReceiptPoll <= 0 {
		o.ReceiptPoll = time.Second
	}
	if o.ReceiptTimeout <= 0 {
		o.ReceiptTimeout = 3 * time.Minute
	}
	return o
}

// EVMClient implements port.ChainClient for EVM-compatible chains.
type EVMClient struct {
	backend Backend
	chain   entity.Chain
	opts    Options
	limiter *rate.Limiter
	logger  *zap.Logger
	label   string
}

// NewEVMClient dials the primary RPC URL of chain, then its fallbacks.
func NewEVMClient(chain entity.Chain, opts Options, logger *zap.Logger) (*EVMClient, error) {
	opts = opts.withDefaults()
	rpcURLs := append([]string{chain.RPCURL}, chain.FallbackRPCURLs...)
	var lastErr error

	for _, rpcURL := range rpcURLs {
		if strings.TrimSpace(rpcURL) == "" {
			lastErr = errors.New("empty RPC URL")
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
		client, err := ethclient.DialContext(ctx, rpcURL)
		cancel()

		if err == nil {
			logger.Debug("Dialed RPC endpoint", zap.Uint64("chain_id", chain.ID), zap.String("rpc", rpcURL))
			return NewEVMClientWithBackend(chain, client, opts, logger), nil
		}
		lastErr = fmt.Errorf("failed to connect to RPC %s: %w", rpcURL, err)
	}

	return nil, fmt.Errorf("all RPC connection attempts failed for chain %s: %w", chain, lastErr)
}

// NewEVMClientWithBackend wraps an already connected backend.
func NewEVMClientWithBackend(chain entity.Chain, backend Backend, opts Options, logger *zap.Logger) *EVMClient {
	opts = opts.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EVMClient{
		backend: backend,
		chain:   chain,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RateLimit), opts.BurstLimit),
		logger:  logger.With(zap.Uint64("chain_id", chain.ID)),
		label:   strconv.FormatUint(chain.ID, 10),
	}
}

var _ port.ChainClient = (*EVMClient)(nil)

// Definition returns the chain definition for this client.
func (c *EVMClient) Definition() entity.Chain {
	return c.chain
}

// call waits for the limiter, applies the per-call timeout and records the outcome.
func (c *EVMClient) call(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limiter: %w", method, err)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()

	err := fn(callCtx)
	metrics.ObserveRPC(c.label, method, err)
	if err != nil && !errors.Is(err, ethereum.NotFound) {
		c.logger.Debug("RPC call failed", zap.String("method", method), zap.Error(err))
	}
	return err
}

func (c *EVMClient) ChainID(ctx context.Context) (*big.Int, error) {
	var id *big.Int
	err := c.call(ctx, "eth_chainId", func(ctx context.Context) (err error) {
		id, err = c.backend.ChainID(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chain id: %w", err)
	}
	return id, nil
}

func (c *EVMClient) NativeBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	var balance *big.Int
	err := c.call(ctx, "eth_getBalance", func(ctx context.Context) (err error) {
		balance, err = c.backend.BalanceAt(ctx, address, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch balance of %s: %w", address.Hex(), err)
	}
	if balance == nil {
		balance = new(big.Int)
	}
	return balance, nil
}

func (c *EVMClient) CodeAt(ctx context.Context, address common.Address) ([]byte, error) {
	var code []byte
	err := c.call(ctx, "eth_getCode", func(ctx context.Context) (err error) {
		code, err = c.backend.CodeAt(ctx, address, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch code of %s: %w", address.Hex(), err)
	}
	return code, nil
}

func (c *EVMClient) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	var out []byte
	err := c.call(ctx, "eth_call", func(ctx context.Context) (err error) {
		out, err = c.backend.CallContract(ctx, msg, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("contract call failed: %w", err)
	}
	return out, nil
}

// PrepareTransfer builds an unsigned dynamic fee transaction for req.
// Fee cap is tip + 2*baseFee, the usual headroom for one block of base fee growth.
func (c *EVMClient) PrepareTransfer(ctx context.Context, req entity.TxRequest) (*types.Transaction, error) {
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	balance, err := c.NativeBalance(ctx, req.From)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(value) < 0 {
		return nil, fmt.Errorf("%w: balance %s wei, value %s wei", entity.ErrInsufficientFunds, balance, value)
	}

	var nonce uint64
	if err := c.call(ctx, "eth_getTransactionCount", func(ctx context.Context) (err error) {
		nonce, err = c.backend.PendingNonceAt(ctx, req.From)
		return err
	}); err != nil {
		return nil, fmt.Errorf("failed to fetch nonce: %w", err)
	}

	var tip *big.Int
	if err := c.call(ctx, "eth_maxPriorityFeePerGas", func(ctx context.Context) (err error) {
		tip, err = c.backend.SuggestGasTipCap(ctx)
		return err
	}); err != nil {
		return nil, fmt.Errorf("failed to suggest gas tip: %w", err)
	}

	var head *types.Header
	if err := c.call(ctx, "eth_getBlockByNumber", func(ctx context.Context) (err error) {
		head, err = c.backend.HeaderByNumber(ctx, nil)
		return err
	}); err != nil {
		return nil, fmt.Errorf("failed to fetch latest header: %w", err)
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = new(big.Int)
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(baseFee, big.NewInt(2)))

	to := req.To
	var gas uint64
	if err := c.call(ctx, "eth_estimateGas", func(ctx context.Context) (err error) {
		gas, err = c.backend.EstimateGas(ctx, ethereum.CallMsg{From: req.From, To: &to, Value: value, Data: req.Data})
		return err
	}); err != nil {
		return nil, classifyTxError(fmt.Errorf("failed to estimate gas: %w", err))
	}

	cost := new(big.Int).Mul(feeCap, new(big.Int).SetUint64(gas))
	cost.Add(cost, value)
	if balance.Cmp(cost) < 0 {
		return nil, fmt.Errorf("%w: balance %s wei, needs %s wei", entity.ErrInsufficientFunds, balance, cost)
	}

	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   new(big.Int).SetUint64(c.chain.ID),
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      req.Data,
	}), nil
}

func (c *EVMClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	err := c.call(ctx, "eth_sendRawTransaction", func(ctx context.Context) error {
		return c.backend.SendTransaction(ctx, tx)
	})
	if err != nil {
		return classifyTxError(fmt.Errorf("failed to send transaction %s: %w", tx.Hash().Hex(), err))
	}
	c.logger.Info("Transaction broadcast", zap.String("hash", tx.Hash().Hex()))
	return nil
}

// WaitMined polls for the receipt until it exists, ctx is done or the receipt timeout passes.
func (c *EVMClient) WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(c.opts.ReceiptPoll)
	defer ticker.Stop()

	for {
		var receipt *types.Receipt
		err := c.call(ctx, "eth_getTransactionReceipt", func(ctx context.Context) (err error) {
			receipt, err = c.backend.TransactionReceipt(ctx, hash)
			return err
		})
		switch {
		case err == nil && receipt != nil:
			return receipt, nil
		case err != nil && !errors.Is(err, ethereum.NotFound) && ctx.Err() == nil:
			c.logger.Warn("Receipt lookup failed, retrying", zap.String("hash", hash.Hex()), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for transaction %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// Close releases the underlying connection when the backend has one.
func (c *EVMClient) Close() {
	if closer, ok := c.backend.(interface{ Close() }); ok {
		closer.Close()
	}
}

func classifyTxError(err error) error {
	if strings.Contains(strings.ToLower(err.Error()), "insufficient funds") {
		return fmt.Errorf("%w: %v", entity.ErrInsufficientFunds, err)
	}
	return err
}
