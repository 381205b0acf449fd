package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/spruceid/siwe-go"
	"golang.org/x/sync/errgroup"

	"wallet_playground/internal/app/port"
	"wallet_playground/internal/domain/entity"
	"wallet_playground/internal/pkg/logger"
	"wallet_playground/internal/pkg/metrics"
	"wallet_playground/internal/pkg/utils"
)

const (
	DefaultMessage   = "web3-react test message"
	DefaultStatement = "This is a test statement."
	DefaultTxTo      = "0x2B6c74b4e8631854051B1A821029005476C3AF06"
)

// DefaultTxValue is 0.001 of the native token.
var DefaultTxValue = big.NewInt(1_000_000_000_000_000)

// PageControllerOptions configures a PageController. Zero fields take the defaults above.
type PageControllerOptions struct {
	Sessions port.SessionManager
	Verifier port.SiweVerifier
	Nonces   port.NonceRegistry
	Logger   port.Logger

	Message   string
	Statement string
	TxTo      common.Address
	TxValue   *big.Int
	// SiweExpiration sets the expiration time of sign-in messages, 0 for none.
	SiweExpiration time.Duration
	Now            func() time.Time
}

// identity is what a result is checked against before it is committed.
type identity struct {
	connectionID uint64
	generation   uint64
}

// PageController is the view-model of the page.
// All mutation of ViewState goes through its methods.
type PageController struct {
	sessions       port.SessionManager
	verifier       port.SiweVerifier
	nonces         port.NonceRegistry
	logger         port.Logger
	message        string
	statement      string
	txTo           common.Address
	txValue        *big.Int
	siweExpiration time.Duration
	now            func() time.Time

	mu         sync.RWMutex
	state      entity.ViewState
	provider   port.Provider
	generation uint64

	unsubscribe func()
}

// NewPageController creates the controller and subscribes it to wallet changes:
// every new connection or chain triggers a balance and chain refresh.
func NewPageController(opts PageControllerOptions) (*PageController, error) {
	if opts.Sessions == nil {
		return nil, errors.New("page controller: session manager is required")
	}
	if opts.Verifier == nil {
		return nil, errors.New("page controller: sign-in verifier is required")
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	c := &PageController{
		sessions:       opts.Sessions,
		verifier:       opts.Verifier,
		nonces:         opts.Nonces,
		logger:         opts.Logger,
		message:        opts.Message,
		statement:      opts.Statement,
		txTo:           opts.TxTo,
		txValue:        opts.TxValue,
		siweExpiration: opts.SiweExpiration,
		now:            opts.Now,
		state:          entity.EmptyViewState(),
	}
	if c.message == "" {
		c.message = DefaultMessage
	}
	if c.statement == "" {
		c.statement = DefaultStatement
	}
	if c.txTo == (common.Address{}) {
		c.txTo = common.HexToAddress(DefaultTxTo)
	}
	if c.txValue == nil {
		c.txValue = new(big.Int).Set(DefaultTxValue)
	}
	if c.now == nil {
		c.now = time.Now
	}

	c.unsubscribe = c.sessions.Subscribe(c.onWalletState)
	if st := c.sessions.State(); st.Wallet != nil {
		c.onWalletState(context.Background(), st)
	}
	return c, nil
}

var _ port.PageService = (*PageController)(nil)

// Close detaches the controller from the session manager.
func (c *PageController) Close() {
	c.unsubscribe()
}

// State returns a snapshot of the view-model.
func (c *PageController) State() entity.ViewState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Clone()
}

// Config exposes the connection context configuration for the page.
func (c *PageController) Config() port.SessionConfig {
	return c.sessions.Config()
}

func (c *PageController) identityLocked() identity {
	id := identity{generation: c.generation}
	if c.state.Wallet != nil {
		id.connectionID = c.state.Wallet.ID
	}
	return id
}

// resetLocked drops everything derived from the wallet.
func (c *PageController) resetLocked() {
	c.state = entity.EmptyViewState()
	c.provider = nil
	c.generation++
}

func (c *PageController) onWalletState(ctx context.Context, st port.WalletState) {
	c.mu.Lock()
	if st.Wallet == nil {
		if c.state.Wallet != nil {
			c.logger.Info("Wallet gone, resetting page state", "label", c.state.Wallet.Label)
			c.resetLocked()
		}
		c.state.Status = entity.StatusDisconnected
		if st.Connecting {
			c.state.Status = entity.StatusConnecting
		}
		c.state.PairingURI = st.PairingURI
		c.mu.Unlock()
		return
	}

	prev := c.state.Wallet
	if prev != nil && prev.ID == st.Wallet.ID && prev.Chain.ID == st.Wallet.Chain.ID &&
		primaryAddress(prev) == primaryAddress(st.Wallet) {
		c.mu.Unlock()
		return
	}
	if prev == nil || prev.ID != st.Wallet.ID || primaryAddress(prev) != primaryAddress(st.Wallet) {
		c.resetLocked()
	} else {
		c.generation++
	}
	wallet := *st.Wallet
	c.state.Wallet = &wallet
	c.state.Status = entity.StatusConnected
	if acc, ok := wallet.PrimaryAccount(); ok {
		c.state.Address = acc.Address.Hex()
	}
	c.provider = st.Provider
	c.mu.Unlock()

	if err := c.Refresh(ctx); err != nil {
		c.logger.Warn("Refresh after wallet change failed", "error", err)
	}
}

func primaryAddress(w *entity.WalletConnection) common.Address {
	acc, _ := w.PrimaryAccount()
	return acc.Address
}

// begin captures the identity an operation runs against.
func (c *PageController) begin() (identity, port.Provider, entity.WalletConnection, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state.Status != entity.StatusConnected || c.provider == nil || c.state.Wallet == nil {
		return identity{}, nil, entity.WalletConnection{}, entity.ErrNotConnected
	}
	return c.identityLocked(), c.provider, *c.state.Wallet, nil
}

// commit applies a result if the wallet did not change in the meantime.
func (c *PageController) commit(op entity.Operation, id identity, apply func(s *entity.ViewState)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identityLocked() != id {
		return entity.ErrStaleResult
	}
	apply(&c.state)
	delete(c.state.Errors, op)
	return nil
}

// fail records and logs err as a failure of op. Stale results leave the state untouched.
func (c *PageController) fail(op entity.Operation, kind entity.ErrorKind, id *identity, err error) error {
	opErr := entity.NewOperationError(op, kind, err)
	if errors.Is(err, entity.ErrStaleResult) {
		c.logger.Warn("Discarding late result", "operation", op)
		return opErr
	}
	c.mu.Lock()
	if id == nil || c.identityLocked() == *id {
		c.state.Errors[op] = err.Error()
	}
	c.mu.Unlock()
	c.logger.Error("Operation failed", "operation", op, "kind", kind, "error", err)
	return opErr
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, entity.ErrStaleResult):
		return metrics.OutcomeStale
	default:
		return metrics.OutcomeError
	}
}

func observe(op entity.Operation, started time.Time, err *error) {
	metrics.ObserveOperation(string(op), outcome(*err), started)
}

// Connect asks the session manager for a wallet. It returns once balance and chain are refreshed.
func (c *PageController) Connect(ctx context.Context, opts entity.ConnectOptions) (err error) {
	defer observe(entity.OpConnect, time.Now(), &err)

	if _, err := c.sessions.Connect(ctx, opts); err != nil {
		return c.fail(entity.OpConnect, entity.KindConnection, nil, err)
	}
	c.mu.Lock()
	delete(c.state.Errors, entity.OpConnect)
	c.mu.Unlock()
	return nil
}

// Disconnect tears the wallet down and resets the page. The reset happens even if teardown fails.
func (c *PageController) Disconnect(ctx context.Context) (err error) {
	defer observe(entity.OpDisconnect, time.Now(), &err)

	c.mu.RLock()
	label := ""
	if c.state.Wallet != nil {
		label = c.state.Wallet.Label
	}
	c.mu.RUnlock()

	teardownErr := c.sessions.Disconnect(ctx, label)

	c.mu.Lock()
	c.resetLocked()
	c.mu.Unlock()

	if teardownErr != nil {
		c.logger.Warn("Wallet teardown failed, page state reset anyway", "label", label, "error", teardownErr)
		return entity.NewOperationError(entity.OpDisconnect, entity.KindConnection, teardownErr)
	}
	c.logger.Info("Page state reset", "label", label)
	return nil
}

// SwitchChain moves the wallet to another chain. Balance and chain are refreshed by the observer.
func (c *PageController) SwitchChain(ctx context.Context, chainID uint64) (err error) {
	defer observe(entity.OpSwitchChain, time.Now(), &err)

	if _, _, _, err := c.begin(); err != nil {
		return c.fail(entity.OpSwitchChain, entity.KindConnection, nil, err)
	}
	if err := c.sessions.SetChain(ctx, chainID); err != nil {
		return c.fail(entity.OpSwitchChain, entity.KindConnection, nil, err)
	}
	c.mu.Lock()
	delete(c.state.Errors, entity.OpSwitchChain)
	c.mu.Unlock()
	return nil
}

// Refresh reloads the balance of the primary account and the chain id of the signer.
// Both lookups run concurrently and write disjoint fields.
func (c *PageController) Refresh(ctx context.Context) (err error) {
	defer observe(entity.OpRefresh, time.Now(), &err)

	id, provider, wallet, err := c.begin()
	if err != nil {
		return c.fail(entity.OpRefresh, entity.KindConnection, nil, err)
	}
	acc, ok := wallet.PrimaryAccount()
	if !ok {
		return c.fail(entity.OpRefresh, entity.KindConnection, &id, entity.ErrNoAccounts)
	}

	var g errgroup.Group
	g.Go(func() error {
		wei, err := provider.GetBalance(ctx, acc.Address)
		if err != nil {
			return fmt.Errorf("balance: %w", err)
		}
		formatted, err := utils.FormatBigInt(wei, displayDecimals(wallet.Chain))
		if err != nil {
			return fmt.Errorf("balance: %w", err)
		}
		return c.commit(entity.OpRefresh, id, func(s *entity.ViewState) { s.Balance = formatted })
	})
	g.Go(func() error {
		chainID, err := provider.GetSigner().ChainID(ctx)
		if err != nil {
			return fmt.Errorf("chain id: %w", err)
		}
		return c.commit(entity.OpRefresh, id, func(s *entity.ViewState) { s.ChainID = chainID.Uint64() })
	})
	if err := g.Wait(); err != nil {
		return c.fail(entity.OpRefresh, entity.KindConnection, &id, err)
	}
	c.logger.Debug("Wallet refreshed", "address", acc.Address.Hex(), "chain_id", wallet.Chain.ID)
	return nil
}

func displayDecimals(chain entity.Chain) uint8 {
	if chain.Decimals <= 0 || chain.Decimals > 255 {
		return utils.EtherDecimals
	}
	return uint8(chain.Decimals)
}

// SignMessage signs the demo message with the personal-sign prefix.
func (c *PageController) SignMessage(ctx context.Context) (signature string, err error) {
	defer observe(entity.OpSignMessage, time.Now(), &err)

	id, provider, _, err := c.begin()
	if err != nil {
		return "", c.fail(entity.OpSignMessage, entity.KindSigning, nil, err)
	}
	sig, err := provider.GetSigner().SignMessage(ctx, []byte(c.message))
	if err != nil {
		return "", c.fail(entity.OpSignMessage, entity.KindSigning, &id, err)
	}
	signature = hexutil.Encode(sig)
	if err := c.commit(entity.OpSignMessage, id, func(s *entity.ViewState) { s.Signature = signature }); err != nil {
		return "", c.fail(entity.OpSignMessage, entity.KindSigning, &id, err)
	}
	c.logger.Info("Message signed", "address", provider.GetSigner().Address().Hex())
	return signature, nil
}

// SignTypedData signs the Ether Mail payload.
func (c *PageController) SignTypedData(ctx context.Context) (signature string, err error) {
	defer observe(entity.OpSignTypedData, time.Now(), &err)

	id, provider, _, err := c.begin()
	if err != nil {
		return "", c.fail(entity.OpSignTypedData, entity.KindSigning, nil, err)
	}
	sig, err := provider.GetSigner().SignTypedData(ctx, EtherMailTypedData())
	if err != nil {
		return "", c.fail(entity.OpSignTypedData, entity.KindSigning, &id, err)
	}
	signature = hexutil.Encode(sig)
	if err := c.commit(entity.OpSignTypedData, id, func(s *entity.ViewState) { s.TypedSignature = signature }); err != nil {
		return "", c.fail(entity.OpSignTypedData, entity.KindSigning, &id, err)
	}
	c.logger.Info("Typed data signed", "address", provider.GetSigner().Address().Hex())
	return signature, nil
}

// SignIn builds a sign-in message for origin and the active account, and signs it.
func (c *PageController) SignIn(ctx context.Context, origin entity.Origin) (result entity.SiweResult, err error) {
	defer observe(entity.OpSignIn, time.Now(), &err)

	id, provider, wallet, err := c.begin()
	if err != nil {
		return result, c.fail(entity.OpSignIn, entity.KindSigning, nil, err)
	}
	c.mu.RLock()
	chainID := c.state.ChainID
	c.mu.RUnlock()
	if chainID == 0 {
		chainID = wallet.Chain.ID
	}

	var nonce string
	if c.nonces != nil {
		nonce = c.nonces.Issue()
	} else {
		nonce = siwe.GenerateNonce()
	}
	issuedAt := c.now().UTC()
	options := map[string]interface{}{
		"statement": c.statement,
		"chainId":   int(chainID),
		"issuedAt":  issuedAt.Format(time.RFC3339),
	}
	if c.siweExpiration > 0 {
		options["expirationTime"] = issuedAt.Add(c.siweExpiration).Format(time.RFC3339)
	}
	signer := provider.GetSigner()
	msg, err := siwe.InitMessage(origin.Host, signer.Address().Hex(), origin.URI, nonce, options)
	if err != nil {
		return result, c.fail(entity.OpSignIn, entity.KindSigning, &id, err)
	}
	text := msg.String()

	sig, err := signer.SignMessage(ctx, []byte(text))
	if err != nil {
		return result, c.fail(entity.OpSignIn, entity.KindSigning, &id, err)
	}
	result = entity.SiweResult{Message: text, Signature: hexutil.Encode(sig)}
	err = c.commit(entity.OpSignIn, id, func(s *entity.ViewState) {
		s.SiweMessage = result.Message
		s.SiweSignature = result.Signature
		s.Verification = nil
	})
	if err != nil {
		return entity.SiweResult{}, c.fail(entity.OpSignIn, entity.KindSigning, &id, err)
	}
	c.logger.Info("Sign-in message signed", "address", signer.Address().Hex(), "domain", origin.Host, "chain_id", chainID)
	return result, nil
}

// Verify checks the stored sign-in signature against the active provider.
// The outcome is stored in the view state and returned, also when verification fails.
func (c *PageController) Verify(ctx context.Context) (out *entity.VerificationOutcome, err error) {
	defer observe(entity.OpVerify, time.Now(), &err)

	id, provider, _, err := c.begin()
	if err != nil {
		return nil, c.fail(entity.OpVerify, entity.KindVerification, nil, err)
	}
	c.mu.RLock()
	message, signature := c.state.SiweMessage, c.state.SiweSignature
	c.mu.RUnlock()
	if message == "" || signature == "" {
		return nil, c.fail(entity.OpVerify, entity.KindVerification, &id, entity.ErrNothingToVerify)
	}

	msg, verr := c.verifier.Verify(ctx, message, signature, provider)
	out = &entity.VerificationOutcome{Valid: verr == nil, CheckedAt: c.now().UTC()}
	if msg != nil {
		out.Address = msg.GetAddress().Hex()
	}
	if verr != nil {
		out.Error = verr.Error()
	}
	if err := c.commit(entity.OpVerify, id, func(s *entity.ViewState) {
		v := *out
		s.Verification = &v
	}); err != nil {
		return nil, c.fail(entity.OpVerify, entity.KindVerification, &id, err)
	}
	c.logger.Info("Sign-in signature verified", "valid", out.Valid, "address", out.Address, "error", out.Error)
	if verr != nil {
		return out, c.fail(entity.OpVerify, entity.KindVerification, &id, verr)
	}
	return out, nil
}

// SendTransaction sends the demo transfer from the primary account and waits for its receipt.
func (c *PageController) SendTransaction(ctx context.Context) (hash string, err error) {
	defer observe(entity.OpSendTransaction, time.Now(), &err)

	id, provider, wallet, err := c.begin()
	if err != nil {
		return "", c.fail(entity.OpSendTransaction, entity.KindTransaction, nil, err)
	}
	acc, ok := wallet.PrimaryAccount()
	if !ok {
		return "", c.fail(entity.OpSendTransaction, entity.KindTransaction, &id, entity.ErrNoAccounts)
	}

	req := entity.TxRequest{From: acc.Address, To: c.txTo, Value: new(big.Int).Set(c.txValue)}
	c.logger.Info("Sending transaction",
		"from", req.From.Hex(), "to", req.To.Hex(), "value", utils.WeiToEther(req.Value), "chain_id", wallet.Chain.ID)

	txHash, err := provider.GetSigner().SendTransaction(ctx, req)
	if err != nil {
		return "", c.fail(entity.OpSendTransaction, entity.KindTransaction, &id, err)
	}
	receipt, err := provider.WaitForTransaction(ctx, txHash)
	if err != nil {
		return "", c.fail(entity.OpSendTransaction, entity.KindTransaction, &id, fmt.Errorf("wait for %s: %w", txHash.Hex(), err))
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", c.fail(entity.OpSendTransaction, entity.KindTransaction, &id,
			fmt.Errorf("%w: %s", entity.ErrTransactionReverted, receipt.TxHash.Hex()))
	}

	hash = receipt.TxHash.Hex()
	if err := c.commit(entity.OpSendTransaction, id, func(s *entity.ViewState) { s.NativeHash = hash }); err != nil {
		return "", c.fail(entity.OpSendTransaction, entity.KindTransaction, &id, err)
	}
	c.logger.Info("Transaction confirmed", "hash", hash, "block", receipt.BlockNumber, "gas_used", receipt.GasUsed)
	return hash, nil
}
