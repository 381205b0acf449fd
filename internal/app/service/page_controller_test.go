package service

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/spruceid/siwe-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wallet_playground/internal/app/port"
	"wallet_playground/internal/app/session"
	"wallet_playground/internal/app/session/sessiontest"
	"wallet_playground/internal/domain/entity"
	"wallet_playground/internal/infrastructure/network/client"
	"wallet_playground/internal/infrastructure/siweverifier"
	"wallet_playground/internal/infrastructure/wallets/injected"
	"wallet_playground/internal/pkg/logger"
	"wallet_playground/internal/pkg/testchain"
)

var (
	goerli = entity.Chain{ID: 5, Token: "GETH", Label: "Ethereum Goerli Testnet", Decimals: 18, RPCURL: "http://goerli.invalid"}
	mumbai = entity.Chain{ID: 80001, Token: "MATIC", Label: "Matic Mumbai", Decimals: 18, RPCURL: "http://mumbai.invalid"}
	alice  = common.HexToAddress("0x00000000000000000000000000000000000a11ce")

	localhost = entity.Origin{Host: "localhost:8080", URI: "http://localhost:8080"}
)

type harness struct {
	ctrl    *PageController
	manager *session.Manager
	clients *sessiontest.Clients
	wallet  *sessiontest.Module
}

// newHarness wires a controller to a fake wallet on fake chains.
func newHarness(t *testing.T, configure func(s *sessiontest.Signer)) *harness {
	t.Helper()
	h := &harness{
		clients: sessiontest.NewClients(),
		wallet: &sessiontest.Module{
			Name: "WalletConnect", WalletKind: entity.WalletKindWalletConnect, Address: alice, Configure: configure,
		},
	}
	h.manager = session.NewManager(session.Options{
		Chains:  []entity.Chain{goerli, mumbai},
		Modules: []port.WalletModule{h.wallet},
		Clients: h.clients,
		Logger:  logger.NewNop(),
	})
	nonces := siweverifier.NewNonceRegistry(time.Minute)
	ctrl, err := NewPageController(PageControllerOptions{
		Sessions: h.manager,
		Verifier: siweverifier.NewVerifier(siweverifier.Options{Nonces: nonces, RequireKnownNonce: true}, logger.NewNop()),
		Nonces:   nonces,
		Logger:   logger.NewNop(),
	})
	require.NoError(t, err)
	h.ctrl = ctrl
	t.Cleanup(h.ctrl.Close)
	return h
}

// keyedSigner makes the fake wallet sign with key.
func keyedSigner(key *ecdsa.PrivateKey) func(s *sessiontest.Signer) {
	return func(s *sessiontest.Signer) {
		s.Addr = crypto.PubkeyToAddress(key.PublicKey)
		s.SignMessageFn = func(_ context.Context, msg []byte) ([]byte, error) {
			return injected.NewKeySigner(key, nil).SignMessage(context.Background(), msg)
		}
		s.SignTypedFn = func(_ context.Context, data apitypes.TypedData) ([]byte, error) {
			return injected.NewKeySigner(key, nil).SignTypedData(context.Background(), data)
		}
	}
}

func requireKind(t *testing.T, err error, kind entity.ErrorKind, target error) {
	t.Helper()
	require.Error(t, err)
	var opErr *entity.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, kind, opErr.Kind)
	require.ErrorIs(t, err, target)
}

func recoverAddress(t *testing.T, hash []byte, sigHex string) common.Address {
	t.Helper()
	sig, err := hexutil.Decode(sigHex)
	require.NoError(t, err)
	require.Len(t, sig, crypto.SignatureLength)
	sig[crypto.RecoveryIDOffset] -= 27
	pub, err := crypto.SigToPub(hash, sig)
	require.NoError(t, err)
	return crypto.PubkeyToAddress(*pub)
}

func TestNewPageControllerRequiresCollaborators(t *testing.T) {
	manager := session.NewManager(session.Options{Clients: sessiontest.NewClients(), Logger: logger.NewNop()})

	_, err := NewPageController(PageControllerOptions{Sessions: manager})
	require.Error(t, err)
	_, err = NewPageController(PageControllerOptions{Verifier: siweverifier.NewVerifier(siweverifier.Options{}, logger.NewNop())})
	require.Error(t, err)

	ctrl, err := NewPageController(PageControllerOptions{
		Sessions: manager,
		Verifier: siweverifier.NewVerifier(siweverifier.Options{}, logger.NewNop()),
	})
	require.NoError(t, err)
	defer ctrl.Close()
	_, err = ctrl.Verify(context.Background())
	requireKind(t, err, entity.KindVerification, entity.ErrNotConnected)
}

func TestConnectRefreshesBalanceAndChain(t *testing.T) {
	h := newHarness(t, nil)
	h.clients.Client(goerli).Balance = big.NewInt(1_500_000_000_000_000_000)

	require.NoError(t, h.ctrl.Connect(context.Background(), entity.ConnectOptions{}))

	st := h.ctrl.State()
	assert.Equal(t, entity.StatusConnected, st.Status)
	assert.Equal(t, alice.Hex(), st.Address)
	assert.Equal(t, "1.5", st.Balance)
	assert.Equal(t, uint64(5), st.ChainID)
	assert.Empty(t, st.Errors)
}

func TestConnectFailureIsRecorded(t *testing.T) {
	h := newHarness(t, nil)
	h.wallet.ConnectErr = entity.ErrUserRejected

	err := h.ctrl.Connect(context.Background(), entity.ConnectOptions{})
	requireKind(t, err, entity.KindConnection, entity.ErrUserRejected)

	st := h.ctrl.State()
	assert.Equal(t, entity.StatusDisconnected, st.Status)
	assert.Contains(t, st.Errors[entity.OpConnect], "rejected")

	h.wallet.ConnectErr = nil
	require.NoError(t, h.ctrl.Connect(context.Background(), entity.ConnectOptions{}))
	assert.NotContains(t, h.ctrl.State().Errors, entity.OpConnect)
}

func TestOperationsRequireConnection(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.ctrl.SignMessage(ctx)
	requireKind(t, err, entity.KindSigning, entity.ErrNotConnected)
	_, err = h.ctrl.SignTypedData(ctx)
	requireKind(t, err, entity.KindSigning, entity.ErrNotConnected)
	_, err = h.ctrl.SignIn(ctx, localhost)
	requireKind(t, err, entity.KindSigning, entity.ErrNotConnected)
	_, err = h.ctrl.Verify(ctx)
	requireKind(t, err, entity.KindVerification, entity.ErrNotConnected)
	_, err = h.ctrl.SendTransaction(ctx)
	requireKind(t, err, entity.KindTransaction, entity.ErrNotConnected)
	err = h.ctrl.SwitchChain(ctx, 80001)
	requireKind(t, err, entity.KindConnection, entity.ErrNotConnected)
	err = h.ctrl.Refresh(ctx)
	requireKind(t, err, entity.KindConnection, entity.ErrNotConnected)

	assert.Empty(t, h.wallet.Sessions(), "no wallet was touched")
}

func TestDisconnectResetsEverything(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	h := newHarness(t, keyedSigner(key))
	h.wallet.CloseErr = errors.New("bridge unreachable")
	h.clients.Client(goerli).Balance = big.NewInt(42)
	ctx := context.Background()

	require.NoError(t, h.ctrl.Connect(ctx, entity.ConnectOptions{}))
	_, err = h.ctrl.SignMessage(ctx)
	require.NoError(t, err)
	_, err = h.ctrl.SignTypedData(ctx)
	require.NoError(t, err)
	_, err = h.ctrl.SignIn(ctx, localhost)
	require.NoError(t, err)
	_, err = h.ctrl.Verify(ctx)
	require.NoError(t, err)
	_, err = h.ctrl.SendTransaction(ctx)
	require.Error(t, err, "fake signer refuses transactions")

	st := h.ctrl.State()
	require.NotEmpty(t, st.Signature)
	require.NotEmpty(t, st.TypedSignature)
	require.NotEmpty(t, st.SiweSignature)
	require.NotNil(t, st.Verification)
	require.NotEmpty(t, st.Errors)

	err = h.ctrl.Disconnect(ctx)
	requireKind(t, err, entity.KindConnection, h.wallet.CloseErr)

	assert.Equal(t, entity.EmptyViewState(), h.ctrl.State())
	assert.Nil(t, h.manager.State().Wallet)
}

func TestDisconnectWithoutSigning(t *testing.T) {
	h := newHarness(t, nil)
	h.clients.Client(goerli).Balance = big.NewInt(42)
	require.NoError(t, h.ctrl.Connect(context.Background(), entity.ConnectOptions{}))

	require.NoError(t, h.ctrl.Disconnect(context.Background()))
	st := h.ctrl.State()
	assert.Equal(t, "0", st.Balance)
	assert.Zero(t, st.ChainID)
	assert.Equal(t, entity.StatusDisconnected, st.Status)
}

func TestRemoteDisconnectResetsPage(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.ctrl.Connect(context.Background(), entity.ConnectOptions{}))

	h.wallet.Last().Hooks.OnDisconnect(entity.ErrSessionClosed)

	assert.Equal(t, entity.EmptyViewState(), h.ctrl.State())
}

func TestWalletSideChainChangeRefreshes(t *testing.T) {
	h := newHarness(t, nil)
	h.clients.Client(mumbai).Balance = big.NewInt(3_000_000_000_000_000_000)
	require.NoError(t, h.ctrl.Connect(context.Background(), entity.ConnectOptions{ChainID: 5}))
	wallet := h.ctrl.State().Wallet

	h.wallet.Last().Hooks.OnChange(80001, nil)

	st := h.ctrl.State()
	assert.Equal(t, wallet.ID, st.Wallet.ID)
	assert.Equal(t, uint64(80001), st.ChainID)
	assert.Equal(t, "3", st.Balance)
	assert.Equal(t, 1, h.clients.Client(mumbai).BalanceCalls())
}

func TestWalletSideAccountChangeResetsResults(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	h := newHarness(t, keyedSigner(key))
	ctx := context.Background()
	require.NoError(t, h.ctrl.Connect(ctx, entity.ConnectOptions{}))
	_, err = h.ctrl.SignMessage(ctx)
	require.NoError(t, err)

	bob := common.HexToAddress("0x00000000000000000000000000000000000000b0")
	h.wallet.Last().Hooks.OnChange(0, []entity.Account{{Address: bob}})

	st := h.ctrl.State()
	assert.Equal(t, bob.Hex(), st.Address)
	assert.Empty(t, st.Signature)
	assert.Equal(t, entity.StatusConnected, st.Status)
}

func TestSignMessageRejected(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Connect(ctx, entity.ConnectOptions{}))

	_, err := h.ctrl.SignMessage(ctx)
	requireKind(t, err, entity.KindSigning, entity.ErrUserRejected)
	st := h.ctrl.State()
	assert.Empty(t, st.Signature)
	assert.Equal(t, entity.ErrUserRejected.Error(), st.Errors[entity.OpSignMessage])
}

func TestSignMessage(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	h := newHarness(t, keyedSigner(key))
	ctx := context.Background()
	require.NoError(t, h.ctrl.Connect(ctx, entity.ConnectOptions{}))

	sig, err := h.ctrl.SignMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, sig, h.ctrl.State().Signature)

	hash := accounts.TextHash([]byte(DefaultMessage))
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), recoverAddress(t, hash, sig))
}

func TestSignTypedDataTwiceVerifies(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	h := newHarness(t, keyedSigner(key))
	ctx := context.Background()
	require.NoError(t, h.ctrl.Connect(ctx, entity.ConnectOptions{}))

	hash, _, err := apitypes.TypedDataAndHash(EtherMailTypedData())
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		sig, err := h.ctrl.SignTypedData(ctx)
		require.NoError(t, err)
		assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), recoverAddress(t, hash, sig))
		assert.Equal(t, sig, h.ctrl.State().TypedSignature)
	}
}

func TestSignInAndVerify(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	h := newHarness(t, keyedSigner(key))
	ctx := context.Background()
	require.NoError(t, h.ctrl.Connect(ctx, entity.ConnectOptions{ChainID: 80001}))

	_, err = h.ctrl.Verify(ctx)
	requireKind(t, err, entity.KindVerification, entity.ErrNothingToVerify)

	res, err := h.ctrl.SignIn(ctx, localhost)
	require.NoError(t, err)
	msg, err := siwe.ParseMessage(res.Message)
	require.NoError(t, err)
	assert.Equal(t, "localhost:8080", msg.GetDomain())
	uri := msg.GetURI()
	assert.Equal(t, "http://localhost:8080", uri.String())
	require.NotNil(t, msg.GetStatement())
	assert.Equal(t, DefaultStatement, *msg.GetStatement())
	assert.Equal(t, "1", msg.GetVersion())
	assert.Equal(t, 80001, msg.GetChainID())
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), msg.GetAddress())

	for i := 0; i < 2; i++ {
		out, err := h.ctrl.Verify(ctx)
		require.NoError(t, err)
		assert.True(t, out.Valid)
		assert.Equal(t, msg.GetAddress().Hex(), out.Address)
	}
	st := h.ctrl.State()
	require.NotNil(t, st.Verification)
	assert.True(t, st.Verification.Valid)
}

func TestVerifyMismatchIsStored(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	// the wallet claims key's address but signs with another key
	h := newHarness(t, func(s *sessiontest.Signer) {
		keyedSigner(other)(s)
		s.Addr = crypto.PubkeyToAddress(key.PublicKey)
	})
	ctx := context.Background()
	require.NoError(t, h.ctrl.Connect(ctx, entity.ConnectOptions{}))
	_, err = h.ctrl.SignIn(ctx, localhost)
	require.NoError(t, err)

	out, err := h.ctrl.Verify(ctx)
	requireKind(t, err, entity.KindVerification, entity.ErrSignatureMismatch)
	require.NotNil(t, out)
	assert.False(t, out.Valid)
	assert.NotEmpty(t, out.Error)

	st := h.ctrl.State()
	require.NotNil(t, st.Verification)
	assert.False(t, st.Verification.Valid)
	assert.NotEmpty(t, st.Errors[entity.OpVerify])
}

func TestLateSignatureIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	h := newHarness(t, func(s *sessiontest.Signer) {
		s.SignMessageFn = func(context.Context, []byte) ([]byte, error) {
			close(started)
			<-release
			return make([]byte, crypto.SignatureLength), nil
		}
	})
	ctx := context.Background()
	require.NoError(t, h.ctrl.Connect(ctx, entity.ConnectOptions{}))

	done := make(chan error, 1)
	go func() {
		_, err := h.ctrl.SignMessage(ctx)
		done <- err
	}()
	<-started
	require.NoError(t, h.ctrl.Disconnect(ctx))
	close(release)

	err := <-done
	requireKind(t, err, entity.KindSigning, entity.ErrStaleResult)
	assert.Equal(t, entity.EmptyViewState(), h.ctrl.State())
}

func TestSwitchChainRefreshes(t *testing.T) {
	h := newHarness(t, nil)
	h.clients.Client(mumbai).Balance = big.NewInt(2_000_000_000_000_000_000)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Connect(ctx, entity.ConnectOptions{ChainID: 5}))
	wallet := h.ctrl.State().Wallet

	require.NoError(t, h.ctrl.SwitchChain(ctx, 80001))
	st := h.ctrl.State()
	assert.Equal(t, uint64(80001), st.ChainID)
	assert.Equal(t, "2", st.Balance)
	assert.Equal(t, wallet.ID, st.Wallet.ID)

	err := h.ctrl.SwitchChain(ctx, 1)
	requireKind(t, err, entity.KindConnection, entity.ErrUnsupportedChain)
}

func TestRefreshFailureIsRecorded(t *testing.T) {
	h := newHarness(t, nil)
	h.clients.Client(goerli).BalErr = errors.New("connection refused")

	require.NoError(t, h.ctrl.Connect(context.Background(), entity.ConnectOptions{}))
	st := h.ctrl.State()
	assert.Equal(t, "0", st.Balance)
	assert.Equal(t, uint64(5), st.ChainID, "chain refresh is independent of the balance")
	assert.Contains(t, st.Errors[entity.OpRefresh], "connection refused")
}

func TestSendTransactionReverted(t *testing.T) {
	hash := common.HexToHash("0x01")
	h := newHarness(t, func(s *sessiontest.Signer) {
		s.SendFn = func(_ context.Context, req entity.TxRequest) (common.Hash, error) {
			return hash, nil
		}
	})
	h.clients.Client(goerli).Receipt = &types.Receipt{TxHash: hash, Status: types.ReceiptStatusFailed}
	ctx := context.Background()
	require.NoError(t, h.ctrl.Connect(ctx, entity.ConnectOptions{}))

	_, err := h.ctrl.SendTransaction(ctx)
	requireKind(t, err, entity.KindTransaction, entity.ErrTransactionReverted)
	assert.Empty(t, h.ctrl.State().NativeHash)
}

func TestSendTransactionUsesDemoTransfer(t *testing.T) {
	var got entity.TxRequest
	hash := common.HexToHash("0xabc")
	h := newHarness(t, func(s *sessiontest.Signer) {
		s.SendFn = func(_ context.Context, req entity.TxRequest) (common.Hash, error) {
			got = req
			return hash, nil
		}
	})
	ctx := context.Background()
	require.NoError(t, h.ctrl.Connect(ctx, entity.ConnectOptions{}))

	out, err := h.ctrl.SendTransaction(ctx)
	require.NoError(t, err)
	assert.Equal(t, hash.Hex(), out)
	assert.Equal(t, alice, got.From)
	assert.Equal(t, common.HexToAddress(DefaultTxTo), got.To)
	assert.Equal(t, 0, got.Value.Cmp(DefaultTxValue))
	assert.Empty(t, got.Data)
}

// simulated chain

type simClients struct {
	c port.ChainClient
}

func (p simClients) GetClient(entity.Chain) (port.ChainClient, error) { return p.c, nil }

func newSimController(t *testing.T, balance *big.Int) (*PageController, *testchain.Sim) {
	t.Helper()
	sim := testchain.New(t, balance)
	chainClient := client.NewEVMClientWithBackend(testchain.Chain, sim.Client, client.Options{
		CallTimeout:    5 * time.Second,
		RateLimit:      1000,
		ReceiptPoll:    10 * time.Millisecond,
		ReceiptTimeout: 10 * time.Second,
	}, zap.NewNop())
	manager := session.NewManager(session.Options{
		Chains:  []entity.Chain{testchain.Chain},
		Modules: []port.WalletModule{injected.NewModule(sim.Keys, logger.NewNop())},
		Clients: simClients{c: chainClient},
		Logger:  logger.NewNop(),
	})
	ctrl, err := NewPageController(PageControllerOptions{
		Sessions: manager,
		Verifier: siweverifier.NewVerifier(siweverifier.Options{}, logger.NewNop()),
	})
	require.NoError(t, err)
	t.Cleanup(ctrl.Close)
	require.NoError(t, ctrl.Connect(context.Background(), entity.ConnectOptions{}))
	return ctrl, sim
}

func TestSendTransactionOnSimulatedChain(t *testing.T) {
	ctrl, sim := newSimController(t, new(big.Int).Mul(big.NewInt(2), testchain.Ether))
	ctx := context.Background()

	st := ctrl.State()
	assert.Equal(t, "2", st.Balance)
	assert.Equal(t, uint64(testchain.ChainID), st.ChainID)

	hash, err := ctrl.SendTransaction(ctx)
	require.NoError(t, err)
	assert.Len(t, hash, 66)
	assert.True(t, strings.HasPrefix(hash, "0x"))
	assert.Equal(t, hash, ctrl.State().NativeHash)

	received, err := sim.Client.BalanceAt(ctx, common.HexToAddress(DefaultTxTo), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, received.Cmp(DefaultTxValue))
}

func TestSendTransactionInsufficientFunds(t *testing.T) {
	ctrl, _ := newSimController(t, big.NewInt(1000))
	ctx := context.Background()

	_, err := ctrl.SendTransaction(ctx)
	requireKind(t, err, entity.KindTransaction, entity.ErrInsufficientFunds)

	st := ctrl.State()
	assert.Empty(t, st.NativeHash)
	assert.Equal(t, entity.StatusConnected, st.Status)
	assert.NotEmpty(t, st.Errors[entity.OpSendTransaction])

	_, err = ctrl.SignMessage(ctx)
	require.NoError(t, err, "controller keeps working after a failed transfer")
}
