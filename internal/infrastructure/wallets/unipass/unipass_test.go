package unipass

import (
	"context"
	"crypto/ecdsa"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"wallet_playground/internal/app/port"
	"wallet_playground/internal/domain/entity"
	"wallet_playground/internal/infrastructure/network/client"
	"wallet_playground/internal/pkg/testchain"
)

// hostedSigner is a minimal external signer answering the account_* API.
type hostedSigner struct {
	t      *testing.T
	key    *ecdsa.PrivateKey
	reject bool
	token  string
}

func (h *hostedSigner) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+h.token {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"unauthorized"}`))
		return
	}
	body, err := io.ReadAll(r.Body)
	require.NoError(h.t, err)
	id := gjson.GetBytes(body, "id").Int()
	method := gjson.GetBytes(body, "method").String()
	params := gjson.GetBytes(body, "params").Array()

	reply := func(v interface{}) {
		out, err := json.Marshal(v)
		require.NoError(h.t, err)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(out)
	}
	if h.reject && method != "account_list" {
		reply(map[string]interface{}{"id": id, "jsonrpc": "2.0", "error": map[string]interface{}{"code": -32000, "message": "Request denied"}})
		return
	}

	var result interface{}
	switch method {
	case "account_list":
		result = []string{crypto.PubkeyToAddress(h.key.PublicKey).Hex()}
	case "account_signData":
		require.Equal(h.t, "text/plain", params[0].String())
		data, err := hexutil.Decode(params[2].String())
		require.NoError(h.t, err)
		result = h.sign(accounts.TextHash(data))
	case "account_signTypedData":
		var td apitypes.TypedData
		require.NoError(h.t, json.Unmarshal([]byte(params[1].Raw), &td))
		hash, _, err := apitypes.TypedDataAndHash(td)
		require.NoError(h.t, err)
		result = h.sign(hash)
	case "account_signTransaction":
		var args apitypes.SendTxArgs
		require.NoError(h.t, json.Unmarshal([]byte(params[0].Raw), &args))
		to := args.To.Address()
		tx := types.NewTx(&types.DynamicFeeTx{
			ChainID:   args.ChainID.ToInt(),
			Nonce:     uint64(args.Nonce),
			GasTipCap: args.MaxPriorityFeePerGas.ToInt(),
			GasFeeCap: args.MaxFeePerGas.ToInt(),
			Gas:       uint64(args.Gas),
			To:        &to,
			Value:     args.Value.ToInt(),
			Data:      *args.Data,
		})
		signed, err := types.SignTx(tx, types.LatestSignerForChainID(args.ChainID.ToInt()), h.key)
		require.NoError(h.t, err)
		raw, err := signed.MarshalBinary()
		require.NoError(h.t, err)
		result = map[string]interface{}{"raw": hexutil.Encode(raw)}
	}
	reply(map[string]interface{}{"id": id, "jsonrpc": "2.0", "result": result})
}

func (h *hostedSigner) sign(hash []byte) string {
	sig, err := crypto.Sign(hash, h.key)
	require.NoError(h.t, err)
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig)
}

func setup(t *testing.T, signerKey *ecdsa.PrivateKey) (*hostedSigner, *Module) {
	t.Helper()
	h := &hostedSigner{t: t, key: signerKey, token: "secret"}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c := NewClient(ClientConfig{Endpoint: srv.URL, AuthToken: "secret", Email: "alice@example.com", AppName: "web3-onboard test for unipass", Theme: "dark", Timeout: 5 * time.Second}, zap.NewNop())
	m := NewModule(c, ModuleConfig{Email: "alice@example.com", ReturnEmail: true, ChainID: 80001}, zap.NewNop())
	return h, m
}

func TestModuleDescriptor(t *testing.T) {
	m := NewModule(nil, ModuleConfig{ChainID: 80001}, zap.NewNop())
	assert.Equal(t, Label, m.Label())
	assert.Equal(t, entity.WalletKindUniPass, m.Kind())
	assert.False(t, m.Available())
	assert.Equal(t, uint64(80001), m.PreferredChainID())
}

func TestConnectAndSign(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	_, m := setup(t, key)
	addr := crypto.PubkeyToAddress(key.PublicKey)

	sess, err := m.Connect(context.Background(), nil, port.ConnectHooks{})
	require.NoError(t, err)
	require.Len(t, sess.Accounts(), 1)
	assert.Equal(t, addr, sess.Accounts()[0].Address)
	assert.Equal(t, "alice@example.com", sess.Accounts()[0].Email)

	msg := []byte("web3-react test message")
	sig, err := sess.Signer().SignMessage(context.Background(), msg)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash(msg), sig)
	require.NoError(t, err)
	assert.Equal(t, addr, crypto.PubkeyToAddress(*pub))
}

func TestRejectedRequest(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	h, m := setup(t, key)
	h.reject = true

	sess, err := m.Connect(context.Background(), nil, port.ConnectHooks{})
	require.NoError(t, err)
	_, err = sess.Signer().SignMessage(context.Background(), []byte("hi"))
	require.ErrorIs(t, err, entity.ErrUserRejected)
}

func TestUnauthorized(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	h, m := setup(t, key)
	h.token = "other"

	_, err = m.Connect(context.Background(), nil, port.ConnectHooks{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestSendTransactionThroughHostedSigner(t *testing.T) {
	sim := testchain.New(t, testchain.Ether)
	chain := client.NewEVMClientWithBackend(testchain.Chain, sim.Client, client.Options{
		RateLimit:   1000,
		ReceiptPoll: 10 * time.Millisecond,
	}, zap.NewNop())
	_, m := setup(t, sim.Keys[0])

	sess, err := m.Connect(context.Background(), chain, port.ConnectHooks{})
	require.NoError(t, err)

	id, err := sess.Signer().ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(testchain.ChainID), id.Uint64())

	to := common.HexToAddress("0x2B6c74b4e8631854051B1A821029005476C3AF06")
	hash, err := sess.Signer().SendTransaction(context.Background(), entity.TxRequest{To: to, Value: big.NewInt(1_000_000_000_000_000)})
	require.NoError(t, err)

	receipt, err := chain.WaitMined(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
}
