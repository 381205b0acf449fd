package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yml"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Port)
	assert.Equal(t, "web3-react test message", cfg.Demo.Message)
	assert.Equal(t, "0.001", cfg.Demo.TxValue)
	assert.Equal(t, "0x2B6c74b4e8631854051B1A821029005476C3AF06", cfg.Demo.TxTo)
	assert.Equal(t, "This is a test statement.", cfg.Siwe.Statement)
	assert.Equal(t, uint64(80001), cfg.Wallets.UniPass.PreferredChainID())
	assert.Equal(t, "Blocknative", cfg.AppMetadata.Name)
	require.NotNil(t, cfg.AppMetadata.Agreement)
	assert.Equal(t, "1.0.0", cfg.AppMetadata.Agreement.Version)
	assert.Empty(t, cfg.Chains)
	assert.False(t, cfg.Wallets.Injected.Disabled)
}

func TestLoadConfigParsesChains(t *testing.T) {
	path := writeConfig(t, `
server:
  port: ":9090"
chains:
  - id: "0x5"
    token: GETH
    label: Ethereum Goerli
    rpcUrl: https://node.wallet.unipass.id/eth-goerli
  - id: "80001"
    token: MATIC
    label: Matic Mumbai
    rpcUrl: https://node.wallet.unipass.id/polygon-mumbai
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Port)

	chains, err := cfg.ChainEntities()
	require.NoError(t, err)
	require.Len(t, chains, 2)
	assert.Equal(t, uint64(5), chains[0].ID)
	assert.Equal(t, uint64(80001), chains[1].ID)
	assert.Equal(t, int32(18), chains[1].Decimals)
	assert.Equal(t, "0x13881", chains[1].HexID())
}

func TestLoadConfigRejectsBadChainID(t *testing.T) {
	path := writeConfig(t, `
chains:
  - id: "goerli"
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chains[0]")
}

func TestLoadConfigRejectsDuplicateChains(t *testing.T) {
	path := writeConfig(t, `
chains:
  - id: "0x5"
  - id: "5"
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestLoadConfigRejectsBadTxValue(t *testing.T) {
	path := writeConfig(t, `
demo:
  txValue: "lots"
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfigRejectsBadTrustedProxy(t *testing.T) {
	path := writeConfig(t, `
server:
  trustedProxies: ["10.0.0.0/8", "proxy.local"]
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfigEnvOverridesSecrets(t *testing.T) {
	t.Setenv(EnvKeystorePassphrase, "from-env")
	t.Setenv(EnvUniPassAuthToken, "token-env")
	path := writeConfig(t, `
wallets:
  injected:
    passphrase: from-file
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Wallets.Injected.Passphrase)
	assert.Equal(t, "token-env", cfg.Wallets.UniPass.AuthToken)
}

func TestLoadConfigBrokenYAML(t *testing.T) {
	path := writeConfig(t, "server: [")
	_, err := LoadConfig(path)
	require.Error(t, err)
}
