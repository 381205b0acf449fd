package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"wallet_playground/internal/domain/entity"
	"wallet_playground/internal/pkg/utils"
)

// Env variables that override secrets from the YAML file.
const (
	EnvKeystorePassphrase = "INJECTED_KEYSTORE_PASSPHRASE"
	EnvUniPassAuthToken   = "UNIPASS_AUTH_TOKEN"
)

// Config holds the overall configuration for the application.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Chains      []ChainConfig     `yaml:"chains"`
	Wallets     WalletsConfig     `yaml:"wallets"`
	AppMetadata AppMetadataConfig `yaml:"appMetadata"`
	RpcClient   RpcClientConfig   `yaml:"rpcClient"`
	Siwe        SiweConfig        `yaml:"siwe"`
	Demo        DemoConfig        `yaml:"demo"`
}

// ServerConfig holds the server-specific configuration.
type ServerConfig struct {
	Port         string   `yaml:"port"`
	ReadTimeout  int      `yaml:"readTimeout"`
	WriteTimeout int      `yaml:"writeTimeout"`
	IdleTimeout  int      `yaml:"idleTimeout"`
	AllowOrigins []string `yaml:"allowOrigins"`
	// TrustedProxies are the IPs/CIDRs whose X-Forwarded-* headers are honored. Empty trusts none.
	TrustedProxies []string `yaml:"trustedProxies"`
}

// LoggingConfig holds the configuration for logging.
type LoggingConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

// ChainConfig describes a supported chain. ID accepts "0x5" as well as "5".
type ChainConfig struct {
	ID               string   `yaml:"id"`
	Token            string   `yaml:"token"`
	Label            string   `yaml:"label"`
	Decimals         int32    `yaml:"decimals"`
	RPCURL           string   `yaml:"rpcUrl"`
	FallbackRPCURLs  []string `yaml:"fallbackRpcUrls"`
	BlockExplorerURL string   `yaml:"blockExplorerUrl"`
}

// ChainID parses the configured id.
func (c ChainConfig) ChainID() (uint64, error) {
	id, ok := math.ParseUint64(strings.TrimSpace(c.ID))
	if !ok || id == 0 {
		return 0, fmt.Errorf("invalid chain id %q", c.ID)
	}
	return id, nil
}

// ToEntity converts the config entry into a chain definition.
func (c ChainConfig) ToEntity() (entity.Chain, error) {
	id, err := c.ChainID()
	if err != nil {
		return entity.Chain{}, err
	}
	decimals := c.Decimals
	if decimals == 0 {
		decimals = utils.EtherDecimals
	}
	return entity.Chain{
		ID:               id,
		Token:            c.Token,
		Label:            c.Label,
		Decimals:         decimals,
		RPCURL:           c.RPCURL,
		FallbackRPCURLs:  c.FallbackRPCURLs,
		BlockExplorerURL: c.BlockExplorerURL,
	}, nil
}

// WalletsConfig groups per-module settings. Modules are offered as injected, walletconnect, unipass.
type WalletsConfig struct {
	Injected      InjectedConfig      `yaml:"injected"`
	WalletConnect WalletConnectConfig `yaml:"walletConnect"`
	UniPass       UniPassConfig       `yaml:"unipass"`
}

// InjectedConfig points at the keys available to the process.
type InjectedConfig struct {
	Disabled    bool   `yaml:"disabled"`
	KeystoreDir string `yaml:"keystoreDir"`
	Passphrase  string `yaml:"passphrase"`
	KeysFile    string `yaml:"keysFile"`
}

// WalletConnectConfig holds the bridge settings.
type WalletConnectConfig struct {
	Disabled              bool   `yaml:"disabled"`
	BridgeURL             string `yaml:"bridgeURL"`
	RequestTimeoutSeconds int    `yaml:"requestTimeoutSeconds"`
}

// UniPassConfig holds the hosted signer settings.
type UniPassConfig struct {
	Disabled    bool   `yaml:"disabled"`
	Endpoint    string `yaml:"endpoint"`
	Email       string `yaml:"email"`
	AuthToken   string `yaml:"authToken"`
	ChainID     string `yaml:"chainID"`
	AppName     string `yaml:"appName"`
	Theme       string `yaml:"theme"`
	ReturnEmail bool   `yaml:"returnEmail"`
	TimeoutMs   int64  `yaml:"timeoutMs"`
}

// PreferredChainID returns the parsed preferred chain, zero when unset or invalid.
func (c UniPassConfig) PreferredChainID() uint64 {
	id, ok := math.ParseUint64(strings.TrimSpace(c.ChainID))
	if !ok {
		return 0
	}
	return id
}

// AppMetadataConfig mirrors entity.AppMetadata.
type AppMetadataConfig struct {
	Name                       string              `yaml:"name"`
	Icon                       string              `yaml:"icon"`
	Logo                       string              `yaml:"logo"`
	Description                string              `yaml:"description"`
	URL                        string              `yaml:"url"`
	GettingStartedGuide        string              `yaml:"gettingStartedGuide"`
	Explore                    string              `yaml:"explore"`
	RecommendedInjectedWallets []RecommendedWallet `yaml:"recommendedInjectedWallets"`
	Agreement                  *AgreementConfig    `yaml:"agreement"`
}

// RecommendedWallet is a wallet suggested when no injected wallet is found.
type RecommendedWallet struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// AgreementConfig holds terms the user must accept before connecting.
type AgreementConfig struct {
	Version    string `yaml:"version"`
	TermsURL   string `yaml:"termsUrl"`
	PrivacyURL string `yaml:"privacyUrl"`
}

// ToEntity converts the metadata section.
func (c AppMetadataConfig) ToEntity() entity.AppMetadata {
	md := entity.AppMetadata{
		Name:                c.Name,
		Icon:                c.Icon,
		Logo:                c.Logo,
		Description:         c.Description,
		URL:                 c.URL,
		GettingStartedGuide: c.GettingStartedGuide,
		Explore:             c.Explore,
	}
	for _, w := range c.RecommendedInjectedWallets {
		md.RecommendedInjectedWallets = append(md.RecommendedInjectedWallets, entity.RecommendedWallet{Name: w.Name, URL: w.URL})
	}
	if c.Agreement != nil {
		md.Agreement = &entity.TermsAgreement{
			Version:    c.Agreement.Version,
			TermsURL:   c.Agreement.TermsURL,
			PrivacyURL: c.Agreement.PrivacyURL,
		}
	}
	return md
}

// RpcClientConfig holds configuration for RPC clients.
type RpcClientConfig struct {
	DefaultTimeoutMs int64 `yaml:"defaultTimeoutMs"`
	ConnectTimeoutMs int64 `yaml:"connectTimeoutMs"`
	RateLimit        int   `yaml:"rateLimit"`
	BurstLimit       int   `yaml:"burstLimit"`
	ReceiptPollMs    int64 `yaml:"receiptPollMs"`
	ReceiptTimeoutMs int64 `yaml:"receiptTimeoutMs"`
}

// SiweConfig holds Sign-In with Ethereum settings.
type SiweConfig struct {
	Statement         string `yaml:"statement"`
	NonceTTLMinutes   int    `yaml:"nonceTTLMinutes"`
	ExpirationMinutes int    `yaml:"expirationMinutes"`
	RequireKnownNonce bool   `yaml:"requireKnownNonce"`
}

// DemoConfig holds the fixed payloads used by the page.
type DemoConfig struct {
	Message string `yaml:"message"`
	TxTo    string `yaml:"txTo"`
	TxValue string `yaml:"txValue"` // in native token units
}

// LoadConfig loads configuration from a YAML file. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	logrus.Infof("Loading configuration from path: %s", path)
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logrus.Warnf("Config file %s not found, using defaults", path)
	case err != nil:
		logrus.Errorf("Failed to read config file %s: %v", path, err)
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			logrus.Errorf("Failed to unmarshal config data from %s: %v", path, err)
			return nil, fmt.Errorf("failed to unmarshal config data from %s: %w", path, err)
		}
	}

	applyDefaults(&cfg)
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		logrus.Errorf("Invalid configuration in %s: %v", path, err)
		return nil, err
	}

	logrus.Info("Configuration loaded successfully.")
	return &cfg, nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	seen := make(map[uint64]struct{}, len(c.Chains))
	for i, ch := range c.Chains {
		id, err := ch.ChainID()
		if err != nil {
			return fmt.Errorf("chains[%d]: %w", i, err)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("chains[%d]: duplicate chain id %d", i, id)
		}
		seen[id] = struct{}{}
	}
	if c.Wallets.UniPass.ChainID != "" && c.Wallets.UniPass.PreferredChainID() == 0 {
		return fmt.Errorf("wallets.unipass.chainID: invalid chain id %q", c.Wallets.UniPass.ChainID)
	}
	if _, err := utils.ParsePrefixes(c.Server.TrustedProxies); err != nil {
		return fmt.Errorf("server.trustedProxies: %w", err)
	}
	if _, err := utils.EtherToWei(c.Demo.TxValue); err != nil {
		return fmt.Errorf("demo.txValue: %w", err)
	}
	return nil
}

// ChainEntities converts the configured chains. Empty means the compiled-in defaults apply.
func (c *Config) ChainEntities() ([]entity.Chain, error) {
	chains := make([]entity.Chain, 0, len(c.Chains))
	for i, ch := range c.Chains {
		e, err := ch.ToEntity()
		if err != nil {
			return nil, fmt.Errorf("chains[%d]: %w", i, err)
		}
		chains = append(chains, e)
	}
	return chains, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = ":8080"
		logrus.Infof("Server.Port not set, defaulting to %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15
	}
	if cfg.Server.WriteTimeout == 0 {
		// Connect with wait=true blocks until the wallet approves.
		cfg.Server.WriteTimeout = 120
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	if cfg.Wallets.WalletConnect.BridgeURL == "" {
		cfg.Wallets.WalletConnect.BridgeURL = "https://bridge.walletconnect.org"
		logrus.Infof("Wallets.WalletConnect.BridgeURL not set, defaulting to %s", cfg.Wallets.WalletConnect.BridgeURL)
	}
	if cfg.Wallets.WalletConnect.RequestTimeoutSeconds == 0 {
		cfg.Wallets.WalletConnect.RequestTimeoutSeconds = 300
	}
	if cfg.Wallets.UniPass.ChainID == "" {
		cfg.Wallets.UniPass.ChainID = "80001"
		logrus.Infof("Wallets.UniPass.ChainID not set, defaulting to %s", cfg.Wallets.UniPass.ChainID)
	}
	if cfg.Wallets.UniPass.AppName == "" {
		cfg.Wallets.UniPass.AppName = "web3-onboard test for unipass"
	}
	if cfg.Wallets.UniPass.Theme == "" {
		cfg.Wallets.UniPass.Theme = "dark"
	}
	if cfg.Wallets.UniPass.TimeoutMs == 0 {
		cfg.Wallets.UniPass.TimeoutMs = 120000
	}

	if cfg.RpcClient.DefaultTimeoutMs == 0 {
		cfg.RpcClient.DefaultTimeoutMs = 10000
		logrus.Infof("RpcClient.DefaultTimeoutMs not set, defaulting to %d ms", cfg.RpcClient.DefaultTimeoutMs)
	}
	if cfg.RpcClient.ConnectTimeoutMs == 0 {
		cfg.RpcClient.ConnectTimeoutMs = 10000
	}
	if cfg.RpcClient.RateLimit == 0 {
		cfg.RpcClient.RateLimit = 10
	}
	if cfg.RpcClient.BurstLimit == 0 {
		cfg.RpcClient.BurstLimit = cfg.RpcClient.RateLimit
	}
	if cfg.RpcClient.ReceiptPollMs == 0 {
		cfg.RpcClient.ReceiptPollMs = 1000
	}
	if cfg.RpcClient.ReceiptTimeoutMs == 0 {
		cfg.RpcClient.ReceiptTimeoutMs = 180000
	}

	if cfg.Siwe.Statement == "" {
		cfg.Siwe.Statement = "This is a test statement."
	}
	if cfg.Siwe.NonceTTLMinutes == 0 {
		cfg.Siwe.NonceTTLMinutes = 30
	}

	if cfg.Demo.Message == "" {
		cfg.Demo.Message = "web3-react test message"
	}
	if cfg.Demo.TxTo == "" {
		cfg.Demo.TxTo = "0x2B6c74b4e8631854051B1A821029005476C3AF06"
	}
	if cfg.Demo.TxValue == "" {
		cfg.Demo.TxValue = "0.001"
	}

	if cfg.AppMetadata.Name == "" {
		cfg.AppMetadata = defaultAppMetadata()
		logrus.Infof("AppMetadata not set, defaulting to %q", cfg.AppMetadata.Name)
	}
}

func applyEnv(cfg *Config) {
	cfg.Wallets.Injected.Passphrase = utils.GetEnv(EnvKeystorePassphrase, cfg.Wallets.Injected.Passphrase)
	cfg.Wallets.UniPass.AuthToken = utils.GetEnv(EnvUniPassAuthToken, cfg.Wallets.UniPass.AuthToken)
}

func defaultAppMetadata() AppMetadataConfig {
	return AppMetadataConfig{
		Name:                "Blocknative",
		Icon:                `<svg height="100%" viewBox="0 0 24 24" xmlns="http://www.w3.org/2000/svg"><circle cx="12" cy="12" r="10"/></svg>`,
		Logo:                "<svg></svg>",
		Description:         "Demo app for Onboard V2",
		GettingStartedGuide: "http://mydapp.io/getting-started",
		Explore:             "http://mydapp.io/about",
		RecommendedInjectedWallets: []RecommendedWallet{
			{Name: "MetaMask", URL: "https://metamask.io"},
			{Name: "Coinbase", URL: "https://wallet.coinbase.com/"},
		},
		Agreement: &AgreementConfig{
			Version:    "1.0.0",
			TermsURL:   "https://www.blocknative.com/terms-conditions",
			PrivacyURL: "https://www.blocknative.com/privacy-policy",
		},
	}
}
