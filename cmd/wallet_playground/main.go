package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"wallet_playground/internal/app/port"
	"wallet_playground/internal/app/service"
	"wallet_playground/internal/app/session"
	"wallet_playground/internal/config"
	clientprovider "wallet_playground/internal/infrastructure/network/client"
	networkdefinition "wallet_playground/internal/infrastructure/network/definition"
	"wallet_playground/internal/infrastructure/restapi"
	"wallet_playground/internal/infrastructure/siweverifier"
	"wallet_playground/internal/infrastructure/wallets/injected"
	"wallet_playground/internal/infrastructure/wallets/unipass"
	"wallet_playground/internal/infrastructure/wallets/walletconnect"
	"wallet_playground/internal/pkg/logger"
	"wallet_playground/internal/pkg/metrics"
	"wallet_playground/internal/pkg/utils"
)

func main() {
	cfgPath := utils.GetEnv("CONFIG_PATH", "config/config.yml")
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	zapLogger, err := logger.NewZap(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: failed to initialize zap logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()
	logger.Init(cfg.Logging.Level, zapLogger)
	appLogger := logger.NewSlogAdapter()
	zapLogger.Info("Configuration loaded", zap.String("path", cfgPath))

	metrics.MustRegisterMetrics()

	configured, err := cfg.ChainEntities()
	if err != nil {
		zapLogger.Fatal("Invalid chain configuration", zap.Error(err))
	}
	chains := networkdefinition.NewChainDefinitionProvider(appLogger, configured).GetAllChains()

	clients := clientprovider.NewEVMClientProvider(clientprovider.Options{
		ConnectTimeout: time.Duration(cfg.RpcClient.ConnectTimeoutMs) * time.Millisecond,
		CallTimeout:    time.Duration(cfg.RpcClient.DefaultTimeoutMs) * time.Millisecond,
		RateLimit:      cfg.RpcClient.RateLimit,
		BurstLimit:     cfg.RpcClient.BurstLimit,
		ReceiptPoll:    time.Duration(cfg.RpcClient.ReceiptPollMs) * time.Millisecond,
		ReceiptTimeout: time.Duration(cfg.RpcClient.ReceiptTimeoutMs) * time.Millisecond,
	}, zapLogger)
	defer clients.Close()

	appMetadata := cfg.AppMetadata.ToEntity()
	modules := buildModules(cfg, appLogger, zapLogger)

	manager := session.NewManager(session.Options{
		Chains:      chains,
		Modules:     modules,
		AppMetadata: appMetadata,
		Clients:     clients,
		Logger:      appLogger.With("component", "session"),
	})

	nonces := siweverifier.NewNonceRegistry(time.Duration(cfg.Siwe.NonceTTLMinutes) * time.Minute)
	verifier := siweverifier.NewVerifier(siweverifier.Options{
		Nonces:            nonces,
		RequireKnownNonce: cfg.Siwe.RequireKnownNonce,
	}, appLogger.With("component", "siwe"))

	txValue, err := utils.EtherToWei(cfg.Demo.TxValue)
	if err != nil {
		zapLogger.Fatal("Invalid demo transaction value", zap.Error(err))
	}
	page, err := service.NewPageController(service.PageControllerOptions{
		Sessions:       manager,
		Verifier:       verifier,
		Nonces:         nonces,
		Logger:         appLogger.With("component", "page"),
		Message:        cfg.Demo.Message,
		Statement:      cfg.Siwe.Statement,
		TxTo:           common.HexToAddress(cfg.Demo.TxTo),
		TxValue:        txValue,
		SiweExpiration: time.Duration(cfg.Siwe.ExpirationMinutes) * time.Minute,
	})
	if err != nil {
		zapLogger.Fatal("Failed to create page controller", zap.Error(err))
	}
	defer page.Close()

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	trustedProxies, err := utils.ParsePrefixes(cfg.Server.TrustedProxies)
	if err != nil {
		zapLogger.Fatal("Invalid trusted proxies", zap.Error(err))
	}
	handler := restapi.NewPageHandler(page, restapi.HandlerOptions{
		Background:     baseCtx,
		ConnectTimeout: time.Duration(cfg.Wallets.WalletConnect.RequestTimeoutSeconds) * time.Second,
		TrustedProxies: trustedProxies,
	}, zapLogger)
	router := restapi.SetupRouter(handler, restapi.RouterOptions{
		AllowOrigins:   cfg.Server.AllowOrigins,
		TrustedProxies: cfg.Server.TrustedProxies,
		Logger:         zapLogger.Named("http"),
	})

	pprofRouter := router.Group("/debug/pprof")
	{
		pprofRouter.GET("/", gin.WrapF(pprof.Index))
		pprofRouter.GET("/cmdline", gin.WrapF(pprof.Cmdline))
		pprofRouter.GET("/profile", gin.WrapF(pprof.Profile))
		pprofRouter.POST("/symbol", gin.WrapF(pprof.Symbol))
		pprofRouter.GET("/symbol", gin.WrapF(pprof.Symbol))
		pprofRouter.GET("/trace", gin.WrapF(pprof.Trace))
		pprofRouter.GET("/goroutine", gin.WrapH(pprof.Handler("goroutine")))
		pprofRouter.GET("/heap", gin.WrapH(pprof.Handler("heap")))
	}

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		zapLogger.Info("Server starting", zap.String("addr", cfg.Server.Port), zap.Int("chains", len(chains)), zap.Int("wallets", len(modules)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down server...")
	cancelBase()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := manager.Disconnect(ctxShutdown, ""); err != nil {
		zapLogger.Warn("Failed to close wallet session on shutdown", zap.Error(err))
	}

	zapLogger.Info("Server exiting")
}

// buildModules creates the wallet modules in the order they are offered: injected, walletconnect, unipass.
func buildModules(cfg *config.Config, appLogger port.Logger, zapLogger *zap.Logger) []port.WalletModule {
	var modules []port.WalletModule

	if !cfg.Wallets.Injected.Disabled {
		var keys []*ecdsa.PrivateKey
		src := injected.KeySource{
			KeystoreDir: cfg.Wallets.Injected.KeystoreDir,
			Passphrase:  cfg.Wallets.Injected.Passphrase,
			KeysFile:    cfg.Wallets.Injected.KeysFile,
		}
		if src.KeystoreDir != "" || src.KeysFile != "" {
			loaded, err := injected.LoadKeys(src, appLogger)
			if err != nil {
				zapLogger.Error("Failed to load injected wallet keys, the wallet stays unavailable", zap.Error(err))
			} else {
				keys = loaded
			}
		}
		modules = append(modules, injected.NewModule(keys, appLogger))
	}

	if !cfg.Wallets.WalletConnect.Disabled {
		md := cfg.AppMetadata
		meta := walletconnect.PeerMeta{Name: md.Name, Description: md.Description, URL: md.URL}
		if strings.HasPrefix(md.Icon, "http") {
			meta.Icons = []string{md.Icon}
		}
		modules = append(modules, walletconnect.NewModule(walletconnect.Config{
			BridgeURL:      cfg.Wallets.WalletConnect.BridgeURL,
			RequestTimeout: time.Duration(cfg.Wallets.WalletConnect.RequestTimeoutSeconds) * time.Second,
			Meta:           meta,
		}, zapLogger))
	}

	if !cfg.Wallets.UniPass.Disabled {
		up := cfg.Wallets.UniPass
		var client unipass.Client
		if up.Endpoint != "" {
			client = unipass.NewClient(unipass.ClientConfig{
				Endpoint:  up.Endpoint,
				AuthToken: up.AuthToken,
				Email:     up.Email,
				AppName:   up.AppName,
				Theme:     up.Theme,
				Timeout:   time.Duration(up.TimeoutMs) * time.Millisecond,
			}, zapLogger)
		}
		modules = append(modules, unipass.NewModule(client, unipass.ModuleConfig{
			Email:       up.Email,
			ReturnEmail: up.ReturnEmail,
			ChainID:     up.PreferredChainID(),
		}, zapLogger))
	}

	return modules
}
