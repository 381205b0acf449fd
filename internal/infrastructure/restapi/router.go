package restapi

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"wallet_playground/internal/domain/entity"
)

//go:embed templates/*.html
var templatesFS embed.FS

// RouterOptions configures SetupRouter.
type RouterOptions struct {
	AllowOrigins []string
	// TrustedProxies feeds gin's client IP resolution, nil trusts no proxy.
	TrustedProxies []string
	Logger         *zap.Logger
}

func pageTemplate() *template.Template {
	return template.Must(template.New("").Funcs(template.FuncMap{
		"errorOf": func(errs map[entity.Operation]string, op string) string {
			return errs[entity.Operation(op)]
		},
		"orDash": func(v interface{}) interface{} {
			switch x := v.(type) {
			case string:
				if x == "" {
					return "-"
				}
			case uint64:
				if x == 0 {
					return "-"
				}
			}
			return v
		},
	}).ParseFS(templatesFS, "templates/*.html"))
}

// SetupRouter настраивает и возвращает экземпляр Gin роутера.
func SetupRouter(handler *PageHandler, opts RouterOptions) *gin.Engine {
	router := gin.New()
	if err := router.SetTrustedProxies(opts.TrustedProxies); err != nil {
		opts.Logger.Error("Invalid trusted proxies, trusting none", zap.Error(err))
		_ = router.SetTrustedProxies(nil)
	}

	corsConfig := cors.DefaultConfig()
	if len(opts.AllowOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = opts.AllowOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	router.Use(cors.New(corsConfig))
	router.Use(ZapLoggerMiddleware(opts.Logger))
	router.Use(gin.Recovery())

	router.SetHTMLTemplate(pageTemplate())
	router.GET("/", handler.GetPageHandler)
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Группа для API v1
	v1 := router.Group("/api/v1")
	{
		v1.GET("/config", handler.GetConfigHandler)
		v1.GET("/state", handler.GetStateHandler)
		v1.POST("/connect", handler.ConnectHandler)
		v1.GET("/connect/qr", handler.GetPairingQRHandler)
		v1.POST("/disconnect", handler.DisconnectHandler)
		v1.POST("/chain", handler.SwitchChainHandler)
		v1.POST("/refresh", handler.RefreshHandler)
		v1.POST("/sign/message", handler.SignMessageHandler)
		v1.POST("/sign/typed-data", handler.SignTypedDataHandler)
		v1.POST("/sign/siwe", handler.SignInHandler)
		v1.POST("/siwe/verify", handler.VerifyHandler)
		v1.POST("/transactions/native", handler.SendTransactionHandler)
	}

	return router
}
