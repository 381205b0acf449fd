package restapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"wallet_playground/internal/app/port"
	"wallet_playground/internal/domain/entity"
	"wallet_playground/internal/infrastructure/wallets/walletconnect"
	"wallet_playground/internal/pkg/utils"
)

// APIError is the error body of every failed request.
type APIError struct {
	Error     string           `json:"error"`
	Kind      entity.ErrorKind `json:"kind,omitempty"`
	Operation entity.Operation `json:"operation,omitempty"`
}

// APIStateResponse wraps the view-model and an optional operation result.
type APIStateResponse struct {
	Result interface{}      `json:"result,omitempty"`
	State  entity.ViewState `json:"state"`
}

// chainIDParam accepts 5, "5" and "0x5".
type chainIDParam uint64

func (p *chainIDParam) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*p = 0
		return nil
	}
	v, ok := math.ParseUint64(s)
	if !ok {
		return fmt.Errorf("invalid chain id %q", s)
	}
	*p = chainIDParam(v)
	return nil
}

type connectRequest struct {
	Label   string       `json:"label"`
	ChainID chainIDParam `json:"chainId"`
	// Wait makes the request block until the wallet is connected.
	Wait bool `json:"wait"`
}

type switchChainRequest struct {
	ChainID chainIDParam `json:"chainId" binding:"required"`
}

// HandlerOptions configures a PageHandler.
type HandlerOptions struct {
	// Background is the parent context of connects that outlive their request.
	Background     context.Context
	ConnectTimeout time.Duration
	// TrustedProxies are the peers allowed to set X-Forwarded-Proto and X-Forwarded-Host.
	TrustedProxies []netip.Prefix
}

// PageHandler обрабатывает HTTP запросы страницы и ее JSON API.
type PageHandler struct {
	page           port.PageService
	logger         *zap.Logger
	background     context.Context
	connectTimeout time.Duration
	trustedProxies []netip.Prefix
}

// NewPageHandler создает новый экземпляр PageHandler.
func NewPageHandler(page port.PageService, opts HandlerOptions, logger *zap.Logger) *PageHandler {
	if opts.Background == nil {
		opts.Background = context.Background()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Minute
	}
	return &PageHandler{
		page:           page,
		logger:         logger.Named("page_handler"),
		background:     opts.Background,
		connectTimeout: opts.ConnectTimeout,
		trustedProxies: opts.TrustedProxies,
	}
}

// statusFor maps operation errors to HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, entity.ErrNotConnected),
		errors.Is(err, entity.ErrNothingToVerify),
		errors.Is(err, entity.ErrStaleResult),
		errors.Is(err, entity.ErrConnectInProgress):
		return http.StatusConflict
	case errors.Is(err, entity.ErrUnknownWallet), errors.Is(err, entity.ErrUnsupportedChain):
		return http.StatusBadRequest
	}
	switch entity.KindOf(err) {
	case entity.KindConnection:
		return http.StatusBadGateway
	case entity.KindSigning, entity.KindTransaction:
		return http.StatusUnprocessableEntity
	case entity.KindVerification:
		return http.StatusOK
	}
	return http.StatusInternalServerError
}

func (h *PageHandler) respondError(c *gin.Context, err error) {
	body := APIError{Error: err.Error()}
	var opErr *entity.OperationError
	if errors.As(err, &opErr) {
		body.Kind = opErr.Kind
		body.Operation = opErr.Op
	}
	c.JSON(statusFor(err), body)
}

func (h *PageHandler) respond(c *gin.Context, result interface{}) {
	c.JSON(http.StatusOK, APIStateResponse{Result: result, State: h.page.State()})
}

// requestOrigin is what a browser would report as window.location host and origin.
// Forwarded headers count only when the direct peer is a trusted proxy.
func (h *PageHandler) requestOrigin(r *http.Request) entity.Origin {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	host := r.Host
	if utils.PrefixesContain(h.trustedProxies, r.RemoteAddr) {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
		}
		if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
			host = strings.TrimSpace(strings.Split(fwd, ",")[0])
		}
	}
	return entity.Origin{Host: host, URI: scheme + "://" + host}
}

// GetPageHandler renders the page.
func (h *PageHandler) GetPageHandler(c *gin.Context) {
	cfg := h.page.Config()
	c.HTML(http.StatusOK, "page.html", gin.H{
		"Config": cfg,
		"State":  h.page.State(),
	})
}

// GetConfigHandler возвращает сети, кошельки и метаданные приложения.
func (h *PageHandler) GetConfigHandler(c *gin.Context) {
	c.JSON(http.StatusOK, h.page.Config())
}

// GetStateHandler возвращает снимок состояния страницы.
func (h *PageHandler) GetStateHandler(c *gin.Context) {
	c.JSON(http.StatusOK, h.page.State())
}

// ConnectHandler starts a wallet connection. Without wait it returns 202 and connects in background.
func (h *PageHandler) ConnectHandler(c *gin.Context) {
	var req connectRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, APIError{Error: err.Error()})
			return
		}
	}
	opts := entity.ConnectOptions{Label: req.Label, ChainID: uint64(req.ChainID)}

	if req.Wait {
		ctx, cancel := context.WithTimeout(c.Request.Context(), h.connectTimeout)
		defer cancel()
		if err := h.page.Connect(ctx, opts); err != nil {
			h.respondError(c, err)
			return
		}
		h.respond(c, nil)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(h.background, h.connectTimeout)
		defer cancel()
		if err := h.page.Connect(ctx, opts); err != nil {
			h.logger.Warn("Background connect failed", zap.String("label", opts.Label), zap.Error(err))
		}
	}()
	c.JSON(http.StatusAccepted, APIStateResponse{State: h.page.State()})
}

// GetPairingQRHandler returns the pending WalletConnect pairing URI as PNG.
func (h *PageHandler) GetPairingQRHandler(c *gin.Context) {
	uri := h.page.State().PairingURI
	if uri == "" {
		c.JSON(http.StatusNotFound, APIError{Error: "no wallet pairing in progress"})
		return
	}
	png, err := walletconnect.PairingQR(uri)
	if err != nil {
		h.logger.Error("Failed to render pairing QR", zap.Error(err))
		c.JSON(http.StatusInternalServerError, APIError{Error: err.Error()})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

// DisconnectHandler resets the page. The state is reset even when the teardown error is reported.
func (h *PageHandler) DisconnectHandler(c *gin.Context) {
	if err := h.page.Disconnect(c.Request.Context()); err != nil {
		h.respondError(c, err)
		return
	}
	h.respond(c, nil)
}

func (h *PageHandler) SwitchChainHandler(c *gin.Context) {
	var req switchChainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Error: err.Error()})
		return
	}
	if err := h.page.SwitchChain(c.Request.Context(), uint64(req.ChainID)); err != nil {
		h.respondError(c, err)
		return
	}
	h.respond(c, nil)
}

func (h *PageHandler) RefreshHandler(c *gin.Context) {
	if err := h.page.Refresh(c.Request.Context()); err != nil {
		h.respondError(c, err)
		return
	}
	h.respond(c, nil)
}

func (h *PageHandler) SignMessageHandler(c *gin.Context) {
	sig, err := h.page.SignMessage(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respond(c, gin.H{"signature": sig})
}

func (h *PageHandler) SignTypedDataHandler(c *gin.Context) {
	sig, err := h.page.SignTypedData(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respond(c, gin.H{"signature": sig})
}

// SignInHandler signs a sign-in message for the origin the request was made to.
func (h *PageHandler) SignInHandler(c *gin.Context) {
	res, err := h.page.SignIn(c.Request.Context(), h.requestOrigin(c.Request))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respond(c, res)
}

// VerifyHandler answers 200 for a completed check, valid or not.
func (h *PageHandler) VerifyHandler(c *gin.Context) {
	out, err := h.page.Verify(c.Request.Context())
	if err != nil && out == nil {
		h.respondError(c, err)
		return
	}
	h.respond(c, out)
}

func (h *PageHandler) SendTransactionHandler(c *gin.Context) {
	hash, err := h.page.SendTransaction(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respond(c, gin.H{"hash": hash})
}
