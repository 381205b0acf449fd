package unipass

import (
	"context"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"wallet_playground/internal/domain/entity"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Headers sent with every request.
const (
	HeaderEmail   = "X-UniPass-Email"
	HeaderAppName = "X-UniPass-App"
	HeaderTheme   = "X-UniPass-Theme"
)

const codeUserRejected = 4001

type rpcRequest struct {
	ID      int64         `json:"id"`
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	ID     int64               `json:"id"`
	Result jsoniter.RawMessage `json:"result"`
	Error  *rpcError           `json:"error"`
}

// Client speaks the external signer JSON-RPC API of the hosted UniPass signer.
type Client interface {
	Call(ctx context.Context, result interface{}, method string, params ...interface{}) error
}

// ClientConfig configures the signer endpoint.
type ClientConfig struct {
	Endpoint  string
	AuthToken string
	Email     string
	AppName   string
	Theme     string
	Timeout   time.Duration
}

type clientImpl struct {
	client *fasthttp.Client
	cfg    ClientConfig
	ids    *atomic.Int64
	logger *zap.Logger
}

// NewClient creates a new UniPass signer client.
func NewClient(cfg ClientConfig, logger *zap.Logger) Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	return &clientImpl{
		client: &fasthttp.Client{},
		cfg:    cfg,
		ids:    atomic.NewInt64(0),
		logger: logger.Named("UniPassClient"),
	}
}

// Call implements the Client interface.
func (c *clientImpl) Call(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(rpcRequest{ID: c.ids.Inc(), JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	c.logger.Debug("Calling UniPass signer", zap.String("method", method))

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI(c.cfg.Endpoint)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentTypeBytes([]byte("application/json"))
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}
	if c.cfg.Email != "" {
		req.Header.Set(HeaderEmail, c.cfg.Email)
	}
	if c.cfg.AppName != "" {
		req.Header.Set(HeaderAppName, c.cfg.AppName)
	}
	if c.cfg.Theme != "" {
		req.Header.Set(HeaderTheme, c.cfg.Theme)
	}
	req.SetBody(body)

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	deadline, ok := ctx.Deadline()
	if ok {
		if err := c.client.DoDeadline(req, resp, deadline); err != nil {
			c.logger.Error("Failed to execute request to UniPass signer", zap.String("method", method), zap.Error(err))
			return fmt.Errorf("failed to execute %s: %w", method, err)
		}
	} else {
		if err := c.client.DoTimeout(req, resp, c.cfg.Timeout); err != nil {
			c.logger.Error("Failed to execute request to UniPass signer (with default timeout)", zap.String("method", method), zap.Error(err))
			return fmt.Errorf("failed to execute %s with default timeout: %w", method, err)
		}
	}

	rawBody := resp.Body()
	if resp.StatusCode() != fasthttp.StatusOK {
		c.logger.Error("UniPass signer request failed",
			zap.String("method", method),
			zap.Int("statusCode", resp.StatusCode()),
			zap.ByteString("responseBody", rawBody),
		)
		return fmt.Errorf("%s failed with status %d: %s", method, resp.StatusCode(), string(rawBody))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(rawBody, &rpcResp); err != nil {
		return fmt.Errorf("failed to unmarshal %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		msg := strings.ToLower(rpcResp.Error.Message)
		if rpcResp.Error.Code == codeUserRejected || strings.Contains(msg, "denied") || strings.Contains(msg, "reject") {
			return fmt.Errorf("%s: %w: %s", method, entity.ErrUserRejected, rpcResp.Error.Message)
		}
		return fmt.Errorf("%s: signer error %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}
