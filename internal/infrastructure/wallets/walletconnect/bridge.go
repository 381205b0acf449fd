package walletconnect

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"wallet_playground/internal/domain/entity"
)

// codeUserRejected is the EIP-1193 user rejection code.
const codeUserRejected = 4001

// bridgeConn is one websocket to the bridge. A single goroutine reads, writes are serialized.
type bridgeConn struct {
	conn     *websocket.Conn
	writeMu  sync.Mutex
	key      []byte
	clientID string
	logger   *zap.Logger

	ids       *atomic.Int64
	pendingMu sync.Mutex
	pending   map[int64]chan rpcResponse

	closed   atomic.Bool
	done     chan struct{}
	closeErr error

	// onRequest receives requests the wallet sends to us, e.g. session updates.
	onRequest func(method string, params gjson.Result)
	// onClosed runs once when the read loop ends without a local Close.
	onClosed func(err error)
}

func websocketURL(bridgeURL string) (string, error) {
	u, err := url.Parse(bridgeURL)
	if err != nil {
		return "", fmt.Errorf("parse bridge url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported bridge url scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set("protocol", "wc")
	q.Set("version", "1")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func newBridgeConn(conn *websocket.Conn, key []byte, clientID string, ids *atomic.Int64, logger *zap.Logger) *bridgeConn {
	return &bridgeConn{
		conn:     conn,
		key:      key,
		clientID: clientID,
		logger:   logger,
		ids:      ids,
		pending:  make(map[int64]chan rpcResponse),
		done:     make(chan struct{}),
	}
}

func (c *bridgeConn) write(msg wcMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal bridge message: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("write wallet connect message to bridge: %w", err)
	}
	return nil
}

func (c *bridgeConn) subscribe(topic string) error {
	return c.write(wcMessage{Topic: topic, Type: msgSub, Silent: true})
}

func (c *bridgeConn) ack(topic string) error {
	return c.write(wcMessage{Topic: topic, Type: msgAck, Silent: true})
}

// publish encrypts v and sends it to topic.
func (c *bridgeConn) publish(topic string, v interface{}, silent bool) error {
	plain, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal json-rpc payload: %w", err)
	}
	payload, err := encrypt(plain, c.key)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal encrypted payload: %w", err)
	}
	return c.write(wcMessage{Topic: topic, Type: msgPub, Payload: string(raw), Silent: silent})
}

// notify publishes a request nobody answers.
func (c *bridgeConn) notify(topic, method string, params ...interface{}) error {
	return c.publish(topic, rpcRequest{ID: c.ids.Inc(), JSONRPC: "2.0", Method: method, Params: params}, true)
}

// request publishes a JSON-RPC request to topic and waits for the matching response.
func (c *bridgeConn) request(ctx context.Context, topic, method string, params ...interface{}) (jsoniter.RawMessage, error) {
	if c.closed.Load() {
		return nil, entity.ErrSessionClosed
	}
	if params == nil {
		params = []interface{}{}
	}
	req := rpcRequest{ID: c.ids.Inc(), JSONRPC: "2.0", Method: method, Params: params}
	ch := make(chan rpcResponse, 1)

	c.pendingMu.Lock()
	c.pending[req.ID] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, req.ID)
		c.pendingMu.Unlock()
	}()

	c.logger.Debug("wallet connect - request", zap.String("method", method), zap.Int64("id", req.ID))
	if err := c.publish(topic, req, strings.HasPrefix(method, "wc_")); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", method, ctx.Err())
	case <-c.done:
		return nil, fmt.Errorf("%s: %w", method, c.closeErr)
	case resp := <-ch:
		if resp.Error != nil {
			return nil, responseError(method, resp.Error)
		}
		return resp.Result, nil
	}
}

func responseError(method string, e *rpcError) error {
	msg := strings.ToLower(e.Message)
	if e.Code == codeUserRejected || strings.Contains(msg, "reject") || strings.Contains(msg, "denied") {
		return fmt.Errorf("%s: %w: %s", method, entity.ErrUserRejected, e.Message)
	}
	return fmt.Errorf("%s: wallet error %d: %s", method, e.Code, e.Message)
}

func (c *bridgeConn) readLoop() {
	var loopErr error
	defer func() {
		c.finish(loopErr)
	}()

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			loopErr = fmt.Errorf("%w: %v", entity.ErrSessionClosed, err)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var msg wcMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("wallet connect - unreadable bridge frame", zap.Error(err))
			continue
		}
		if msg.Type != msgPub || msg.Topic != c.clientID {
			continue
		}
		if err := c.ack(msg.Topic); err != nil {
			c.logger.Warn("wallet connect - ack failed", zap.Error(err))
		}

		var payload encryptedPayload
		if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
			c.logger.Warn("wallet connect - unreadable payload", zap.Error(err))
			continue
		}
		plain, err := decrypt(&payload, c.key)
		if err != nil {
			c.logger.Warn("wallet connect - cannot decrypt payload", zap.Error(err))
			continue
		}

		if method := gjson.GetBytes(plain, "method"); method.Exists() {
			if c.onRequest != nil {
				c.onRequest(method.String(), gjson.GetBytes(plain, "params"))
			}
			if c.closed.Load() {
				loopErr = entity.ErrSessionClosed
				return
			}
			continue
		}

		var resp rpcResponse
		if err := json.Unmarshal(plain, &resp); err != nil {
			c.logger.Warn("wallet connect - malformed response", zap.Error(err))
			continue
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[resp.ID]
		c.pendingMu.Unlock()
		if !ok {
			c.logger.Debug("wallet connect - response without pending request", zap.Int64("id", resp.ID))
			continue
		}
		select {
		case ch <- resp:
		default:
		}
	}
}

// finish unblocks pending requests and reports remote closes.
func (c *bridgeConn) finish(err error) {
	if err == nil {
		err = entity.ErrSessionClosed
	}
	c.closeErr = err
	close(c.done)
	remote := c.closed.CAS(false, true)
	_ = c.conn.Close()
	if remote && c.onClosed != nil {
		c.onClosed(err)
	}
}

// markRemoteClosed is called when the wallet ends the session by message.
func (c *bridgeConn) markRemoteClosed() {
	if c.closed.CAS(false, true) && c.onClosed != nil {
		c.onClosed(entity.ErrSessionClosed)
	}
}

// close ends the connection locally. The read loop exits without reporting a disconnect.
func (c *bridgeConn) close() error {
	if !c.closed.CAS(false, true) {
		return nil
	}
	c.writeMu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	err := c.conn.Close()
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return err
	}
	return nil
}
