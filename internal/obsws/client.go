// Package obsws is a minimal obs-websocket v5 client: it identifies with an
// optional password and issues single and batched requests over one
// persistent connection.
package obsws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const defaultHandshakeTimeout = 5 * time.Second

// Client is one identified session with the remote engine.
type Client struct {
	address string
	conn    *websocket.Conn
	log     *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan json.RawMessage

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// Option customizes Dial.
type Option func(*dialOptions)

type dialOptions struct {
	logger           *slog.Logger
	handshakeTimeout time.Duration
}

// WithLogger sets the logger used by the client.
func WithLogger(l *slog.Logger) Option { return func(o *dialOptions) { o.logger = l } }

// WithHandshakeTimeout bounds the websocket upgrade and Identify exchange.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *dialOptions) { o.handshakeTimeout = d }
}

// Dial connects to address, performs the Hello/Identify handshake and starts
// the read loop. Errors are *ConnectError.
func Dial(ctx context.Context, address, password string, opts ...Option) (*Client, error) {
	o := dialOptions{logger: slog.Default(), handshakeTimeout: defaultHandshakeTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	target, err := NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: o.handshakeTimeout,
		Subprotocols:     []string{subprotocol},
	}
	conn, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, &ConnectError{Kind: Unreachable, Address: target, Err: err}
	}

	_ = conn.SetReadDeadline(time.Now().Add(o.handshakeTimeout))
	if err := identifySession(conn, password); err != nil {
		conn.Close()
		var ce *ConnectError
		if errors.As(err, &ce) {
			ce.Address = target
			return nil, ce
		}
		return nil, &ConnectError{Kind: Unreachable, Address: target, Err: err}
	}
	_ = conn.SetReadDeadline(time.Time{})

	c := &Client{
		address: target,
		conn:    conn,
		log:     o.logger,
		pending: make(map[string]chan json.RawMessage),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	c.log.Info("obsws: identified", "address", target)
	return c, nil
}

func identifySession(conn *websocket.Conn, password string) error {
	var msg message
	if err := conn.ReadJSON(&msg); err != nil {
		return handshakeError(err)
	}
	if msg.Op != opHello {
		return fmt.Errorf("expected Hello, got op %d", msg.Op)
	}
	var h hello
	if err := json.Unmarshal(msg.D, &h); err != nil {
		return fmt.Errorf("decode Hello: %w", err)
	}

	id := identify{RPCVersion: rpcVersion}
	if h.Authentication != nil {
		id.Authentication = AuthString(password, h.Authentication.Salt, h.Authentication.Challenge)
	}
	if err := writeMessage(conn, opIdentify, id); err != nil {
		return err
	}

	if err := conn.ReadJSON(&msg); err != nil {
		return handshakeError(err)
	}
	if msg.Op != opIdentified {
		return fmt.Errorf("expected Identified, got op %d", msg.Op)
	}
	return nil
}

func handshakeError(err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if closeErr.Code == closeAuthFailed {
			return &ConnectError{Kind: AuthFailed, Message: closeErr.Text, Err: err}
		}
		return &ConnectError{Kind: Unreachable, Message: closeErr.Text, Err: err}
	}
	return err
}

func writeMessage(conn *websocket.Conn, op int, d any) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return conn.WriteJSON(message{Op: op, D: raw})
}

// Address returns the normalized URL the client is connected to.
func (c *Client) Address() string { return c.address }

// Done is closed when the connection ends for any reason.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns why the connection ended, or nil while it is open.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close tears down the connection. In-flight calls fail with ErrClosed.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.shutdown(ErrClosed)
	return nil
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		close(c.done)
		_ = c.conn.Close()
		c.mu.Lock()
		c.pending = map[string]chan json.RawMessage{}
		c.mu.Unlock()
	})
}

func (c *Client) readLoop() {
	for {
		var msg message
		if err := c.conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.done:
			default:
				c.log.Warn("obsws: connection lost", "address", c.address, "error", err)
			}
			c.shutdown(fmt.Errorf("%w: %v", ErrClosed, err))
			return
		}
		switch msg.Op {
		case opRequestResponse, opRequestBatchResponse:
			var head struct {
				ID string `json:"requestId"`
			}
			if err := json.Unmarshal(msg.D, &head); err != nil {
				c.log.Debug("obsws: undecodable response", "error", err)
				continue
			}
			c.mu.Lock()
			ch, ok := c.pending[head.ID]
			delete(c.pending, head.ID)
			c.mu.Unlock()
			if ok {
				ch <- msg.D
			}
		default:
			// events and other opcodes are not subscribed to
		}
	}
}

func (c *Client) roundTrip(ctx context.Context, op int, id string, payload any) (json.RawMessage, error) {
	ch := make(chan json.RawMessage, 1)
	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return nil, ErrClosed
	default:
	}
	c.pending[id] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := writeMessage(c.conn, op, payload)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("%w: %v", ErrClosed, err)
	}

	select {
	case raw := <-ch:
		return raw, nil
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Call issues one request and returns its response data.
func (c *Client) Call(ctx context.Context, requestType string, data any) (json.RawMessage, error) {
	id := uuid.NewString()
	raw, err := c.roundTrip(ctx, opRequest, id, requestEnvelope{Type: requestType, ID: id, Data: data})
	if err != nil {
		return nil, err
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("obsws: decode %s response: %w", requestType, err)
	}
	if !resp.Status.Result {
		return nil, &RequestError{RequestType: requestType, Code: resp.Status.Code, Comment: resp.Status.Comment}
	}
	return resp.Data, nil
}

// CallBatch submits requests in one round trip. Results are returned in
// request order; a failed entry has a false status and no data.
func (c *Client) CallBatch(ctx context.Context, requests []Request) ([]Response, error) {
	id := uuid.NewString()
	raw, err := c.roundTrip(ctx, opRequestBatch, id, batchEnvelope{ID: id, Requests: requests})
	if err != nil {
		return nil, err
	}
	var resp batchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("obsws: decode batch response: %w", err)
	}
	return resp.Results, nil
}
