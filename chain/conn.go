// Package chain owns the websocket JSON-RPC connection to the node.
package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"

	"github.com/colorfulnotion/flchain/log"
	"github.com/colorfulnotion/flchain/metrics"
	"github.com/colorfulnotion/flchain/telemetry"
)

var (
	ErrNotConnected         = errors.New("not connected")
	ErrConnectionClosed     = errors.New("connection closed")
	ErrSubscriptionOverflow = errors.New("subscription buffer overflow")
)

const (
	readLimit          = 32 << 20
	writeTimeout       = 10 * time.Second
	subscriptionBuffer = 256
)

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("%d|%s: %s", e.Code, e.Message, strings.Trim(string(e.Data), `"`))
	}
	return fmt.Sprintf("%d|%s", e.Code, e.Message)
}

func (e *RPCError) ErrorCode() int {
	return e.Code
}

// Conn is a JSON-RPC connection with subscription support.
type Conn interface {
	Call(ctx context.Context, method string, result any, params ...any) error
	Subscribe(ctx context.Context, method, unsubMethod string, params ...any) (*Subscription, error)
	Close() error
	IsConnected() bool
}

// Subscription delivers notifications for one subscription id. Err yields a
// value once if the subscription ends for any reason other than Unsubscribe.
type Subscription struct {
	ID string

	ch     chan json.RawMessage
	errc   chan error
	unsub  func() error
	mu     sync.Mutex
	closed bool
}

// NewSubscription builds a subscription; unsub is called at most once.
// Transports and test fakes feed it with Notify and end it with Fail.
func NewSubscription(id string, unsub func() error) *Subscription {
	return &Subscription{
		ID:    id,
		ch:    make(chan json.RawMessage, subscriptionBuffer),
		errc:  make(chan error, 1),
		unsub: unsub,
	}
}

// C is the notification stream.
func (s *Subscription) C() <-chan json.RawMessage {
	return s.ch
}

// Err reports abnormal termination.
func (s *Subscription) Err() <-chan error {
	return s.errc
}

// Notify queues a notification; it reports false once the subscription ended.
func (s *Subscription) Notify(msg json.RawMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- msg:
		return true
	default:
		s.closeLocked(ErrSubscriptionOverflow)
		return false
	}
}

// Fail ends the subscription with err.
func (s *Subscription) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked(err)
}

func (s *Subscription) closeLocked(err error) {
	if s.closed {
		return
	}
	s.closed = true
	if err != nil {
		s.errc <- err
	}
	close(s.ch)
}

// Unsubscribe stops delivery and tells the node. A subscription that already
// failed, for example on overflow, is still unwatched on the node.
func (s *Subscription) Unsubscribe() error {
	s.mu.Lock()
	s.closeLocked(nil)
	unsub := s.unsub
	s.unsub = nil
	s.mu.Unlock()
	if unsub == nil {
		return nil
	}
	return unsub()
}

type jsonrpcMessage struct {
	Version string          `json:"jsonrpc"`
	ID      *uint64         `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type jsonrpcRequest struct {
	Version string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type notificationParams struct {
	Subscription json.RawMessage `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

type pendingCall struct {
	resp        chan *jsonrpcMessage
	// sub is registered by the reader before the response is handed over,
	// so notifications that follow immediately are not lost.
	sub         *Subscription
	unsubMethod string
	// abandoned is set when the caller gave up before the response; a
	// subscription the node still creates is then unwatched at once.
	abandoned   bool
}

// wsConn multiplexes requests and subscriptions over one websocket. A single
// reader goroutine routes responses by id and notifications by subscription.
type wsConn struct {
	endpoint string
	ws       *websocket.Conn
	metrics  *metrics.Metrics

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]*pendingCall
	subs    map[string]*Subscription
	err     error

	done chan struct{}
}

// Dial opens a websocket connection to endpoint.
func Dial(ctx context.Context, endpoint string) (Conn, error) {
	return dial(ctx, endpoint, metrics.Default())
}

func dial(ctx context.Context, endpoint string, m *metrics.Metrics) (*wsConn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	ws.SetReadLimit(readLimit)
	m.ObserveDial()
	c := &wsConn{
		endpoint: endpoint,
		ws:       ws,
		metrics:  m,
		pending:  make(map[uint64]*pendingCall),
		subs:     make(map[string]*Subscription),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *wsConn) IsConnected() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *wsConn) Close() error {
	c.shutdown(ErrConnectionClosed)
	return nil
}

// shutdown fails every in-flight call and subscription with cause.
func (c *wsConn) shutdown(cause error) {
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return
	}
	c.err = cause
	pending, subs := c.pending, c.subs
	c.pending = make(map[uint64]*pendingCall)
	c.subs = make(map[string]*Subscription)
	close(c.done)
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.ws.Close()

	for _, sub := range subs {
		sub.Fail(cause)
	}
	for _, p := range pending {
		close(p.resp)
	}
	log.Debug(log.ChainModule, "connection closed", "endpoint", c.endpoint, "err", cause)
}

func (c *wsConn) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		return ErrConnectionClosed
	}
	return c.err
}

func (c *wsConn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.shutdown(fmt.Errorf("%w: %v", ErrConnectionClosed, err))
			return
		}
		var msg jsonrpcMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn(log.ChainModule, "malformed message", "err", err, "data", string(data))
			continue
		}
		switch {
		case msg.ID != nil:
			c.handleResponse(&msg)
		case msg.Method != "":
			c.handleNotification(&msg)
		}
	}
}

func (c *wsConn) handleResponse(msg *jsonrpcMessage) {
	c.mu.Lock()
	p, ok := c.pending[*msg.ID]
	delete(c.pending, *msg.ID)
	var orphan string
	if ok && p.sub != nil && msg.Error == nil {
		id, err := subscriptionID(msg.Result)
		switch {
		case err != nil:
		case p.abandoned:
			orphan = id
		default:
			p.sub.ID = id
			c.subs[id] = p.sub
		}
	}
	c.mu.Unlock()
	if !ok {
		log.Debug(log.ChainModule, "response without caller", "id", *msg.ID)
		return
	}
	if orphan != "" {
		go c.unwatchOrphan(p.unsubMethod, orphan)
	}
	p.resp <- msg
}

func (c *wsConn) handleNotification(msg *jsonrpcMessage) {
	var params notificationParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		log.Warn(log.ChainModule, "malformed notification", "method", msg.Method, "err", err)
		return
	}
	id, err := subscriptionID(params.Subscription)
	if err != nil {
		return
	}
	c.mu.Lock()
	sub, ok := c.subs[id]
	c.mu.Unlock()
	if !ok {
		log.Trace(log.ChainModule, "notification for unknown subscription", "method", msg.Method, "sub", id)
		return
	}
	if !sub.Notify(params.Result) {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// subscriptionID accepts both string and numeric ids.
func subscriptionID(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n uint64
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("subscription id %s: %w", raw, err)
	}
	return strconv.FormatUint(n, 10), nil
}

func (c *wsConn) request(ctx context.Context, method string, params []any, sub *Subscription, unsubMethod string) (*jsonrpcMessage, error) {
	if params == nil {
		params = []any{}
	}
	p := &pendingCall{resp: make(chan *jsonrpcMessage, 1), sub: sub, unsubMethod: unsubMethod}

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.nextID++
	id := c.nextID
	c.pending[id] = p
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	c.writeMu.Lock()
	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.ws.SetWriteDeadline(deadline)
	err := c.ws.WriteJSON(jsonrpcRequest{Version: "2.0", ID: id, Method: method, Params: params})
	c.writeMu.Unlock()
	if err != nil {
		forget()
		c.shutdown(fmt.Errorf("%w: write: %v", ErrConnectionClosed, err))
		return nil, c.closedErr()
	}

	select {
	case msg, ok := <-p.resp:
		if !ok {
			return nil, c.closedErr()
		}
		if msg.Error != nil {
			return nil, msg.Error
		}
		return msg, nil
	case <-ctx.Done():
		if sub == nil {
			forget()
		} else {
			c.abandon(id, p)
		}
		return nil, ctx.Err()
	}
}

// abandon gives up on subscription request id. If the reply is still
// outstanding the reader unwatches whatever the node creates; if it already
// arrived the registration is dropped and unwatched here.
func (c *wsConn) abandon(id uint64, p *pendingCall) {
	c.mu.Lock()
	if _, waiting := c.pending[id]; waiting {
		p.abandoned = true
		c.mu.Unlock()
		return
	}
	subID := p.sub.ID
	registered := subID != "" && c.subs[subID] == p.sub
	if registered {
		delete(c.subs, subID)
	}
	c.mu.Unlock()
	if registered {
		go c.unwatchOrphan(p.unsubMethod, subID)
	}
}

func (c *wsConn) unwatch(method, id string) error {
	if method == "" || !c.IsConnected() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	var ok bool
	return c.Call(ctx, method, &ok, id)
}

func (c *wsConn) unwatchOrphan(method, id string) {
	if err := c.unwatch(method, id); err != nil {
		log.Debug(log.ChainModule, "unwatch of abandoned subscription failed", "method", method, "sub", id, "err", err)
	}
}

func (c *wsConn) Call(ctx context.Context, method string, result any, params ...any) (err error) {
	ctx, span := telemetry.Start(ctx, "rpc "+method, attribute.String("rpc.method", method))
	start := time.Now()
	defer func() {
		c.metrics.ObserveRPC(method, err, time.Since(start))
		telemetry.End(span, err)
	}()

	msg, err := c.request(ctx, method, params, nil, "")
	if err != nil {
		return err
	}
	log.Trace(log.ChainModule, "rpc", "method", method, "result", string(msg.Result))
	if result == nil || len(msg.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(msg.Result, result); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

func (c *wsConn) Subscribe(ctx context.Context, method, unsubMethod string, params ...any) (*Subscription, error) {
	sub := NewSubscription("", nil)
	start := time.Now()
	msg, err := c.request(ctx, method, params, sub, unsubMethod)
	c.metrics.ObserveRPC(method, err, time.Since(start))
	if err != nil {
		return nil, err
	}
	id, err := subscriptionID(msg.Result)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	sub.unsub = func() error {
		c.mu.Lock()
		if c.subs[id] == sub {
			delete(c.subs, id)
		}
		c.mu.Unlock()
		return c.unwatch(unsubMethod, id)
	}
	log.Debug(log.ChainModule, "subscribed", "method", method, "sub", id)
	return sub, nil
}
