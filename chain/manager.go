package chain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/colorfulnotion/flchain/log"
)

// DefaultEndpoint is the public FL chain node.
const DefaultEndpoint = "wss://ukdw-rpc.baliola.dev"

// dialTimeout bounds a shared dial, which runs detached from any one caller.
const dialTimeout = 15 * time.Second

// Opener hands out the shared connection. Manager implements it.
type Opener interface {
	EnsureOpen(ctx context.Context) (Conn, error)
}

// Dialer opens a connection to an endpoint.
type Dialer func(ctx context.Context, endpoint string) (Conn, error)

// Manager owns the single shared connection. Creation is serialized so that
// concurrent first callers share one dial; a dropped connection is replaced
// on the next EnsureOpen.
type Manager struct {
	endpoint string
	dial     Dialer

	mu    sync.Mutex
	conn  Conn
	group singleflight.Group
}

type Option func(*Manager)

// WithDialer replaces the websocket dialer, mainly for tests.
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dial = d }
}

func NewManager(endpoint string, opts ...Option) *Manager {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	m := &Manager{endpoint: endpoint, dial: Dial}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Endpoint() string {
	return m.endpoint
}

// Open connects eagerly.
func (m *Manager) Open(ctx context.Context) error {
	_, err := m.EnsureOpen(ctx)
	return err
}

func (m *Manager) current() Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil && m.conn.IsConnected() {
		return m.conn
	}
	return nil
}

// EnsureOpen returns the live connection, dialing if there is none. The dial
// is shared by concurrent callers and outlives any one of them; ctx only
// bounds how long this caller waits.
func (m *Manager) EnsureOpen(ctx context.Context) (Conn, error) {
	if c := m.current(); c != nil {
		return c, nil
	}
	ch := m.group.DoChan(m.endpoint, func() (any, error) {
		if c := m.current(); c != nil {
			return c, nil
		}
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dialTimeout)
		defer cancel()
		log.Debug(log.ChainModule, "dialing", "endpoint", m.endpoint)
		c, err := m.dial(dctx, m.endpoint)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotConnected, err)
		}
		m.mu.Lock()
		m.conn = c
		m.mu.Unlock()
		log.Info(log.ChainModule, "connected", "endpoint", m.endpoint)
		return c, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			log.Trace(log.ChainModule, "shared dial", "endpoint", m.endpoint)
		}
		return res.Val.(Conn), nil
	}
}

// Close drops the connection; a later EnsureOpen dials again.
func (m *Manager) Close() error {
	m.mu.Lock()
	c := m.conn
	m.conn = nil
	m.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}
