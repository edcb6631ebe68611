// Package supervisor owns the connection lifecycle: it dials, remembers the
// credentials that worked, and makes a single delayed reconnect attempt
// when the connection drops without being asked to.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Dicklesworthstone/obs_stats_monitor/internal/credentials"
	"github.com/Dicklesworthstone/obs_stats_monitor/internal/obsws"
)

// DefaultReconnectDelay is the wait between a drop and the reconnect attempt.
const DefaultReconnectDelay = time.Second

// Conn is a live connection to the remote engine.
type Conn interface {
	Call(ctx context.Context, requestType string, data any) (json.RawMessage, error)
	CallBatch(ctx context.Context, requests []obsws.Request) ([]obsws.Response, error)
	Done() <-chan struct{}
	Close() error
}

// DialFunc opens a connection.
type DialFunc func(ctx context.Context, address, password string) (Conn, error)

// CredentialStore persists the last credentials that connected.
type CredentialStore interface {
	Save(credentials.Credentials) error
	Forget() error
}

// State is the supervisor's connection state.
type State int

const (
	Disconnected State = iota
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Hooks are invoked from the supervisor's goroutines; they must not block
// or call back into the supervisor. A hook only fires while the connection
// it reports on is still registered, and never concurrently with
// Disconnect.
type Hooks struct {
	// OnConnected fires after every successful connect, including the
	// automatic reconnect. session increases by one each time.
	OnConnected func(conn Conn, session uint64)
	// OnDropped fires when an open connection ends without Disconnect.
	OnDropped func()
	// OnReconnectFailed fires when the single reconnect attempt fails.
	OnReconnectFailed func(err error)
}

// Config carries supervisor options.
type Config struct {
	Dial           DialFunc
	Store          CredentialStore
	ReconnectDelay time.Duration
	Hooks          Hooks
	Logger         *slog.Logger
}

// Supervisor manages one connection at a time.
type Supervisor struct {
	dial  DialFunc
	store CredentialStore
	delay time.Duration
	hooks Hooks
	log   *slog.Logger

	hookMu sync.Mutex // serialises hooks with Disconnect

	mu      sync.Mutex
	conn    Conn
	creds   credentials.Credentials
	session uint64
	state   State
	stop    chan struct{} // closed to unregister the drop observer
}

func New(cfg Config) *Supervisor {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Supervisor{
		dial:  cfg.Dial,
		store: cfg.Store,
		delay: cfg.ReconnectDelay,
		hooks: cfg.Hooks,
		log:   cfg.Logger,
	}
}

// ObsDialer adapts obsws.Dial to a DialFunc.
func ObsDialer(opts ...obsws.Option) DialFunc {
	return func(ctx context.Context, address, password string) (Conn, error) {
		c, err := obsws.Dial(ctx, address, password, opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Connect dials address, replacing any current connection. On success the
// credentials are persisted and the drop observer is registered.
func (s *Supervisor) Connect(ctx context.Context, address, password string) (Conn, error) {
	if _, err := obsws.NormalizeAddress(address); err != nil {
		return nil, err
	}
	s.Disconnect()

	conn, err := s.dial(ctx, address, password)
	if err != nil {
		s.log.Warn("supervisor: connect failed", "address", address, "error", err)
		return nil, err
	}
	creds := credentials.Credentials{Address: address, Password: password}
	stop, session, _ := s.install(conn, creds, nil)
	s.persist(creds)
	s.log.Info("supervisor: connected", "address", address, "session", session)
	if s.hooks.OnConnected != nil {
		s.fire(stop, func() { s.hooks.OnConnected(conn, session) })
	}
	return conn, nil
}

// install makes conn current and registers its drop observer. When expect
// is non-nil the install only happens if expect is still the registered
// observer, so a Disconnect racing a reconnect wins.
func (s *Supervisor) install(conn Conn, creds credentials.Credentials, expect chan struct{}) (chan struct{}, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if expect != nil && s.stop != expect {
		return nil, 0, false
	}
	if s.stop != nil {
		close(s.stop)
	}
	if s.conn != nil && s.conn != conn {
		_ = s.conn.Close()
	}
	stop := make(chan struct{})
	s.conn = conn
	s.creds = creds
	s.stop = stop
	s.session++
	s.state = Connected
	go s.watch(conn, stop)
	return stop, s.session, true
}

// fire runs hook if stop is still the registered observer. Holding hookMu
// keeps a Disconnect from slipping in between the check and the hook.
func (s *Supervisor) fire(stop chan struct{}, hook func()) bool {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.mu.Lock()
	current := s.stop == stop
	s.mu.Unlock()
	if !current {
		return false
	}
	hook()
	return true
}

func (s *Supervisor) persist(creds credentials.Credentials) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(creds); err != nil {
		s.log.Warn("supervisor: failed to persist credentials", "error", err)
	}
}

func (s *Supervisor) watch(conn Conn, stop chan struct{}) {
	select {
	case <-stop:
		return
	case <-conn.Done():
	}

	s.mu.Lock()
	if s.stop != stop {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.state = Reconnecting
	creds := s.creds
	s.mu.Unlock()

	s.log.Warn("supervisor: connection dropped, reconnecting", "delay", s.delay)
	if s.hooks.OnDropped != nil {
		s.fire(stop, s.hooks.OnDropped)
	}

	timer := time.NewTimer(s.delay)
	defer timer.Stop()
	select {
	case <-stop:
		return
	case <-timer.C:
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	next, err := s.dial(ctx, creds.Address, creds.Password)
	if err != nil {
		s.mu.Lock()
		if s.stop == stop {
			s.state = Disconnected
		}
		s.mu.Unlock()
		s.log.Error("supervisor: reconnect failed", "address", creds.Address, "error", err)
		if s.hooks.OnReconnectFailed != nil {
			s.fire(stop, func() { s.hooks.OnReconnectFailed(err) })
		}
		return
	}

	current, session, ok := s.install(next, creds, stop)
	if !ok {
		_ = next.Close()
		return
	}
	s.persist(creds)
	s.log.Info("supervisor: reconnected", "address", creds.Address, "session", session)
	if s.hooks.OnConnected != nil {
		s.fire(current, func() { s.hooks.OnConnected(next, session) })
	}
}

// Disconnect unregisters the drop observer and closes the connection. It is
// the only way to end a connection without triggering a reconnect. Once it
// returns no hook fires for the connection it ended.
func (s *Supervisor) Disconnect() {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.mu.Lock()
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	conn := s.conn
	s.conn = nil
	s.state = Disconnected
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
		s.log.Info("supervisor: disconnected")
	}
}

// Forget clears persisted credentials. An open connection is unaffected.
func (s *Supervisor) Forget() error {
	if s.store == nil {
		return nil
	}
	if err := s.store.Forget(); err != nil {
		return fmt.Errorf("forget credentials: %w", err)
	}
	return nil
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Credentials returns the credentials of the last successful connect.
func (s *Supervisor) Credentials() credentials.Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds
}
