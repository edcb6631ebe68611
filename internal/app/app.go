// Package app wires the supervisor, the sampling loop and the engine into
// the commands the dashboard exposes: connect, disconnect, reset, forget.
package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Dicklesworthstone/obs_stats_monitor/internal/credentials"
	"github.com/Dicklesworthstone/obs_stats_monitor/internal/engine"
	"github.com/Dicklesworthstone/obs_stats_monitor/internal/obsws"
	"github.com/Dicklesworthstone/obs_stats_monitor/internal/sampler"
	"github.com/Dicklesworthstone/obs_stats_monitor/internal/supervisor"
)

// Store is the credential persistence the app needs.
type Store interface {
	supervisor.CredentialStore
	Load() (credentials.Credentials, error)
}

// Options configures an App.
type Options struct {
	Interval       time.Duration
	ReconnectDelay time.Duration
	Store          Store
	Dial           supervisor.DialFunc
	Logger         *slog.Logger
}

// App is the monitor's command surface.
type App struct {
	interval time.Duration
	log      *slog.Logger
	store    Store
	engine   *engine.Engine
	sup      *supervisor.Supervisor

	mu       sync.Mutex
	stopLoop context.CancelFunc
	lastErr  string
}

func New(opts Options) *App {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Interval <= 0 {
		opts.Interval = sampler.DefaultInterval
	}
	if opts.Dial == nil {
		opts.Dial = supervisor.ObsDialer(obsws.WithLogger(opts.Logger))
	}
	a := &App{
		interval: opts.Interval,
		log:      opts.Logger,
		store:    opts.Store,
		engine:   engine.New(opts.Interval, opts.Logger),
	}
	a.sup = supervisor.New(supervisor.Config{
		Dial:           opts.Dial,
		Store:          opts.Store,
		ReconnectDelay: opts.ReconnectDelay,
		Logger:         opts.Logger,
		Hooks: supervisor.Hooks{
			OnConnected:       a.onConnected,
			OnDropped:         a.onDropped,
			OnReconnectFailed: a.onReconnectFailed,
		},
	})
	return a
}

// Engine returns the engine holding the reconciled state.
func (a *App) Engine() *engine.Engine { return a.engine }

// Connect dials the engine and starts sampling.
func (a *App) Connect(ctx context.Context, address, password string) error {
	if _, err := obsws.NormalizeAddress(address); err != nil {
		a.setErr(err.Error())
		return err
	}
	a.haltLoop()
	a.engine.SetState("connecting")
	if _, err := a.sup.Connect(ctx, address, password); err != nil {
		a.setErr(err.Error())
		a.engine.SetState(supervisor.Disconnected.String())
		return err
	}
	return nil
}

// ConnectStored connects using the remembered credentials, if any.
func (a *App) ConnectStored(ctx context.Context) error {
	creds := a.sup.Credentials()
	if creds.Address == "" && a.store != nil {
		stored, err := a.store.Load()
		if err != nil {
			return err
		}
		creds = stored
	}
	if creds.Address == "" {
		a.setErr("no remembered address")
		return nil
	}
	return a.Connect(ctx, creds.Address, creds.Password)
}

// Disconnect stops sampling and closes the connection without reconnecting.
// The supervisor goes first: once it returns no connect hook can start a
// new loop, so the halt below is final.
func (a *App) Disconnect() {
	a.sup.Disconnect()
	a.haltLoop()
	a.engine.SetState(supervisor.Disconnected.String())
}

// Reset zeroes the frame counters as seen from now on.
func (a *App) Reset() bool { return a.engine.Reset() }

// Forget clears the remembered credentials.
func (a *App) Forget() error { return a.sup.Forget() }

// LastError returns the most recent user-facing connection error.
func (a *App) LastError() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

func (a *App) setErr(msg string) {
	a.mu.Lock()
	a.lastErr = msg
	a.mu.Unlock()
}

func (a *App) onConnected(conn supervisor.Conn, session uint64) {
	ctx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	if a.stopLoop != nil {
		a.stopLoop()
	}
	a.stopLoop = cancel
	a.lastErr = ""
	a.mu.Unlock()

	a.engine.SetState(supervisor.Connected.String())
	s := sampler.New(conn, session, a.interval, a.log)
	go s.Run(ctx, a.engine)
}

func (a *App) onDropped() {
	a.haltLoop()
	a.engine.SetState(supervisor.Reconnecting.String())
}

func (a *App) onReconnectFailed(err error) {
	a.setErr(err.Error())
	a.engine.SetState(supervisor.Disconnected.String())
}

// haltLoop cancels the running loop. It does not wait for an in-flight
// tick; the engine refuses commits from a cancelled loop.
func (a *App) haltLoop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopLoop != nil {
		a.stopLoop()
		a.stopLoop = nil
	}
}
