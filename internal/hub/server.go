package hub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nerrad567/vlcbridge/internal/infrastructure/config"
	"github.com/nerrad567/vlcbridge/internal/infrastructure/logging"
	"github.com/nerrad567/vlcbridge/internal/player"
	"github.com/nerrad567/vlcbridge/internal/session"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Session is the integration core driven by hub messages.
// *session.Manager satisfies it.
type Session interface {
	HandleConnect(ctx context.Context)
	HandleDisconnect()
	HandleSubscribe(ctx context.Context, entityIDs []string)
	HandleUnsubscribe(entityIDs []string)
	HandleSetup(ctx context.Context, req session.SetupRequest) session.SetupResult
	RemoveDevice(ctx context.Context, id string) error
	Dispatch(ctx context.Context, entityID, cmd string, params player.Params) (player.Result, error)
	AdapterForDevice(deviceID string) *player.Adapter
}

// Observer receives every attribute push and device-state report alongside
// the hub clients. The MQTT mirror and telemetry writer implement it.
type Observer interface {
	ObserveState(ctx context.Context, entityID string, state player.State)
	ObserveDeviceState(ctx context.Context, state session.DeviceState)
}

// HealthChecker reports storage health. *database.DB satisfies it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
	SchemaVersion(ctx context.Context) (string, error)
}

// Deps holds the dependencies required by the hub server.
type Deps struct {
	Config      config.ListenConfig
	Integration config.IntegrationConfig
	Logger      *logging.Logger
	DB          HealthChecker // optional
	Version     string
}

// Server is the hub-facing HTTP and WebSocket server. It is also the
// session's Gateway: it owns the hub-visible entity set and the last
// reported device state.
type Server struct {
	cfg         config.ListenConfig
	integration config.IntegrationConfig
	logger      *logging.Logger
	db          HealthChecker
	version     string

	session   Session
	observers []Observer

	hub      *Hub
	server   *http.Server
	art      singleflight.Group
	pongWait time.Duration

	entMu       sync.RWMutex
	entities    map[string]*player.Adapter
	deviceState session.DeviceState

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ session.Gateway = (*Server)(nil)

// New creates a hub server. SetSession must be called before Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Config.WebSocketPath == "" {
		deps.Config.WebSocketPath = "/ws"
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:         deps.Config,
		integration: deps.Integration,
		logger:      deps.Logger,
		db:          deps.DB,
		version:     deps.Version,
		hub:         NewHub(deps.Logger),
		pongWait:    wsPongWait,
		entities:    make(map[string]*player.Adapter),
		deviceState: session.Disconnected,
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// SetSession binds the session driven by hub messages. It is separate from
// New because the session needs the server as its Gateway.
func (s *Server) SetSession(sess Session) {
	s.session = sess
}

// AddObserver registers an additional receiver for state pushes. Call
// before Start.
func (s *Server) AddObserver(o Observer) {
	s.observers = append(s.observers, o)
}

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections in a background goroutine.
func (s *Server) Start(_ context.Context) error {
	if s.session == nil {
		return errors.New("hub: session is not set")
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}

	go func() {
		s.logger.Info("hub server listening", "address", s.server.Addr, "websocket_path", s.cfg.WebSocketPath)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("hub server error", "error", err)
		}
	}()
	return nil
}

// Close disconnects every WebSocket client and shuts the HTTP server down,
// waiting up to 10 seconds for in-flight requests.
func (s *Server) Close() error {
	s.cancel()
	s.hub.closeAll()
	s.wg.Wait()

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("hub server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down hub server: %w", err)
	}
	return nil
}

// HealthCheck verifies the server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("hub health check: %w", ctx.Err())
	default:
	}
	if s.server == nil {
		return fmt.Errorf("hub server not started")
	}
	return nil
}

// ClientCount returns the number of connected hub clients.
func (s *Server) ClientCount() int {
	return s.hub.ClientCount()
}

// goTracked runs fn in a goroutine that Close waits for.
func (s *Server) goTracked(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}
