package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/vlcbridge/internal/vlc"
)

// Default monitoring timings.
const (
	DefaultPollInterval = 3 * time.Second
	DefaultErrorBackoff = 10 * time.Second
	DefaultSettleDelay  = 500 * time.Millisecond
)

// EntityType is the hub entity type of every adapter.
const EntityType = "media_player"

// Result is the outcome of a dispatched command.
type Result int

// Result values.
const (
	ResultOK Result = iota
	ResultFailed
	ResultUnavailable
	ResultNotImplemented
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultFailed:
		return "failed"
	case ResultUnavailable:
		return "unavailable"
	case ResultNotImplemented:
		return "not_implemented"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// Sink receives the full attribute set of an entity on every push.
type Sink interface {
	UpdateAttributes(ctx context.Context, entityID string, state State) error
}

// Logger defines the logging interface used by adapters.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Timing controls the monitoring loop and the post-command settle delay.
type Timing struct {
	PollInterval time.Duration
	ErrorBackoff time.Duration
	SettleDelay  time.Duration
}

// DefaultTiming returns the standard monitoring timings.
func DefaultTiming() Timing {
	return Timing{
		PollInterval: DefaultPollInterval,
		ErrorBackoff: DefaultErrorBackoff,
		SettleDelay:  DefaultSettleDelay,
	}
}

// Config describes one adapter.
type Config struct {
	DeviceID string
	EntityID string
	Name     string
	// ImageURL is surfaced as media_image_url while something titled is
	// loaded. Empty means the client's direct artwork URL.
	ImageURL string
	Timing   Timing
}

// Adapter is the hub entity for one player. It turns status polls into
// State and hub commands into client calls.
//
// Refresh and Dispatch may interleave for the same entity; each poll fully
// overwrites the cached state so no merge is needed.
type Adapter struct {
	cfg    Config
	client *vlc.Client
	sink   Sink
	logger Logger

	mu    sync.RWMutex
	state State

	monMu   sync.Mutex
	cancel  context.CancelFunc
	monDone chan struct{}
}

// NewAdapter binds an adapter to a client and a sink.
func NewAdapter(cfg Config, client *vlc.Client, sink Sink, logger Logger) *Adapter {
	if cfg.ImageURL == "" {
		cfg.ImageURL = client.ArtURL()
	}
	if cfg.Timing == (Timing{}) {
		cfg.Timing = DefaultTiming()
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Adapter{
		cfg:    cfg,
		client: client,
		sink:   sink,
		logger: logger,
		state:  initialState(),
	}
}

// EntityID returns the hub entity identifier.
func (a *Adapter) EntityID() string { return a.cfg.EntityID }

// DeviceID returns the identifier of the bound device.
func (a *Adapter) DeviceID() string { return a.cfg.DeviceID }

// Name returns the display name.
func (a *Adapter) Name() string { return a.cfg.Name }

// Client returns the bound device client.
func (a *Adapter) Client() *vlc.Client { return a.client }

// Snapshot returns a copy of the cached state.
func (a *Adapter) Snapshot() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Refresh polls the player. On failure only the playback state becomes
// Unavailable; the remaining fields are kept until the next successful poll.
// A poll cut short by ctx cancellation leaves the state untouched.
func (a *Adapter) Refresh(ctx context.Context) {
	status, ok := a.client.Status(ctx)
	if !ok {
		if ctx.Err() != nil {
			return
		}
		a.mu.Lock()
		a.state.Playback = Unavailable
		a.mu.Unlock()
		a.logger.Warn("status poll failed", "entity_id", a.cfg.EntityID)
		return
	}

	next := FromStatus(status, a.cfg.ImageURL)

	a.mu.Lock()
	a.state = next
	a.mu.Unlock()
}

// Push refreshes and then sends the full attribute set to the sink, whether
// or not anything changed.
func (a *Adapter) Push(ctx context.Context) error {
	a.Refresh(ctx)
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.sink.UpdateAttributes(ctx, a.cfg.EntityID, a.Snapshot()); err != nil {
		return fmt.Errorf("pushing attributes for %s: %w", a.cfg.EntityID, err)
	}
	return nil
}

// Dispatch runs one hub command. On success it waits the settle delay, since
// VLC applies commands asynchronously, and then pushes fresh state.
func (a *Adapter) Dispatch(ctx context.Context, cmd string, params Params) Result {
	if !a.client.IsConnected() {
		a.logger.Warn("command rejected, player not connected", "entity_id", a.cfg.EntityID, "cmd_id", cmd)
		return ResultUnavailable
	}

	op, ok := commands[cmd]
	if !ok {
		a.logger.Warn("unsupported command", "entity_id", a.cfg.EntityID, "cmd_id", cmd)
		return ResultNotImplemented
	}

	if !op(ctx, a.client, params) {
		a.logger.Warn("command failed", "entity_id", a.cfg.EntityID, "cmd_id", cmd)
		return ResultFailed
	}
	a.logger.Debug("command sent", "entity_id", a.cfg.EntityID, "cmd_id", cmd)

	if !sleep(ctx, a.cfg.Timing.SettleDelay) {
		return ResultOK
	}
	if err := a.Push(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Warn("post-command push failed", "entity_id", a.cfg.EntityID, "error", err)
	}
	return ResultOK
}

// StartMonitoring launches the periodic push loop. Calling it while already
// monitoring does nothing.
func (a *Adapter) StartMonitoring() {
	a.monMu.Lock()
	defer a.monMu.Unlock()

	if a.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.monDone = make(chan struct{})

	go a.monitor(ctx, a.monDone)
	a.logger.Info("monitoring started", "entity_id", a.cfg.EntityID)
}

// StopMonitoring cancels the loop, interrupting any sleep or poll in flight,
// and waits for it to exit. Calling it while not monitoring does nothing.
func (a *Adapter) StopMonitoring() {
	a.monMu.Lock()
	defer a.monMu.Unlock()

	if a.cancel == nil {
		return
	}

	a.cancel()
	<-a.monDone
	a.cancel = nil
	a.monDone = nil
	a.logger.Info("monitoring stopped", "entity_id", a.cfg.EntityID)
}

// IsMonitoring reports whether the periodic loop is running.
func (a *Adapter) IsMonitoring() bool {
	a.monMu.Lock()
	defer a.monMu.Unlock()
	return a.cancel != nil
}

func (a *Adapter) monitor(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	wait := a.cfg.Timing.PollInterval
	for {
		if !sleep(ctx, wait) {
			return
		}

		err := a.safePush(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			a.logger.Error("periodic update failed", "entity_id", a.cfg.EntityID, "error", err)
			wait = a.cfg.Timing.ErrorBackoff
			continue
		}
		wait = a.cfg.Timing.PollInterval
	}
}

func (a *Adapter) safePush(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during push: %v", r)
		}
	}()
	return a.Push(ctx)
}

// sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
