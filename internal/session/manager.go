package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/vlcbridge/internal/audit"
	"github.com/nerrad567/vlcbridge/internal/device"
	"github.com/nerrad567/vlcbridge/internal/player"
	"github.com/nerrad567/vlcbridge/internal/vlc"
)

// Default connectivity monitor timings.
const (
	DefaultConnectivityInterval = 30 * time.Second
	DefaultConnectivityBackoff  = 60 * time.Second
	DefaultConnectivityWorkers  = 4
)

// ErrUnknownEntity is returned when a command targets an entity that is not bound.
var ErrUnknownEntity = errors.New("session: unknown entity")

// DeviceState is the integration-wide state reported to the hub.
type DeviceState string

// DeviceState values.
const (
	Disconnected DeviceState = "DISCONNECTED"
	Connecting   DeviceState = "CONNECTING"
	Connected    DeviceState = "CONNECTED"
	Error        DeviceState = "ERROR"
)

// Phase is the lifecycle phase of the whole device set.
type Phase int

// Phase values.
const (
	PhaseUninitialized Phase = iota
	PhaseInitializing
	PhaseReady
	PhaseDegraded
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseInitializing:
		return "initializing"
	case PhaseReady:
		return "ready"
	case PhaseDegraded:
		return "degraded"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Gateway is the hub side of the session: it holds the hub-visible entity
// set, receives device state reports, and receives attribute pushes.
type Gateway interface {
	player.Sink
	SetDeviceState(ctx context.Context, state DeviceState) error
	ClearEntities()
	AddEntity(a *player.Adapter)
	EntityCount() int
}

// Registry is the durable set of configured players.
type Registry interface {
	Reload(ctx context.Context) error
	List() []device.Record
	IsConfigured() bool
	Add(ctx context.Context, rec *device.Record) error
	Remove(ctx context.Context, id string) error
}

// Logger defines the logging interface used by the Manager.
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

// Options configures a Manager. Zero values select the defaults.
type Options struct {
	Timing player.Timing

	ConnectivityInterval time.Duration
	ConnectivityBackoff  time.Duration
	ConnectivityWorkers  int

	// ImageURL maps a device id to the artwork URL surfaced to the hub.
	// Nil means each client's direct artwork URL.
	ImageURL func(deviceID string) string

	ClientOptions []vlc.Option
	Logger        Logger

	// Audit receives onboarding and removal events. Optional.
	Audit Auditor
}

// Auditor records device lifecycle events. *audit.Recorder satisfies it.
type Auditor interface {
	Record(ctx context.Context, action, deviceID string, details map[string]any)
}

// SetupRequest carries the onboarding fields entered on the hub.
type SetupRequest struct {
	Host   string
	Port   int
	Secret string
	Name   string
}

// SetupError classifies a failed setup.
type SetupError int

// SetupError values.
const (
	SetupErrorNone SetupError = iota
	SetupErrorOther
	SetupErrorConnectionRefused
)

func (e SetupError) String() string {
	switch e {
	case SetupErrorNone:
		return "NONE"
	case SetupErrorConnectionRefused:
		return "CONNECTION_REFUSED"
	default:
		return "OTHER"
	}
}

// SetupResult is the outcome of HandleSetup.
type SetupResult struct {
	Error    SetupError
	DeviceID string
}

// OK reports whether setup succeeded.
func (r SetupResult) OK() bool { return r.Error == SetupErrorNone }

// Manager owns the live device clients and their adapters.
//
// Thread Safety:
//   - initMu is held for every full initialisation pass and while
//     subscriptions start monitoring, so adapters are never torn down
//     underneath a subscriber.
//   - mu guards the adapter maps, the ready flag and the phase.
type Manager struct {
	registry Registry
	gateway  Gateway
	opts     Options
	logger   Logger

	probe func(ctx context.Context, c *vlc.Client) bool

	initMu sync.Mutex

	mu        sync.RWMutex
	adapters  map[string]*player.Adapter
	byEntity  map[string]*player.Adapter
	ready     bool
	phase     Phase
	lastState DeviceState

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	monitorOnce sync.Once
}

// NewManager creates a Manager. Call Start to load configuration and Close to
// release every goroutine it owns.
func NewManager(registry Registry, gateway Gateway, opts Options) *Manager {
	if opts.Timing == (player.Timing{}) {
		opts.Timing = player.DefaultTiming()
	}
	if opts.ConnectivityInterval <= 0 {
		opts.ConnectivityInterval = DefaultConnectivityInterval
	}
	if opts.ConnectivityBackoff <= 0 {
		opts.ConnectivityBackoff = DefaultConnectivityBackoff
	}
	if opts.ConnectivityWorkers <= 0 {
		opts.ConnectivityWorkers = DefaultConnectivityWorkers
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		registry: registry,
		gateway:  gateway,
		opts:     opts,
		logger:   logger,
		probe:    func(ctx context.Context, c *vlc.Client) bool { return c.Probe(ctx) },
		adapters: make(map[string]*player.Adapter),
		byEntity: make(map[string]*player.Adapter),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start reloads the registry and, when players are configured, initialises
// entities in the background so they are ready before the hub connects.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.registry.Reload(ctx); err != nil {
		return fmt.Errorf("loading device records: %w", err)
	}

	if !m.registry.IsConfigured() {
		m.logger.Info("no players configured, waiting for setup")
		m.reportState(ctx, Disconnected)
		return nil
	}

	m.logger.Info("players configured, pre-initialising entities")
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.Initialize(m.ctx)
	}()
	return nil
}

// Close stops the connectivity monitor, every adapter loop and every client.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()

	m.initMu.Lock()
	defer m.initMu.Unlock()
	m.teardown()
	m.setReady(false, PhaseUninitialized)
}

// Initialize builds entities for every configured player. It returns
// immediately when already ready and reports whether the session is ready.
func (m *Manager) Initialize(ctx context.Context) bool {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	if m.IsReady() {
		return true
	}
	return m.initializeLocked(ctx)
}

// reinitialize runs a full pass even when already ready.
func (m *Manager) reinitialize(ctx context.Context) bool {
	m.initMu.Lock()
	defer m.initMu.Unlock()
	return m.initializeLocked(ctx)
}

// initializeLocked replaces the whole session. Entities that were being
// monitored before the rebuild are pushed and monitored again afterwards, since
// the hub keeps its subscriptions across it. Callers hold initMu.
func (m *Manager) initializeLocked(ctx context.Context) bool {
	m.setReady(false, PhaseInitializing)
	monitored := m.teardown()

	records := m.registry.List()
	if len(records) == 0 {
		m.logger.Info("no players configured")
		m.setReady(false, PhaseUninitialized)
		m.reportState(ctx, Disconnected)
		return false
	}

	m.reportState(ctx, Connecting)

	adapters := make(map[string]*player.Adapter, len(records))
	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}

		client, err := vlc.NewClient(rec.BaseURL(), rec.Secret, m.opts.ClientOptions...)
		if err != nil {
			m.logger.Error("creating player client", "device_id", rec.ID, "error", err)
			continue
		}
		if !m.probe(ctx, client) {
			m.logger.Warn("player unreachable, skipping", "device_id", rec.ID, "address", rec.Address())
			client.Disconnect()
			continue
		}

		cfg := player.Config{
			DeviceID: rec.ID,
			EntityID: rec.EntityID(),
			Name:     rec.Name,
			Timing:   m.opts.Timing,
		}
		if m.opts.ImageURL != nil {
			cfg.ImageURL = m.opts.ImageURL(rec.ID)
		}
		a := player.NewAdapter(cfg, client, m.gateway, m.logger)
		m.gateway.AddEntity(a)
		adapters[rec.ID] = a
		m.logger.Info("player entity created", "device_id", rec.ID, "entity_id", a.EntityID(), "name", rec.Name)
	}

	m.mu.Lock()
	m.adapters = adapters
	m.byEntity = make(map[string]*player.Adapter, len(adapters))
	for _, a := range adapters {
		m.byEntity[a.EntityID()] = a
	}
	m.mu.Unlock()

	if len(adapters) == 0 {
		m.setReady(false, PhaseUninitialized)
		m.logger.Error("no players reachable", "configured", len(records))
		m.reportState(ctx, Error)
		return false
	}

	m.setReady(true, PhaseReady)
	m.logger.Info("entities ready", "count", len(adapters), "configured", len(records))
	m.reportState(ctx, Connected)
	m.resumeMonitoring(ctx, monitored)
	return true
}

// resumeMonitoring restarts monitoring for entityIDs on the current adapters.
// Ids without an adapter are skipped. Callers hold initMu.
func (m *Manager) resumeMonitoring(ctx context.Context, entityIDs []string) {
	for _, id := range entityIDs {
		a := m.adapterForEntity(id)
		if a == nil {
			m.logger.Debug("monitored entity gone after rebuild", "entity_id", id)
			continue
		}
		if err := a.Push(ctx); err != nil {
			m.logger.Warn("push after rebuild failed", "entity_id", id, "error", err)
		}
		a.StartMonitoring()
	}
}

// teardown stops every adapter, disconnects every client and empties the
// hub-visible entity set. It returns the entity ids that were being
// monitored. Callers hold initMu.
func (m *Manager) teardown() []string {
	m.mu.Lock()
	old := m.adapters
	m.adapters = make(map[string]*player.Adapter)
	m.byEntity = make(map[string]*player.Adapter)
	m.mu.Unlock()

	var monitored []string
	for _, a := range old {
		if a.IsMonitoring() {
			monitored = append(monitored, a.EntityID())
		}
		a.StopMonitoring()
		a.Client().Disconnect()
	}
	m.gateway.ClearEntities()
	return monitored
}

// HandleSetup onboards a new player: it probes the given address and, on
// success, stores the record and rebuilds the session.
func (m *Manager) HandleSetup(ctx context.Context, req SetupRequest) SetupResult {
	host := strings.TrimSpace(req.Host)
	secret := strings.TrimSpace(req.Secret)
	name := strings.TrimSpace(req.Name)
	if host == "" || secret == "" || name == "" {
		m.logger.Error("setup rejected, missing required fields")
		return SetupResult{Error: SetupErrorOther}
	}

	rec, err := device.NewRecord(host, req.Port, secret, name)
	if err != nil {
		m.logger.Error("setup rejected", "error", err)
		return SetupResult{Error: SetupErrorOther}
	}

	m.logger.Info("testing player connection", "address", rec.Address())
	client, err := vlc.NewClient(rec.BaseURL(), rec.Secret, m.opts.ClientOptions...)
	if err != nil {
		m.logger.Error("setup rejected", "error", err)
		return SetupResult{Error: SetupErrorOther}
	}
	ok := m.probe(ctx, client)
	client.Disconnect()
	if !ok {
		m.logger.Error("setup failed, player unreachable", "address", rec.Address())
		m.audit(ctx, audit.ActionSetupFailed, rec.ID, map[string]any{"address": rec.Address(), "error": SetupErrorConnectionRefused.String()})
		return SetupResult{Error: SetupErrorConnectionRefused, DeviceID: rec.ID}
	}

	if err := m.registry.Add(ctx, rec); err != nil {
		m.logger.Error("setup failed, storing record", "device_id", rec.ID, "error", err)
		m.audit(ctx, audit.ActionSetupFailed, rec.ID, map[string]any{"address": rec.Address(), "error": err.Error()})
		return SetupResult{Error: SetupErrorOther, DeviceID: rec.ID}
	}
	m.audit(ctx, audit.ActionDeviceAdded, rec.ID, map[string]any{"address": rec.Address(), "name": rec.Name})

	m.reinitialize(ctx)
	m.logger.Info("player setup completed", "device_id", rec.ID, "name", rec.Name)
	return SetupResult{DeviceID: rec.ID}
}

// RemoveDevice deletes a stored player and rebuilds the session.
func (m *Manager) RemoveDevice(ctx context.Context, id string) error {
	if err := m.registry.Remove(ctx, id); err != nil {
		return err
	}
	m.audit(ctx, audit.ActionDeviceRemoved, id, nil)
	m.reinitialize(ctx)
	return nil
}

func (m *Manager) audit(ctx context.Context, action, deviceID string, details map[string]any) {
	if m.opts.Audit != nil {
		m.opts.Audit.Record(ctx, action, deviceID, details)
	}
}

// HandleSubscribe pushes current state for each subscribed entity and starts
// its monitoring loop. A subscription that arrives before initialisation has
// finished triggers one initialisation attempt. Unknown ids are ignored.
func (m *Manager) HandleSubscribe(ctx context.Context, entityIDs []string) {
	m.logger.Info("entities subscribed", "entity_ids", entityIDs)

	if !m.IsReady() {
		if !m.registry.IsConfigured() {
			m.logger.Warn("subscription before setup, ignoring")
			return
		}
		m.logger.Warn("subscription before entities ready, initialising")
		if !m.Initialize(ctx) {
			m.logger.Warn("subscription dropped, no entities available")
			return
		}
	}

	m.initMu.Lock()
	defer m.initMu.Unlock()

	for _, id := range entityIDs {
		a := m.adapterForEntity(id)
		if a == nil {
			m.logger.Debug("subscription for unknown entity", "entity_id", id)
			continue
		}
		if err := a.Push(ctx); err != nil {
			m.logger.Warn("initial push failed", "entity_id", id, "error", err)
		}
		a.StartMonitoring()
	}
}

// HandleUnsubscribe stops monitoring for the given entities. Clients stay
// connected so the entities can be subscribed again.
func (m *Manager) HandleUnsubscribe(entityIDs []string) {
	m.logger.Info("entities unsubscribed", "entity_ids", entityIDs)
	for _, id := range entityIDs {
		if a := m.adapterForEntity(id); a != nil {
			a.StopMonitoring()
		}
	}
}

// HandleConnect reloads configuration from storage and makes sure the hub
// sees a complete entity set. It also starts the connectivity monitor once.
func (m *Manager) HandleConnect(ctx context.Context) {
	m.logger.Info("hub connected")

	if err := m.registry.Reload(ctx); err != nil {
		m.logger.Error("reloading device records", "error", err)
	}

	if !m.registry.IsConfigured() {
		m.logger.Info("no configuration found, waiting for setup")
		m.reportState(ctx, Disconnected)
		return
	}

	switch {
	case !m.IsReady():
		m.Initialize(ctx)
	case m.gateway.EntityCount() == 0:
		m.reinitialize(ctx)
	default:
		m.reportState(ctx, Connected)
	}

	m.monitorOnce.Do(func() {
		m.wg.Add(1)
		go m.runConnectivityMonitor(m.ctx)
	})
}

// HandleDisconnect records that the hub went away. Nothing else changes.
func (m *Manager) HandleDisconnect() {
	m.logger.Info("hub disconnected")
}

// Dispatch routes a hub command to the adapter bound to entityID.
func (m *Manager) Dispatch(ctx context.Context, entityID, cmd string, params player.Params) (player.Result, error) {
	a := m.adapterForEntity(entityID)
	if a == nil {
		return player.ResultUnavailable, fmt.Errorf("%w: %s", ErrUnknownEntity, entityID)
	}
	return a.Dispatch(ctx, cmd, params), nil
}

// Adapter returns the adapter bound to entityID, or nil.
func (m *Manager) Adapter(entityID string) *player.Adapter {
	return m.adapterForEntity(entityID)
}

// AdapterForDevice returns the adapter bound to a device id, or nil.
func (m *Manager) AdapterForDevice(deviceID string) *player.Adapter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.adapters[deviceID]
}

// IsReady reports whether at least one entity is bound.
func (m *Manager) IsReady() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready
}

// Phase returns the current lifecycle phase.
func (m *Manager) Phase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

func (m *Manager) adapterForEntity(entityID string) *player.Adapter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byEntity[entityID]
}

func (m *Manager) snapshotAdapters() []*player.Adapter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*player.Adapter, 0, len(m.adapters))
	for _, a := range m.adapters {
		out = append(out, a)
	}
	return out
}

func (m *Manager) setReady(ready bool, phase Phase) {
	m.mu.Lock()
	m.ready = ready
	m.phase = phase
	m.mu.Unlock()
}

func (m *Manager) reportState(ctx context.Context, state DeviceState) {
	m.mu.Lock()
	m.lastState = state
	m.mu.Unlock()

	if err := m.gateway.SetDeviceState(ctx, state); err != nil {
		m.logger.Warn("reporting device state", "state", state, "error", err)
	}
}

// DeviceState returns the last state reported to the hub.
func (m *Manager) DeviceState() DeviceState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastState
}
