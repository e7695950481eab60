package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/vlcbridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/vlcbridge/internal/player"
	"github.com/nerrad567/vlcbridge/internal/session"
)

// ErrBadCommand is returned by the command handler for undecodable payloads.
var ErrBadCommand = errors.New("mirror: bad command")

// Publisher is the broker surface the MQTT mirror needs. *mqtt.Client
// satisfies it.
type Publisher interface {
	Topics() mqtt.Topics
	PublishJSON(topic string, v any) error
	PublishStatus(deviceState string) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Dispatcher executes a command against an entity. *session.Manager
// satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, entityID, cmd string, params player.Params) (player.Result, error)
}

// Logger defines the logging interface used by the mirrors.
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

// Command is the JSON body accepted on a command topic.
type Command struct {
	CmdID  string        `json:"cmd_id"`
	Params player.Params `json:"params,omitempty"`
}

// MQTT mirrors state pushes to the broker. Pushes are coalesced per entity
// and published from a single goroutine, so a slow broker never stalls a
// poll loop; only the latest state of each entity is kept while waiting.
type MQTT struct {
	pub        Publisher
	dispatcher Dispatcher
	logger     Logger

	mu          sync.Mutex
	pending     map[string]player.State
	deviceState session.DeviceState
	stateDirty  bool
	wake        chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMQTT creates a mirror. dispatcher may be nil to disable inbound
// commands; logger may be nil.
func NewMQTT(pub Publisher, dispatcher Dispatcher, logger Logger) *MQTT {
	if logger == nil {
		logger = noopLogger{}
	}
	return &MQTT{
		pub:        pub,
		dispatcher: dispatcher,
		logger:     logger,
		pending:    make(map[string]player.State),
		wake:       make(chan struct{}, 1),
	}
}

// Start subscribes to the command topics and begins publishing.
func (m *MQTT) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	if m.dispatcher != nil {
		topic := m.pub.Topics().AllCommands()
		if err := m.pub.Subscribe(topic, 1, m.handleCommand); err != nil {
			m.cancel()
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(m.ctx)
	}()
	return nil
}

// Close stops the publisher goroutine. Pending states are dropped.
func (m *MQTT) Close() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// ObserveState queues state for publication on the entity's state topic.
func (m *MQTT) ObserveState(_ context.Context, entityID string, state player.State) {
	m.mu.Lock()
	m.pending[entityID] = state
	m.mu.Unlock()
	m.signal()
}

// ObserveDeviceState queues a status report.
func (m *MQTT) ObserveDeviceState(_ context.Context, state session.DeviceState) {
	m.mu.Lock()
	m.deviceState = state
	m.stateDirty = true
	m.mu.Unlock()
	m.signal()
}

func (m *MQTT) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *MQTT) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
			m.flush()
		}
	}
}

// flush publishes everything queued since the last call.
func (m *MQTT) flush() {
	m.mu.Lock()
	pending := m.pending
	m.pending = make(map[string]player.State, len(pending))
	deviceState, dirty := m.deviceState, m.stateDirty
	m.stateDirty = false
	m.mu.Unlock()

	topics := m.pub.Topics()
	if dirty {
		if err := m.pub.PublishStatus(string(deviceState)); err != nil {
			m.logger.Warn("mqtt status publish failed", "device_state", deviceState, "error", err)
		}
	}
	for entityID, state := range pending {
		if err := m.pub.PublishJSON(topics.State(entityID), state); err != nil {
			m.logger.Warn("mqtt state publish failed", "entity_id", entityID, "error", err)
			continue
		}
		mirrorPublishes.Inc()
	}
}

// handleCommand decodes a command message and dispatches it like a hub
// entity_command.
func (m *MQTT) handleCommand(topic string, payload []byte) error {
	entityID, ok := m.pub.Topics().CommandEntity(topic)
	if !ok {
		return fmt.Errorf("%w: unexpected topic %s", ErrBadCommand, topic)
	}
	// Empty payloads are retained-message clears.
	if len(payload) == 0 {
		return nil
	}

	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("%w: %w", ErrBadCommand, err)
	}
	if cmd.CmdID == "" {
		return fmt.Errorf("%w: missing cmd_id", ErrBadCommand)
	}

	ctx := m.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	result, err := m.dispatcher.Dispatch(ctx, entityID, cmd.CmdID, cmd.Params)
	mirrorCommands.WithLabelValues(resultLabel(result, err)).Inc()
	if err != nil {
		return fmt.Errorf("dispatching %s to %s: %w", cmd.CmdID, entityID, err)
	}
	m.logger.Debug("mqtt command handled", "entity_id", entityID, "cmd_id", cmd.CmdID, "result", result.String())
	return nil
}

func resultLabel(result player.Result, err error) string {
	if errors.Is(err, session.ErrUnknownEntity) {
		return "unknown_entity"
	}
	if err != nil {
		return "error"
	}
	return result.String()
}
