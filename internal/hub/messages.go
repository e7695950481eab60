package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/nerrad567/vlcbridge/internal/device"
	"github.com/nerrad567/vlcbridge/internal/player"
	"github.com/nerrad567/vlcbridge/internal/session"
)

// Message kinds.
const (
	KindRequest  = "req"
	KindResponse = "resp"
	KindEvent    = "event"
)

// Requests sent by the hub.
const (
	MsgGetDriverVersion     = "get_driver_version"
	MsgGetDeviceState       = "get_device_state"
	MsgGetAvailableEntities = "get_available_entities"
	MsgGetEntityStates      = "get_entity_states"
	MsgSubscribeEvents      = "subscribe_events"
	MsgUnsubscribeEvents    = "unsubscribe_events"
	MsgEntityCommand        = "entity_command"
	MsgSetupDriver          = "setup_driver"
	MsgRemoveDevice         = "remove_device"
)

// Response message names.
const (
	respResult            = "result"
	respDriverVersion     = "driver_version"
	respDeviceState       = "device_state"
	respAvailableEntities = "available_entities"
	respEntityStates      = "entity_states"
)

// driver_setup_change values.
const (
	setupEventType       = "SETUP"
	setupStateInProgress = "SETUP"
	setupStateOK         = "OK"
	setupStateError      = "ERROR"
)

const deviceClassStreamingBox = "STREAMING_BOX"

// Events in either direction.
const (
	EventConnect           = "connect"
	EventDisconnect        = "disconnect"
	EventDeviceState       = "device_state"
	EventEntityChange      = "entity_change"
	EventDriverSetupChange = "driver_setup_change"
)

// Message is one WebSocket frame.
type Message struct {
	Kind    string          `json:"kind"`
	ID      int64           `json:"id,omitempty"`
	ReqID   int64           `json:"req_id,omitempty"`
	Code    int             `json:"code,omitempty"`
	Msg     string          `json:"msg"`
	MsgData json.RawMessage `json:"msg_data,omitempty"`
}

// DeviceStateData is the payload of device_state.
type DeviceStateData struct {
	State session.DeviceState `json:"state"`
}

// EntityChangeData is the payload of entity_change and of each
// get_entity_states element.
type EntityChangeData struct {
	EntityID   string       `json:"entity_id"`
	EntityType string       `json:"entity_type"`
	Attributes player.State `json:"attributes"`
}

// AvailableEntity describes one entity in get_available_entities.
type AvailableEntity struct {
	EntityID    string            `json:"entity_id"`
	EntityType  string            `json:"entity_type"`
	DeviceID    string            `json:"device_id"`
	Name        map[string]string `json:"name"`
	DeviceClass string            `json:"device_class"`
	Features    []string          `json:"features"`
	Attributes  player.State      `json:"attributes"`
}

// SetupChangeData is the payload of driver_setup_change.
type SetupChangeData struct {
	EventType string `json:"event_type"`
	State     string `json:"state"`
	Error     string `json:"error,omitempty"`
}

// DriverVersionData is the payload of the driver_version response.
type DriverVersionData struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Developer string `json:"developer"`
	Version   string `json:"version"`
}

// ErrorData is the payload of a failed response.
type ErrorData struct {
	Message string `json:"message"`
}

type entityIDsData struct {
	EntityIDs []string `json:"entity_ids"`
}

type entityCommandData struct {
	EntityID string        `json:"entity_id"`
	CmdID    string        `json:"cmd_id"`
	Params   player.Params `json:"params"`
}

type setupDriverData struct {
	SetupData player.Params `json:"setup_data"`
}

type removeDeviceData struct {
	DeviceID string `json:"device_id"`
}

// handleMessage decodes one frame and routes it by kind.
func (s *Server) handleMessage(ctx context.Context, c *WSClient, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		wsMessages.WithLabelValues("invalid", "", strconv.Itoa(http.StatusBadRequest)).Inc()
		s.respond(c, 0, http.StatusBadRequest, respResult, ErrorData{Message: "invalid JSON message"})
		return
	}

	switch msg.Kind {
	case KindRequest:
		code := s.handleRequest(ctx, c, msg)
		wsMessages.WithLabelValues(msg.Kind, metricName(msg.Msg), strconv.Itoa(code)).Inc()
	case KindEvent:
		s.handleEvent(ctx, msg)
		wsMessages.WithLabelValues(msg.Kind, metricName(msg.Msg), "").Inc()
	default:
		wsMessages.WithLabelValues("invalid", "", strconv.Itoa(http.StatusBadRequest)).Inc()
		s.respond(c, msg.ID, http.StatusBadRequest, respResult, ErrorData{Message: "unknown message kind: " + msg.Kind})
	}
}

// metricName bounds label cardinality to known message names.
func metricName(msg string) string {
	switch msg {
	case MsgGetDriverVersion, MsgGetDeviceState, MsgGetAvailableEntities, MsgGetEntityStates,
		MsgSubscribeEvents, MsgUnsubscribeEvents, MsgEntityCommand, MsgSetupDriver, MsgRemoveDevice,
		EventConnect, EventDisconnect:
		return msg
	default:
		return "other"
	}
}

// handleEvent handles connect and disconnect events sent by the hub.
func (s *Server) handleEvent(ctx context.Context, msg Message) {
	if s.session == nil {
		return
	}
	switch msg.Msg {
	case EventConnect:
		s.session.HandleConnect(ctx)
	case EventDisconnect:
		s.session.HandleDisconnect()
	default:
		s.logger.Debug("ignoring hub event", "msg", msg.Msg)
	}
}

// handleRequest answers one request and returns the response code.
func (s *Server) handleRequest(ctx context.Context, c *WSClient, msg Message) int {
	switch msg.Msg {
	case MsgGetDriverVersion:
		return s.respond(c, msg.ID, http.StatusOK, respDriverVersion, DriverVersionData{
			ID:        s.integration.ID,
			Name:      s.integration.Name,
			Developer: s.integration.Developer,
			Version:   s.version,
		})
	case MsgGetDeviceState:
		return s.respond(c, msg.ID, http.StatusOK, respDeviceState, DeviceStateData{State: s.DeviceState()})
	case MsgGetAvailableEntities:
		return s.respond(c, msg.ID, http.StatusOK, respAvailableEntities, map[string]any{
			"available_entities": s.availableEntities(),
		})
	case MsgGetEntityStates:
		return s.respond(c, msg.ID, http.StatusOK, respEntityStates, s.entityStates())
	}

	if s.session == nil {
		return s.respond(c, msg.ID, http.StatusServiceUnavailable, respResult, ErrorData{Message: "integration not ready"})
	}

	switch msg.Msg {
	case MsgSubscribeEvents:
		return s.handleSubscribe(ctx, c, msg)
	case MsgUnsubscribeEvents:
		return s.handleUnsubscribe(c, msg)
	case MsgEntityCommand:
		return s.handleEntityCommand(ctx, c, msg)
	case MsgSetupDriver:
		return s.handleSetupDriver(ctx, c, msg)
	case MsgRemoveDevice:
		return s.handleRemoveDevice(ctx, c, msg)
	default:
		return s.respond(c, msg.ID, http.StatusNotImplemented, respResult, ErrorData{Message: "unknown request: " + msg.Msg})
	}
}

// handleSubscribe records the client's interest and lets the session push
// initial state and start monitoring.
func (s *Server) handleSubscribe(ctx context.Context, c *WSClient, msg Message) int {
	var data entityIDsData
	if err := decodeData(msg, &data); err != nil {
		return s.respond(c, msg.ID, http.StatusBadRequest, respResult, ErrorData{Message: err.Error()})
	}
	c.subscribe(data.EntityIDs)
	code := s.respond(c, msg.ID, http.StatusOK, respResult, nil)
	s.session.HandleSubscribe(ctx, data.EntityIDs)
	return code
}

func (s *Server) handleUnsubscribe(c *WSClient, msg Message) int {
	var data entityIDsData
	if err := decodeData(msg, &data); err != nil {
		return s.respond(c, msg.ID, http.StatusBadRequest, respResult, ErrorData{Message: err.Error()})
	}
	c.unsubscribe(data.EntityIDs)
	s.session.HandleUnsubscribe(data.EntityIDs)
	return s.respond(c, msg.ID, http.StatusOK, respResult, nil)
}

func (s *Server) handleEntityCommand(ctx context.Context, c *WSClient, msg Message) int {
	var data entityCommandData
	if err := decodeData(msg, &data); err != nil {
		return s.respond(c, msg.ID, http.StatusBadRequest, respResult, ErrorData{Message: err.Error()})
	}
	if data.EntityID == "" || data.CmdID == "" {
		return s.respond(c, msg.ID, http.StatusBadRequest, respResult, ErrorData{Message: "entity_id and cmd_id are required"})
	}

	result, err := s.session.Dispatch(ctx, data.EntityID, data.CmdID, data.Params)
	if errors.Is(err, session.ErrUnknownEntity) {
		return s.respond(c, msg.ID, http.StatusNotFound, respResult, ErrorData{Message: err.Error()})
	}
	code := resultCode(result)
	if code != http.StatusOK {
		return s.respond(c, msg.ID, code, respResult, ErrorData{Message: result.String()})
	}
	return s.respond(c, msg.ID, code, respResult, nil)
}

// resultCode maps a dispatch outcome onto a response code.
func resultCode(r player.Result) int {
	switch r {
	case player.ResultOK:
		return http.StatusOK
	case player.ResultUnavailable:
		return http.StatusServiceUnavailable
	case player.ResultNotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// handleSetupDriver acknowledges the request, then reports progress and the
// outcome as driver_setup_change events to the requesting client.
func (s *Server) handleSetupDriver(ctx context.Context, c *WSClient, msg Message) int {
	var data setupDriverData
	if err := decodeData(msg, &data); err != nil {
		return s.respond(c, msg.ID, http.StatusBadRequest, respResult, ErrorData{Message: err.Error()})
	}

	code := s.respond(c, msg.ID, http.StatusOK, respResult, nil)
	s.sendEvent(c, EventDriverSetupChange, SetupChangeData{EventType: setupEventType, State: setupStateInProgress})

	req := session.SetupRequest{
		Host:   paramString(data.SetupData, "host"),
		Port:   data.SetupData.Int("port", device.DefaultPort),
		Secret: paramString(data.SetupData, "password"),
		Name:   paramString(data.SetupData, "device_name"),
	}
	result := s.session.HandleSetup(ctx, req)

	if result.OK() {
		s.sendEvent(c, EventDriverSetupChange, SetupChangeData{EventType: setupEventType, State: setupStateOK})
	} else {
		s.sendEvent(c, EventDriverSetupChange, SetupChangeData{
			EventType: setupEventType,
			State:     setupStateError,
			Error:     result.Error.String(),
		})
	}
	return code
}

func (s *Server) handleRemoveDevice(ctx context.Context, c *WSClient, msg Message) int {
	var data removeDeviceData
	if err := decodeData(msg, &data); err != nil {
		return s.respond(c, msg.ID, http.StatusBadRequest, respResult, ErrorData{Message: err.Error()})
	}
	if data.DeviceID == "" {
		return s.respond(c, msg.ID, http.StatusBadRequest, respResult, ErrorData{Message: "device_id is required"})
	}

	err := s.session.RemoveDevice(ctx, data.DeviceID)
	switch {
	case errors.Is(err, device.ErrRecordNotFound):
		return s.respond(c, msg.ID, http.StatusNotFound, respResult, ErrorData{Message: err.Error()})
	case err != nil:
		s.logger.Error("removing device", "device_id", data.DeviceID, "error", err)
		return s.respond(c, msg.ID, http.StatusInternalServerError, respResult, ErrorData{Message: "removing device failed"})
	}
	return s.respond(c, msg.ID, http.StatusOK, respResult, nil)
}

// respond sends a response frame and returns its code.
func (s *Server) respond(c *WSClient, reqID int64, code int, msg string, data any) int {
	frame, err := encodeFrame(Message{Kind: KindResponse, ReqID: reqID, Code: code, Msg: msg}, data)
	if err != nil {
		s.logger.Error("failed to marshal response", "msg", msg, "error", err)
		return http.StatusInternalServerError
	}
	c.trySend(frame)
	return code
}

// sendEvent sends one event frame to a single client.
func (s *Server) sendEvent(c *WSClient, msg string, data any) {
	frame, err := encodeFrame(Message{Kind: KindEvent, Msg: msg}, data)
	if err != nil {
		s.logger.Error("failed to marshal event", "msg", msg, "error", err)
		return
	}
	wsEvents.WithLabelValues(msg).Inc()
	c.trySend(frame)
}

// broadcastEvent sends one event frame to every client accepted by filter.
func (s *Server) broadcastEvent(msg string, data any, filter func(*WSClient) bool) {
	frame, err := encodeFrame(Message{Kind: KindEvent, Msg: msg}, data)
	if err != nil {
		s.logger.Error("failed to marshal broadcast", "msg", msg, "error", err)
		return
	}
	if n := s.hub.Broadcast(frame, filter); n > 0 {
		wsEvents.WithLabelValues(msg).Add(float64(n))
	}
}

func encodeFrame(m Message, data any) ([]byte, error) {
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		m.MsgData = raw
	}
	return json.Marshal(m)
}

func decodeData(msg Message, v any) error {
	if len(msg.MsgData) == 0 {
		return errors.New("msg_data is required")
	}
	if err := json.Unmarshal(msg.MsgData, v); err != nil {
		return errors.New("invalid msg_data")
	}
	return nil
}

func paramString(p player.Params, key string) string {
	switch v := p[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}
