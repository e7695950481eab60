package hub

import (
	"context"
	"sort"

	"github.com/nerrad567/vlcbridge/internal/player"
	"github.com/nerrad567/vlcbridge/internal/session"
)

// SetDeviceState records the integration-wide state and announces it to
// every client and observer.
func (s *Server) SetDeviceState(ctx context.Context, state session.DeviceState) error {
	s.entMu.Lock()
	s.deviceState = state
	s.entMu.Unlock()

	s.logger.Info("device state", "state", state)
	s.broadcastEvent(EventDeviceState, DeviceStateData{State: state}, nil)
	for _, o := range s.observers {
		o.ObserveDeviceState(ctx, state)
	}
	return nil
}

// DeviceState returns the last reported integration-wide state.
func (s *Server) DeviceState() session.DeviceState {
	s.entMu.RLock()
	defer s.entMu.RUnlock()
	return s.deviceState
}

// ClearEntities empties the hub-visible entity set.
func (s *Server) ClearEntities() {
	s.entMu.Lock()
	s.entities = make(map[string]*player.Adapter)
	s.entMu.Unlock()
}

// AddEntity makes an adapter visible to the hub.
func (s *Server) AddEntity(a *player.Adapter) {
	s.entMu.Lock()
	s.entities[a.EntityID()] = a
	s.entMu.Unlock()
}

// EntityCount returns the size of the hub-visible entity set.
func (s *Server) EntityCount() int {
	s.entMu.RLock()
	defer s.entMu.RUnlock()
	return len(s.entities)
}

// UpdateAttributes forwards a full attribute set to the clients subscribed
// to the entity and to every observer.
func (s *Server) UpdateAttributes(ctx context.Context, entityID string, state player.State) error {
	s.broadcastEvent(EventEntityChange, EntityChangeData{
		EntityID:   entityID,
		EntityType: player.EntityType,
		Attributes: state,
	}, func(c *WSClient) bool { return c.isSubscribed(entityID) })

	for _, o := range s.observers {
		o.ObserveState(ctx, entityID, state)
	}
	return nil
}

// entityList returns the hub-visible adapters ordered by entity id.
func (s *Server) entityList() []*player.Adapter {
	s.entMu.RLock()
	out := make([]*player.Adapter, 0, len(s.entities))
	for _, a := range s.entities {
		out = append(out, a)
	}
	s.entMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].EntityID() < out[j].EntityID() })
	return out
}

func (s *Server) availableEntities() []AvailableEntity {
	adapters := s.entityList()
	out := make([]AvailableEntity, 0, len(adapters))
	for _, a := range adapters {
		out = append(out, AvailableEntity{
			EntityID:    a.EntityID(),
			EntityType:  player.EntityType,
			DeviceID:    a.DeviceID(),
			Name:        map[string]string{"en": a.Name()},
			DeviceClass: deviceClassStreamingBox,
			Features:    player.Features,
			Attributes:  a.Snapshot(),
		})
	}
	return out
}

func (s *Server) entityStates() []EntityChangeData {
	adapters := s.entityList()
	out := make([]EntityChangeData, 0, len(adapters))
	for _, a := range adapters {
		out = append(out, EntityChangeData{
			EntityID:   a.EntityID(),
			EntityType: player.EntityType,
			Attributes: a.Snapshot(),
		})
	}
	return out
}
