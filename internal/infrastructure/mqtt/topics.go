package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "vlcbridge"

// Topics builds the bridge's topic names under one prefix.
//
//	topics := mqtt.NewTopics("vlcbridge")
//	topics.State("vlc_1a2b3c4d_media_player")
//	// Returns: "vlcbridge/state/vlc_1a2b3c4d_media_player"
type Topics struct {
	Prefix string
}

// NewTopics returns a builder for prefix, trimming any trailing slash.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

// Status returns the bridge status topic.
//
// Example: vlcbridge/status
func (t Topics) Status() string {
	return t.Prefix + "/status"
}

// State returns the retained attribute topic for an entity.
//
// Example: vlcbridge/state/vlc_1a2b3c4d_media_player
func (t Topics) State(entityID string) string {
	return fmt.Sprintf("%s/state/%s", t.Prefix, entityID)
}

// Command returns the command topic for an entity.
//
// Example: vlcbridge/command/vlc_1a2b3c4d_media_player
func (t Topics) Command(entityID string) string {
	return fmt.Sprintf("%s/command/%s", t.Prefix, entityID)
}

// AllCommands returns a wildcard matching every entity's command topic.
func (t Topics) AllCommands() string {
	return t.Prefix + "/command/+"
}

// CommandEntity extracts the entity id from a command topic. ok is false
// when topic is not a command topic under this prefix.
func (t Topics) CommandEntity(topic string) (entityID string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.Prefix+"/command/")
	if !found || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}
