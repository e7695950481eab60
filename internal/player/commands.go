package player

import (
	"context"
	"math"
	"strconv"

	"github.com/nerrad567/vlcbridge/internal/vlc"
)

// Hub command identifiers.
const (
	CmdPlayPause     = "play_pause"
	CmdPlay          = "play"
	CmdPause         = "pause"
	CmdStop          = "stop"
	CmdNext          = "next"
	CmdPrevious      = "previous"
	CmdSeek          = "seek"
	CmdFastForward   = "fast_forward"
	CmdRewind        = "rewind"
	CmdVolume        = "volume"
	CmdVolumeUp      = "volume_up"
	CmdVolumeDown    = "volume_down"
	CmdMuteToggle    = "mute_toggle"
	CmdMute          = "mute"
	CmdUnmute        = "unmute"
	CmdShuffle       = "shuffle"
	CmdRepeat        = "repeat"
	CmdLoop          = "loop"
	CmdFullscreen    = "fullscreen"
	CmdClearPlaylist = "clear_playlist"
)

// SkipSeconds is the jump applied by fast_forward and rewind.
const SkipSeconds = 30

// Default command parameters when the hub omits them.
const (
	defaultVolume   = 50
	defaultPosition = 0
)

// Params are the optional command parameters sent by the hub.
type Params map[string]any

// Int returns the named parameter as an int, accepting JSON numbers and
// numeric strings.
func (p Params) Int(key string, def int) int {
	v, ok := p[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(math.Round(n))
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i
		}
	}
	return def
}

type commandFunc func(ctx context.Context, c *vlc.Client, p Params) bool

func simple(op func(*vlc.Client, context.Context) bool) commandFunc {
	return func(ctx context.Context, c *vlc.Client, _ Params) bool { return op(c, ctx) }
}

// commands maps each hub command to exactly one client operation.
var commands = map[string]commandFunc{
	CmdPlayPause: simple((*vlc.Client).PlayPause),
	CmdPlay:      simple((*vlc.Client).Play),
	CmdPause:     simple((*vlc.Client).Pause),
	CmdStop:      simple((*vlc.Client).Stop),
	CmdNext:      simple((*vlc.Client).Next),
	CmdPrevious:  simple((*vlc.Client).Previous),
	CmdSeek: func(ctx context.Context, c *vlc.Client, p Params) bool {
		return c.Seek(ctx, p.Int("media_position", defaultPosition))
	},
	CmdFastForward: func(ctx context.Context, c *vlc.Client, _ Params) bool {
		return c.SeekRelative(ctx, SkipSeconds)
	},
	CmdRewind: func(ctx context.Context, c *vlc.Client, _ Params) bool {
		return c.SeekRelative(ctx, -SkipSeconds)
	},
	CmdVolume: func(ctx context.Context, c *vlc.Client, p Params) bool {
		return c.SetVolume(ctx, p.Int("volume", defaultVolume))
	},
	CmdVolumeUp:      simple((*vlc.Client).VolumeUp),
	CmdVolumeDown:    simple((*vlc.Client).VolumeDown),
	CmdMuteToggle:    simple((*vlc.Client).MuteToggle),
	CmdMute:          simple((*vlc.Client).Mute),
	CmdUnmute:        simple((*vlc.Client).Unmute),
	CmdShuffle:       simple((*vlc.Client).ShuffleToggle),
	CmdRepeat:        simple((*vlc.Client).RepeatToggle),
	CmdLoop:          simple((*vlc.Client).LoopToggle),
	CmdFullscreen:    simple((*vlc.Client).FullscreenToggle),
	CmdClearPlaylist: simple((*vlc.Client).ClearPlaylist),
}

// Supported reports whether cmd is a known command id.
func Supported(cmd string) bool {
	_, ok := commands[cmd]
	return ok
}

// Features lists the hub media-player features this entity offers.
var Features = []string{
	"play_pause", "stop", "next", "previous",
	"volume", "volume_up_down", "mute_toggle", "mute", "unmute",
	"seek", "fast_forward", "rewind",
	"media_title", "media_artist", "media_album", "media_image_url",
	"media_position", "media_duration",
	"repeat", "shuffle",
}
