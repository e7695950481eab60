package vlc

import (
	"encoding/json"
	"fmt"
	"math"
)

const (
	// NativeVolumeMax is the top of VLC's HTTP volume scale.
	NativeVolumeMax = 512

	// NativeVolumeFull is 100% output level on the native scale; used when
	// there is no remembered volume to restore.
	NativeVolumeFull = 256
)

// Native playback states reported by VLC.
const (
	NativePlaying = "playing"
	NativePaused  = "paused"
	NativeStopped = "stopped"
)

// Status is the subset of /requests/status.json the bridge consumes.
type Status struct {
	State  string `json:"state"`
	Time   int    `json:"time"`
	Length int    `json:"length"`
	// Volume is nil when the player omits it.
	Volume *float64 `json:"volume"`
	Loop   bool     `json:"loop"`
	Repeat bool     `json:"repeat"`
	Random bool     `json:"random"`

	// Meta is nil when nothing is loaded.
	Meta *Meta `json:"-"`
}

type statusDocument struct {
	Status
	Information json.RawMessage `json:"information"`
}

// Meta is the "information.category.meta" block of the status document.
type Meta struct {
	Title    string `json:"title"`
	Filename string `json:"filename"`
	Artist   string `json:"artist"`
	Album    string `json:"album"`
}

// DisplayTitle returns the explicit title, falling back to the filename.
func (m *Meta) DisplayTitle() string {
	if m == nil {
		return ""
	}
	if m.Title != "" {
		return m.Title
	}
	return m.Filename
}

// NativeVolume returns the volume as an integer on the 0-512 scale, treating
// a missing value as full scale.
func (s *Status) NativeVolume() int {
	if s.Volume == nil {
		return NativeVolumeFull
	}
	return int(math.Round(*s.Volume))
}

// parseStatus decodes a status document. VLC sends "information" as an object
// while something is loaded and omits it (or sends an empty array on some
// builds) otherwise, so it is decoded leniently.
func parseStatus(body []byte) (*Status, error) {
	var doc statusDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	if len(doc.Information) > 0 && doc.Information[0] == '{' {
		var info struct {
			Category struct {
				Meta *Meta `json:"meta"`
			} `json:"category"`
		}
		if err := json.Unmarshal(doc.Information, &info); err == nil {
			doc.Meta = info.Category.Meta
		}
	}
	return &doc.Status, nil
}

// ToNative converts a 0-100 volume to the native 0-512 scale.
// Out-of-range input is clamped.
func ToNative(volume int) int {
	volume = max(0, min(100, volume))
	return volume * NativeVolumeMax / 100
}

// FromNative converts a native 0-512 volume to 0-100.
func FromNative(native int) int {
	native = max(0, min(NativeVolumeMax, native))
	return native * 100 / NativeVolumeMax
}
