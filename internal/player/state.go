package player

import "github.com/nerrad567/vlcbridge/internal/vlc"

// Playback is the hub-facing media player state.
type Playback string

// Playback values.
const (
	Off         Playback = "OFF"
	On          Playback = "ON"
	Playing     Playback = "PLAYING"
	Paused      Playback = "PAUSED"
	Unavailable Playback = "UNAVAILABLE"
)

// RepeatMode is the hub-facing repeat setting.
type RepeatMode string

// RepeatMode values.
const (
	RepeatOff RepeatMode = "OFF"
	RepeatOne RepeatMode = "ONE"
	RepeatAll RepeatMode = "ALL"
)

// State is the cached view of one player. Its JSON form is the attribute set
// pushed to the hub.
type State struct {
	Playback      Playback   `json:"state"`
	Volume        int        `json:"volume"`
	Muted         bool       `json:"muted"`
	MediaPosition int        `json:"media_position"`
	MediaDuration int        `json:"media_duration"`
	MediaTitle    string     `json:"media_title"`
	MediaArtist   string     `json:"media_artist"`
	MediaAlbum    string     `json:"media_album"`
	MediaImageURL string     `json:"media_image_url"`
	Repeat        RepeatMode `json:"repeat"`
	Shuffle       bool       `json:"shuffle"`
}

// initialState is what an adapter reports before its first poll.
func initialState() State {
	return State{Playback: Off, Repeat: RepeatOff}
}

// FromStatus computes a complete State from a status document. imageURL is
// surfaced only when there is a title and the player is not off.
func FromStatus(s *vlc.Status, imageURL string) State {
	st := State{
		Playback:      mapPlayback(s.State),
		MediaPosition: s.Time,
		MediaDuration: s.Length,
		Shuffle:       s.Random,
	}

	native := s.NativeVolume()
	st.Volume = vlc.FromNative(native)
	st.Muted = native == 0

	if s.Meta != nil {
		st.MediaTitle = s.Meta.DisplayTitle()
		st.MediaArtist = s.Meta.Artist
		st.MediaAlbum = s.Meta.Album
		if st.MediaTitle != "" && st.Playback != Off {
			st.MediaImageURL = imageURL
		}
	}

	switch {
	case s.Loop:
		st.Repeat = RepeatAll
	case s.Repeat:
		st.Repeat = RepeatOne
	default:
		st.Repeat = RepeatOff
	}
	return st
}

func mapPlayback(native string) Playback {
	switch native {
	case vlc.NativePlaying:
		return Playing
	case vlc.NativePaused:
		return Paused
	case vlc.NativeStopped, "":
		return Off
	default:
		return On
	}
}
