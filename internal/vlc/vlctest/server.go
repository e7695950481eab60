// Package vlctest provides a stub VLC HTTP interface for tests.
package vlctest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

// Server is an in-process VLC HTTP interface that keeps just enough player
// state to answer status queries and apply commands.
type Server struct {
	*httptest.Server

	Password string

	mu          sync.Mutex
	state       string
	time        int
	length      int
	volume      int
	loop        bool
	repeat      bool
	random      bool
	fullscreen  bool
	meta        map[string]string
	art         []byte
	failing     bool
	invalidJSON bool
	commands    []Command
	statusCalls int
}

// Command is one command received by the stub.
type Command struct {
	Name string
	Val  string
}

// NewServer starts a stub with a stopped player at volume 256.
func NewServer(password string) *Server {
	s := &Server{
		Password: password,
		state:    "stopped",
		volume:   256,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/requests/status.json", s.handleStatus)
	mux.HandleFunc("/art", s.handleArt)
	s.Server = httptest.NewServer(mux)
	return s
}

// SetPlayback sets state, position and duration.
func (s *Server) SetPlayback(state string, position, length int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state, s.time, s.length = state, position, length
}

// SetVolume sets the native volume.
func (s *Server) SetVolume(native int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = native
}

// SetFlags sets the loop, repeat and random flags.
func (s *Server) SetFlags(loop, repeat, random bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loop, s.repeat, s.random = loop, repeat, random
}

// SetMeta sets the "information.category.meta" block; nil removes it.
func (s *Server) SetMeta(meta map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta = meta
}

// SetArt sets the artwork served at /art; nil makes /art return 404.
func (s *Server) SetArt(art []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.art = art
}

// SetFailing makes every request answer 500.
func (s *Server) SetFailing(failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = failing
}

// SetInvalidJSON makes status replies unparseable.
func (s *Server) SetInvalidJSON(invalid bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidJSON = invalid
}

// Volume returns the current native volume.
func (s *Server) Volume() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// State returns the native playback state.
func (s *Server) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Commands returns the commands received so far.
func (s *Server) Commands() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Command(nil), s.commands...)
}

// StatusCalls returns the number of plain status queries (no command).
func (s *Server) StatusCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusCalls
}

func (s *Server) authorised(r *http.Request) bool {
	user, pass, ok := r.BasicAuth()
	return ok && user == "" && pass == s.Password
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.authorised(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failing {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	q := r.URL.Query()
	if cmd := q.Get("command"); cmd != "" {
		s.commands = append(s.commands, Command{Name: cmd, Val: q.Get("val")})
		s.apply(cmd, q.Get("val"))
	} else {
		s.statusCalls++
	}

	w.Header().Set("Content-Type", "application/json")
	if s.invalidJSON {
		w.Write([]byte("<html>not json</html>")) //nolint:errcheck // Test server
		return
	}
	json.NewEncoder(w).Encode(s.document()) //nolint:errcheck // Test server
}

func (s *Server) handleArt(w http.ResponseWriter, r *http.Request) {
	if !s.authorised(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	s.mu.Lock()
	art := s.art
	failing := s.failing
	s.mu.Unlock()

	if failing {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if art == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(art) //nolint:errcheck // Test server
}

// apply mutates player state for a command. Caller holds mu.
func (s *Server) apply(cmd, val string) {
	switch cmd {
	case "pl_pause":
		if s.state == "playing" {
			s.state = "paused"
		} else {
			s.state = "playing"
		}
	case "pl_forceresume":
		s.state = "playing"
	case "pl_forcepause":
		s.state = "paused"
	case "pl_stop":
		s.state = "stopped"
		s.time = 0
	case "volume":
		s.volume = max(0, min(512, adjust(s.volume, val)))
	case "seek":
		s.time = max(0, adjust(s.time, val))
	case "pl_random":
		s.random = !s.random
	case "pl_repeat":
		s.repeat = !s.repeat
	case "pl_loop":
		s.loop = !s.loop
	case "fullscreen":
		s.fullscreen = !s.fullscreen
	case "pl_empty":
		s.state = "stopped"
		s.meta = nil
		s.time, s.length = 0, 0
	}
}

func adjust(current int, val string) int {
	n, err := strconv.Atoi(val)
	if err != nil {
		return current
	}
	if strings.HasPrefix(val, "+") || strings.HasPrefix(val, "-") {
		return current + n
	}
	return n
}

func (s *Server) document() map[string]any {
	doc := map[string]any{
		"state":      s.state,
		"time":       s.time,
		"length":     s.length,
		"volume":     s.volume,
		"loop":       s.loop,
		"repeat":     s.repeat,
		"random":     s.random,
		"fullscreen": s.fullscreen,
		"apiversion": 3,
	}
	if s.meta != nil {
		doc["information"] = map[string]any{
			"category": map[string]any{"meta": s.meta},
		}
	}
	return doc
}
