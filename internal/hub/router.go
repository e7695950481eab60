package hub

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/vlcbridge/internal/vlc"
)

// artPath is the route prefix of the artwork proxy.
const artPath = "/art"

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Get(s.cfg.WebSocketPath, s.handleWebSocket)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.With(s.artRateLimit()).Get(artPath+"/{deviceID}", s.handleArt)

	return r
}

// artRateLimit limits artwork requests per client IP, since each miss costs
// an upstream fetch from the player.
func (s *Server) artRateLimit() func(http.Handler) http.Handler {
	if s.cfg.ArtRateLimit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		s.cfg.ArtRateLimit,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			artRequests.WithLabelValues("rate_limited").Inc()
			w.Header().Set("Retry-After", strconv.Itoa(int(time.Minute.Seconds())))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many artwork requests")
		}),
	)
}

// ArtURL returns the proxied artwork URL for a device under base, the
// externally reachable URL of this server.
func ArtURL(base, deviceID string) string {
	return strings.TrimRight(base, "/") + artPath + "/" + deviceID
}

// handleHealth reports server, session and storage health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{
		"status":       "ok",
		"version":      s.version,
		"device_state": s.DeviceState(),
		"entities":     s.EntityCount(),
		"clients":      s.hub.ClientCount(),
	}

	if s.db != nil {
		if err := s.db.HealthCheck(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["database"] = err.Error()
		} else if v, err := s.db.SchemaVersion(r.Context()); err == nil {
			body["schema_version"] = v
		}
	}

	writeJSON(w, status, body)
}

type artwork struct {
	data        []byte
	contentType string
}

// handleArt proxies the current cover art of a player. Concurrent requests
// for the same device share one upstream fetch.
func (s *Server) handleArt(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	if s.session == nil {
		artRequests.WithLabelValues("unknown_device").Inc()
		writeNotFound(w, "unknown device")
		return
	}
	a := s.session.AdapterForDevice(deviceID)
	if a == nil {
		artRequests.WithLabelValues("unknown_device").Inc()
		writeNotFound(w, "unknown device")
		return
	}

	v, err, shared := s.art.Do(deviceID, func() (any, error) {
		// Shared by every waiting caller, so not tied to this request.
		data, contentType, ok := a.Client().FetchArt(context.WithoutCancel(r.Context()))
		if !ok {
			return nil, vlc.ErrNoArtwork
		}
		return artwork{data: data, contentType: contentType}, nil
	})
	if err != nil {
		artRequests.WithLabelValues("missing").Inc()
		writeNotFound(w, "no artwork")
		return
	}
	if shared {
		artRequests.WithLabelValues("shared").Inc()
	} else {
		artRequests.WithLabelValues("ok").Inc()
	}

	art := v.(artwork) //nolint:errcheck // Do only returns artwork values
	if art.contentType != "" {
		w.Header().Set("Content-Type", art.contentType)
	}
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // Best-effort write; the hub may have gone away
	w.Write(art.data)
}
