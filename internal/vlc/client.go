package vlc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-cleanhttp"
)

const (
	statusPath = "/requests/status.json"
	artPath    = "/art"

	// DefaultRequestTimeout bounds status queries and commands.
	DefaultRequestTimeout = 5 * time.Second

	// DefaultArtTimeout bounds artwork downloads.
	DefaultArtTimeout = 10 * time.Second

	// VolumeStep is the native increment used by VolumeUp and VolumeDown.
	VolumeStep = 20

	maxStatusBytes = 1 << 20
	maxArtBytes    = 10 << 20
)

// Logger defines the logging interface used by the client.
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

// Client talks to one VLC HTTP interface.
//
// The only state it keeps is a connectivity flag and the volume to restore on
// unmute. The flag is set by a successful Probe and cleared by a failed one;
// query and command failures leave it alone. Every operation other than Probe
// fails fast without network I/O while the flag is clear.
//
// Transport errors never escape: they are logged and reported as false or nil.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Client struct {
	baseURL *url.URL
	secret  string
	http    *http.Client
	logger  Logger

	requestTimeout time.Duration
	artTimeout     time.Duration

	connected atomic.Bool

	volumeMu         sync.Mutex
	rememberedVolume *int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the pooled HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the client logger.
func WithLogger(l Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTimeouts overrides the request and artwork timeouts.
func WithTimeouts(request, art time.Duration) Option {
	return func(c *Client) {
		c.requestTimeout = request
		c.artTimeout = art
	}
}

// NewClient creates a client for the player at baseURL (e.g. "http://10.0.0.5:8080").
// The client starts disconnected; call Probe before anything else.
func NewClient(baseURL, secret string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("base url %q has no host", baseURL)
	}

	c := &Client{
		baseURL:        u,
		secret:         secret,
		http:           &http.Client{Transport: cleanhttp.DefaultPooledTransport()},
		logger:         noopLogger{},
		requestTimeout: DefaultRequestTimeout,
		artTimeout:     DefaultArtTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the player's HTTP interface root.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// IsConnected reports the connectivity flag.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Disconnect clears the connectivity flag and releases idle connections.
func (c *Client) Disconnect() {
	c.connected.Store(false)
	c.http.CloseIdleConnections()
}

// Probe issues a status query regardless of the connectivity flag and sets the
// flag to whether the player answered 200 with a JSON document.
func (c *Client) Probe(ctx context.Context) bool {
	start := time.Now()
	_, err := c.fetchStatus(ctx, nil)
	observeRequest("probe", start, err)

	if err != nil {
		if c.connected.Swap(false) {
			c.logger.Warn("vlc probe failed, marking disconnected", "url", c.BaseURL(), "error", err)
		} else {
			c.logger.Debug("vlc probe failed", "url", c.BaseURL(), "error", err)
		}
		return false
	}

	if !c.connected.Swap(true) {
		c.logger.Info("connected to vlc", "url", c.BaseURL())
	}
	return true
}

// Status queries the current player status. It returns false on any failure.
func (c *Client) Status(ctx context.Context) (*Status, bool) {
	if !c.connected.Load() {
		observeSkipped("status")
		return nil, false
	}

	start := time.Now()
	status, err := c.fetchStatus(ctx, nil)
	observeRequest("status", start, err)
	if err != nil {
		c.logger.Warn("vlc status query failed", "url", c.BaseURL(), "error", err)
		return nil, false
	}
	return status, true
}

// Send issues a command. Only the HTTP status of the reply is checked.
func (c *Client) Send(ctx context.Context, command string, params url.Values) bool {
	if !c.connected.Load() {
		observeSkipped("command")
		c.logger.Debug("vlc command skipped, not connected", "command", command)
		return false
	}

	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("command", command)

	start := time.Now()
	_, err := c.fetchStatus(ctx, q)
	observeRequest("command", start, err)
	if err != nil {
		c.logger.Warn("vlc command failed", "command", command, "url", c.BaseURL(), "error", err)
		return false
	}
	c.logger.Debug("vlc command sent", "command", command)
	return true
}

// ArtURL returns the direct artwork URL on the player.
func (c *Client) ArtURL() string {
	return c.baseURL.JoinPath(artPath).String()
}

// FetchArt downloads the current item's artwork. The second return value is
// the reported content type.
func (c *Client) FetchArt(ctx context.Context) ([]byte, string, bool) {
	if !c.connected.Load() {
		observeSkipped("art")
		return nil, "", false
	}

	ctx, cancel := context.WithTimeout(ctx, c.artTimeout)
	defer cancel()

	start := time.Now()
	body, contentType, err := c.get(ctx, artPath, nil, maxArtBytes)
	observeRequest("art", start, err)
	if err != nil {
		c.logger.Debug("vlc artwork unavailable", "url", c.BaseURL(), "error", err)
		return nil, "", false
	}
	if len(body) == 0 {
		return nil, "", false
	}
	return body, contentType, true
}

func (c *Client) fetchStatus(ctx context.Context, query url.Values) (*Status, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	body, _, err := c.get(ctx, statusPath, query, maxStatusBytes)
	if err != nil {
		return nil, err
	}
	return parseStatus(body)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, limit int64) ([]byte, string, error) {
	u := c.baseURL.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("building request: %w", err)
	}
	req.SetBasicAuth("", c.secret)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("requesting %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, limit)) //nolint:errcheck // Drain for connection reuse
		if path == artPath && resp.StatusCode == http.StatusNotFound {
			return nil, "", ErrNoArtwork
		}
		return nil, "", fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, "", fmt.Errorf("reading %s: %w", path, err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// --- commands ---

// Play resumes playback.
func (c *Client) Play(ctx context.Context) bool { return c.Send(ctx, "pl_forceresume", nil) }

// Pause pauses playback.
func (c *Client) Pause(ctx context.Context) bool { return c.Send(ctx, "pl_forcepause", nil) }

// PlayPause toggles between playing and paused.
func (c *Client) PlayPause(ctx context.Context) bool { return c.Send(ctx, "pl_pause", nil) }

// Stop stops playback.
func (c *Client) Stop(ctx context.Context) bool { return c.Send(ctx, "pl_stop", nil) }

// Next skips to the next playlist item.
func (c *Client) Next(ctx context.Context) bool { return c.Send(ctx, "pl_next", nil) }

// Previous returns to the previous playlist item.
func (c *Client) Previous(ctx context.Context) bool { return c.Send(ctx, "pl_previous", nil) }

// Seek jumps to an absolute position in seconds.
func (c *Client) Seek(ctx context.Context, seconds int) bool {
	return c.Send(ctx, "seek", url.Values{"val": {strconv.Itoa(max(0, seconds))}})
}

// SeekRelative moves the position by offset seconds.
func (c *Client) SeekRelative(ctx context.Context, offset int) bool {
	return c.Send(ctx, "seek", url.Values{"val": {signed(offset)}})
}

// SetVolume sets the volume from a 0-100 value.
func (c *Client) SetVolume(ctx context.Context, volume int) bool {
	return c.Send(ctx, "volume", url.Values{"val": {strconv.Itoa(ToNative(volume))}})
}

// VolumeUp raises the volume by VolumeStep native units.
func (c *Client) VolumeUp(ctx context.Context) bool {
	return c.Send(ctx, "volume", url.Values{"val": {signed(VolumeStep)}})
}

// VolumeDown lowers the volume by VolumeStep native units.
func (c *Client) VolumeDown(ctx context.Context) bool {
	return c.Send(ctx, "volume", url.Values{"val": {signed(-VolumeStep)}})
}

// Mute remembers the current volume and sets it to zero. Muting an already
// silent player succeeds without sending anything.
func (c *Client) Mute(ctx context.Context) bool {
	status, ok := c.Status(ctx)
	if !ok {
		return false
	}

	current := status.NativeVolume()
	if current == 0 {
		return true
	}

	c.volumeMu.Lock()
	c.rememberedVolume = &current
	c.volumeMu.Unlock()

	return c.Send(ctx, "volume", url.Values{"val": {"0"}})
}

// Unmute restores the volume remembered by Mute, or full scale if none.
func (c *Client) Unmute(ctx context.Context) bool {
	return c.Send(ctx, "volume", url.Values{"val": {strconv.Itoa(c.RememberedVolume())}})
}

// MuteToggle unmutes a silent player and mutes any other.
func (c *Client) MuteToggle(ctx context.Context) bool {
	status, ok := c.Status(ctx)
	if !ok {
		return false
	}
	if status.NativeVolume() == 0 {
		return c.Unmute(ctx)
	}
	return c.Mute(ctx)
}

// RememberedVolume returns the native volume Unmute would restore.
func (c *Client) RememberedVolume() int {
	c.volumeMu.Lock()
	defer c.volumeMu.Unlock()
	if c.rememberedVolume == nil {
		return NativeVolumeFull
	}
	return *c.rememberedVolume
}

// ShuffleToggle toggles random playback.
func (c *Client) ShuffleToggle(ctx context.Context) bool { return c.Send(ctx, "pl_random", nil) }

// RepeatToggle toggles repeat of the current item.
func (c *Client) RepeatToggle(ctx context.Context) bool { return c.Send(ctx, "pl_repeat", nil) }

// LoopToggle toggles looping of the whole playlist.
func (c *Client) LoopToggle(ctx context.Context) bool { return c.Send(ctx, "pl_loop", nil) }

// FullscreenToggle toggles fullscreen video.
func (c *Client) FullscreenToggle(ctx context.Context) bool { return c.Send(ctx, "fullscreen", nil) }

// ClearPlaylist empties the playlist.
func (c *Client) ClearPlaylist(ctx context.Context) bool { return c.Send(ctx, "pl_empty", nil) }

func signed(n int) string {
	if n >= 0 {
		return "+" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}
