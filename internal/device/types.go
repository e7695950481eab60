package device

import (
	"crypto/md5" //nolint:gosec // Identifier derivation, not security
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultPort is VLC's default HTTP interface port.
	DefaultPort = 8080

	// idLength is the number of hex characters kept from the host:port digest.
	idLength = 8

	// MaxNameLength bounds the display name.
	MaxNameLength = 100
)

// Record is the durable configuration of one player: where it lives and how
// to authenticate. Records are immutable once created; changing a player means
// removing it and setting it up again.
type Record struct {
	ID        string    `json:"id"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Secret    string    `json:"-"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// NewRecord builds a validated record with its identifier derived from host and port.
func NewRecord(host string, port int, secret, name string) (*Record, error) {
	r := &Record{
		Host:      strings.TrimSpace(host),
		Port:      port,
		Secret:    secret,
		Name:      strings.TrimSpace(name),
		CreatedAt: time.Now().UTC(),
	}
	if r.Port == 0 {
		r.Port = DefaultPort
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	r.ID = DeriveID(r.Host, r.Port)
	return r, nil
}

// DeriveID returns the stable device identifier for host and port: the first
// eight hex characters of md5("host:port").
func DeriveID(host string, port int) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%d", host, port))) //nolint:gosec // Not used for security
	return hex.EncodeToString(sum[:])[:idLength]
}

// Validate checks the fields required to reach a player.
func (r *Record) Validate() error {
	if r.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidRecord)
	}
	if strings.ContainsAny(r.Host, "/?#@ ") {
		return fmt.Errorf("%w: host %q must be a bare hostname or address", ErrInvalidRecord, r.Host)
	}
	if r.Port < 1 || r.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidRecord, r.Port)
	}
	if r.Secret == "" {
		return fmt.Errorf("%w: secret is required", ErrInvalidRecord)
	}
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRecord)
	}
	if len(r.Name) > MaxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidRecord, MaxNameLength)
	}
	return nil
}

// Address returns host:port, bracketing IPv6 literals.
func (r *Record) Address() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// BaseURL returns the player's HTTP interface root.
func (r *Record) BaseURL() string {
	return "http://" + r.Address()
}

// EntityID returns the hub-visible entity identifier for this player.
func (r *Record) EntityID() string {
	return EntityIDFor(r.ID)
}

// EntityIDFor returns the entity identifier for a device identifier.
func EntityIDFor(deviceID string) string {
	return "vlc_" + deviceID + "_media_player"
}
