// Package discovery advertises the integration on the local network over
// mDNS so a hub can find it without manual configuration.
package discovery

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"

	"github.com/nerrad567/vlcbridge/internal/infrastructure/config"
)

// Defaults applied when the discovery section leaves a field empty.
const (
	DefaultService = "_uc-integration._tcp"
	DefaultDomain  = "local."
)

// ErrAlreadyStarted is returned by Start on a running advertiser.
var ErrAlreadyStarted = errors.New("discovery: already advertising")

// Info is what the advertisement carries.
type Info struct {
	Instance  string
	Service   string
	Domain    string
	Port      int
	Name      string
	Version   string
	Developer string
	WSPath    string
}

// InfoFromConfig assembles an Info from configuration.
func InfoFromConfig(cfg *config.Config, version string) Info {
	instance := cfg.Discovery.Instance
	if instance == "" {
		instance = cfg.Integration.ID
	}
	return Info{
		Instance:  instance,
		Service:   cfg.Discovery.Service,
		Domain:    cfg.Discovery.Domain,
		Port:      cfg.Listen.Port,
		Name:      cfg.Integration.Name,
		Version:   version,
		Developer: cfg.Integration.Developer,
		WSPath:    cfg.Listen.WebSocketPath,
	}
}

// TXT returns the TXT records. Empty values are omitted.
func (i Info) TXT() []string {
	var txt []string
	for _, kv := range [][2]string{
		{"name", i.Name},
		{"ver", i.Version},
		{"developer", i.Developer},
		{"ws_path", i.WSPath},
	} {
		if kv[1] != "" {
			txt = append(txt, kv[0]+"="+kv[1])
		}
	}
	return txt
}

// registration is a live advertisement. *zeroconf.Server satisfies it.
type registration interface {
	Shutdown()
}

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (registration, error)

func zeroconfRegister(instance, service, domain string, port int, text []string, ifaces []net.Interface) (registration, error) {
	server, err := zeroconf.Register(instance, service, domain, port, text, ifaces)
	if err != nil {
		return nil, err
	}
	return server, nil
}

// Advertiser publishes one mDNS service record until Shutdown.
type Advertiser struct {
	info     Info
	register registerFunc

	mu     sync.Mutex
	server registration
}

// NewAdvertiser creates an advertiser for info, filling default service and
// domain.
func NewAdvertiser(info Info) *Advertiser {
	if info.Service == "" {
		info.Service = DefaultService
	}
	if info.Domain == "" {
		info.Domain = DefaultDomain
	}
	return &Advertiser{info: info, register: zeroconfRegister}
}

// Info returns the advertised record.
func (a *Advertiser) Info() Info {
	return a.info
}

// Start registers the service on all multicast interfaces.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return ErrAlreadyStarted
	}
	if a.info.Instance == "" {
		return fmt.Errorf("discovery: instance name is required")
	}
	if a.info.Port <= 0 {
		return fmt.Errorf("discovery: invalid port %d", a.info.Port)
	}

	server, err := a.register(a.info.Instance, a.info.Service, a.info.Domain, a.info.Port, a.info.TXT(), nil)
	if err != nil {
		return fmt.Errorf("registering %s.%s: %w", a.info.Instance, a.info.Service, err)
	}
	a.server = server
	return nil
}

// Shutdown withdraws the advertisement. Safe to call when not started.
func (a *Advertiser) Shutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// Running reports whether the service is advertised.
func (a *Advertiser) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}
