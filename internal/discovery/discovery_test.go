package discovery

import (
	"errors"
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nerrad567/vlcbridge/internal/infrastructure/config"
)

type fakeRegistration struct {
	shutdowns int
}

func (f *fakeRegistration) Shutdown() { f.shutdowns++ }

// fakeRegistrar records the last registration request.
type fakeRegistrar struct {
	instance, service, domain string
	port                      int
	txt                       []string
	reg                       *fakeRegistration
	err                       error
}

func (f *fakeRegistrar) register(instance, service, domain string, port int, text []string, _ []net.Interface) (registration, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.instance, f.service, f.domain, f.port, f.txt = instance, service, domain, port, text
	f.reg = &fakeRegistration{}
	return f.reg, nil
}

func TestInfoFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Integration.ID = "vlcbridge"
	cfg.Integration.Name = "VLC"
	cfg.Integration.Developer = "nerrad567"
	cfg.Listen.Port = 9090
	cfg.Listen.WebSocketPath = "/ws"

	got := InfoFromConfig(cfg, "1.2.3")
	want := Info{
		Instance:  "vlcbridge",
		Service:   cfg.Discovery.Service,
		Domain:    cfg.Discovery.Domain,
		Port:      9090,
		Name:      "VLC",
		Version:   "1.2.3",
		Developer: "nerrad567",
		WSPath:    "/ws",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("InfoFromConfig() mismatch (-want +got):\n%s", diff)
	}

	cfg.Discovery.Instance = "living-room"
	if got := InfoFromConfig(cfg, "1.2.3").Instance; got != "living-room" {
		t.Errorf("Instance = %q, want living-room", got)
	}
}

func TestInfo_TXT(t *testing.T) {
	info := Info{Name: "VLC", Version: "1.0.0", WSPath: "/ws"}

	want := []string{"name=VLC", "ver=1.0.0", "ws_path=/ws"}
	if diff := cmp.Diff(want, info.TXT()); diff != "" {
		t.Errorf("TXT() mismatch (-want +got):\n%s", diff)
	}
}

func TestAdvertiser_StartShutdown(t *testing.T) {
	fake := &fakeRegistrar{}
	a := NewAdvertiser(Info{Instance: "vlcbridge", Port: 9090, Name: "VLC"})
	a.register = fake.register

	if err := a.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !a.Running() {
		t.Error("Running() = false after Start()")
	}
	if fake.service != DefaultService || fake.domain != DefaultDomain || fake.port != 9090 {
		t.Errorf("registered %s %s %d, want defaults and 9090", fake.service, fake.domain, fake.port)
	}
	if err := a.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}

	a.Shutdown()
	a.Shutdown()
	if a.Running() {
		t.Error("Running() = true after Shutdown()")
	}
	if fake.reg.shutdowns != 1 {
		t.Errorf("registration shut down %d times, want 1", fake.reg.shutdowns)
	}
}

func TestAdvertiser_StartErrors(t *testing.T) {
	tests := []struct {
		name string
		info Info
		err  error
	}{
		{"missing instance", Info{Port: 9090}, nil},
		{"bad port", Info{Instance: "x"}, nil},
		{"register failure", Info{Instance: "x", Port: 9090}, errors.New("no multicast interface")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeRegistrar{err: tt.err}
			a := NewAdvertiser(tt.info)
			a.register = fake.register

			err := a.Start()
			if err == nil {
				t.Fatal("Start() error = nil, want error")
			}
			if tt.err != nil && !errors.Is(err, tt.err) {
				t.Errorf("Start() error = %v, want wrapping %v", err, tt.err)
			}
			if a.Running() {
				t.Error("Running() = true after failed Start()")
			}
		})
	}
}
