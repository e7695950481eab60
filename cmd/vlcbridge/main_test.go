package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nerrad567/vlcbridge/internal/audit"
	"github.com/nerrad567/vlcbridge/internal/device"
	"github.com/nerrad567/vlcbridge/internal/infrastructure/config"
	"github.com/nerrad567/vlcbridge/internal/vlc/vlctest"
)

// freePort returns a TCP port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// writeConfig writes a minimal config using a temp database and returns its path.
func writeConfig(t *testing.T, port int) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`
integration:
  id: vlc-test
listen:
  host: "127.0.0.1"
  port: %d
database:
  path: %q
  wal_mode: true
  busy_timeout: 5
mqtt:
  enabled: false
influxdb:
  enabled: false
discovery:
  enabled: false
logging:
  level: error
  format: text
  output: stderr
`, port, filepath.Join(dir, "test.db"))

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func hostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("url.Parse() error = %v", err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("SplitHostPort() error = %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("Atoi() error = %v", err)
	}
	return host, port
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("VLCBRIDGE_CONFIG", "")
	if got := getConfigPath(&options{}); got != config.DefaultPath {
		t.Errorf("getConfigPath() = %q, want %q", got, config.DefaultPath)
	}

	t.Setenv("VLCBRIDGE_CONFIG", "/custom/path/config.yaml")
	if got := getConfigPath(&options{}); got != "/custom/path/config.yaml" {
		t.Errorf("getConfigPath() = %q, want env override", got)
	}

	if got := getConfigPath(&options{configPath: "/flag.yaml"}); got != "/flag.yaml" {
		t.Errorf("getConfigPath() = %q, want flag to win", got)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("listen: [not a map"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, &options{configPath: path}); err == nil {
		t.Fatal("run() should fail with an unparsable config")
	}
}

func TestRun_StartupAndShutdown(t *testing.T) {
	port := freePort(t)
	path := writeConfig(t, port)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, &options{configPath: path})
	}()

	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(healthURL)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Errorf("GET /health status = %d, want 200", resp.StatusCode)
			}
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("server did not come up: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.HasPrefix(out, "vlcbridge "+version) {
		t.Errorf("version output = %q", out)
	}

	out, err = execute(t, "version", "--json")
	if err != nil {
		t.Fatalf("version --json error = %v", err)
	}
	var info map[string]string
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("version --json output not JSON: %v", err)
	}
	if info["version"] != version {
		t.Errorf("version = %q, want %q", info["version"], version)
	}
}

func TestDeviceLifecycle(t *testing.T) {
	path := writeConfig(t, freePort(t))
	srv := vlctest.NewServer("secret")
	defer srv.Close()
	host, port := hostPort(t, srv.URL)
	id := device.DeriveID(host, port)

	out, err := execute(t, "--config", path, "device", "list")
	if err != nil {
		t.Fatalf("device list error = %v", err)
	}
	if !strings.Contains(out, "No players configured") {
		t.Errorf("device list output = %q", out)
	}

	out, err = execute(t, "--config", path, "device", "add",
		"--host", host, "--port", strconv.Itoa(port), "--password", "secret", "--name", "Kitchen")
	if err != nil {
		t.Fatalf("device add error = %v", err)
	}
	if !strings.Contains(out, id) {
		t.Errorf("device add output = %q, want id %s", out, id)
	}

	out, err = execute(t, "--config", path, "--json", "device", "list")
	if err != nil {
		t.Fatalf("device list --json error = %v", err)
	}
	var records []device.Record
	if err := json.Unmarshal([]byte(out), &records); err != nil {
		t.Fatalf("device list --json output not JSON: %v\n%s", err, out)
	}
	if len(records) != 1 || records[0].ID != id || records[0].Name != "Kitchen" {
		t.Errorf("records = %+v", records)
	}

	_, err = execute(t, "--config", path, "device", "add",
		"--host", host, "--port", strconv.Itoa(port), "--password", "secret", "--name", "Again")
	if !errors.Is(err, errSetupFailed) {
		t.Errorf("duplicate device add error = %v, want errSetupFailed", err)
	}

	if _, err := execute(t, "--config", path, "device", "remove", id); err != nil {
		t.Fatalf("device remove error = %v", err)
	}
	if _, err := execute(t, "--config", path, "device", "remove", id); !errors.Is(err, device.ErrRecordNotFound) {
		t.Errorf("second device remove error = %v, want ErrRecordNotFound", err)
	}

	out, err = execute(t, "--config", path, "--json", "audit", "--device", id)
	if err != nil {
		t.Fatalf("audit error = %v", err)
	}
	var history audit.ListResult
	if err := json.Unmarshal([]byte(out), &history); err != nil {
		t.Fatalf("audit --json output not JSON: %v\n%s", err, out)
	}
	var actions []string
	for _, e := range history.Entries {
		actions = append(actions, e.Action+"/"+e.Source)
	}
	want := []string{"device_removed/cli", "setup_failed/cli", "device_added/cli"}
	if diff := cmp.Diff(want, actions); diff != "" {
		t.Errorf("audit history mismatch (-want +got):\n%s", diff)
	}
}

func TestDeviceAdd_WrongPassword(t *testing.T) {
	path := writeConfig(t, freePort(t))
	srv := vlctest.NewServer("secret")
	defer srv.Close()
	host, port := hostPort(t, srv.URL)

	_, err := execute(t, "--config", path, "device", "add",
		"--host", host, "--port", strconv.Itoa(port), "--password", "wrong", "--name", "Kitchen")
	if !errors.Is(err, errSetupFailed) || !strings.Contains(err.Error(), "CONNECTION_REFUSED") {
		t.Errorf("device add error = %v, want CONNECTION_REFUSED setup failure", err)
	}
}

func TestPrintRecords_Table(t *testing.T) {
	rec, err := device.NewRecord("10.0.0.5", 8080, "pw", "Lounge")
	if err != nil {
		t.Fatalf("NewRecord() error = %v", err)
	}

	var out bytes.Buffer
	if err := printRecords(&out, []device.Record{*rec}, false); err != nil {
		t.Fatalf("printRecords() error = %v", err)
	}
	for _, want := range []string{"ID", rec.ID, "Lounge", "10.0.0.5:8080", rec.EntityID()} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("table missing %q:\n%s", want, out.String())
		}
	}
	if strings.Contains(out.String(), "pw") {
		t.Error("table leaks the secret")
	}
}
