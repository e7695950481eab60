package session

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/nerrad567/vlcbridge/internal/device"
	"github.com/nerrad567/vlcbridge/internal/player"
	"github.com/nerrad567/vlcbridge/internal/vlc"
	"github.com/nerrad567/vlcbridge/internal/vlc/vlctest"
)

const testSecret = "pw"

// MockRegistry is an in-memory Registry for tests.
type MockRegistry struct {
	mu        sync.Mutex
	records   map[string]device.Record
	reloads   int
	addCalls  int
	reloadErr error
}

func newMockRegistry(records ...device.Record) *MockRegistry {
	r := &MockRegistry{records: make(map[string]device.Record)}
	for _, rec := range records {
		r.records[rec.ID] = rec
	}
	return r
}

func (r *MockRegistry) Reload(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reloads++
	return r.reloadErr
}

func (r *MockRegistry) List() []device.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]device.Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	return out
}

func (r *MockRegistry) IsConfigured() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records) > 0
}

func (r *MockRegistry) Add(_ context.Context, rec *device.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addCalls++
	if _, ok := r.records[rec.ID]; ok {
		return device.ErrRecordExists
	}
	r.records[rec.ID] = *rec
	return nil
}

func (r *MockRegistry) Remove(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		return device.ErrRecordNotFound
	}
	delete(r.records, id)
	return nil
}

func (r *MockRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// MockGateway records everything the session tells the hub.
type MockGateway struct {
	mu       sync.Mutex
	states   []DeviceState
	entities map[string]*player.Adapter
	adds     int
	pushes   map[string]int
}

func newMockGateway() *MockGateway {
	return &MockGateway{
		entities: make(map[string]*player.Adapter),
		pushes:   make(map[string]int),
	}
}

func (g *MockGateway) UpdateAttributes(_ context.Context, entityID string, _ player.State) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pushes[entityID]++
	return nil
}

func (g *MockGateway) SetDeviceState(_ context.Context, state DeviceState) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.states = append(g.states, state)
	return nil
}

func (g *MockGateway) ClearEntities() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entities = make(map[string]*player.Adapter)
}

func (g *MockGateway) AddEntity(a *player.Adapter) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.adds++
	g.entities[a.EntityID()] = a
}

func (g *MockGateway) EntityCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entities)
}

func (g *MockGateway) lastState() DeviceState {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.states) == 0 {
		return ""
	}
	return g.states[len(g.states)-1]
}

func (g *MockGateway) addCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.adds
}

func (g *MockGateway) pushCount(entityID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pushes[entityID]
}

func testOptions() Options {
	return Options{
		Timing: player.Timing{
			PollInterval: 20 * time.Millisecond,
			ErrorBackoff: time.Hour,
			SettleDelay:  time.Millisecond,
		},
		ConnectivityInterval: time.Hour,
		ConnectivityBackoff:  time.Hour,
		ClientOptions:        []vlc.Option{vlc.WithTimeouts(time.Second, time.Second)},
	}
}

func hostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("url.Parse(%q) error = %v", rawURL, err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("SplitHostPort(%q) error = %v", u.Host, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("Atoi(%q) error = %v", portStr, err)
	}
	return host, port
}

func recordFor(t *testing.T, srv *vlctest.Server, name string) device.Record {
	t.Helper()
	host, port := hostPort(t, srv.URL)
	rec, err := device.NewRecord(host, port, testSecret, name)
	if err != nil {
		t.Fatalf("NewRecord() error = %v", err)
	}
	return *rec
}

// deadRecord points at a port that refuses connections.
func deadRecord(t *testing.T, name string) device.Record {
	t.Helper()
	srv := vlctest.NewServer(testSecret)
	rec := recordFor(t, srv, name)
	srv.Close()
	return rec
}

// countProbes wraps the real probe and counts calls.
func countProbes(m *Manager, delay time.Duration) *atomic.Int32 {
	var n atomic.Int32
	m.probe = func(ctx context.Context, c *vlc.Client) bool {
		n.Add(1)
		time.Sleep(delay)
		return c.Probe(ctx)
	}
	return &n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestInitialize_NoRecords(t *testing.T) {
	gw := newMockGateway()
	m := NewManager(newMockRegistry(), gw, testOptions())
	defer m.Close()

	if m.Initialize(context.Background()) {
		t.Error("Initialize() = true, want false")
	}
	if got := gw.lastState(); got != Disconnected {
		t.Errorf("device state = %q, want %q", got, Disconnected)
	}
	if got := m.Phase(); got != PhaseUninitialized {
		t.Errorf("Phase() = %v, want %v", got, PhaseUninitialized)
	}
}

func TestInitialize_PartialSuccess(t *testing.T) {
	srv := vlctest.NewServer(testSecret)
	defer srv.Close()

	live := recordFor(t, srv, "Living Room")
	dead := deadRecord(t, "Kitchen")

	gw := newMockGateway()
	m := NewManager(newMockRegistry(live, dead), gw, testOptions())
	defer m.Close()

	if !m.Initialize(context.Background()) {
		t.Fatal("Initialize() = false, want true")
	}

	want := []DeviceState{Connecting, Connected}
	if diff := cmp.Diff(want, gw.states); diff != "" {
		t.Errorf("device states mismatch (-want +got):\n%s", diff)
	}
	if got := gw.EntityCount(); got != 1 {
		t.Fatalf("EntityCount() = %d, want 1", got)
	}
	if m.Adapter(live.EntityID()) == nil {
		t.Errorf("Adapter(%q) = nil", live.EntityID())
	}
	if m.Adapter(dead.EntityID()) != nil {
		t.Errorf("Adapter(%q) bound for unreachable player", dead.EntityID())
	}
	if got := m.Phase(); got != PhaseReady {
		t.Errorf("Phase() = %v, want %v", got, PhaseReady)
	}
}

func TestInitialize_AllUnreachable(t *testing.T) {
	gw := newMockGateway()
	m := NewManager(newMockRegistry(deadRecord(t, "Kitchen")), gw, testOptions())
	defer m.Close()

	if m.Initialize(context.Background()) {
		t.Error("Initialize() = true, want false")
	}
	if got := gw.lastState(); got != Error {
		t.Errorf("device state = %q, want %q", got, Error)
	}
	if m.IsReady() {
		t.Error("IsReady() = true")
	}
}

func TestInitialize_IdempotentWhenReady(t *testing.T) {
	srv := vlctest.NewServer(testSecret)
	defer srv.Close()

	gw := newMockGateway()
	m := NewManager(newMockRegistry(recordFor(t, srv, "Den")), gw, testOptions())
	defer m.Close()
	probes := countProbes(m, 0)

	ctx := context.Background()
	m.Initialize(ctx)
	m.Initialize(ctx)

	if got := probes.Load(); got != 1 {
		t.Errorf("probes = %d, want 1", got)
	}
	if got := gw.addCount(); got != 1 {
		t.Errorf("AddEntity calls = %d, want 1", got)
	}
}

func TestConcurrentConnectAndSubscribe_InitialisesOnce(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv := vlctest.NewServer(testSecret)
	defer srv.Close()

	rec := recordFor(t, srv, "Den")
	gw := newMockGateway()
	m := NewManager(newMockRegistry(rec), gw, testOptions())
	defer m.Close()
	probes := countProbes(m, 50*time.Millisecond)

	ctx := context.Background()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.HandleConnect(ctx)
	}()
	go func() {
		defer wg.Done()
		m.HandleSubscribe(ctx, []string{rec.EntityID()})
	}()
	wg.Wait()

	if got := probes.Load(); got != 1 {
		t.Errorf("probes = %d, want 1", got)
	}
	if got := gw.addCount(); got != 1 {
		t.Errorf("AddEntity calls = %d, want 1", got)
	}
	if got := gw.pushCount(rec.EntityID()); got < 1 {
		t.Errorf("pushes for %s = %d, want at least 1", rec.EntityID(), got)
	}
	m.HandleUnsubscribe([]string{rec.EntityID()})
}

func TestHandleSetup_MissingFields(t *testing.T) {
	tests := []struct {
		name string
		req  SetupRequest
	}{
		{"no host", SetupRequest{Port: 8080, Secret: "pw", Name: "Den"}},
		{"no secret", SetupRequest{Host: "10.0.0.2", Port: 8080, Secret: "  ", Name: "Den"}},
		{"no name", SetupRequest{Host: "10.0.0.2", Port: 8080, Secret: "pw"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := newMockRegistry()
			m := NewManager(reg, newMockGateway(), testOptions())
			defer m.Close()
			probes := countProbes(m, 0)

			got := m.HandleSetup(context.Background(), tt.req)
			if got.Error != SetupErrorOther {
				t.Errorf("HandleSetup() error = %v, want %v", got.Error, SetupErrorOther)
			}
			if probes.Load() != 0 {
				t.Error("probe issued for invalid setup")
			}
			if reg.addCalls != 0 {
				t.Error("record written for invalid setup")
			}
		})
	}
}

func TestHandleSetup_Unreachable(t *testing.T) {
	dead := deadRecord(t, "Kitchen")
	reg := newMockRegistry()
	m := NewManager(reg, newMockGateway(), testOptions())
	defer m.Close()

	got := m.HandleSetup(context.Background(), SetupRequest{
		Host: dead.Host, Port: dead.Port, Secret: testSecret, Name: "Kitchen",
	})
	if got.Error != SetupErrorConnectionRefused {
		t.Errorf("HandleSetup() error = %v, want %v", got.Error, SetupErrorConnectionRefused)
	}
	if reg.count() != 0 {
		t.Errorf("registry size = %d, want 0", reg.count())
	}
}

func TestHandleSetup_Success(t *testing.T) {
	srv := vlctest.NewServer(testSecret)
	defer srv.Close()
	host, port := hostPort(t, srv.URL)

	reg := newMockRegistry()
	gw := newMockGateway()
	m := NewManager(reg, gw, testOptions())
	defer m.Close()

	got := m.HandleSetup(context.Background(), SetupRequest{
		Host: " " + host + " ", Port: port, Secret: testSecret, Name: "Den",
	})
	if !got.OK() {
		t.Fatalf("HandleSetup() error = %v", got.Error)
	}
	if want := device.DeriveID(host, port); got.DeviceID != want {
		t.Errorf("DeviceID = %q, want %q", got.DeviceID, want)
	}
	if reg.count() != 1 {
		t.Errorf("registry size = %d, want 1", reg.count())
	}
	if gw.EntityCount() != 1 {
		t.Errorf("EntityCount() = %d, want 1", gw.EntityCount())
	}
	if gw.lastState() != Connected {
		t.Errorf("device state = %q, want %q", gw.lastState(), Connected)
	}

	dup := m.HandleSetup(context.Background(), SetupRequest{
		Host: host, Port: port, Secret: testSecret, Name: "Den again",
	})
	if dup.Error != SetupErrorOther {
		t.Errorf("duplicate HandleSetup() error = %v, want %v", dup.Error, SetupErrorOther)
	}
	if reg.count() != 1 {
		t.Errorf("registry size after duplicate = %d, want 1", reg.count())
	}
}

// MockAuditor records audit events as "action device_id".
type MockAuditor struct {
	mu     sync.Mutex
	events []string
}

func (a *MockAuditor) Record(_ context.Context, action, deviceID string, _ map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, action+" "+deviceID)
}

func TestHandleSetup_Audit(t *testing.T) {
	srv := vlctest.NewServer(testSecret)
	defer srv.Close()
	host, port := hostPort(t, srv.URL)
	id := device.DeriveID(host, port)

	auditor := &MockAuditor{}
	opts := testOptions()
	opts.Audit = auditor
	m := NewManager(newMockRegistry(), newMockGateway(), opts)
	defer m.Close()
	ctx := context.Background()

	m.HandleSetup(ctx, SetupRequest{Host: host, Port: port, Secret: "wrong", Name: "Den"})
	m.HandleSetup(ctx, SetupRequest{Host: host, Port: port, Secret: testSecret, Name: "Den"})
	m.HandleSetup(ctx, SetupRequest{Host: host, Port: port, Secret: testSecret, Name: "Den"})
	if err := m.RemoveDevice(ctx, id); err != nil {
		t.Fatalf("RemoveDevice() error = %v", err)
	}

	want := []string{
		"setup_failed " + id,
		"device_added " + id,
		"setup_failed " + id,
		"device_removed " + id,
	}
	if diff := cmp.Diff(want, auditor.events); diff != "" {
		t.Errorf("audit events mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleSubscribe_StartsAndStopsMonitoring(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv := vlctest.NewServer(testSecret)
	defer srv.Close()

	rec := recordFor(t, srv, "Den")
	gw := newMockGateway()
	m := NewManager(newMockRegistry(rec), gw, testOptions())
	defer m.Close()

	ctx := context.Background()
	m.Initialize(ctx)
	m.HandleSubscribe(ctx, []string{rec.EntityID(), "vlc_unknown_media_player"})

	a := m.Adapter(rec.EntityID())
	if !a.IsMonitoring() {
		t.Fatal("IsMonitoring() = false after subscribe")
	}
	waitFor(t, "periodic pushes", func() bool { return gw.pushCount(rec.EntityID()) >= 3 })

	m.HandleUnsubscribe([]string{rec.EntityID()})
	if a.IsMonitoring() {
		t.Error("IsMonitoring() = true after unsubscribe")
	}
	if !a.Client().IsConnected() {
		t.Error("client disconnected by unsubscribe")
	}

	stopped := gw.pushCount(rec.EntityID())
	time.Sleep(60 * time.Millisecond)
	if got := gw.pushCount(rec.EntityID()); got != stopped {
		t.Errorf("pushes after unsubscribe = %d, want %d", got, stopped)
	}
}

func TestRebuild_KeepsSubscribedEntitiesMonitored(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	first := vlctest.NewServer(testSecret)
	defer first.Close()
	second := vlctest.NewServer(testSecret)
	defer second.Close()

	rec := recordFor(t, first, "Den")
	gw := newMockGateway()
	m := NewManager(newMockRegistry(rec), gw, testOptions())
	defer m.Close()

	ctx := context.Background()
	m.Initialize(ctx)
	m.HandleSubscribe(ctx, []string{rec.EntityID()})

	host, port := hostPort(t, second.URL)
	got := m.HandleSetup(ctx, SetupRequest{Host: host, Port: port, Secret: testSecret, Name: "Kitchen"})
	if !got.OK() {
		t.Fatalf("HandleSetup() error = %v", got.Error)
	}

	a := m.Adapter(rec.EntityID())
	if a == nil {
		t.Fatal("Adapter() = nil after setup")
	}
	if !a.IsMonitoring() {
		t.Error("subscribed entity IsMonitoring() = false after setup of another player")
	}
	if b := m.Adapter(device.EntityIDFor(got.DeviceID)); b == nil || b.IsMonitoring() {
		t.Errorf("new entity adapter = %v, want present and not monitored", b)
	}

	before := gw.pushCount(rec.EntityID())
	waitFor(t, "pushes after rebuild", func() bool { return gw.pushCount(rec.EntityID()) >= before+3 })

	if err := m.RemoveDevice(ctx, got.DeviceID); err != nil {
		t.Fatalf("RemoveDevice() error = %v", err)
	}
	if a := m.Adapter(rec.EntityID()); a == nil || !a.IsMonitoring() {
		t.Error("subscribed entity not monitored after removing another player")
	}
}

func TestHandleSubscribe_Unconfigured(t *testing.T) {
	gw := newMockGateway()
	m := NewManager(newMockRegistry(), gw, testOptions())
	defer m.Close()
	probes := countProbes(m, 0)

	m.HandleSubscribe(context.Background(), []string{"vlc_abcd1234_media_player"})

	if probes.Load() != 0 {
		t.Error("probe issued without configuration")
	}
	if len(gw.states) != 0 {
		t.Errorf("device states = %v, want none", gw.states)
	}
}

func TestHandleConnect(t *testing.T) {
	t.Run("unconfigured reports disconnected", func(t *testing.T) {
		reg := newMockRegistry()
		gw := newMockGateway()
		m := NewManager(reg, gw, testOptions())
		defer m.Close()

		m.HandleConnect(context.Background())

		if reg.reloads != 1 {
			t.Errorf("reloads = %d, want 1", reg.reloads)
		}
		if gw.lastState() != Disconnected {
			t.Errorf("device state = %q, want %q", gw.lastState(), Disconnected)
		}
	})

	t.Run("ready reports connected without probing", func(t *testing.T) {
		srv := vlctest.NewServer(testSecret)
		defer srv.Close()

		gw := newMockGateway()
		m := NewManager(newMockRegistry(recordFor(t, srv, "Den")), gw, testOptions())
		defer m.Close()
		probes := countProbes(m, 0)

		ctx := context.Background()
		m.Initialize(ctx)
		m.HandleConnect(ctx)

		if got := probes.Load(); got != 1 {
			t.Errorf("probes = %d, want 1", got)
		}
		if gw.lastState() != Connected {
			t.Errorf("device state = %q, want %q", gw.lastState(), Connected)
		}
	})

	t.Run("ready with empty entity set rebuilds", func(t *testing.T) {
		srv := vlctest.NewServer(testSecret)
		defer srv.Close()

		gw := newMockGateway()
		m := NewManager(newMockRegistry(recordFor(t, srv, "Den")), gw, testOptions())
		defer m.Close()
		probes := countProbes(m, 0)

		ctx := context.Background()
		m.Initialize(ctx)
		gw.ClearEntities()
		m.HandleConnect(ctx)

		if got := probes.Load(); got != 2 {
			t.Errorf("probes = %d, want 2", got)
		}
		if gw.EntityCount() != 1 {
			t.Errorf("EntityCount() = %d, want 1", gw.EntityCount())
		}
	})
}

func TestRemoveDevice(t *testing.T) {
	srv := vlctest.NewServer(testSecret)
	defer srv.Close()

	rec := recordFor(t, srv, "Den")
	reg := newMockRegistry(rec)
	gw := newMockGateway()
	m := NewManager(reg, gw, testOptions())
	defer m.Close()

	ctx := context.Background()
	m.Initialize(ctx)

	if err := m.RemoveDevice(ctx, "missing"); !errors.Is(err, device.ErrRecordNotFound) {
		t.Errorf("RemoveDevice(missing) error = %v, want ErrRecordNotFound", err)
	}
	if err := m.RemoveDevice(ctx, rec.ID); err != nil {
		t.Fatalf("RemoveDevice() error = %v", err)
	}
	if gw.EntityCount() != 0 {
		t.Errorf("EntityCount() = %d, want 0", gw.EntityCount())
	}
	if gw.lastState() != Disconnected {
		t.Errorf("device state = %q, want %q", gw.lastState(), Disconnected)
	}
}

func TestDispatch(t *testing.T) {
	srv := vlctest.NewServer(testSecret)
	defer srv.Close()

	rec := recordFor(t, srv, "Den")
	m := NewManager(newMockRegistry(rec), newMockGateway(), testOptions())
	defer m.Close()

	ctx := context.Background()
	m.Initialize(ctx)

	if _, err := m.Dispatch(ctx, "vlc_nope_media_player", player.CmdStop, nil); !errors.Is(err, ErrUnknownEntity) {
		t.Errorf("Dispatch(unknown) error = %v, want ErrUnknownEntity", err)
	}

	res, err := m.Dispatch(ctx, rec.EntityID(), player.CmdPlay, nil)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if res != player.ResultOK {
		t.Errorf("Dispatch() = %v, want %v", res, player.ResultOK)
	}
	if got := srv.State(); got != "playing" {
		t.Errorf("player state = %q, want playing", got)
	}
}

func TestCheckConnectivity(t *testing.T) {
	srv := vlctest.NewServer(testSecret)
	defer srv.Close()

	gw := newMockGateway()
	m := NewManager(newMockRegistry(recordFor(t, srv, "Den")), gw, testOptions())
	defer m.Close()

	ctx := context.Background()
	m.Initialize(ctx)

	srv.SetFailing(true)
	if err := m.checkConnectivity(ctx); err != nil {
		t.Fatalf("checkConnectivity() error = %v", err)
	}
	if gw.lastState() != Connecting {
		t.Errorf("device state = %q, want %q", gw.lastState(), Connecting)
	}
	if m.Phase() != PhaseDegraded {
		t.Errorf("Phase() = %v, want %v", m.Phase(), PhaseDegraded)
	}

	// The first pass after recovery only reconnects; the next one sees every
	// player answer.
	srv.SetFailing(false)
	if err := m.checkConnectivity(ctx); err != nil {
		t.Fatalf("checkConnectivity() error = %v", err)
	}
	if gw.lastState() != Connecting {
		t.Errorf("device state after reconnect = %q, want %q", gw.lastState(), Connecting)
	}
	if err := m.checkConnectivity(ctx); err != nil {
		t.Fatalf("checkConnectivity() error = %v", err)
	}
	if gw.lastState() != Connected {
		t.Errorf("device state = %q, want %q", gw.lastState(), Connected)
	}
	if m.Phase() != PhaseReady {
		t.Errorf("Phase() = %v, want %v", m.Phase(), PhaseReady)
	}
}

func TestConnectivityMonitor_StopsOnClose(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv := vlctest.NewServer(testSecret)
	defer srv.Close()

	opts := testOptions()
	opts.ConnectivityInterval = 10 * time.Millisecond
	m := NewManager(newMockRegistry(recordFor(t, srv, "Den")), newMockGateway(), opts)

	m.HandleConnect(context.Background())
	waitFor(t, "connectivity checks", func() bool { return srv.StatusCalls() >= 3 })
	m.Close()
}
