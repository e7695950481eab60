package audit

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE audit_logs (
			id         TEXT PRIMARY KEY,
			action     TEXT NOT NULL,
			device_id  TEXT,
			source     TEXT NOT NULL,
			details    TEXT,
			created_at TEXT NOT NULL
		) STRICT;
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteRepository_CreateAndList(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(setupTestDB(t))
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	entries := []*Entry{
		{Action: ActionSetupFailed, DeviceID: "1a2b3c4d", Source: SourceHub, Details: map[string]any{"error": "CONNECTION_REFUSED"}, CreatedAt: base},
		{Action: ActionDeviceAdded, DeviceID: "1a2b3c4d", Source: SourceHub, Details: map[string]any{"name": "Kitchen"}, CreatedAt: base.Add(time.Second)},
		{Action: ActionDeviceAdded, DeviceID: "99ff00aa", Source: SourceCLI, CreatedAt: base.Add(1500 * time.Millisecond)},
		{Action: ActionDeviceRemoved, DeviceID: "1a2b3c4d", Source: SourceCLI, CreatedAt: base.Add(2 * time.Second)},
	}
	for _, e := range entries {
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if e.ID == "" {
			t.Error("Create() did not assign an ID")
		}
	}

	all, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if all.Total != 4 || all.Limit != defaultLimit {
		t.Errorf("List() total = %d limit = %d, want 4 and %d", all.Total, all.Limit, defaultLimit)
	}
	var actions []string
	for _, e := range all.Entries {
		actions = append(actions, e.Action)
	}
	want := []string{ActionDeviceRemoved, ActionDeviceAdded, ActionDeviceAdded, ActionSetupFailed}
	if diff := cmp.Diff(want, actions); diff != "" {
		t.Errorf("List() order mismatch (-want +got):\n%s", diff)
	}
	if got := all.Entries[3].Details["error"]; got != "CONNECTION_REFUSED" {
		t.Errorf("details error = %v, want CONNECTION_REFUSED", got)
	}
	if !all.Entries[1].CreatedAt.Equal(base.Add(1500 * time.Millisecond)) {
		t.Errorf("CreatedAt = %v, want sub-second precision kept", all.Entries[1].CreatedAt)
	}

	byDevice, err := repo.List(ctx, Filter{DeviceID: "1a2b3c4d", Action: ActionDeviceAdded})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if byDevice.Total != 1 || byDevice.Entries[0].Details["name"] != "Kitchen" {
		t.Errorf("filtered List() = %+v", byDevice)
	}
}

func TestSQLiteRepository_ListPaging(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(setupTestDB(t))

	for i := 0; i < 5; i++ {
		if err := repo.Create(ctx, &Entry{Action: ActionDeviceAdded, Source: SourceCLI}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	page, err := repo.List(ctx, Filter{Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if page.Total != 5 || len(page.Entries) != 1 {
		t.Errorf("List() total = %d entries = %d, want 5 and 1", page.Total, len(page.Entries))
	}

	clamped, err := repo.List(ctx, Filter{Limit: 1000, Offset: -3})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if clamped.Limit != maxLimit || clamped.Offset != 0 {
		t.Errorf("List() limit = %d offset = %d, want %d and 0", clamped.Limit, clamped.Offset, maxLimit)
	}
}

func TestSQLiteRepository_ListEmpty(t *testing.T) {
	res, err := NewSQLiteRepository(setupTestDB(t)).List(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Entries == nil || len(res.Entries) != 0 {
		t.Errorf("Entries = %#v, want empty non-nil slice", res.Entries)
	}
}

// failingRepo fails every Create.
type failingRepo struct{}

func (f *failingRepo) Create(context.Context, *Entry) error { return errors.New("disk full") }
func (f *failingRepo) List(context.Context, Filter) (*ListResult, error) {
	return &ListResult{}, nil
}

type recordingLogger struct{ warns int }

func (l *recordingLogger) Warn(string, ...any) { l.warns++ }

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(setupTestDB(t))
	rec := NewRecorder(repo, SourceHub, nil)

	rec.Record(ctx, ActionDeviceAdded, "1a2b3c4d", map[string]any{"name": "Kitchen"})

	res, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 1 || res.Entries[0].Source != SourceHub || res.Entries[0].DeviceID != "1a2b3c4d" {
		t.Errorf("entries = %+v", res.Entries)
	}

	logger := &recordingLogger{}
	NewRecorder(&failingRepo{}, SourceCLI, logger).Record(ctx, ActionDeviceRemoved, "x", nil)
	if logger.warns != 1 {
		t.Errorf("warns = %d, want 1", logger.warns)
	}
}
