package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Logger defines the logging interface used by the Registry.
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

// Registry is the in-memory view of the configured players, backed by a
// Repository. Reload replaces the view wholesale from storage; Add and Remove
// write through.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]Record
	cacheMu sync.RWMutex
	logger  Logger
}

// NewRegistry creates a new device registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]Record),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Reload replaces the cached records with the full contents of storage.
// Called at process start and on every hub connect, so changes made by
// another process (or the CLI) are picked up.
func (r *Registry) Reload(ctx context.Context) error {
	records, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading device records: %w", err)
	}

	cache := make(map[string]Record, len(records))
	for _, rec := range records {
		cache[rec.ID] = rec
	}

	r.cacheMu.Lock()
	r.cache = cache
	r.cacheMu.Unlock()

	r.logger.Debug("device records reloaded", "count", len(records))
	return nil
}

// List returns a snapshot of all configured records ordered by name.
func (r *Registry) List() []Record {
	r.cacheMu.RLock()
	records := make([]Record, 0, len(r.cache))
	for _, rec := range r.cache {
		records = append(records, rec)
	}
	r.cacheMu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		if records[i].Name != records[j].Name {
			return records[i].Name < records[j].Name
		}
		return records[i].ID < records[j].ID
	})
	return records
}

// Get returns a record by ID.
func (r *Registry) Get(id string) (Record, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	rec, ok := r.cache[id]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return rec, nil
}

// IsConfigured reports whether at least one player is configured.
func (r *Registry) IsConfigured() bool {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache) > 0
}

// Count returns the number of configured players.
func (r *Registry) Count() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// Add persists a new record and adds it to the cache. The cache is only
// updated after the write succeeds.
func (r *Registry) Add(ctx context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = DeriveID(rec.Host, rec.Port)
	}

	if err := r.repo.Create(ctx, rec); err != nil {
		if errors.Is(err, ErrRecordExists) {
			return err
		}
		return fmt.Errorf("creating device record: %w", err)
	}

	r.cacheMu.Lock()
	r.cache[rec.ID] = *rec
	r.cacheMu.Unlock()

	r.logger.Info("device record added", "device_id", rec.ID, "address", rec.Address(), "name", rec.Name)
	return nil
}

// Remove deletes a record from storage and the cache.
func (r *Registry) Remove(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return err
		}
		return fmt.Errorf("deleting device record: %w", err)
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("device record removed", "device_id", id)
	return nil
}
