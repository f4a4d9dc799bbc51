// Package memory is an in-process store.Store used by tests and single-run tooling.
// All data is lost when the process exits.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openfooddiary/openfooddiary/server/internal/export"
	"github.com/openfooddiary/openfooddiary/server/internal/model"
	"github.com/openfooddiary/openfooddiary/server/internal/store"
)

// Store keeps entries and configurations in maps keyed by user then id.
// Uses sync.RWMutex for thread-safe concurrent access.
type Store struct {
	mu      sync.RWMutex
	entries map[string]map[string]*model.FoodLogEntry
	configs map[string]map[model.ConfigurationID][]byte
	opts    store.Options
}

// New returns an empty store.
func New(opts store.Options) *Store {
	return &Store{
		entries: make(map[string]map[string]*model.FoodLogEntry),
		configs: make(map[string]map[model.ConfigurationID][]byte),
		opts:    opts.WithDefaults(),
	}
}

func (s *Store) Name() string                         { return "memory" }
func (s *Store) FoodLogs() store.FoodLogs             { return (*foodLogs)(s) }
func (s *Store) Configurations() store.Configurations { return (*configurations)(s) }
func (s *Store) Setup(context.Context) error          { return nil }
func (s *Store) Close(context.Context) error          { return nil }
func (s *Store) HealthPing(context.Context) error     { return nil }

type foodLogs Store

func (f *foodLogs) Store(_ context.Context, userID string, in model.CreateFoodLogEntry) (string, error) {
	if err := store.CheckCreate(userID, in, f.opts); err != nil {
		return "", err
	}
	e := model.NewFoodLogEntry(uuid.NewString(), in)

	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.entries[userID]
	if !ok {
		m = make(map[string]*model.FoodLogEntry)
		f.entries[userID] = m
	}
	m[e.ID] = e
	return e.ID, nil
}

func (f *foodLogs) Retrieve(_ context.Context, userID, id string) (*model.FoodLogEntry, error) {
	if err := store.CheckUser(userID); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.entries[userID][id]
	if !ok {
		return nil, model.NewNotFoundError(model.MsgLogNotFound)
	}
	return e.Clone(), nil
}

func (f *foodLogs) Edit(_ context.Context, userID string, in model.EditFoodLogEntry) (*model.FoodLogEntry, error) {
	if err := store.CheckEdit(userID, in, f.opts); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[userID][in.ID]
	if !ok {
		return nil, model.NewNotFoundError(model.MsgLogNotFound)
	}
	merged := model.ApplyEdit(e, in)
	f.entries[userID][in.ID] = merged
	return merged.Clone(), nil
}

func (f *foodLogs) Delete(_ context.Context, userID, id string) (bool, error) {
	if err := store.CheckUser(userID); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries[userID], id)
	return true, nil
}

func (f *foodLogs) Query(_ context.Context, userID string, start, end time.Time) ([]*model.FoodLogEntry, error) {
	if err := store.CheckRange(userID, start, end); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := []*model.FoodLogEntry{}
	for _, e := range f.entries[userID] {
		if e.Overlaps(start, end) {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Start.Before(out[j].Time.Start) })
	return out, nil
}

func (f *foodLogs) Purge(_ context.Context, userID string) (bool, error) {
	if err := store.CheckUser(userID); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, userID)
	return true, nil
}

func (f *foodLogs) BulkExport(ctx context.Context, userID string) (string, error) {
	if err := store.CheckUser(userID); err != nil {
		return "", err
	}
	w := export.Writer{Dir: f.opts.ExportDir, PageSize: f.opts.ExportPageSize}
	return w.Run(ctx, f.page(userID))
}

// page returns a keyset pager over ids in ascending order.
func (f *foodLogs) page(userID string) export.Pager {
	return func(_ context.Context, cursor string, limit int) ([]*model.FoodLogEntry, string, error) {
		f.mu.RLock()
		defer f.mu.RUnlock()
		ids := make([]string, 0, len(f.entries[userID]))
		for id := range f.entries[userID] {
			if id > cursor {
				ids = append(ids, id)
			}
		}
		sort.Strings(ids)
		next := ""
		if len(ids) > limit {
			ids = ids[:limit]
			next = ids[limit-1]
		}
		out := make([]*model.FoodLogEntry, len(ids))
		for i, id := range ids {
			out[i] = f.entries[userID][id].Clone()
		}
		return out, next, nil
	}
}

type configurations Store

func (c *configurations) Store(_ context.Context, userID string, cfg model.Configuration) (model.ConfigurationID, error) {
	if err := store.CheckConfiguration(userID, cfg); err != nil {
		return "", err
	}
	raw, err := cfg.EncodeValue()
	if err != nil {
		return "", model.NewSystemError(err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.configs[userID]
	if !ok {
		m = make(map[model.ConfigurationID][]byte)
		c.configs[userID] = m
	}
	m[cfg.ID] = raw
	return cfg.ID, nil
}

func (c *configurations) Retrieve(_ context.Context, userID string, id model.ConfigurationID) (*model.Configuration, error) {
	if err := store.CheckUser(userID); err != nil {
		return nil, err
	}
	c.mu.RLock()
	raw, ok := c.configs[userID][id]
	c.mu.RUnlock()
	if !ok {
		return nil, model.NewNotFoundError(model.MsgConfigNotFound)
	}
	out, err := model.DecodeConfiguration(id, raw)
	if err != nil {
		return nil, model.NewSystemError(err)
	}
	return out, nil
}

func (c *configurations) Query(_ context.Context, userID string) ([]*model.Configuration, error) {
	if err := store.CheckUser(userID); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := []*model.Configuration{}
	for id, raw := range c.configs[userID] {
		cfg, err := model.DecodeConfiguration(id, raw)
		if err != nil {
			return nil, model.NewSystemError(err)
		}
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *configurations) Delete(_ context.Context, userID string, id model.ConfigurationID) (bool, error) {
	if err := store.CheckUser(userID); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.configs[userID], id)
	return true, nil
}
