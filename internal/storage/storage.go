// Package storage is the single entry point the application uses for persistence.
// It forwards to the configured store.Store, logs failures and counts successes.
package storage

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfooddiary/openfooddiary/server/internal/metrics"
	"github.com/openfooddiary/openfooddiary/server/internal/model"
	"github.com/openfooddiary/openfooddiary/server/internal/store"
)

// Storage wraps one backend for the lifetime of the process.
type Storage struct {
	store    store.Store
	log      zerolog.Logger
	counters metrics.Counters
}

// New wraps st. A nil counters discards events.
func New(st store.Store, log zerolog.Logger, counters metrics.Counters) *Storage {
	if counters == nil {
		counters = metrics.Nop{}
	}
	return &Storage{
		store:    st,
		log:      log.With().Str("backend", st.Name()).Logger(),
		counters: counters,
	}
}

// Backend names the selected adapter.
func (s *Storage) Backend() string { return s.store.Name() }

// Store exposes the underlying adapter, e.g. for health checking.
func (s *Storage) Store() store.Store { return s.store }

// done logs err by kind and passes it through.
func (s *Storage) done(op, userID string, err error) error {
	if err == nil {
		return nil
	}
	switch model.KindOf(err) {
	case model.KindSystem:
		s.log.Error().Stack().Err(err).Str("op", op).Str("user_id", userID).Msg("storage operation failed")
	default:
		s.log.Debug().Err(err).Str("op", op).Str("user_id", userID).Str("kind", string(model.KindOf(err))).Msg("storage operation rejected")
	}
	return err
}

// SetupDatabase creates whatever schema the backend needs.
func (s *Storage) SetupDatabase(ctx context.Context) error {
	if err := s.store.Setup(ctx); err != nil {
		return s.done("setup", "", model.NewSystemError(err))
	}
	s.log.Info().Msg("database ready")
	return nil
}

// ShutdownDatabase releases backend connections.
func (s *Storage) ShutdownDatabase(ctx context.Context) error {
	if err := s.store.Close(ctx); err != nil {
		return s.done("shutdown", "", model.NewSystemError(err))
	}
	s.log.Debug().Msg("database closed")
	return nil
}

func (s *Storage) StoreFoodLog(ctx context.Context, userID string, in model.CreateFoodLogEntry) (string, error) {
	id, err := s.store.FoodLogs().Store(ctx, userID, in)
	if err != nil {
		return "", s.done("storeFoodLog", userID, err)
	}
	s.counters.FoodLogEvent(metrics.EventCreated)
	return id, nil
}

func (s *Storage) RetrieveFoodLog(ctx context.Context, userID, id string) (*model.FoodLogEntry, error) {
	e, err := s.store.FoodLogs().Retrieve(ctx, userID, id)
	if err != nil {
		return nil, s.done("retrieveFoodLog", userID, err)
	}
	return e, nil
}

func (s *Storage) EditFoodLog(ctx context.Context, userID string, in model.EditFoodLogEntry) (*model.FoodLogEntry, error) {
	e, err := s.store.FoodLogs().Edit(ctx, userID, in)
	if err != nil {
		return nil, s.done("editFoodLog", userID, err)
	}
	s.counters.FoodLogEvent(metrics.EventEdited)
	return e, nil
}

func (s *Storage) DeleteFoodLog(ctx context.Context, userID, id string) (bool, error) {
	ok, err := s.store.FoodLogs().Delete(ctx, userID, id)
	if err != nil {
		return false, s.done("deleteFoodLog", userID, err)
	}
	s.counters.FoodLogEvent(metrics.EventDeleted)
	return ok, nil
}

func (s *Storage) QueryFoodLogs(ctx context.Context, userID string, start, end time.Time) ([]*model.FoodLogEntry, error) {
	out, err := s.store.FoodLogs().Query(ctx, userID, start, end)
	if err != nil {
		return nil, s.done("queryFoodLogs", userID, err)
	}
	return out, nil
}

func (s *Storage) PurgeFoodLogs(ctx context.Context, userID string) (bool, error) {
	ok, err := s.store.FoodLogs().Purge(ctx, userID)
	if err != nil {
		return false, s.done("purgeFoodLogs", userID, err)
	}
	s.counters.FoodLogsPurged()
	return ok, nil
}

// BulkExportFoodLogs writes the user's entries to a CSV file and returns its path.
func (s *Storage) BulkExportFoodLogs(ctx context.Context, userID string) (string, error) {
	path, err := s.store.FoodLogs().BulkExport(ctx, userID)
	if err != nil {
		return "", s.done("bulkExportFoodLogs", userID, err)
	}
	s.counters.FoodLogsDownloaded()
	s.log.Debug().Str("user_id", userID).Str("path", path).Msg("food logs exported")
	return path, nil
}

func (s *Storage) StoreConfiguration(ctx context.Context, userID string, cfg model.Configuration) (model.ConfigurationID, error) {
	id, err := s.store.Configurations().Store(ctx, userID, cfg)
	if err != nil {
		return "", s.done("storeConfiguration", userID, err)
	}
	s.counters.ConfigurationEvent(metrics.EventStored)
	return id, nil
}

func (s *Storage) RetrieveUserConfiguration(ctx context.Context, userID string, id model.ConfigurationID) (*model.Configuration, error) {
	cfg, err := s.store.Configurations().Retrieve(ctx, userID, id)
	if err != nil {
		return nil, s.done("retrieveUserConfiguration", userID, err)
	}
	return cfg, nil
}

func (s *Storage) QueryUserConfiguration(ctx context.Context, userID string) ([]*model.Configuration, error) {
	out, err := s.store.Configurations().Query(ctx, userID)
	if err != nil {
		return nil, s.done("queryUserConfiguration", userID, err)
	}
	return out, nil
}

func (s *Storage) DeleteUserConfiguration(ctx context.Context, userID string, id model.ConfigurationID) (bool, error) {
	ok, err := s.store.Configurations().Delete(ctx, userID, id)
	if err != nil {
		return false, s.done("deleteUserConfiguration", userID, err)
	}
	s.counters.ConfigurationEvent(metrics.EventDeleted)
	return ok, nil
}
