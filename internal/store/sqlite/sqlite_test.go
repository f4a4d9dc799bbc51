package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfooddiary/openfooddiary/server/internal/model"
	"github.com/openfooddiary/openfooddiary/server/internal/store"
	"github.com/openfooddiary/openfooddiary/server/internal/store/sqlstore"
	"github.com/openfooddiary/openfooddiary/server/internal/store/storetest"
)

// setupTempSQLite creates a temporary on-disk SQLite store with schema applied.
func setupTempSQLite(t *testing.T) *sqlstore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "openfooddiary.sqlite")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	s := NewWithDB(db, storetest.Options(t))
	if err := s.Setup(context.Background()); err != nil {
		t.Fatalf("setup: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestSQLiteStore_Compliance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return setupTempSQLite(t) })
}

func TestSQLiteStore_InMemoryCompliance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		db, err := Open(MemoryPath)
		require.NoError(t, err)
		s := NewWithDB(db, storetest.Options(t))
		t.Cleanup(func() { _ = s.Close(context.Background()) })
		return s
	})
}

func TestSQLiteStore_TimeColumnsAreEpochSeconds(t *testing.T) {
	s := setupTempSQLite(t)
	ctx := context.Background()
	name := "tea"
	start := time.Date(1999, 11, 15, 0, 0, 0, 500_000_000, time.UTC)
	id, err := s.FoodLogs().Store(ctx, "u1", model.CreateFoodLogEntry{
		Name: &name, Labels: []string{}, Metrics: map[string]float64{},
		Time: &model.TimeRange{Start: start, End: start.Add(time.Second)},
	})
	require.NoError(t, err)

	var ts, te float64
	err = s.DB().QueryRowContext(ctx, `SELECT time_start, time_end FROM user_foodlogentry WHERE id=?`, id).Scan(&ts, &te)
	require.NoError(t, err)
	assert.InDelta(t, float64(start.Unix())+0.5, ts, 1e-6)
	assert.InDelta(t, ts+1, te, 1e-6)
}

func TestSQLiteStore_ConfigUpsertKeepsSingleRow(t *testing.T) {
	s := setupTempSQLite(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := s.Configurations().Store(ctx, "u1", model.Configuration{
			ID:        model.ConfigSummaries,
			Summaries: &model.SummarySetting{ShowMetricSummary: []string{"calories"}},
		})
		require.NoError(t, err)
	}
	var n int
	require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM user_config WHERE user_id='u1'`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestSQLiteStore_ClosedDBIsSystemError(t *testing.T) {
	s := setupTempSQLite(t)
	require.NoError(t, s.Close(context.Background()))

	_, err := s.FoodLogs().Retrieve(context.Background(), "u1", "x")
	require.Error(t, err)
	assert.True(t, model.IsSystemError(err))
}
