package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfooddiary/openfooddiary/server/internal/metrics"
	"github.com/openfooddiary/openfooddiary/server/internal/model"
	"github.com/openfooddiary/openfooddiary/server/internal/store"
	"github.com/openfooddiary/openfooddiary/server/internal/store/memory"
)

type fakeCounters struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeCounters) add(e string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func (f *fakeCounters) FoodLogEvent(event string)       { f.add("foodlog:" + event) }
func (f *fakeCounters) FoodLogsPurged()                 { f.add("purged") }
func (f *fakeCounters) FoodLogsDownloaded()             { f.add("downloaded") }
func (f *fakeCounters) ConfigurationEvent(event string) { f.add("config:" + event) }

func newTestStorage(t *testing.T) (*Storage, *fakeCounters) {
	t.Helper()
	c := &fakeCounters{}
	s := New(memory.New(store.Options{ExportDir: t.TempDir()}), zerolog.Nop(), c)
	require.NoError(t, s.SetupDatabase(context.Background()))
	t.Cleanup(func() { _ = s.ShutdownDatabase(context.Background()) })
	return s, c
}

func strPtr(s string) *string { return &s }

func sampleEntry() model.CreateFoodLogEntry {
	start := time.Date(1999, 11, 15, 8, 0, 0, 0, time.UTC)
	return model.CreateFoodLogEntry{
		Name:    strPtr("porridge"),
		Labels:  []string{"breakfast"},
		Time:    &model.TimeRange{Start: start, End: start.Add(20 * time.Minute)},
		Metrics: map[string]float64{"calories": 300},
	}
}

func TestStorage_CountsSuccessfulOperations(t *testing.T) {
	ctx := context.Background()
	s, c := newTestStorage(t)
	assert.Equal(t, "memory", s.Backend())

	id, err := s.StoreFoodLog(ctx, "u1", sampleEntry())
	require.NoError(t, err)

	_, err = s.RetrieveFoodLog(ctx, "u1", id)
	require.NoError(t, err)

	edited, err := s.EditFoodLog(ctx, "u1", model.EditFoodLogEntry{ID: id, Name: strPtr("oats")})
	require.NoError(t, err)
	assert.Equal(t, "oats", edited.Name)

	got, err := s.QueryFoodLogs(ctx, "u1", time.Date(1999, 11, 15, 0, 0, 0, 0, time.UTC), time.Date(1999, 11, 16, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, got, 1)

	path, err := s.BulkExportFoodLogs(ctx, "u1")
	require.NoError(t, err)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "id,name,labels,timeStart,timeEnd,metrics"))

	ok, err := s.DeleteFoodLog(ctx, "u1", id)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.PurgeFoodLogs(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	cfg := model.Configuration{ID: model.ConfigSummaries, Summaries: &model.SummarySetting{ShowMetricSummary: []string{"calories"}}}
	cid, err := s.StoreConfiguration(ctx, "u1", cfg)
	require.NoError(t, err)
	assert.Equal(t, model.ConfigSummaries, cid)

	back, err := s.RetrieveUserConfiguration(ctx, "u1", model.ConfigSummaries)
	require.NoError(t, err)
	assert.Equal(t, []string{"calories"}, back.Summaries.ShowMetricSummary)

	all, err := s.QueryUserConfiguration(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = s.DeleteUserConfiguration(ctx, "u1", model.ConfigSummaries)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"foodlog:created",
		"foodlog:edited",
		"downloaded",
		"foodlog:deleted",
		"purged",
		"config:stored",
		"config:deleted",
	}, c.events)
}

func TestStorage_NoCountsOnFailure(t *testing.T) {
	ctx := context.Background()
	s, c := newTestStorage(t)

	_, err := s.StoreFoodLog(ctx, "", sampleEntry())
	assert.True(t, model.IsValidationError(err))

	_, err = s.EditFoodLog(ctx, "u1", model.EditFoodLogEntry{ID: "missing", Name: strPtr("x")})
	assert.True(t, model.IsNotFoundError(err))

	_, err = s.PurgeFoodLogs(ctx, "")
	assert.True(t, model.IsValidationError(err))

	_, err = s.BulkExportFoodLogs(ctx, "")
	assert.True(t, model.IsValidationError(err))

	_, err = s.StoreConfiguration(ctx, "u1", model.Configuration{ID: model.ConfigMetrics})
	assert.True(t, model.IsValidationError(err))

	assert.Empty(t, c.events)
}

func TestStorage_NilCountersDefaultsToNop(t *testing.T) {
	s := New(memory.New(store.Options{}), zerolog.Nop(), nil)
	_, err := s.StoreFoodLog(context.Background(), "u1", sampleEntry())
	require.NoError(t, err)
	assert.IsType(t, metrics.Nop{}, s.counters)
}

// brokenStore fails every lifecycle call with a plain error.
type brokenStore struct{ *memory.Store }

func (brokenStore) Setup(context.Context) error { return errors.New("disk full") }
func (brokenStore) Close(context.Context) error { return errors.New("already closed") }

func TestStorage_LifecycleErrorsAreSystemErrorsAndLogged(t *testing.T) {
	var buf bytes.Buffer
	s := New(brokenStore{memory.New(store.Options{})}, zerolog.New(&buf), nil)

	err := s.SetupDatabase(context.Background())
	require.Error(t, err)
	assert.True(t, model.IsSystemError(err))
	assert.Equal(t, "disk full", err.Error())

	err = s.ShutdownDatabase(context.Background())
	assert.True(t, model.IsSystemError(err))

	line := strings.SplitN(buf.String(), "\n", 2)[0]
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &payload))
	assert.Equal(t, "error", payload["level"])
	assert.Equal(t, "setup", payload["op"])
	assert.Equal(t, "memory", payload["backend"])
}

func TestStorage_RejectionsLoggedAtDebug(t *testing.T) {
	var buf bytes.Buffer
	s := New(memory.New(store.Options{}), zerolog.New(&buf).Level(zerolog.InfoLevel), nil)
	_, err := s.RetrieveFoodLog(context.Background(), "u1", "nope")
	require.True(t, model.IsNotFoundError(err))
	assert.Empty(t, buf.String())
}
