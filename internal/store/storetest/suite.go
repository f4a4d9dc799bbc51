package storetest

import (
	"context"
	"encoding/csv"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfooddiary/openfooddiary/server/internal/model"
	"github.com/openfooddiary/openfooddiary/server/internal/store"
)

// ExportRows is the number of entries written by the export check; it spans several pages.
const ExportRows = 1000

// Options returns the adapter options the suite expects: page size 250 and a per-test export dir.
func Options(t *testing.T) store.Options {
	t.Helper()
	return store.Options{
		MetricMax:      1_000_000,
		ExportDir:      t.TempDir(),
		ExportPageSize: store.DefaultExportPageSize,
	}
}

// Run exercises the compliance suite against a store.Store implementation.
// makeStore should return a set-up store built with Options(t). Every check uses its
// own user id so a shared database is fine.
func Run(t *testing.T, makeStore func(t *testing.T) store.Store) {
	t.Helper()

	s := makeStore(t)
	ctx := context.Background()
	require.NoError(t, s.Setup(ctx), "setup must be idempotent")
	require.NoError(t, s.HealthPing(ctx))

	t.Run("StoreRetrieveRoundTrip", func(t *testing.T) { testRoundTrip(t, s) })
	t.Run("StoreRejectsInvalid", func(t *testing.T) { testStoreRejectsInvalid(t, s) })
	t.Run("RetrieveUnknown", func(t *testing.T) { testRetrieveUnknown(t, s) })
	t.Run("EmptyID", func(t *testing.T) { testEmptyID(t, s) })
	t.Run("Edit", func(t *testing.T) { testEdit(t, s) })
	t.Run("DeleteIdempotent", func(t *testing.T) { testDeleteIdempotent(t, s) })
	t.Run("QueryOverlap", func(t *testing.T) { testQueryOverlap(t, s) })
	t.Run("Purge", func(t *testing.T) { testPurge(t, s) })
	t.Run("UserIsolation", func(t *testing.T) { testUserIsolation(t, s) })
	t.Run("ConfigurationRoundTrip", func(t *testing.T) { testConfigurationRoundTrip(t, s) })
	t.Run("ConfigurationRejectsInvalid", func(t *testing.T) { testConfigurationRejectsInvalid(t, s) })
	t.Run("ConfigurationUnknownID", func(t *testing.T) { testConfigurationUnknownID(t, s) })
	t.Run("BulkExport", func(t *testing.T) { testBulkExport(t, s) })
}

func newUser() string { return "u-" + uuid.NewString() }

func strPtr(s string) *string { return &s }

func day(d int) time.Time { return time.Date(1999, 11, d, 0, 0, 0, 0, time.UTC) }

func entryAt(name string, start, end time.Time) model.CreateFoodLogEntry {
	return model.CreateFoodLogEntry{
		Name:    strPtr(name),
		Labels:  []string{"breakfast", "home"},
		Time:    &model.TimeRange{Start: start, End: end},
		Metrics: map[string]float64{"calories": 250, "protein": 12.5},
	}
}

// assertEntry compares entries field by field so time zones do not matter.
func assertEntry(t *testing.T, want, got *model.FoodLogEntry) {
	t.Helper()
	require.NotNil(t, got)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.Labels, got.Labels)
	assert.Equal(t, want.Metrics, got.Metrics)
	assert.True(t, want.Time.Start.Equal(got.Time.Start), "start: want %s got %s", want.Time.Start, got.Time.Start)
	assert.True(t, want.Time.End.Equal(got.Time.End), "end: want %s got %s", want.Time.End, got.Time.End)
}

func kind(t *testing.T, err error) model.Kind {
	t.Helper()
	require.Error(t, err)
	return model.KindOf(err)
}

func testRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	user := newUser()
	start := time.Date(1999, 11, 10, 8, 15, 30, 125_000_000, time.UTC)
	in := entryAt("porridge", start, start.Add(20*time.Minute))

	id, err := s.FoodLogs().Store(ctx, user, in)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.FoodLogs().Retrieve(ctx, user, id)
	require.NoError(t, err)
	assertEntry(t, model.NewFoodLogEntry(id, in), got)

	// Empty collections survive as empty, not nil.
	empty := model.CreateFoodLogEntry{
		Name:    strPtr("water"),
		Labels:  []string{},
		Time:    &model.TimeRange{Start: start, End: start},
		Metrics: map[string]float64{},
	}
	id2, err := s.FoodLogs().Store(ctx, user, empty)
	require.NoError(t, err)
	assert.NotEqual(t, id, id2)
	got, err = s.FoodLogs().Retrieve(ctx, user, id2)
	require.NoError(t, err)
	assert.NotNil(t, got.Labels)
	assert.Empty(t, got.Labels)
	assert.NotNil(t, got.Metrics)
	assert.Empty(t, got.Metrics)
}

func testStoreRejectsInvalid(t *testing.T, s store.Store) {
	ctx := context.Background()
	user := newUser()

	reversed := entryAt("late", day(11), day(10))
	_, err := s.FoodLogs().Store(ctx, user, reversed)
	assert.Equal(t, model.KindValidation, kind(t, err))

	withID := entryAt("dup", day(10), day(11))
	withID.ID = uuid.NewString()
	_, err = s.FoodLogs().Store(ctx, user, withID)
	assert.Equal(t, model.KindValidation, kind(t, err))

	tooBig := entryAt("huge", day(10), day(11))
	tooBig.Metrics["calories"] = 1_000_001
	_, err = s.FoodLogs().Store(ctx, user, tooBig)
	assert.Equal(t, model.KindValidation, kind(t, err))

	_, err = s.FoodLogs().Store(ctx, "", entryAt("anon", day(10), day(11)))
	assert.Equal(t, model.KindValidation, kind(t, err))
	assert.Equal(t, model.MsgInvalidUserID, err.Error())

	// Nothing was written.
	got, err := s.FoodLogs().Query(ctx, user, day(1), day(30))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testRetrieveUnknown(t *testing.T, s store.Store) {
	_, err := s.FoodLogs().Retrieve(context.Background(), newUser(), uuid.NewString())
	assert.Equal(t, model.KindNotFound, kind(t, err))
}

func testEmptyID(t *testing.T, s store.Store) {
	ctx := context.Background()
	user := newUser()
	_, err := s.FoodLogs().Retrieve(ctx, user, "")
	assert.Equal(t, model.KindNotFound, kind(t, err))

	ok, err := s.FoodLogs().Delete(ctx, user, "")
	require.NoError(t, err)
	assert.True(t, ok)
}

func testEdit(t *testing.T, s store.Store) {
	ctx := context.Background()
	user := newUser()
	in := entryAt("toast", day(10), day(11))
	id, err := s.FoodLogs().Store(ctx, user, in)
	require.NoError(t, err)

	edited, err := s.FoodLogs().Edit(ctx, user, model.EditFoodLogEntry{
		ID:      id,
		Name:    strPtr("jam toast"),
		Metrics: map[string]float64{"calories": 300},
	})
	require.NoError(t, err)
	want := model.NewFoodLogEntry(id, in)
	want.Name = "jam toast"
	want.Metrics = map[string]float64{"calories": 300}
	assertEntry(t, want, edited)

	got, err := s.FoodLogs().Retrieve(ctx, user, id)
	require.NoError(t, err)
	assertEntry(t, want, got)

	edited, err = s.FoodLogs().Edit(ctx, user, model.EditFoodLogEntry{
		ID:     id,
		Labels: []string{"snack"},
		Time:   &model.TimeRange{Start: day(12), End: day(13)},
	})
	require.NoError(t, err)
	want.Labels = []string{"snack"}
	want.Time = model.TimeRange{Start: day(12), End: day(13)}
	assertEntry(t, want, edited)

	_, err = s.FoodLogs().Edit(ctx, user, model.EditFoodLogEntry{ID: id, Time: &model.TimeRange{Start: day(13), End: day(12)}})
	assert.Equal(t, model.KindValidation, kind(t, err))

	_, err = s.FoodLogs().Edit(ctx, user, model.EditFoodLogEntry{Name: strPtr("no id")})
	assert.Equal(t, model.KindValidation, kind(t, err))

	_, err = s.FoodLogs().Edit(ctx, user, model.EditFoodLogEntry{ID: uuid.NewString(), Name: strPtr("ghost")})
	assert.Equal(t, model.KindNotFound, kind(t, err))

	// Another user cannot edit the entry.
	_, err = s.FoodLogs().Edit(ctx, newUser(), model.EditFoodLogEntry{ID: id, Name: strPtr("stolen")})
	assert.Equal(t, model.KindNotFound, kind(t, err))
}

func testDeleteIdempotent(t *testing.T, s store.Store) {
	ctx := context.Background()
	user := newUser()
	id, err := s.FoodLogs().Store(ctx, user, entryAt("apple", day(10), day(10)))
	require.NoError(t, err)

	ok, err := s.FoodLogs().Delete(ctx, user, id)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.FoodLogs().Delete(ctx, user, id)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.FoodLogs().Retrieve(ctx, user, id)
	assert.Equal(t, model.KindNotFound, kind(t, err))
}

func testQueryOverlap(t *testing.T, s store.Store) {
	ctx := context.Background()
	user := newUser()
	ids := make([]string, 0, 3)
	for _, r := range [][2]int{{10, 11}, {15, 16}, {20, 21}} {
		id, err := s.FoodLogs().Store(ctx, user, entryAt("meal", day(r[0]), day(r[1])))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	idsOf := func(es []*model.FoodLogEntry) []string {
		out := make([]string, 0, len(es))
		for _, e := range es {
			out = append(out, e.ID)
		}
		return out
	}

	got, err := s.FoodLogs().Query(ctx, user, day(15), day(16))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{ids[1]}, idsOf(got))

	got, err = s.FoodLogs().Query(ctx, user, day(9), day(16))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{ids[0], ids[1]}, idsOf(got))

	// Partial overlap on either edge counts.
	got, err = s.FoodLogs().Query(ctx, user, day(11), day(15))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{ids[0], ids[1]}, idsOf(got))

	got, err = s.FoodLogs().Query(ctx, user,
		time.Date(2012, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2012, 12, 31, 23, 59, 59, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = s.FoodLogs().Query(ctx, user, day(16), day(15))
	assert.Equal(t, model.KindValidation, kind(t, err))
	assert.Equal(t, model.MsgStartAfterEnd, err.Error())
}

func testPurge(t *testing.T, s store.Store) {
	ctx := context.Background()
	user := newUser()
	for i := 0; i < 3; i++ {
		_, err := s.FoodLogs().Store(ctx, user, entryAt("meal", day(10+i), day(10+i)))
		require.NoError(t, err)
	}
	ok, err := s.FoodLogs().Purge(ctx, user)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.FoodLogs().Query(ctx, user, day(1), day(30))
	require.NoError(t, err)
	assert.Empty(t, got)

	// Purging an empty user still succeeds.
	ok, err = s.FoodLogs().Purge(ctx, user)
	require.NoError(t, err)
	assert.True(t, ok)
}

func testUserIsolation(t *testing.T, s store.Store) {
	ctx := context.Background()
	alice, bob := newUser(), newUser()
	id, err := s.FoodLogs().Store(ctx, alice, entryAt("alice lunch", day(10), day(10)))
	require.NoError(t, err)

	_, err = s.FoodLogs().Retrieve(ctx, bob, id)
	assert.Equal(t, model.KindNotFound, kind(t, err))

	ok, err := s.FoodLogs().Delete(ctx, bob, id)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.FoodLogs().Purge(ctx, bob)
	require.NoError(t, err)

	got, err := s.FoodLogs().Retrieve(ctx, alice, id)
	require.NoError(t, err)
	assert.Equal(t, "alice lunch", got.Name)
}

func testConfigurationRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	user := newUser()
	metrics := model.Configuration{ID: model.ConfigMetrics, Metrics: map[string]model.MetricSetting{
		"calories": {Label: "Calories", Priority: 0},
		"protein":  {Label: "Protein", Priority: 1},
	}}
	summaries := model.Configuration{ID: model.ConfigSummaries, Summaries: &model.SummarySetting{
		ShowMetricSummary: []string{"calories"},
	}}

	_, err := s.Configurations().Retrieve(ctx, user, model.ConfigMetrics)
	assert.Equal(t, model.KindNotFound, kind(t, err))

	id, err := s.Configurations().Store(ctx, user, metrics)
	require.NoError(t, err)
	assert.Equal(t, model.ConfigMetrics, id)
	got, err := s.Configurations().Retrieve(ctx, user, model.ConfigMetrics)
	require.NoError(t, err)
	assert.Equal(t, metrics, *got)

	// Upsert replaces the whole value.
	replaced := model.Configuration{ID: model.ConfigMetrics, Metrics: map[string]model.MetricSetting{
		"fat": {Label: "Fat", Priority: 5},
	}}
	_, err = s.Configurations().Store(ctx, user, replaced)
	require.NoError(t, err)
	got, err = s.Configurations().Retrieve(ctx, user, model.ConfigMetrics)
	require.NoError(t, err)
	assert.Equal(t, replaced, *got)

	_, err = s.Configurations().Store(ctx, user, summaries)
	require.NoError(t, err)

	all, err := s.Configurations().Query(ctx, user)
	require.NoError(t, err)
	require.Len(t, all, 2)
	byID := map[model.ConfigurationID]model.Configuration{}
	for _, c := range all {
		byID[c.ID] = *c
	}
	assert.Equal(t, replaced, byID[model.ConfigMetrics])
	assert.Equal(t, summaries, byID[model.ConfigSummaries])

	ok, err := s.Configurations().Delete(ctx, user, model.ConfigMetrics)
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = s.Configurations().Retrieve(ctx, user, model.ConfigMetrics)
	assert.Equal(t, model.KindNotFound, kind(t, err))

	ok, err = s.Configurations().Delete(ctx, user, model.ConfigMetrics)
	require.NoError(t, err)
	assert.True(t, ok)

	all, err = s.Configurations().Query(ctx, user)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func testConfigurationRejectsInvalid(t *testing.T, s store.Store) {
	ctx := context.Background()
	user := newUser()
	dupPriority := model.Configuration{ID: model.ConfigMetrics, Metrics: map[string]model.MetricSetting{
		"calories": {Label: "Calories", Priority: 0},
		"protein":  {Label: "Protein", Priority: 0},
	}}
	_, err := s.Configurations().Store(ctx, user, dupPriority)
	assert.Equal(t, model.KindValidation, kind(t, err))
	assert.Equal(t, model.MsgInvalidConfiguration, err.Error())

	valid := model.Configuration{ID: model.ConfigSummaries, Summaries: &model.SummarySetting{ShowMetricSummary: []string{}}}
	_, err = s.Configurations().Store(ctx, "", valid)
	assert.Equal(t, model.KindValidation, kind(t, err))
	assert.Equal(t, model.MsgInvalidUserID, err.Error())

	_, err = s.Configurations().Retrieve(ctx, "", model.ConfigSummaries)
	assert.Equal(t, model.KindValidation, kind(t, err))

	_, err = s.Configurations().Query(ctx, "")
	assert.Equal(t, model.KindValidation, kind(t, err))
}

// Ids outside metrics and summaries are simply absent, never invalid.
func testConfigurationUnknownID(t *testing.T, s store.Store) {
	ctx := context.Background()
	user := newUser()
	_, err := s.Configurations().Retrieve(ctx, user, "bogus")
	assert.Equal(t, model.KindNotFound, kind(t, err))
	assert.Equal(t, model.MsgConfigNotFound, err.Error())

	ok, err := s.Configurations().Delete(ctx, user, "bogus")
	require.NoError(t, err)
	assert.True(t, ok)
}

func testBulkExport(t *testing.T, s store.Store) {
	ctx := context.Background()
	user := newUser()
	for i := 0; i < ExportRows; i++ {
		start := day(1).Add(time.Duration(i) * time.Minute)
		_, err := s.FoodLogs().Store(ctx, user, entryAt("bulk", start, start.Add(time.Minute)))
		require.NoError(t, err)
	}
	// Another user's rows must not leak into the export.
	_, err := s.FoodLogs().Store(ctx, newUser(), entryAt("other", day(1), day(2)))
	require.NoError(t, err)

	path, err := s.FoodLogs().BulkExport(ctx, user)
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Remove(path) })

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, ExportRows+1)
	assert.Equal(t, []string{"id", "name", "labels", "timeStart", "timeEnd", "metrics"}, rows[0])

	seen := make(map[string]struct{}, ExportRows)
	for _, r := range rows[1:] {
		assert.Equal(t, "bulk", r[1])
		seen[r[0]] = struct{}{}
	}
	assert.Len(t, seen, ExportRows, "every row appears exactly once")

	emptyPath, err := s.FoodLogs().BulkExport(ctx, newUser())
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Remove(emptyPath) })
	b, err := os.ReadFile(emptyPath)
	require.NoError(t, err)
	assert.Equal(t, "id,name,labels,timeStart,timeEnd,metrics\n", string(b))
}
