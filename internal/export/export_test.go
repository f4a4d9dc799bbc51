package export

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfooddiary/openfooddiary/server/internal/model"
)

// slicePager pages over an in-memory slice using the index as cursor.
func slicePager(all []*model.FoodLogEntry, calls *int) Pager {
	return func(_ context.Context, cursor string, limit int) ([]*model.FoodLogEntry, string, error) {
		*calls++
		from := 0
		if cursor != "" {
			n, err := strconv.Atoi(cursor)
			if err != nil {
				return nil, "", err
			}
			from = n
		}
		to := from + limit
		if to >= len(all) {
			return all[from:], "", nil
		}
		return all[from:to], strconv.Itoa(to), nil
	}
}

func entries(n int) []*model.FoodLogEntry {
	start := time.Date(1999, 11, 10, 8, 0, 0, 0, time.UTC)
	out := make([]*model.FoodLogEntry, n)
	for i := range out {
		out[i] = &model.FoodLogEntry{
			ID:      fmt.Sprintf("id-%04d", i),
			Name:    "meal, with comma",
			Labels:  []string{"a", "b"},
			Time:    model.TimeRange{Start: start, End: start.Add(time.Hour)},
			Metrics: map[string]float64{"calories": float64(i)},
		}
	}
	return out
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestRun_PagesAcrossBoundaries(t *testing.T) {
	for _, n := range []int{0, 1, 249, 250, 251, 1000} {
		t.Run(strconv.Itoa(n), func(t *testing.T) {
			dir := t.TempDir()
			calls := 0
			path, err := Writer{Dir: dir, PageSize: 250}.Run(context.Background(), slicePager(entries(n), &calls))
			require.NoError(t, err)
			assert.Equal(t, dir, filepath.Dir(path))
			assert.Equal(t, ".csv", filepath.Ext(path))

			rows := readCSV(t, path)
			require.Len(t, rows, n+1)
			assert.Equal(t, Header, rows[0])
			assert.LessOrEqual(t, calls, n/250+1)
		})
	}
}

func TestRun_UniqueFileNames(t *testing.T) {
	dir := t.TempDir()
	w := Writer{Dir: dir, PageSize: 10}
	calls := 0
	a, err := w.Run(context.Background(), slicePager(entries(3), &calls))
	require.NoError(t, err)
	b, err := w.Run(context.Background(), slicePager(entries(3), &calls))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestRun_RemovesPartialFileOnError(t *testing.T) {
	dir := t.TempDir()
	first := true
	pager := func(_ context.Context, _ string, limit int) ([]*model.FoodLogEntry, string, error) {
		if first {
			first = false
			return entries(limit), "next", nil
		}
		return nil, "", errors.New("connection reset")
	}

	_, err := Writer{Dir: dir, PageSize: 5}.Run(context.Background(), pager)
	require.Error(t, err)
	assert.True(t, model.IsSystemError(err))
	assert.Contains(t, err.Error(), "connection reset")

	left, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestRun_RejectsRepeatedCursor(t *testing.T) {
	pager := func(_ context.Context, _ string, _ int) ([]*model.FoodLogEntry, string, error) {
		return nil, "same", nil
	}
	_, err := Writer{Dir: t.TempDir(), PageSize: 5}.Run(context.Background(), pager)
	require.Error(t, err)
}

func TestRow(t *testing.T) {
	start := time.Date(1999, 11, 15, 9, 30, 0, 250_000_000, time.FixedZone("x", 3600))
	row, err := Row(&model.FoodLogEntry{
		ID:      "abc",
		Name:    "eggs",
		Labels:  []string{"breakfast", "protein"},
		Time:    model.TimeRange{Start: start, End: start.Add(time.Hour)},
		Metrics: map[string]float64{"calories": 155.5},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"abc",
		"eggs",
		`["breakfast","protein"]`,
		"1999-11-15T08:30:00.250Z",
		"1999-11-15T09:30:00.250Z",
		`{"calories":155.5}`,
	}, row)

	row, err = Row(&model.FoodLogEntry{ID: "empty"})
	require.NoError(t, err)
	assert.Equal(t, "[]", row[2])
	assert.Equal(t, "{}", row[5])
}
