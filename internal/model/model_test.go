package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKinds(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind Kind
	}{
		{"validation", NewValidationError(MsgInvalidLogEntry), KindValidation},
		{"notfound", NewNotFoundError(MsgLogNotFound), KindNotFound},
		{"system", NewSystemError(errors.New("connection refused")), KindSystem},
		{"wrapped notfound", fmt.Errorf("retrieve: %w", NewNotFoundError(MsgLogNotFound)), KindNotFound},
		{"foreign error", errors.New("boom"), KindSystem},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.kind, KindOf(tc.err))
			assert.Equal(t, tc.kind == KindValidation, IsValidationError(tc.err))
			assert.Equal(t, tc.kind == KindNotFound, IsNotFoundError(tc.err))
			assert.Equal(t, tc.kind == KindSystem, IsSystemError(tc.err))
		})
	}
	assert.False(t, IsSystemError(nil))
}

func TestNewSystemError_KeepsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := NewSystemError(cause)
	assert.Equal(t, "disk full", err.Error())
	assert.ErrorIs(t, err, cause)

	// Already classified errors pass through unchanged.
	nf := NewNotFoundError(MsgLogNotFound)
	assert.Same(t, nf, NewSystemError(nf))
}

func TestApplyEdit_OnlySuppliedFields(t *testing.T) {
	start := time.Date(1999, 11, 10, 8, 0, 0, 0, time.UTC)
	orig := &FoodLogEntry{
		ID:      "a",
		Name:    "toast",
		Labels:  []string{"breakfast"},
		Time:    TimeRange{Start: start, End: start.Add(time.Hour)},
		Metrics: map[string]float64{"calories": 120},
	}
	name := "jam toast"
	got := ApplyEdit(orig, EditFoodLogEntry{ID: "a", Name: &name})

	assert.Equal(t, "jam toast", got.Name)
	assert.Equal(t, orig.Labels, got.Labels)
	assert.Equal(t, orig.Metrics, got.Metrics)
	assert.True(t, got.Time.Start.Equal(orig.Time.Start))
	assert.Equal(t, "toast", orig.Name, "original must not be mutated")

	got = ApplyEdit(orig, EditFoodLogEntry{ID: "a", Labels: []string{}})
	assert.Empty(t, got.Labels)
	assert.NotNil(t, got.Labels)
}

func TestOverlaps(t *testing.T) {
	day := func(d int) time.Time { return time.Date(1999, 11, d, 0, 0, 0, 0, time.UTC) }
	e := &FoodLogEntry{Time: TimeRange{Start: day(15), End: day(16)}}
	assert.True(t, e.Overlaps(day(15), day(16)))
	assert.True(t, e.Overlaps(day(9), day(15)))
	assert.True(t, e.Overlaps(day(16), day(20)))
	assert.False(t, e.Overlaps(day(9), day(14)))
	assert.False(t, e.Overlaps(day(17), day(20)))
}

func TestNormalizeTime(t *testing.T) {
	loc := time.FixedZone("plus2", 2*60*60)
	in := time.Date(2020, 1, 2, 3, 4, 5, 123456789, loc)
	got := NormalizeTime(in)
	assert.Equal(t, time.UTC, got.Location())
	assert.Equal(t, 123000000, got.Nanosecond())
	assert.True(t, got.Equal(in.Truncate(time.Millisecond)))
}

func TestConfigurationJSON(t *testing.T) {
	metrics := Configuration{ID: ConfigMetrics, Metrics: map[string]MetricSetting{
		"calories": {Label: "Calories", Priority: 0},
		"protein":  {Label: "Protein", Priority: 1},
	}}
	b, err := json.Marshal(metrics)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"metrics","value":{"calories":{"label":"Calories","priority":0},"protein":{"label":"Protein","priority":1}}}`, string(b))

	var back Configuration
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, metrics, back)

	var summaries Configuration
	require.NoError(t, json.Unmarshal([]byte(`{"id":"summaries","value":{"showMetricSummary":["calories"]}}`), &summaries))
	assert.Equal(t, ConfigSummaries, summaries.ID)
	require.NotNil(t, summaries.Summaries)
	assert.Equal(t, []string{"calories"}, summaries.Summaries.ShowMetricSummary)

	var unknown Configuration
	require.NoError(t, json.Unmarshal([]byte(`{"id":"colours","value":{}}`), &unknown))
	assert.Equal(t, ConfigurationID("colours"), unknown.ID)
}

func TestDecodeConfiguration_Unknown(t *testing.T) {
	_, err := DecodeConfiguration("colours", []byte(`{}`))
	assert.Error(t, err)
}
