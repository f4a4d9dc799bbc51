package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimeRange is the interval a food log entry covers. End is never before Start.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// FoodLogEntry is a stored food log record owned by one user.
type FoodLogEntry struct {
	ID      string             `json:"id"`
	Name    string             `json:"name"`
	Labels  []string           `json:"labels"`
	Time    TimeRange          `json:"time"`
	Metrics map[string]float64 `json:"metrics"`
}

// CreateFoodLogEntry is the input for a new entry. Nil fields are absent.
// ID must be empty; ids are always generated by the store.
type CreateFoodLogEntry struct {
	ID      string             `json:"id,omitempty"`
	Name    *string            `json:"name,omitempty"`
	Labels  []string           `json:"labels,omitempty"`
	Time    *TimeRange         `json:"time,omitempty"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// EditFoodLogEntry is a partial update. Only non-nil fields are applied.
type EditFoodLogEntry struct {
	ID      string             `json:"id"`
	Name    *string            `json:"name,omitempty"`
	Labels  []string           `json:"labels,omitempty"`
	Time    *TimeRange         `json:"time,omitempty"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// NormalizeTime truncates t to the millisecond precision stores keep and converts it to UTC.
func NormalizeTime(t time.Time) time.Time {
	return t.Truncate(time.Millisecond).UTC()
}

// NewFoodLogEntry builds the entry a store persists for a validated create input.
func NewFoodLogEntry(id string, in CreateFoodLogEntry) *FoodLogEntry {
	e := &FoodLogEntry{
		ID:      id,
		Labels:  cloneLabels(in.Labels),
		Metrics: cloneMetrics(in.Metrics),
	}
	if in.Name != nil {
		e.Name = *in.Name
	}
	if in.Time != nil {
		e.Time = TimeRange{Start: NormalizeTime(in.Time.Start), End: NormalizeTime(in.Time.End)}
	}
	return e
}

// ApplyEdit returns a copy of e with the supplied fields of edit merged in.
func ApplyEdit(e *FoodLogEntry, edit EditFoodLogEntry) *FoodLogEntry {
	out := e.Clone()
	if edit.Name != nil {
		out.Name = *edit.Name
	}
	if edit.Labels != nil {
		out.Labels = cloneLabels(edit.Labels)
	}
	if edit.Time != nil {
		out.Time = TimeRange{Start: NormalizeTime(edit.Time.Start), End: NormalizeTime(edit.Time.End)}
	}
	if edit.Metrics != nil {
		out.Metrics = cloneMetrics(edit.Metrics)
	}
	return out
}

// Clone returns a deep copy with non-nil collections.
func (e *FoodLogEntry) Clone() *FoodLogEntry {
	return &FoodLogEntry{
		ID:      e.ID,
		Name:    e.Name,
		Labels:  cloneLabels(e.Labels),
		Time:    e.Time,
		Metrics: cloneMetrics(e.Metrics),
	}
}

// Overlaps reports whether the entry's interval intersects [start, end].
func (e *FoodLogEntry) Overlaps(start, end time.Time) bool {
	return !e.Time.Start.After(end) && !e.Time.End.Before(start)
}

func cloneLabels(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneMetrics(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// ConfigurationID names one of the per-user configuration documents.
type ConfigurationID string

const (
	ConfigMetrics   ConfigurationID = "metrics"
	ConfigSummaries ConfigurationID = "summaries"
)

// MetricSetting describes how a metric key is displayed.
type MetricSetting struct {
	Label    string  `json:"label"`
	Priority float64 `json:"priority"`
}

// SummarySetting lists the metric keys shown in summaries.
type SummarySetting struct {
	ShowMetricSummary []string `json:"showMetricSummary"`
}

// Configuration is a union keyed by ID. Metrics is set for "metrics",
// Summaries for "summaries".
type Configuration struct {
	ID        ConfigurationID
	Metrics   map[string]MetricSetting
	Summaries *SummarySetting
}

type configurationJSON struct {
	ID    ConfigurationID `json:"id"`
	Value json.RawMessage `json:"value"`
}

// EncodeValue serialises the variant payload.
func (c Configuration) EncodeValue() ([]byte, error) {
	switch c.ID {
	case ConfigMetrics:
		m := c.Metrics
		if m == nil {
			m = map[string]MetricSetting{}
		}
		return json.Marshal(m)
	case ConfigSummaries:
		s := c.Summaries
		if s == nil {
			s = &SummarySetting{ShowMetricSummary: []string{}}
		}
		return json.Marshal(s)
	default:
		return nil, fmt.Errorf("unknown configuration id %q", c.ID)
	}
}

// DecodeConfiguration rebuilds a configuration from its id and serialised value.
func DecodeConfiguration(id ConfigurationID, raw []byte) (*Configuration, error) {
	c := &Configuration{ID: id}
	switch id {
	case ConfigMetrics:
		if err := json.Unmarshal(raw, &c.Metrics); err != nil {
			return nil, err
		}
		if c.Metrics == nil {
			c.Metrics = map[string]MetricSetting{}
		}
	case ConfigSummaries:
		c.Summaries = &SummarySetting{}
		if err := json.Unmarshal(raw, c.Summaries); err != nil {
			return nil, err
		}
		if c.Summaries.ShowMetricSummary == nil {
			c.Summaries.ShowMetricSummary = []string{}
		}
	default:
		return nil, fmt.Errorf("unknown configuration id %q", id)
	}
	return c, nil
}

func (c Configuration) MarshalJSON() ([]byte, error) {
	v, err := c.EncodeValue()
	if err != nil {
		return nil, err
	}
	return json.Marshal(configurationJSON{ID: c.ID, Value: v})
}

// UnmarshalJSON accepts unknown ids so validation can reject them later.
func (c *Configuration) UnmarshalJSON(b []byte) error {
	var raw configurationJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.ID != ConfigMetrics && raw.ID != ConfigSummaries {
		*c = Configuration{ID: raw.ID}
		return nil
	}
	if len(raw.Value) == 0 {
		raw.Value = []byte("null")
	}
	dec, err := DecodeConfiguration(raw.ID, raw.Value)
	if err != nil {
		return err
	}
	*c = *dec
	return nil
}
