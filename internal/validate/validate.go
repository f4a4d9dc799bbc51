// Package validate holds the pure predicates that guard store writes.
// None of them perform I/O or panic; all return a boolean.
package validate

import (
	"math"
	"regexp"

	"github.com/openfooddiary/openfooddiary/server/internal/model"
)

// DefaultMetricMax is the ceiling applied to metric values when none is configured.
const DefaultMetricMax = 1_000_000

// metricKeyRx matches lowercase words joined by single hyphens, e.g. "saturated-fat".
var metricKeyRx = regexp.MustCompile(`^[a-z]+(-[a-z]+)*$`)

// IsValidMetricKey reports whether key is a lowercase-hyphen metric key.
func IsValidMetricKey(key string) bool {
	return metricKeyRx.MatchString(key)
}

// IsValidUserID reports whether the opaque user id is usable as a partition key.
func IsValidUserID(userID string) bool {
	return userID != ""
}

// IsValidTimeRange requires both bounds and end >= start.
func IsValidTimeRange(tr *model.TimeRange) bool {
	if tr == nil || tr.Start.IsZero() || tr.End.IsZero() {
		return false
	}
	return !tr.End.Before(tr.Start)
}

// IsValidMetrics requires every value to be finite and not above max.
func IsValidMetrics(metrics map[string]float64, max float64) bool {
	for _, v := range metrics {
		if math.IsNaN(v) || math.IsInf(v, 0) || v > max {
			return false
		}
	}
	return true
}

// IsValidCreateEntry checks a new food log entry. The id must be absent and
// name, labels, metrics and both time bounds present.
func IsValidCreateEntry(in model.CreateFoodLogEntry, metricMax float64) bool {
	return in.ID == "" &&
		in.Name != nil &&
		in.Labels != nil &&
		in.Metrics != nil &&
		IsValidMetrics(in.Metrics, metricMax) &&
		IsValidTimeRange(in.Time)
}

// IsValidEditEntry checks a partial update. Only supplied fields are checked.
func IsValidEditEntry(in model.EditFoodLogEntry, metricMax float64) bool {
	if in.ID == "" {
		return false
	}
	if in.Metrics != nil && !IsValidMetrics(in.Metrics, metricMax) {
		return false
	}
	if in.Time != nil && !IsValidTimeRange(in.Time) {
		return false
	}
	return true
}

// IsValidConfigurationItem dispatches on the configuration id. Unknown ids are invalid.
func IsValidConfigurationItem(c model.Configuration) bool {
	switch c.ID {
	case model.ConfigMetrics:
		return isValidMetricsConfiguration(c.Metrics)
	case model.ConfigSummaries:
		return c.Summaries != nil && isValidSummaryConfiguration(*c.Summaries)
	default:
		return false
	}
}

func isValidMetricsConfiguration(m map[string]model.MetricSetting) bool {
	if m == nil {
		return false
	}
	labels := make(map[string]struct{}, len(m))
	priorities := make(map[float64]struct{}, len(m))
	for key, setting := range m {
		if !IsValidMetricKey(key) || math.IsNaN(setting.Priority) {
			return false
		}
		if _, dup := labels[setting.Label]; dup {
			return false
		}
		if _, dup := priorities[setting.Priority]; dup {
			return false
		}
		labels[setting.Label] = struct{}{}
		priorities[setting.Priority] = struct{}{}
	}
	return true
}

func isValidSummaryConfiguration(s model.SummarySetting) bool {
	seen := make(map[string]struct{}, len(s.ShowMetricSummary))
	for _, key := range s.ShowMetricSummary {
		if !IsValidMetricKey(key) {
			return false
		}
		if _, dup := seen[key]; dup {
			return false
		}
		seen[key] = struct{}{}
	}
	return true
}
