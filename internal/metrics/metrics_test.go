package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheus_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg, "test_")

	p.FoodLogEvent(EventCreated)
	p.FoodLogEvent(EventCreated)
	p.FoodLogEvent(EventDeleted)
	p.FoodLogsPurged()
	p.FoodLogsDownloaded()
	p.ConfigurationEvent(EventStored)

	assert.Equal(t, 2.0, testutil.ToFloat64(p.foodLogEvent.WithLabelValues(EventCreated)))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.foodLogEvent.WithLabelValues(EventDeleted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.foodLogsPurged))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.foodLogsDownloaded))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.configurationEvent.WithLabelValues(EventStored)))

	n, err := testutil.GatherAndCount(reg, "test_food_log_event", "test_food_logs_purged", "test_food_logs_downloaded", "test_configuration_event")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestPrometheus_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheus(reg, "dup_")
	assert.Panics(t, func() { NewPrometheus(reg, "dup_") })
}

func TestNop(t *testing.T) {
	var c Counters = Nop{}
	c.FoodLogEvent(EventEdited)
	c.FoodLogsPurged()
	c.FoodLogsDownloaded()
	c.ConfigurationEvent(EventDeleted)
}
