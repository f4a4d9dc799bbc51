// Package metrics counts successful storage operations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Food log and configuration event types.
const (
	EventCreated = "created"
	EventEdited  = "edited"
	EventDeleted = "deleted"
	EventStored  = "stored"
)

// Counters receives one call per successful operation.
type Counters interface {
	FoodLogEvent(event string)
	FoodLogsPurged()
	FoodLogsDownloaded()
	ConfigurationEvent(event string)
}

// Nop discards every event.
type Nop struct{}

func (Nop) FoodLogEvent(string)       {}
func (Nop) FoodLogsPurged()           {}
func (Nop) FoodLogsDownloaded()       {}
func (Nop) ConfigurationEvent(string) {}

// Prometheus implements Counters with prometheus counters.
type Prometheus struct {
	foodLogEvent       *prometheus.CounterVec
	foodLogsPurged     prometheus.Counter
	foodLogsDownloaded prometheus.Counter
	configurationEvent *prometheus.CounterVec
}

// NewPrometheus registers the counters with reg; names start with prefix.
func NewPrometheus(reg prometheus.Registerer, prefix string) *Prometheus {
	f := promauto.With(reg)
	return &Prometheus{
		foodLogEvent: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "food_log_event",
				Help: "Food log entries created, edited or deleted.",
			},
			[]string{"eventType"},
		),
		foodLogsPurged: f.NewCounter(prometheus.CounterOpts{
			Name: prefix + "food_logs_purged",
			Help: "Purges of a user's food logs.",
		}),
		foodLogsDownloaded: f.NewCounter(prometheus.CounterOpts{
			Name: prefix + "food_logs_downloaded",
			Help: "Bulk exports written.",
		}),
		configurationEvent: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "configuration_event",
				Help: "Configuration documents stored or deleted.",
			},
			[]string{"eventType"},
		),
	}
}

func (p *Prometheus) FoodLogEvent(event string) { p.foodLogEvent.WithLabelValues(event).Inc() }
func (p *Prometheus) FoodLogsPurged()           { p.foodLogsPurged.Inc() }
func (p *Prometheus) FoodLogsDownloaded()       { p.foodLogsDownloaded.Inc() }
func (p *Prometheus) ConfigurationEvent(event string) {
	p.configurationEvent.WithLabelValues(event).Inc()
}
