// Package metrics provides Prometheus collectors for the battstatus daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SubscriptionActive is 1 while the watcher holds a live subscription.
	SubscriptionActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "battstatus_subscription_active",
		Help: "Whether the watcher currently holds a live subscription",
	})

	// SubscribeFailures counts rejected subscriptions.
	SubscribeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "battstatus_subscribe_failures_total",
		Help: "Total number of subscriptions rejected by the source",
	})

	// UnsubscribeFailures counts subscriptions the source failed to release.
	UnsubscribeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "battstatus_unsubscribe_failures_total",
		Help: "Total number of failed unsubscriptions",
	})

	// RawEventsTotal counts raw events received from the source, by outcome.
	RawEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "battstatus_raw_events_total",
		Help: "Total number of raw battery events received, by outcome",
	}, []string{"outcome"})

	// NormalizationAnomalies counts raw payloads that needed defaulting.
	NormalizationAnomalies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "battstatus_normalization_anomalies_total",
		Help: "Total number of raw payload anomalies, by kind",
	}, []string{"kind"})

	// ListenerFailures counts listener invocations that returned an error or panicked.
	ListenerFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "battstatus_listener_failures_total",
		Help: "Total number of failed listener deliveries",
	})

	// Listeners tracks the number of registered listeners.
	Listeners = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "battstatus_listeners",
		Help: "Number of registered status listeners",
	})

	// CurrentLevel is the last published battery level.
	CurrentLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "battstatus_level_percent",
		Help: "Last published battery level in percent",
	})

	// CurrentCharging is 1 when the last published status was charging.
	CurrentCharging = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "battstatus_charging",
		Help: "Whether the last published status was charging",
	})

	// HubDropped counts hub events dropped because a subscriber was slow.
	HubDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "battstatus_hub_dropped_events_total",
		Help: "Total number of events dropped for slow subscribers",
	})

	// SampleErrors counts failed battery reads in the system source.
	SampleErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "battstatus_system_sample_errors_total",
		Help: "Total number of failed system battery samples",
	})
)

// Raw event outcomes.
const (
	OutcomePublished = "published"
	OutcomeDuplicate = "duplicate"
	OutcomeStale     = "stale"
)

// BoolToFloat is a helper for boolean gauges.
func BoolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
