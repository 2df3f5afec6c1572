package spooler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts what the spooler did in this process.
type Metrics struct {
	RecordsCaptured  prometheus.Counter
	RecordsSent      prometheus.Counter
	RecordsNotSent   prometheus.Counter
	RecordsSkipped   prometheus.Counter
	Campaigns        prometheus.Counter
	CampaignsRefused prometheus.Counter
	PendingRecords   prometheus.Gauge
}

// NewMetrics registers the counters on reg. A nil reg gets a private
// registry that nothing scrapes.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		RecordsCaptured: f.NewCounter(prometheus.CounterOpts{
			Name: "crash_spooler_records_captured_total",
			Help: "Faults persisted as crash records.",
		}),
		RecordsSent: f.NewCounter(prometheus.CounterOpts{
			Name: "crash_spooler_records_sent_total",
			Help: "Crash records transmitted and deleted.",
		}),
		RecordsNotSent: f.NewCounter(prometheus.CounterOpts{
			Name: "crash_spooler_records_not_sent_total",
			Help: "Crash record transmissions that failed; the record was kept.",
		}),
		RecordsSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "crash_spooler_records_skipped_total",
			Help: "Crash records skipped because their trace was missing or empty.",
		}),
		Campaigns: f.NewCounter(prometheus.CounterOpts{
			Name: "crash_spooler_campaigns_total",
			Help: "Upload campaigns started.",
		}),
		CampaignsRefused: f.NewCounter(prometheus.CounterOpts{
			Name: "crash_spooler_campaigns_refused_total",
			Help: "Campaign requests ignored because one was already running.",
		}),
		PendingRecords: f.NewGauge(prometheus.GaugeOpts{
			Name: "crash_spooler_pending_records",
			Help: "Crash records pending at the start of the last campaign.",
		}),
	}
}
