// Package metrics defines the prometheus collectors exported at /metrics.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	PrecacheDownloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stagesync_precache_downloads_total",
			Help: "Precache downloads by kind and result",
		},
		[]string{"kind", "result"},
	)
	PrecacheDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stagesync_precache_download_duration_seconds",
			Help:    "Time spent downloading a precache item",
			Buckets: prometheus.DefBuckets,
		},
	)
	PrecacheBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stagesync_precache_bytes_total",
			Help: "Bytes downloaded into the precache",
		},
	)
	StaleWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stagesync_cache_stale_writes_total",
			Help: "Cache writes ignored because a newer version was cached",
		},
		[]string{"store"},
	)
	Broadcasts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stagesync_broadcasts_total",
			Help: "Control messages broadcast by type",
		},
		[]string{"type"},
	)
	ConnectedPeers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stagesync_connected_peers",
			Help: "Connected peers by role",
		},
		[]string{"role"},
	)
	LeaderTerm = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stagesync_leader_term",
			Help: "Current leader election term",
		},
	)
	OfflineSweeps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stagesync_registry_offline_marked_total",
			Help: "Displays marked offline by the sweeper",
		},
	)
)

var registerOnce sync.Once

// Register adds every collector to the default registry. Safe to call twice.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			PrecacheDownloads,
			PrecacheDuration,
			PrecacheBytes,
			StaleWrites,
			Broadcasts,
			ConnectedPeers,
			LeaderTerm,
			OfflineSweeps,
		)
	})
}
