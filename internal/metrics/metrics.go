// Package metrics exposes exchange health as Prometheus metrics, gathered
// at scrape time from the live registry, trunk engine and directory.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EndpointProvider exposes live session counts.
type EndpointProvider interface {
	EndpointCount() int
	ActiveCallCount() int
}

// TrunkStatusProvider exposes the outbound trunk link state.
type TrunkStatusProvider interface {
	TrunkLinkState() (state string, retryAttempt int)
}

// DirectoryCounter returns the number of extensions ever registered.
type DirectoryCounter interface {
	Count(ctx context.Context) (int64, error)
}

// Collector is a prometheus.Collector that gathers LinePBX metrics at
// scrape time. Any provider may be nil if unavailable.
type Collector struct {
	endpoints EndpointProvider
	trunk     TrunkStatusProvider
	directory DirectoryCounter
	startTime time.Time

	endpointsDesc   *prometheus.Desc
	activeCallsDesc *prometheus.Desc
	trunkUpDesc     *prometheus.Desc
	trunkRetryDesc  *prometheus.Desc
	directoryDesc   *prometheus.Desc
	uptimeDesc      *prometheus.Desc
}

// NewCollector creates a new metrics collector.
func NewCollector(endpoints EndpointProvider, trunk TrunkStatusProvider, directory DirectoryCounter, startTime time.Time) *Collector {
	return &Collector{
		endpoints: endpoints,
		trunk:     trunk,
		directory: directory,
		startTime: startTime,

		endpointsDesc: prometheus.NewDesc(
			"linepbx_registered_endpoints",
			"Number of currently registered endpoints",
			nil, nil,
		),
		activeCallsDesc: prometheus.NewDesc(
			"linepbx_active_calls",
			"Number of currently active calls on this node",
			nil, nil,
		),
		trunkUpDesc: prometheus.NewDesc(
			"linepbx_trunk_link_up",
			"Outbound trunk link status (1=connected, 0=other)",
			[]string{"state"}, nil,
		),
		trunkRetryDesc: prometheus.NewDesc(
			"linepbx_trunk_retry_attempts",
			"Consecutive failed outbound trunk dial attempts",
			nil, nil,
		),
		directoryDesc: prometheus.NewDesc(
			"linepbx_directory_extensions",
			"Number of extensions ever registered on this node",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"linepbx_uptime_seconds",
			"Seconds since the LinePBX process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.endpointsDesc
	ch <- c.activeCallsDesc
	ch <- c.trunkUpDesc
	ch <- c.trunkRetryDesc
	ch <- c.directoryDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at
// scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.endpoints != nil {
		ch <- prometheus.MustNewConstMetric(
			c.endpointsDesc, prometheus.GaugeValue,
			float64(c.endpoints.EndpointCount()),
		)
		ch <- prometheus.MustNewConstMetric(
			c.activeCallsDesc, prometheus.GaugeValue,
			float64(c.endpoints.ActiveCallCount()),
		)
	}

	if c.trunk != nil {
		state, attempts := c.trunk.TrunkLinkState()
		up := 0.0
		if state == "connected" {
			up = 1.0
		}
		ch <- prometheus.MustNewConstMetric(
			c.trunkUpDesc, prometheus.GaugeValue, up, state,
		)
		ch <- prometheus.MustNewConstMetric(
			c.trunkRetryDesc, prometheus.GaugeValue, float64(attempts),
		)
	}

	if c.directory != nil {
		count, err := c.directory.Count(ctx)
		if err != nil {
			slog.Error("metrics: failed to count directory entries", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(
				c.directoryDesc, prometheus.GaugeValue, float64(count),
			)
		}
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
