package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config controls the metrics collector.
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Port      int               `yaml:"port"`
	Path      string            `yaml:"path"`
	Namespace string            `yaml:"namespace"`
	Labels    map[string]string `yaml:"labels"`
}

// Collector implements types.MetricsCollector for the swapforge pipeline.
// It wraps a Prometheus registry the way the teacher's internal/metrics
// collector does, but the surface is the eight-component pipeline's own:
// stage durations, bench matrix cells, partition writes, swap-on results.
type Collector struct {
	config   *Config
	registry *prometheus.Registry

	stageDuration     *prometheus.HistogramVec
	benchCellMBPerS   *prometheus.GaugeVec
	partitionWrites   *prometheus.CounterVec
	swapOnResults     *prometheus.CounterVec

	server *http.Server
}

// NewCollector creates a new metrics collector. A nil or disabled config
// yields a Collector whose recording methods are no-ops, so callers never
// need to nil-check before using it.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{Enabled: false}
	}
	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	registry := prometheus.NewRegistry()
	c := &Collector{config: config, registry: registry}

	c.stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage (probe, bench, plan, partition, activate, tunables, report).",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
		},
		[]string{"stage"},
	)
	c.benchCellMBPerS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "bench_matrix_combined_mb_per_s",
			Help:      "Combined read+write MB/s for the most recent matrix test cell.",
		},
		[]string{"block_size_kb", "concurrency"},
	)
	c.partitionWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "partition_write_attempts_total",
			Help:      "Partition table write attempts, by outcome.",
		},
		[]string{"outcome"},
	)
	c.swapOnResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "swap_on_results_total",
			Help:      "swapon results per device, by outcome.",
		},
		[]string{"device", "outcome"},
	)

	for _, m := range []prometheus.Collector{c.stageDuration, c.benchCellMBPerS, c.partitionWrites, c.swapOnResults} {
		if err := registry.Register(m); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return c, nil
}

// Start serves the registry at config.Path (default /metrics) on
// config.Port in a background goroutine until Stop is called; ctx is not
// consulted. Health endpoints are not served here.
func (c *Collector) Start(ctx context.Context) error {
	if c.config == nil || !c.config.Enabled {
		return nil
	}

	path := c.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}

// Stop shuts the metrics server down, if one is running.
func (c *Collector) Stop(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

// RecordStageDuration implements types.MetricsCollector.
func (c *Collector) RecordStageDuration(stage string, duration time.Duration) {
	if c.config == nil || !c.config.Enabled {
		return
	}
	c.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordBenchCell implements types.MetricsCollector.
func (c *Collector) RecordBenchCell(blockSizeKB, concurrency int, combinedMBPerS float64) {
	if c.config == nil || !c.config.Enabled {
		return
	}
	c.benchCellMBPerS.WithLabelValues(fmt.Sprintf("%d", blockSizeKB), fmt.Sprintf("%d", concurrency)).Set(combinedMBPerS)
}

// RecordPartitionWriteAttempt implements types.MetricsCollector.
func (c *Collector) RecordPartitionWriteAttempt(success bool) {
	if c.config == nil || !c.config.Enabled {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	c.partitionWrites.WithLabelValues(outcome).Inc()
}

// RecordSwapOnResult implements types.MetricsCollector.
func (c *Collector) RecordSwapOnResult(device string, success bool) {
	if c.config == nil || !c.config.Enabled {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	c.swapOnResults.WithLabelValues(device, outcome).Inc()
}
