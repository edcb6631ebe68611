// Package exporter publishes reconciled views as Prometheus metrics.
package exporter

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Dicklesworthstone/obs_stats_monitor/internal/engine"
)

// Collector holds the gauges updated from each view.
type Collector struct {
	registry *prometheus.Registry

	connected  prometheus.Gauge
	cpu        prometheus.Gauge
	memory     prometheus.Gauge
	fps        prometheus.Gauge
	renderTime prometheus.Gauge

	frames       *prometheus.GaugeVec // counter=render|output, kind=skipped|total
	tier         *prometheus.GaugeVec
	outputFrames *prometheus.GaugeVec // output, kind
	outputBits   *prometheus.GaugeVec
	outputActive *prometheus.GaugeVec
}

// NewCollector registers all metrics on a private registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Collector{
		registry: reg,
		connected: f.NewGauge(prometheus.GaugeOpts{
			Name: "obsmon_connected",
			Help: "1 while connected to the engine",
		}),
		cpu: f.NewGauge(prometheus.GaugeOpts{
			Name: "obsmon_cpu_usage_percent",
			Help: "Engine CPU usage",
		}),
		memory: f.NewGauge(prometheus.GaugeOpts{
			Name: "obsmon_memory_usage_megabytes",
			Help: "Engine memory usage",
		}),
		fps: f.NewGauge(prometheus.GaugeOpts{
			Name: "obsmon_active_fps",
			Help: "Current rendering frame rate",
		}),
		renderTime: f.NewGauge(prometheus.GaugeOpts{
			Name: "obsmon_average_frame_render_milliseconds",
			Help: "Average time to render a frame",
		}),
		frames: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "obsmon_frames",
			Help: "Frame counters since the last reset",
		}, []string{"counter", "kind"}),
		tier: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "obsmon_skip_tier",
			Help: "Skipped frame severity: 0 normal, 1 warning, 2 critical",
		}, []string{"counter"}),
		outputFrames: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "obsmon_output_frames",
			Help: "Per-output frame counters since the last reset",
		}, []string{"output", "kind"}),
		outputBits: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "obsmon_output_bitrate_bps",
			Help: "Per-output throughput in bits per second over the last polling period",
		}, []string{"output"}),
		outputActive: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "obsmon_output_active",
			Help: "1 while the output is active",
		}, []string{"output"}),
	}
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Observe updates all gauges from v. Outputs missing from v are removed.
func (c *Collector) Observe(v engine.View) {
	if v.State == "connected" {
		c.connected.Set(1)
	} else {
		c.connected.Set(0)
	}
	if !v.Sampled {
		return
	}
	c.cpu.Set(v.Stats.CPUUsage)
	c.memory.Set(v.Stats.MemoryUsage)
	c.fps.Set(v.Stats.ActiveFPS)
	c.renderTime.Set(v.Stats.AverageFrameRenderTime)

	c.frames.WithLabelValues("render", "skipped").Set(float64(v.Render.Skipped))
	c.frames.WithLabelValues("render", "total").Set(float64(v.Render.Total))
	c.frames.WithLabelValues("output", "skipped").Set(float64(v.Output.Skipped))
	c.frames.WithLabelValues("output", "total").Set(float64(v.Output.Total))
	c.tier.WithLabelValues("render").Set(float64(v.Render.Tier))
	c.tier.WithLabelValues("output").Set(float64(v.Output.Tier))

	c.outputFrames.Reset()
	c.outputBits.Reset()
	c.outputActive.Reset()
	for _, o := range v.Outputs {
		c.outputFrames.WithLabelValues(o.Name, "skipped").Set(float64(o.Frames.Skipped))
		c.outputFrames.WithLabelValues(o.Name, "total").Set(float64(o.Frames.Total))
		c.outputBits.WithLabelValues(o.Name).Set(o.Bitrate)
		active := 0.0
		if o.Status.Active {
			active = 1
		}
		c.outputActive.WithLabelValues(o.Name).Set(active)
	}
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve observes views from updates and serves /metrics on addr until ctx
// is done.
func (c *Collector) Serve(ctx context.Context, addr string, updates <-chan engine.View, log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case v := <-updates:
				c.Observe(v)
			}
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("exporter: serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
