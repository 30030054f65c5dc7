// Package prometheus implements a prometheus component, adapted to this
// module's Factory shape. Earlier revisions exposed a package-level global
// (registerGlobal/C()); this module drops it since any component can
// instead FindComponent(consts.ComponentPrometheus) for itself.
package prometheus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/shuva10v/userver-go/internal/component"
	"github.com/shuva10v/userver-go/internal/components/logging"
	"github.com/shuva10v/userver-go/internal/config"
	"github.com/shuva10v/userver-go/internal/consts"
)

// Config mirrors prometheus.Config.
type Config struct {
	Enabled          bool   `yaml:"enabled" json:"enabled"`
	Address          string `yaml:"address" json:"address"`
	Path             string `yaml:"path" json:"path"`
	Namespace        string `yaml:"namespace" json:"namespace"`
	Subsystem        string `yaml:"subsystem" json:"subsystem"`
	CollectGoMetrics bool   `yaml:"collect_go_metrics" json:"collect_go_metrics"`
	CollectProcess   bool   `yaml:"collect_process" json:"collect_process"`
}

func applyDefaults(cfg *Config) {
	if cfg.Address == "" {
		cfg.Address = ":9090"
	}
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}
}

// Exporter serves the registry over HTTP and lets other components
// register their own metrics, reachable through
// bc.FindComponent(consts.ComponentPrometheus).
type Exporter struct {
	cfg       Config
	server    *http.Server
	registry  *prometheus.Registry
	namespace string
	subsystem string
}

// Factory builds the registry, registers the optional Go/process
// collectors, and starts serving cfg.Path in the background.
func Factory(section *config.ComponentSection) component.Factory {
	return func(bc *component.BuildContext) (component.Component, error) {
		var cfg Config
		if err := section.Decode(&cfg); err != nil {
			return nil, err
		}
		if !cfg.Enabled {
			return nil, fmt.Errorf("prometheus: component disabled")
		}
		applyDefaults(&cfg)

		loggerComp, err := bc.FindComponent(consts.ComponentLogging)
		if err != nil {
			return nil, fmt.Errorf("prometheus: %w", err)
		}
		logger, ok := loggerComp.(logging.Logger)
		if !ok {
			return nil, fmt.Errorf("prometheus: logging component has unexpected type %T", loggerComp)
		}

		e := &Exporter{cfg: cfg, registry: prometheus.NewRegistry(), namespace: cfg.Namespace, subsystem: cfg.Subsystem}
		if cfg.CollectGoMetrics {
			_ = e.registry.Register(prometheus.NewGoCollector())
		}
		if cfg.CollectProcess {
			_ = e.registry.Register(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
		}

		mux := http.NewServeMux()
		mux.Handle(cfg.Path, promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
		e.server = &http.Server{
			Addr:              cfg.Address,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			logger.Info(context.Background(), "prometheus metrics listening", zap.String("address", cfg.Address), zap.String("path", cfg.Path))
			if err := e.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error(context.Background(), "prometheus server error", zap.Error(err))
			}
		}()

		return e, nil
	}
}

func (e *Exporter) fqName(name string) string {
	switch {
	case e.namespace != "" && e.subsystem != "":
		return e.namespace + "_" + e.subsystem + "_" + name
	case e.namespace != "":
		return e.namespace + "_" + name
	case e.subsystem != "":
		return e.subsystem + "_" + name
	default:
		return name
	}
}

// NewCounter registers and returns a namespaced CounterVec.
func (e *Exporter) NewCounter(name, help string, labels []string) *prometheus.CounterVec {
	cv := prometheus.NewCounterVec(prometheus.CounterOpts{Name: e.fqName(name), Help: help}, labels)
	_ = e.registry.Register(cv)
	return cv
}

// NewHistogram registers and returns a namespaced HistogramVec.
func (e *Exporter) NewHistogram(name, help string, labels []string, buckets []float64) *prometheus.HistogramVec {
	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: e.fqName(name), Help: help, Buckets: buckets}, labels)
	_ = e.registry.Register(hv)
	return hv
}

// Registry exposes the underlying registry for components that need to
// register their own collectors directly.
func (e *Exporter) Registry() *prometheus.Registry { return e.registry }

// ClearComponent gracefully stops the metrics HTTP server.
func (e *Exporter) ClearComponent() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = e.server.Shutdown(ctx)
}
