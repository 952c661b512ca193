// Package metrics owns the Prometheus registry served on /metrics.
package metrics

import (
	"net/http"
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/fogmap-area/internal/core/observability"
)

type BuildInfo struct {
	Version   string
	Revision  string
	BuildDate string
}

// BuildFromRuntime reads the module version and the VCS stamp of the binary.
func BuildFromRuntime() BuildInfo {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return BuildInfo{}
	}
	b := BuildInfo{Version: bi.Main.Version}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			b.Revision = s.Value
		case "vcs.time":
			b.BuildDate = s.Value
		}
	}
	return b
}

func (b BuildInfo) collector() prometheus.Collector {
	if b.Version == "" || b.Version == "(devel)" {
		b.Version = "dev"
	}
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "app_build_info",
		Help: "Build of the running binary; always 1.",
		ConstLabels: prometheus.Labels{
			"version":    b.Version,
			"revision":   b.Revision,
			"build_date": b.BuildDate,
		},
	}, func() float64 { return 1 })
}

type Config struct {
	Build BuildInfo
}

// Provider is the service registry. Each Init call starts a fresh one.
type Provider struct {
	reg *prometheus.Registry
}

func Init(cfg Config) *Provider {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(collectors.WithGoCollectorRuntimeMetrics(collectors.MetricsGC)),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		cfg.Build.collector(),
	)
	observability.Init(reg)
	return &Provider{reg: reg}
}

func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{
		Registry:          p.reg,
		EnableOpenMetrics: true,
	})
}

// Register adds collectors owned by other components, such as the Kafka
// runner.
func (p *Provider) Register(cs ...prometheus.Collector) {
	p.reg.MustRegister(cs...)
}

func (p *Provider) Registerer() prometheus.Registerer { return p.reg }
