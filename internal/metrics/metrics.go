package metrics

import (
	"runtime"
	"runtime/debug"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry = prometheus.NewRegistry()

	launches = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "prockeeper",
		Name:      "launches_total",
		Help:      "Total number of child processes started by the supervision loop.",
	})

	exits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "prockeeper",
		Name:      "exits_total",
		Help:      "Total number of child exits, labelled by exit code (signal name when killed).",
	}, []string{"code"})

	launchFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "prockeeper",
		Name:      "launch_failures_total",
		Help:      "Total number of launches that failed to create a child process.",
	})

	childRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "prockeeper",
		Name:      "child_running",
		Help:      "Whether a supervised child is currently running (1=running, 0=idle).",
	})

	signalsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "prockeeper",
		Name:      "signals_total",
		Help:      "Signals received by the foreground signal monitor.",
	}, []string{"signal"})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "prockeeper",
		Name:      "build_info",
		Help:      "Build metadata for the running prockeeper binary.",
	}, []string{"go_version", "vcs", "vcs_revision", "vcs_time", "vcs_modified"})

	buildInfoOnce sync.Once
)

func init() {
	registry.MustRegister(launches, exits, launchFailures, childRunning, signalsReceived, buildInfo)
}

// Registry returns the Prometheus registry containing all prockeeper metrics.
func Registry() *prometheus.Registry {
	return registry
}

// IncLaunch counts a successful child start.
func IncLaunch() {
	launches.Inc()
}

// ObserveExit counts a child exit with the given code. A non-empty signal
// name takes precedence over the numeric code.
func ObserveExit(code int, signal string) {
	label := strconv.Itoa(code)
	if signal != "" {
		label = signal
	}
	exits.WithLabelValues(label).Inc()
}

// IncLaunchFailure counts a launch that never produced a child.
func IncLaunchFailure() {
	launchFailures.Inc()
}

// SetChildRunning records whether a child is alive.
func SetChildRunning(running bool) {
	value := 0.0
	if running {
		value = 1.0
	}
	childRunning.Set(value)
}

// IncSignal counts a received signal.
func IncSignal(name string) {
	if name == "" {
		name = "unknown"
	}
	signalsReceived.WithLabelValues(name).Inc()
}

// EmitBuildInfo publishes build metadata about the running binary.
func EmitBuildInfo() {
	buildInfoOnce.Do(func() {
		labels := prometheus.Labels{
			"go_version":   runtime.Version(),
			"vcs":          "",
			"vcs_revision": "",
			"vcs_time":     "",
			"vcs_modified": "",
		}
		for key, value := range BuildSettings() {
			switch key {
			case "vcs":
				labels["vcs"] = value
			case "vcs.revision":
				labels["vcs_revision"] = value
			case "vcs.time":
				labels["vcs_time"] = value
			case "vcs.modified":
				labels["vcs_modified"] = value
			case "go_version":
				labels["go_version"] = value
			}
		}
		buildInfo.With(labels).Set(1)
	})
}

// BuildSettings returns the Go version and VCS settings embedded in the
// binary. Keys follow debug.BuildSetting names plus "go_version".
func BuildSettings() map[string]string {
	out := map[string]string{"go_version": runtime.Version()}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return out
	}
	if info.GoVersion != "" {
		out["go_version"] = info.GoVersion
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs", "vcs.revision", "vcs.time", "vcs.modified":
			out[setting.Key] = setting.Value
		}
	}
	return out
}
