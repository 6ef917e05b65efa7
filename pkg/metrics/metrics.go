package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// StateBus metrics
	BusUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rover_statebus_updates_total",
			Help: "Total number of StateBus writes by namespace",
		},
		[]string{"namespace"},
	)

	BusSubscriberErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rover_statebus_subscriber_errors_total",
			Help: "Total number of subscriber callbacks that panicked, by namespace",
		},
		[]string{"namespace"},
	)

	BusReentrantWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rover_statebus_reentrant_writes_total",
			Help: "Total number of rejected writes issued from a subscriber into the namespace it was notified for",
		},
		[]string{"namespace"},
	)

	BusNamespaceKeys = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rover_statebus_namespace_keys",
			Help: "Number of keys currently held per namespace",
		},
		[]string{"namespace"},
	)

	// Module runtime metrics
	ModuleCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rover_module_cycles_total",
			Help: "Total number of module cycles by result",
		},
		[]string{"module", "result"},
	)

	ModuleCycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rover_module_cycle_duration_seconds",
			Help:    "Time spent in a module task body per cycle",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"module"},
	)

	ModuleBackoffSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rover_module_backoff_seconds",
			Help: "Current error backoff applied by a module runtime",
		},
		[]string{"module"},
	)

	ModuleUpdateRate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rover_module_update_rate_hz",
			Help: "Target update rate of a module runtime",
		},
		[]string{"module"},
	)

	// Supervisor metrics
	ModuleHealthScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rover_module_health_score",
			Help: "Latest supervisor health score (0-100) per module",
		},
		[]string{"module"},
	)

	ModuleHeartbeatAge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rover_module_heartbeat_age_seconds",
			Help: "Age of the latest heartbeat observed per module",
		},
		[]string{"module"},
	)

	ModuleStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rover_module_status",
			Help: "Module classification (1 for the current status, 0 otherwise)",
		},
		[]string{"module", "status"},
	)

	FailuresDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rover_failures_detected_total",
			Help: "Total number of failures detected by module and type",
		},
		[]string{"module", "type"},
	)

	RecoveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rover_recoveries_total",
			Help: "Total number of recovery actions by module, strategy and result",
		},
		[]string{"module", "strategy", "result"},
	)

	RecoveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rover_recovery_duration_seconds",
			Help:    "Time taken to execute a recovery strategy",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	SupervisorCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rover_supervisor_cycle_duration_seconds",
			Help:    "Time taken by one supervisor health check cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	SystemHealthScore = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rover_system_health_score",
			Help: "Mean health score across supervised modules",
		},
	)

	EmergencyStopActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rover_emergency_stop_active",
			Help: "Whether the system-wide emergency stop is active (1 = active)",
		},
	)

	// Robot boundary metrics
	RobotCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rover_robot_commands_total",
			Help: "Total number of commands sent to the robot adapter by kind and result",
		},
		[]string{"kind", "result"},
	)
)

func init() {
	prometheus.MustRegister(BusUpdatesTotal)
	prometheus.MustRegister(BusSubscriberErrorsTotal)
	prometheus.MustRegister(BusReentrantWritesTotal)
	prometheus.MustRegister(BusNamespaceKeys)
	prometheus.MustRegister(ModuleCyclesTotal)
	prometheus.MustRegister(ModuleCycleDuration)
	prometheus.MustRegister(ModuleBackoffSeconds)
	prometheus.MustRegister(ModuleUpdateRate)
	prometheus.MustRegister(ModuleHealthScore)
	prometheus.MustRegister(ModuleHeartbeatAge)
	prometheus.MustRegister(ModuleStatus)
	prometheus.MustRegister(FailuresDetectedTotal)
	prometheus.MustRegister(RecoveriesTotal)
	prometheus.MustRegister(RecoveryDuration)
	prometheus.MustRegister(SupervisorCycleDuration)
	prometheus.MustRegister(SystemHealthScore)
	prometheus.MustRegister(EmergencyStopActive)
	prometheus.MustRegister(RobotCommandsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed time for histogram observations
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time on a histogram
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed time on a labelled histogram
func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}

// SetModuleStatus marks status as the only active classification for a module
func SetModuleStatus(module string, status string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == status {
			v = 1
		}
		ModuleStatus.WithLabelValues(module, s).Set(v)
	}
}
