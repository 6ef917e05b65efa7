/*
Package metrics provides Prometheus instrumentation and health endpoints for rover.

All collectors are package-level variables registered with the default
Prometheus registry at init time and exposed through Handler. The families
cover the StateBus (writes, subscriber panics, rejected reentrant writes,
keys per namespace), the module runtimes (cycles by result, cycle duration,
backoff, update rate) and the supervisor (health scores, heartbeat age,
failures detected, recoveries by strategy and result).

# Health endpoints

The package keeps a process-wide HealthChecker that the supervisor updates
after every health check cycle:

	metrics.UpdateComponent("sense", true, false, "score 97")
	http.Handle("/health", metrics.HealthHandler())
	http.Handle("/ready", metrics.ReadyHandler())
	http.Handle("/live", metrics.LivenessHandler())

/health reports 503 when any module is unhealthy or the emergency stop is
latched. /ready reports 503 until every critical module (see
SetCriticalComponents) is registered and healthy. /live always answers 200
while the process runs.

# Timing

	timer := metrics.NewTimer()
	runCycle()
	timer.ObserveDurationVec(metrics.ModuleCycleDuration, "sense")

Collector samples namespace sizes from any NamespaceSource (the StateBus
satisfies it) on a fixed interval.
*/
package metrics
