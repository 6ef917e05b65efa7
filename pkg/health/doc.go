/*
Package health scores supervised modules and detects failures from their
heartbeats.

The Monitor keeps a short window of heartbeat samples per module and turns
each new observation into a types.ModuleHealth:

	score = 100
	      - min(50, (age - warning) * 10)      once age > warning
	      - min(30, error_rate * 10)
	      - min(20, consecutive_errors * 5)
	      - min(20, (processing - 10ms) * 100) once processing > 10ms

Classification, first match: no heartbeat is unknown, age beyond twice the
heartbeat timeout is dead, beyond the timeout frozen, a score below 50
degraded, anything else healthy.

Failures are derived from the same observation. Frozen and dead modules
report heartbeat_timeout, dead ones frozen_thread as well. The error rate
comes from error_count deltas across the window; a counter that goes
backwards (the module was reset) starts a new window.
*/
package health
