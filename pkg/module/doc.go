/*
Package module turns a periodic Task into a supervised runtime.

A Runtime owns one goroutine that calls Task.Run at the configured update
rate. Every cycle ends with a heartbeat in module_heartbeats/<name>. Errors
returned by Run are contained: they increment the error counters, are
written to system_status/<name>_error, and once more than BackoffThreshold
(3) cycles have failed in a row each further failure delays the next cycle
by consecutive×BackoffStep, capped at MaxBackoff. A successful cycle zeroes
the consecutive count but keeps the running error total.

An error wrapped with Critical, or a panic inside Run, is written to
system_status/<name>_critical_error and moves the runtime to StateError.
The loop exits and the supervisor decides what happens next.

	rt := module.New(module.DefaultConfig("sense"), senseTask, bus)
	if err := rt.Start(); err != nil {
		return err
	}
	defer rt.Stop()

Lifecycle:

	uninitialized -> initializing -> ready -> running -> stopping -> stopped
	                                             \-> error (critical)

Stop cancels the loop context and waits up to StopTimeout. A loop stuck in
Run past the timeout yields ErrStopTimeout, and Start keeps returning
ErrStillRunning until that loop finally exits.
*/
package module
