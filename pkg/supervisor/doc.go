/*
Package supervisor implements the watchdog that keeps rover's modules
alive.

The Supervisor is an ordinary module.Task: wrap it in its own
module.Runtime and every cycle (CheckInterval) it

 1. reads each registered module's heartbeat and critical error record
    from the StateBus,
 2. scores and classifies it with a health.Monitor,
 3. writes the result to health_status/<module>, Prometheus, the component
    health registry and any HealthSink (the gRPC health service),
 4. hands detected failures to the recovery.Handler when auto recovery is
    on and the module is still enabled,
 5. publishes system_status/health_report.

A module's recovery attempt counter is reset only once a heartbeat written
after the last recovery shows it healthy. A critical error record keeps
being reported as CRITICAL_ERROR until a recovery has actually run for it.

	sup := supervisor.New(supervisor.DefaultConfig(), bus)
	sup.Register("sense", senseRuntime)

	cfg := module.DefaultConfig("supervisor")
	cfg.UpdateRate = 1
	module.New(cfg, sup, bus).Start()
*/
package supervisor
