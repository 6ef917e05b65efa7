/*
Package api exposes the controller to operators.

Server is a plain net/http mux:

	GET    /health /ready /live /metrics   probes and Prometheus scrape
	GET    /report                          aggregated system health report
	GET    /modules                         health and runtime status per module
	GET    /modules/{name}
	POST   /modules/{name}/recover?strategy=restart|reset|degrade|isolate|emergency_stop
	GET    /failures                        failure history, oldest first
	GET    /state                           key count per namespace
	GET    /state/{namespace}[?key=k|?history=true]
	POST   /emergency-stop?reason=...
	DELETE /emergency-stop

HealthService implements grpc.health.v1.Health. Register it as a
supervisor.HealthSink so every health check updates the per-module serving
status.
*/
package api
