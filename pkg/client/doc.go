/*
Package client is the Go client for a running rover controller.

It wraps the two outward surfaces a controller exposes: the HTTP operator
API (module views, forced recovery, failure history, health report and the
emergency stop) and the standard gRPC health service, where each module is
a service name.

	c, err := client.NewClient("127.0.0.1:9090", "127.0.0.1:9091")
	if err != nil {
		return err
	}
	defer c.Close()

	views, err := c.Modules()
	status, err := c.Check("act") // SERVING while the supervisor rates it healthy

	if _, err := c.Recover("plan", types.RecoveryRestart); client.IsNotFound(err) {
		// no such module
	}

Non-2xx responses are returned as *APIError carrying the status code and
the API's error message. Every call uses its own timeout (10s by default,
see WithTimeout).
*/
package client
