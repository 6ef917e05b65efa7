/*
Package events provides an in-memory broker for rover lifecycle events.

Module runtimes, the failure handler and the supervisor publish events such
as module.started, failure.detected, recovery.failed, module.isolated and
emergency.stop. Consumers (the operator API, the CLI run command's alert
log) subscribe with a buffered channel:

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	go func() {
		for e := range sub {
			fmt.Println(e.Type, e.Module, e.Message)
		}
	}()

Publish never blocks. Events are queued (buffer 100) and broadcast by a
single goroutine; a slow subscriber (buffer 50) misses events instead of
stalling the publisher.
*/
package events
