/*
Package statebus implements the shared state store every rover stage
communicates through.

A Bus holds named namespaces (sensor_state, action_commands, system_status,
module_heartbeats, ...), each a map of keys to values guarded by its own
RWMutex. Writers never contend across namespaces, and readers never wait for
subscriber callbacks: the namespace lock is released before any callback
runs.

	bus := statebus.New()
	unsub := bus.Subscribe(types.NamespaceSystemStatus, func(ns, key string, v interface{}) {
		if active, ok := statebus.IsEmergencyStop(key, v); ok && active {
			halt()
		}
	})
	defer unsub()

	bus.Update(types.NamespaceSensorState, "joints", joints)
	pos, ok := statebus.GetAs[[]float64](bus, types.NamespaceSensorState, "joints")

Callbacks run synchronously on the writer's goroutine, namespace subscribers
first and global subscribers after, in registration order. A panicking
callback is logged and counted; it never reaches the writer. A callback that
writes back into the namespace it is being notified for is rejected and
counted in rover_statebus_reentrant_writes_total. Writes to other
namespaces are allowed.

Each namespace keeps its last 100 mutations (History). A Persister attached
with SetPersister receives every mutation after it is applied; see
pkg/storage for the bbolt journal.
*/
package statebus
