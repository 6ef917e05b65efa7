/*
Package storage provides a BoltDB-backed journal of controller activity.

Persistence is best effort. A Journal is attached to the StateBus as its
Persister and to the failure handler as a listener; it queues entries
without blocking and writes them from one goroutine in batched
transactions. When the queue is full entries are dropped and counted.

The database lives at <data_dir>/rover.db with three buckets:

	mutations        one nested bucket per namespace, keyed by sequence,
	                 trimmed to the newest DefaultRetention entries
	heartbeats       latest heartbeat per module
	failure_events   every recorded failure event, keyed by sequence

The CLI reads the same file with `rover history <namespace>` and
`rover failures`.
*/
package storage
