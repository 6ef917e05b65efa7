package storage

import (
	"github.com/cuemby/rover/pkg/types"
)

// Store defines the interface for the best-effort controller journal
type Store interface {
	// Mutations
	AppendMutations(mutations []types.Mutation) error
	ListMutations(namespace string, limit int) ([]types.Mutation, error)
	ListNamespaces() ([]string, error)

	// Heartbeats (latest per module)
	PutHeartbeat(module string, hb types.HeartbeatRecord) error
	PutHeartbeats(heartbeats map[string]types.HeartbeatRecord) error
	GetHeartbeat(module string) (types.HeartbeatRecord, error)
	ListHeartbeats() (map[string]types.HeartbeatRecord, error)

	// Failure events
	AppendFailureEvent(event types.FailureEvent) error
	ListFailureEvents(limit int) ([]types.FailureEvent, error)

	// Utility
	Close() error
}
