package storage

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/cuemby/rover/pkg/log"
	"github.com/cuemby/rover/pkg/types"
	"github.com/rs/zerolog"
)

const batchSize = 256

// Journal writes bus mutations and failure events to a Store from a
// single background goroutine. Recording never blocks the caller: entries
// are dropped when the queue is full.
type Journal struct {
	store  Store
	logger zerolog.Logger

	mutations chan types.Mutation
	failures  chan types.FailureEvent
	stopCh    chan struct{}
	doneCh    chan struct{}
	stopOnce  sync.Once

	dropped atomic.Uint64
}

// NewJournal creates a journal with the given queue capacity
func NewJournal(store Store, buffer int) *Journal {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Journal{
		store:     store,
		logger:    log.WithComponent("journal"),
		mutations: make(chan types.Mutation, buffer),
		failures:  make(chan types.FailureEvent, 64),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins writing queued entries
func (j *Journal) Start() {
	go j.run()
}

// Stop flushes queued entries and waits for the writer to exit
func (j *Journal) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
	<-j.doneCh
}

// Record queues a bus mutation. Values are encoded immediately so later
// changes to them by the writer are not observed.
func (j *Journal) Record(m types.Mutation) {
	m.OldValue = encode(m.OldValue)
	m.NewValue = encode(m.NewValue)

	select {
	case j.mutations <- m:
	default:
		j.drop("mutation")
	}
}

// RecordFailure queues a failure event. It matches recovery.Listener.
func (j *Journal) RecordFailure(e types.FailureEvent) {
	select {
	case j.failures <- e:
	default:
		j.drop("failure event")
	}
}

// Dropped returns the number of entries lost to a full queue
func (j *Journal) Dropped() uint64 {
	return j.dropped.Load()
}

func (j *Journal) drop(kind string) {
	if n := j.dropped.Add(1); n == 1 || n%1000 == 0 {
		j.logger.Warn().Str("kind", kind).Uint64("dropped", n).Msg("Journal queue full, dropping entries")
	}
}

func encode(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return json.RawMessage(data)
}

func (j *Journal) run() {
	defer close(j.doneCh)

	for {
		select {
		case m := <-j.mutations:
			j.writeMutations(j.collect(m))
		case e := <-j.failures:
			j.writeFailure(e)
		case <-j.stopCh:
			j.flush()
			return
		}
	}
}

// collect gathers first plus whatever else is already queued
func (j *Journal) collect(first types.Mutation) []types.Mutation {
	batch := []types.Mutation{first}
	for len(batch) < batchSize {
		select {
		case m := <-j.mutations:
			batch = append(batch, m)
		default:
			return batch
		}
	}
	return batch
}

func (j *Journal) flush() {
	for {
		select {
		case m := <-j.mutations:
			j.writeMutations(j.collect(m))
		case e := <-j.failures:
			j.writeFailure(e)
		default:
			return
		}
	}
}

// writeMutations journals a batch. Heartbeats are not kept as history:
// only the latest per module is stored.
func (j *Journal) writeMutations(batch []types.Mutation) {
	mutations := batch[:0]
	heartbeats := make(map[string]types.HeartbeatRecord)
	for _, m := range batch {
		if m.Namespace != types.NamespaceModuleHeartbeats {
			mutations = append(mutations, m)
			continue
		}
		raw, ok := m.NewValue.(json.RawMessage)
		if !ok {
			continue
		}
		var hb types.HeartbeatRecord
		if err := json.Unmarshal(raw, &hb); err == nil {
			heartbeats[m.Key] = hb
		}
	}

	if err := j.store.AppendMutations(mutations); err != nil {
		j.logger.Error().Err(err).Int("count", len(mutations)).Msg("Failed to journal mutations")
	}
	if err := j.store.PutHeartbeats(heartbeats); err != nil {
		j.logger.Error().Err(err).Int("count", len(heartbeats)).Msg("Failed to journal heartbeats")
	}
}

func (j *Journal) writeFailure(e types.FailureEvent) {
	if err := j.store.AppendFailureEvent(e); err != nil {
		j.logger.Error().Err(err).Str("module", e.ModuleName).Msg("Failed to journal failure event")
	}
}
