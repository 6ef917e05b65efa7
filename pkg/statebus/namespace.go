package statebus

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/rover/pkg/types"
)

type namespace struct {
	name string

	mu      sync.RWMutex
	data    map[string]interface{}
	history []types.Mutation
	limit   int
	subs    []subscription

	// goroutines currently delivering callbacks for this namespace
	dmu         sync.Mutex
	dispatchers map[uint64]int
}

func newNamespace(name string, limit int) *namespace {
	return &namespace{
		name:        name,
		data:        make(map[string]interface{}),
		limit:       limit,
		dispatchers: make(map[uint64]int),
	}
}

func (ns *namespace) set(key string, value interface{}) (types.Mutation, []subscription) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	m := types.Mutation{
		Namespace: ns.name,
		Key:       key,
		OldValue:  ns.data[key],
		NewValue:  value,
		Timestamp: time.Now(),
	}
	ns.data[key] = value
	ns.record(m)

	var subs []subscription
	if len(ns.subs) > 0 {
		subs = append(subs, ns.subs...)
	}
	return m, subs
}

func (ns *namespace) get(key string) (interface{}, bool) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	v, ok := ns.data[key]
	return v, ok
}

func (ns *namespace) clear() types.Mutation {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	ns.data = make(map[string]interface{})
	m := types.Mutation{
		Namespace: ns.name,
		Cleared:   true,
		Timestamp: time.Now(),
	}
	ns.record(m)
	return m
}

// record appends to the bounded history. Caller holds mu.
func (ns *namespace) record(m types.Mutation) {
	ns.history = append(ns.history, m)
	if over := len(ns.history) - ns.limit; over > 0 {
		ns.history = append(ns.history[:0:0], ns.history[over:]...)
	}
}

func (ns *namespace) historyCopy() []types.Mutation {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return append([]types.Mutation(nil), ns.history...)
}

func (ns *namespace) snapshot() map[string]interface{} {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	out := make(map[string]interface{}, len(ns.data))
	for k, v := range ns.data {
		out[k] = v
	}
	return out
}

func (ns *namespace) len() int {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return len(ns.data)
}

func (ns *namespace) subscribe(s subscription) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.subs = append(ns.subs, s)
}

func (ns *namespace) unsubscribe(id uint64) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	for i, s := range ns.subs {
		if s.id == id {
			ns.subs = append(ns.subs[:i:i], ns.subs[i+1:]...)
			return
		}
	}
}

func (ns *namespace) enter(gid uint64) {
	ns.dmu.Lock()
	ns.dispatchers[gid]++
	ns.dmu.Unlock()
}

func (ns *namespace) exit(gid uint64) {
	ns.dmu.Lock()
	if ns.dispatchers[gid] <= 1 {
		delete(ns.dispatchers, gid)
	} else {
		ns.dispatchers[gid]--
	}
	ns.dmu.Unlock()
}

func (ns *namespace) dispatching() bool {
	ns.dmu.Lock()
	defer ns.dmu.Unlock()
	return len(ns.dispatchers) > 0
}

func (ns *namespace) dispatchingOn(gid uint64) bool {
	ns.dmu.Lock()
	defer ns.dmu.Unlock()
	return ns.dispatchers[gid] > 0
}

var goroutinePrefix = []byte("goroutine ")

// goid returns the id of the calling goroutine
func goid() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], goroutinePrefix)
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}
