package statebus

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cuemby/rover/pkg/log"
	"github.com/cuemby/rover/pkg/metrics"
	"github.com/cuemby/rover/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultHistorySize is the number of mutations retained per namespace
const DefaultHistorySize = 100

// Callback is invoked after a write with the namespace, key and new value
type Callback func(namespace, key string, value interface{})

// Persister receives every mutation after it has been applied.
// Implementations must not block.
type Persister interface {
	Record(m types.Mutation)
}

type subscription struct {
	id uint64
	cb Callback
}

// Bus is a namespaced, concurrently accessed key/value store with
// synchronous change notification. Each namespace has its own lock.
type Bus struct {
	mu         sync.RWMutex
	namespaces map[string]*namespace
	global     []subscription
	persister  Persister

	historySize int
	nextID      atomic.Uint64
	logger      zerolog.Logger
}

// New creates a bus with the default namespaces already present
func New() *Bus {
	b := &Bus{
		namespaces:  make(map[string]*namespace),
		historySize: DefaultHistorySize,
		logger:      log.WithComponent("statebus"),
	}
	for _, name := range types.DefaultNamespaces {
		b.namespace(name)
	}
	return b
}

// SetPersister attaches a best-effort journal to the bus
func (b *Bus) SetPersister(p Persister) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.persister = p
}

// namespace returns the named namespace, creating it on first access
func (b *Bus) namespace(name string) *namespace {
	b.mu.RLock()
	ns, ok := b.namespaces[name]
	b.mu.RUnlock()
	if ok {
		return ns
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if ns, ok = b.namespaces[name]; ok {
		return ns
	}
	ns = newNamespace(name, b.historySize)
	b.namespaces[name] = ns
	return ns
}

// Update writes value under key and notifies subscribers.
//
// The namespace lock is held only for the write itself. Namespace
// subscribers run first, then global subscribers, each in registration
// order, on the calling goroutine. A write issued by a callback into the
// namespace it is being notified for is rejected.
func (b *Bus) Update(namespace, key string, value interface{}) {
	ns := b.namespace(namespace)

	var gid uint64
	if ns.dispatching() {
		gid = goid()
		if ns.dispatchingOn(gid) {
			metrics.BusReentrantWritesTotal.WithLabelValues(namespace).Inc()
			b.logger.Error().
				Str("namespace", namespace).
				Str("key", key).
				Msg("Rejected reentrant write from subscriber callback")
			return
		}
	}

	m, subs := ns.set(key, value)
	metrics.BusUpdatesTotal.WithLabelValues(namespace).Inc()

	b.mu.RLock()
	persister := b.persister
	global := append([]subscription(nil), b.global...)
	b.mu.RUnlock()

	if persister != nil {
		persister.Record(m)
	}

	if len(subs) == 0 && len(global) == 0 {
		return
	}

	if gid == 0 {
		gid = goid()
	}
	ns.enter(gid)
	defer ns.exit(gid)

	for _, s := range subs {
		b.invoke(namespace, key, value, s)
	}
	for _, s := range global {
		b.invoke(namespace, key, value, s)
	}
}

func (b *Bus) invoke(namespace, key string, value interface{}, s subscription) {
	defer func() {
		if r := recover(); r != nil {
			metrics.BusSubscriberErrorsTotal.WithLabelValues(namespace).Inc()
			b.logger.Error().
				Str("namespace", namespace).
				Str("key", key).
				Interface("panic", r).
				Msg("Subscriber callback panicked")
		}
	}()
	s.cb(namespace, key, value)
}

// Get returns the value stored under key, or def when absent
func (b *Bus) Get(namespace, key string, def interface{}) interface{} {
	v, ok := b.namespace(namespace).get(key)
	if !ok {
		return def
	}
	return v
}

// Lookup returns the value stored under key and whether it was present
func (b *Bus) Lookup(namespace, key string) (interface{}, bool) {
	return b.namespace(namespace).get(key)
}

// GetAs returns the value under key converted to T. The second result is
// false when the key is absent or holds a value of another type.
func GetAs[T any](b *Bus, namespace, key string) (T, bool) {
	var zero T
	v, ok := b.Lookup(namespace, key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// Subscribe registers a callback for writes to one namespace. The returned
// function removes the subscription.
func (b *Bus) Subscribe(namespace string, cb Callback) func() {
	ns := b.namespace(namespace)
	id := b.nextID.Add(1)
	ns.subscribe(subscription{id: id, cb: cb})
	return func() { ns.unsubscribe(id) }
}

// SubscribeGlobal registers a callback for writes to every namespace
func (b *Bus) SubscribeGlobal(cb Callback) func() {
	id := b.nextID.Add(1)

	b.mu.Lock()
	b.global = append(b.global, subscription{id: id, cb: cb})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.global {
			if s.id == id {
				b.global = append(b.global[:i:i], b.global[i+1:]...)
				return
			}
		}
	}
}

// ClearNamespace removes every key from a namespace. The namespace and its
// subscribers survive.
func (b *Bus) ClearNamespace(namespace string) {
	m := b.namespace(namespace).clear()

	b.mu.RLock()
	persister := b.persister
	b.mu.RUnlock()
	if persister != nil {
		persister.Record(m)
	}

	b.logger.Debug().Str("namespace", namespace).Msg("Namespace cleared")
}

// History returns the retained mutations of a namespace, oldest first
func (b *Bus) History(namespace string) []types.Mutation {
	return b.namespace(namespace).historyCopy()
}

// Snapshot returns a copy of all keys and values in a namespace
func (b *Bus) Snapshot(namespace string) map[string]interface{} {
	return b.namespace(namespace).snapshot()
}

// Keys returns the sorted keys of a namespace
func (b *Bus) Keys(namespace string) []string {
	snap := b.Snapshot(namespace)
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of keys in a namespace
func (b *Bus) Len(namespace string) int {
	return b.namespace(namespace).len()
}

// Namespaces returns the sorted names of all namespaces created so far
func (b *Bus) Namespaces() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.namespaces))
	for name := range b.namespaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
