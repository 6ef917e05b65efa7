package statebus

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/rover/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCreatesDefaultNamespaces(t *testing.T) {
	b := New()
	for _, ns := range types.DefaultNamespaces {
		assert.Contains(t, b.Namespaces(), ns)
	}
}

func TestGetReturnsDefaultWhenAbsent(t *testing.T) {
	b := New()
	assert.Equal(t, 42, b.Get("scratch", "missing", 42))
	assert.Contains(t, b.Namespaces(), "scratch", "namespace created lazily on first access")

	b.Update("scratch", "k", "v")
	assert.Equal(t, "v", b.Get("scratch", "k", nil))
}

func TestGetAs(t *testing.T) {
	b := New()
	b.Update(types.NamespaceSensorState, "x", 1.5)

	v, ok := GetAs[float64](b, types.NamespaceSensorState, "x")
	require.True(t, ok)
	assert.Equal(t, 1.5, v)

	_, ok = GetAs[string](b, types.NamespaceSensorState, "x")
	assert.False(t, ok, "wrong type")

	_, ok = GetAs[float64](b, types.NamespaceSensorState, "y")
	assert.False(t, ok, "missing key")
}

func TestCrossGoroutineReadAfterWrite(t *testing.T) {
	b := New()
	written := make(chan struct{})

	go func() {
		b.Update(types.NamespaceSensorState, "x", 7)
		close(written)
	}()

	<-written
	assert.Equal(t, 7, b.Get(types.NamespaceSensorState, "x", nil))
}

func TestConcurrentWritesAreLinearizable(t *testing.T) {
	b := New()
	const writers = 16
	const perWriter = 200

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				b.Update("lin", fmt.Sprintf("w%d", w), i)
				b.Get("lin", fmt.Sprintf("w%d", (w+1)%writers), nil)
			}
		}(w)
	}
	wg.Wait()

	for w := 0; w < writers; w++ {
		assert.Equal(t, perWriter-1, b.Get("lin", fmt.Sprintf("w%d", w), nil))
	}

	// every retained mutation for a key carries the value it replaced
	last := map[string]interface{}{}
	for _, m := range b.History("lin") {
		if prev, seen := last[m.Key]; seen {
			assert.Equal(t, prev, m.OldValue)
		}
		last[m.Key] = m.NewValue
	}
}

func TestSubscribersOrderAndValues(t *testing.T) {
	b := New()
	var order []string

	b.Subscribe("orders", func(ns, key string, value interface{}) {
		order = append(order, "ns1:"+key)
	})
	b.SubscribeGlobal(func(ns, key string, value interface{}) {
		if ns == "orders" {
			order = append(order, "global:"+key)
		}
	})
	b.Subscribe("orders", func(ns, key string, value interface{}) {
		assert.Equal(t, "orders", ns)
		assert.Equal(t, 3, value)
		order = append(order, "ns2:"+key)
	})

	b.Update("orders", "k", 3)

	assert.Equal(t, []string{"ns1:k", "ns2:k", "global:k"}, order)
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	var calls atomic.Int32

	unsub := b.Subscribe("u", func(string, string, interface{}) { calls.Add(1) })
	unsubGlobal := b.SubscribeGlobal(func(string, string, interface{}) { calls.Add(1) })

	b.Update("u", "a", 1)
	unsub()
	unsubGlobal()
	b.Update("u", "a", 2)

	assert.Equal(t, int32(2), calls.Load())
}

func TestCallbackPanicDoesNotReachWriter(t *testing.T) {
	b := New()
	var after bool

	b.Subscribe("p", func(string, string, interface{}) { panic("boom") })
	b.Subscribe("p", func(string, string, interface{}) { after = true })

	assert.NotPanics(t, func() { b.Update("p", "k", 1) })
	assert.True(t, after, "later subscribers still run")
	assert.Equal(t, 1, b.Get("p", "k", nil))
}

func TestCallbackMayReadDuringDispatch(t *testing.T) {
	b := New()
	var seen interface{}

	b.Subscribe("r", func(ns, key string, _ interface{}) {
		seen = b.Get(ns, key, nil)
	})
	b.Update("r", "k", "fresh")

	assert.Equal(t, "fresh", seen)
}

func TestReentrantWriteIsRejected(t *testing.T) {
	b := New()
	var calls int

	b.Subscribe("loop", func(ns, key string, value interface{}) {
		calls++
		b.Update(ns, key, value.(int)+1)
	})

	done := make(chan struct{})
	go func() {
		b.Update("loop", "n", 0)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reentrant write deadlocked")
	}

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, b.Get("loop", "n", nil))
}

func TestCallbackMayWriteOtherNamespace(t *testing.T) {
	b := New()

	b.Subscribe("src", func(_, key string, value interface{}) {
		b.Update("dst", key, value)
	})
	b.Update("src", "k", "copied")

	assert.Equal(t, "copied", b.Get("dst", "k", nil))
}

func TestOtherGoroutineMayWriteDuringDispatch(t *testing.T) {
	b := New()
	release := make(chan struct{})
	entered := make(chan struct{})

	b.Subscribe("busy", func(_, key string, _ interface{}) {
		if key == "slow" {
			close(entered)
			<-release
		}
	})

	go b.Update("busy", "slow", 1)
	<-entered

	b.Update("busy", "other", 2)
	assert.Equal(t, 2, b.Get("busy", "other", nil))
	close(release)
}

func TestClearNamespaceKeepsSubscribers(t *testing.T) {
	b := New()
	var calls atomic.Int32
	b.Subscribe("c", func(string, string, interface{}) { calls.Add(1) })

	b.Update("c", "a", 1)
	b.Update("c", "b", 2)
	b.ClearNamespace("c")

	assert.Equal(t, 0, b.Len("c"))
	assert.Empty(t, b.Keys("c"))

	b.Update("c", "a", 3)
	assert.Equal(t, int32(3), calls.Load())

	hist := b.History("c")
	require.Len(t, hist, 4)
	assert.True(t, hist[2].Cleared)
	assert.Nil(t, hist[3].OldValue)
}

func TestHistoryIsBounded(t *testing.T) {
	b := New()
	for i := 0; i < DefaultHistorySize+25; i++ {
		b.Update("h", "k", i)
	}

	hist := b.History("h")
	require.Len(t, hist, DefaultHistorySize)
	assert.Equal(t, 25, hist[0].NewValue)
	assert.Equal(t, DefaultHistorySize+24, hist[len(hist)-1].NewValue)
}

func TestSnapshotIsACopy(t *testing.T) {
	b := New()
	b.Update("s", "a", 1)

	snap := b.Snapshot("s")
	snap["a"] = 99
	snap["b"] = 2

	assert.Equal(t, 1, b.Get("s", "a", nil))
	assert.Equal(t, []string{"a"}, b.Keys("s"))
}

type recordingPersister struct {
	mu        sync.Mutex
	mutations []types.Mutation
}

func (p *recordingPersister) Record(m types.Mutation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mutations = append(p.mutations, m)
}

func TestPersisterReceivesMutations(t *testing.T) {
	b := New()
	p := &recordingPersister{}
	b.SetPersister(p)

	b.Update("j", "a", 1)
	b.ClearNamespace("j")

	require.Len(t, p.mutations, 2)
	assert.Equal(t, "a", p.mutations[0].Key)
	assert.True(t, p.mutations[1].Cleared)
}

func TestGoid(t *testing.T) {
	main := goid()
	assert.NotZero(t, main)

	other := make(chan uint64)
	go func() { other <- goid() }()
	assert.NotEqual(t, main, <-other)
}
