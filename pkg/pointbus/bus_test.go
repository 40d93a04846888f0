package pointbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goplc-io/goplc/pkg/ctxstore"
)

func testStore(t *testing.T) *ctxstore.Store {
	t.Helper()
	s, err := ctxstore.Declare(ctxstore.StructOf(
		ctxstore.Field{Name: "setpoint", Type: ctxstore.Prim(ctxstore.KindFloat32)},
		ctxstore.Field{Name: "fan", Type: ctxstore.Prim(ctxstore.KindBool)},
		ctxstore.Field{Name: "temp_out", Type: ctxstore.Prim(ctxstore.KindFloat32)},
		ctxstore.Field{Name: "mode", Type: ctxstore.Prim(ctxstore.KindUint8)},
	), true)
	require.NoError(t, err)
	return s
}

// memPublisher records published point values.
type memPublisher struct {
	mu     sync.Mutex
	values map[string][]any
	err    error
}

func newMemPublisher() *memPublisher {
	return &memPublisher{values: make(map[string][]any)}
}

func (p *memPublisher) Publish(_ context.Context, point string, value any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.values[point] = append(p.values[point], value)
	return nil
}

func (p *memPublisher) count(point string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.values[point])
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestInvokeActionAppliesValue(t *testing.T) {
	store := testStore(t)
	bus := New(store, nil, Options{})
	require.NoError(t, bus.MapAction("hvac/setpoint", store.MustResolve("setpoint")))

	require.NoError(t, bus.Start(context.Background()))
	defer bus.Stop()

	id, err := bus.InvokeAction("hvac/setpoint", float64(21.5))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)

	waitFor(t, func() bool {
		return store.Get(store.MustResolve("setpoint")) == float32(21.5)
	})
}

func TestInvokeActionCoercesIntegers(t *testing.T) {
	store := testStore(t)
	bus := New(store, nil, Options{})
	require.NoError(t, bus.MapAction("hvac/mode", store.MustResolve("mode")))

	require.NoError(t, bus.Start(context.Background()))
	defer bus.Stop()

	_, err := bus.InvokeAction("hvac/mode", int64(3))
	require.NoError(t, err)

	waitFor(t, func() bool {
		return store.Get(store.MustResolve("mode")) == uint8(3)
	})
}

func TestInvokeActionUnknownPoint(t *testing.T) {
	store := testStore(t)
	bus := New(store, nil, Options{})
	require.NoError(t, bus.Start(context.Background()))
	defer bus.Stop()

	_, err := bus.InvokeAction("nope", true)
	assert.ErrorIs(t, err, ErrUnknownPoint)
}

func TestInvokeActionWhenNotRunning(t *testing.T) {
	store := testStore(t)
	bus := New(store, nil, Options{Workers: 1, QueueSize: 1})
	require.NoError(t, bus.MapAction("hvac/fan", store.MustResolve("fan")))

	// Not started: the queue exists only after Start.
	_, err := bus.InvokeAction("hvac/fan", true)
	assert.ErrorIs(t, err, ErrStopped)

	require.NoError(t, bus.Start(context.Background()))
	bus.Stop()

	_, err = bus.InvokeAction("hvac/fan", true)
	assert.ErrorIs(t, err, ErrStopped)
}

func TestOutOfRangeActionValueRejected(t *testing.T) {
	store := testStore(t)
	bus := New(store, nil, Options{})
	require.NoError(t, bus.MapAction("hvac/mode", store.MustResolve("mode")))

	require.NoError(t, bus.Start(context.Background()))

	_, err := bus.InvokeAction("hvac/mode", int64(300))
	require.NoError(t, err) // queued fine, rejected on apply

	bus.Stop()
	assert.Equal(t, uint8(0), store.Get(store.MustResolve("mode")))
}

func TestDuplicateMappingsRejected(t *testing.T) {
	store := testStore(t)
	bus := New(store, nil, Options{})

	require.NoError(t, bus.MapAction("a", store.MustResolve("fan")))
	assert.Error(t, bus.MapAction("a", store.MustResolve("fan")))

	require.NoError(t, bus.MapPoint("p", store.MustResolve("temp_out")))
	assert.Error(t, bus.MapPoint("p", store.MustResolve("temp_out")))
}

func TestPublishAllWithSuppression(t *testing.T) {
	store := testStore(t)
	bus := New(store, nil, Options{CacheTTL: time.Hour})
	require.NoError(t, bus.MapPoint("hvac/temp_out", store.MustResolve("temp_out")))
	require.NoError(t, bus.MapPoint("hvac/fan", store.MustResolve("fan")))

	pub := newMemPublisher()

	n, err := bus.PublishAll(context.Background(), pub)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Unchanged: fully suppressed.
	n, err = bus.PublishAll(context.Background(), pub)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// One point changed: only it publishes again.
	require.NoError(t, store.Set(store.MustResolve("temp_out"), float32(19)))
	n, err = bus.PublishAll(context.Background(), pub)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, pub.count("hvac/temp_out"))
	assert.Equal(t, 1, pub.count("hvac/fan"))
}

func TestPublishFailureRetriesNextCycle(t *testing.T) {
	store := testStore(t)
	bus := New(store, nil, Options{CacheTTL: time.Hour})
	require.NoError(t, bus.MapPoint("hvac/fan", store.MustResolve("fan")))

	pub := newMemPublisher()
	pub.err = errors.New("broker down")

	_, err := bus.PublishAll(context.Background(), pub)
	require.Error(t, err)

	pub.err = nil
	n, err := bus.PublishAll(context.Background(), pub)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPointListings(t *testing.T) {
	store := testStore(t)
	bus := New(store, nil, Options{})
	require.NoError(t, bus.MapPoint("b", store.MustResolve("fan")))
	require.NoError(t, bus.MapPoint("a", store.MustResolve("temp_out")))
	require.NoError(t, bus.MapAction("z", store.MustResolve("setpoint")))
	require.NoError(t, bus.MapAction("y", store.MustResolve("mode")))

	assert.Equal(t, []string{"b", "a"}, bus.Points())
	assert.Equal(t, []string{"y", "z"}, bus.Actions())
}
