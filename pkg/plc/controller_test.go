package plc

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goplc-io/goplc/pkg/api"
	"github.com/goplc-io/goplc/pkg/config"
	"github.com/goplc-io/goplc/pkg/ctxstore"
	"github.com/goplc-io/goplc/pkg/sched"
)

const testDoc = `
version: 1
name: testctl
description: controller under test

context:
  serialize: true
  fields:
    fan: BOOL
    temp: REAL
    setpoint: REAL

io:
  - id: bus1
    kind: pointbus
    config: {action_pool_size: 1, queue_size: 8}
    input:
      - action_map: [{point: "setpoint.write", value: setpoint}]
    output:
      - point_map: [{point: "plant.temp", value: temp}]
        sync: 20ms
`

// capturePub records published observable points.
type capturePub struct {
	mu  sync.Mutex
	got map[string]any
}

func (p *capturePub) Publish(_ context.Context, point string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.got == nil {
		p.got = make(map[string]any)
	}
	p.got[point] = v
	return nil
}

func (p *capturePub) value(point string) (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.got[point]
	return v, ok
}

func newTestController(t *testing.T) *Controller {
	t.Helper()
	t.Setenv("PLC_VAR_DIR", t.TempDir())

	cfg, err := config.Parse([]byte(testDoc))
	require.NoError(t, err)
	c, err := New(cfg, "1.0.0-test")
	require.NoError(t, err)
	return c
}

func runController(t *testing.T, c *Controller) <-chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return c.Status() == sched.StatusActive
	}, 2*time.Second, 5*time.Millisecond)
	t.Cleanup(func() {
		if c.Status() == sched.StatusStopped {
			return
		}
		c.Stop("test cleanup")
		select {
		case <-errCh:
		case <-time.After(5 * time.Second):
		}
	})
	return errCh
}

func TestControllerLifecycle(t *testing.T) {
	c := newTestController(t)

	var hookRan bool
	c.OnShutdown(func(context.Context) { hookRan = true })

	require.NoError(t, c.RegisterProgram("control", 10*time.Millisecond, programSetTemp))

	errCh := runController(t, c)
	assert.FileExists(t, c.pidPath)

	c.Stop("done")
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return")
	}

	assert.True(t, hookRan)
	assert.Equal(t, sched.StatusStopped, c.Status())
	assert.NoFileExists(t, c.pidPath)
}

func programSetTemp(_ context.Context, store *ctxstore.Store) error {
	h := store.MustResolve("temp")
	store.Update(func(tx *ctxstore.Txn) {
		tx.SetF32(h, 21.5)
	})
	return nil
}

func TestControlSocket(t *testing.T) {
	c := newTestController(t)
	runController(t, c)

	client, err := api.Dial(c.SocketPath())
	require.NoError(t, err)
	defer client.Close()

	info, err := client.Info()
	require.NoError(t, err)
	assert.Equal(t, "testctl", info.Name)
	assert.Equal(t, SystemName, info.SystemName)
	assert.Equal(t, "1.0.0-test", info.Version)
	assert.Equal(t, "ACTIVE", info.Status)
	assert.Equal(t, os.Getpid(), info.PID)
}

func TestActionAndPublish(t *testing.T) {
	c := newTestController(t)
	require.NoError(t, c.RegisterProgram("control", 10*time.Millisecond, programSetTemp))

	pub := &capturePub{}
	require.NoError(t, c.SetPublisher("bus1", pub))
	runController(t, c)

	// Remote action lands in the context.
	_, err := c.InvokeAction("bus1", "setpoint.write", 19.5)
	require.NoError(t, err)

	h := c.Store().MustResolve("setpoint")
	require.Eventually(t, func() bool {
		return c.Store().Get(h) == float32(19.5)
	}, 2*time.Second, 5*time.Millisecond)

	// The program's value reaches the publisher.
	require.Eventually(t, func() bool {
		v, ok := pub.value("plant.temp")
		return ok && v == float32(21.5)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestInvokeActionUnknownBlock(t *testing.T) {
	c := newTestController(t)
	_, err := c.InvokeAction("nope", "setpoint.write", 1.0)
	require.Error(t, err)
}

func TestNewRejectsUnresolvedMapping(t *testing.T) {
	t.Setenv("PLC_VAR_DIR", t.TempDir())

	bad := []byte(`
version: 1
name: badctl
context:
  fields:
    fan: BOOL
io:
  - id: bus1
    kind: pointbus
    config: {}
    input:
      - action_map: [{point: "x", value: missing}]
`)
	cfg, err := config.Parse(bad)
	require.NoError(t, err)

	_, err = New(cfg, "")
	require.Error(t, err)
	assert.ErrorContains(t, err, "io[0].input[0].action_map[0]")
}

func TestSnapshotRoundTrip(t *testing.T) {
	c := newTestController(t)

	h := c.Store().MustResolve("setpoint")
	require.NoError(t, c.Store().Set(h, float32(17.25)))

	path := t.TempDir() + "/state.plcdat"
	require.NoError(t, c.SaveSnapshot(path))

	c2 := newTestController(t)
	require.NoError(t, c2.LoadSnapshot(path))
	assert.Equal(t, float32(17.25), c2.Store().Get(c2.Store().MustResolve("setpoint")))

	// A missing snapshot file is silently ignored.
	assert.NoError(t, c2.LoadSnapshot(path+".absent"))
}
