package plc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/goplc-io/goplc/pkg/api"
	"github.com/goplc-io/goplc/pkg/config"
	"github.com/goplc-io/goplc/pkg/ctxstore"
	"github.com/goplc-io/goplc/pkg/log"
	"github.com/goplc-io/goplc/pkg/modbusio"
	"github.com/goplc-io/goplc/pkg/opcuaio"
	"github.com/goplc-io/goplc/pkg/pointbus"
	"github.com/goplc-io/goplc/pkg/sched"
)

// SystemName identifies the runtime in the control API.
const SystemName = "goplc"

// defaultVarDir holds sockets and pid files unless PLC_VAR_DIR
// overrides it.
const defaultVarDir = "/var/run/goplc"

// Program is one cyclic program body. It runs on its own period with
// the shared context store.
type Program func(ctx context.Context, store *ctxstore.Store) error

// Controller is one configured PLC runtime.
type Controller struct {
	cfg     *config.Config
	version string

	logger  log.Logger
	fileLog *log.FileLogger
	sl      *slog.Logger

	store *ctxstore.Store
	sup   *sched.Supervisor

	servers []*servedModbus
	mbConns []modbusio.Closer
	uaConns []*opcuaio.Session
	buses   map[string]*busSet

	apiSrv   *api.Server
	sockPath string
	pidPath  string

	mu         sync.Mutex
	onShutdown []func(context.Context)
	startedAt  time.Time
	running    bool

	stopOnce sync.Once
	stopCh   chan string
}

// servedModbus is one locally served register image and its listen
// address.
type servedModbus struct {
	srv    *modbusio.Server
	listen string
}

// busSet is the runtime of one pointbus block: the action bus fed by
// remote invocations and one publishing bus per output group.
type busSet struct {
	action  *pointbus.Bus
	outputs []*pointbus.Bus

	mu  sync.RWMutex
	pub pointbus.Publisher
}

func (s *busSet) publisher() pointbus.Publisher {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pub
}

// New builds a controller from a validated configuration. All mappings
// resolve here; a failure names the offending entry.
func New(cfg *config.Config, version string) (*Controller, error) {
	if version == "" {
		version = "dev"
	}
	c := &Controller{
		cfg:     cfg,
		version: version,
		buses:   make(map[string]*busSet),
		stopCh:  make(chan string, 1),
	}

	if err := c.buildLoggers(); err != nil {
		return nil, err
	}

	schema, err := cfg.Schema()
	if err != nil {
		return nil, err
	}
	c.store, err = ctxstore.Declare(schema, cfg.Context.Serialize)
	if err != nil {
		return nil, fmt.Errorf("plc: declare context: %w", err)
	}

	c.sup = sched.New(c.logger, cfg.Core.StopTimeout.Duration())
	c.sup.OnStopping(c.runShutdownHooks)
	c.sup.OnForceStop(func(msg string) {
		c.logState("FORCE STOP", msg)
		c.sl.Error("force stop", "reason", msg)
		os.Exit(1)
	})

	if err := c.buildServers(); err != nil {
		return nil, err
	}
	if err := c.buildIO(); err != nil {
		return nil, err
	}

	dir, err := varDir()
	if err != nil {
		return nil, err
	}
	c.sockPath = filepath.Join(dir, cfg.Name+".plcsock")
	c.pidPath = filepath.Join(dir, cfg.Name+".pid")
	if cfg.API.On() {
		c.apiSrv = api.NewServer(c.sockPath, c, c.logger)
	}
	return c, nil
}

func (c *Controller) buildLoggers() error {
	var sinks []log.Logger
	if path := c.cfg.Log.File; path != "" {
		fl, err := log.NewFileLogger(path)
		if err != nil {
			return fmt.Errorf("plc: open event log: %w", err)
		}
		c.fileLog = fl
		sinks = append(sinks, fl)
	}
	if c.cfg.Log.Console {
		c.sl = slog.New(slog.NewTextHandler(os.Stderr, nil))
		sinks = append(sinks, log.NewSlogAdapter(c.sl))
	} else {
		c.sl = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	switch len(sinks) {
	case 0:
		c.logger = &log.NoopLogger{}
	case 1:
		c.logger = sinks[0]
	default:
		c.logger = log.NewMultiLogger(sinks...)
	}
	return nil
}

// Store returns the process context store.
func (c *Controller) Store() *ctxstore.Store { return c.store }

// Modbus returns the first served register image, or nil when no
// server block is configured.
func (c *Controller) Modbus() *modbusio.Server {
	if len(c.servers) == 0 {
		return nil
	}
	return c.servers[0].srv
}

// SocketPath returns the control socket path.
func (c *Controller) SocketPath() string { return c.sockPath }

// RegisterProgram adds a cyclic program. Programs must be registered
// before Run.
func (c *Controller) RegisterProgram(name string, interval time.Duration, fn Program) error {
	_, err := c.sup.Add(name, sched.KindProgram, interval, func(ctx context.Context) error {
		return fn(ctx, c.store)
	})
	return err
}

// OnShutdown registers a hook that runs once during shutdown, after
// inputs and programs stopped and before the final output transfer.
func (c *Controller) OnShutdown(fn func(ctx context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onShutdown = append(c.onShutdown, fn)
}

func (c *Controller) runShutdownHooks() {
	c.mu.Lock()
	hooks := c.onShutdown
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for _, fn := range hooks {
		fn(ctx)
	}
}

// LogStatsEvery adds a service task that reports the per-task cycle
// statistics on the operational log. Must be called before Run.
func (c *Controller) LogStatsEvery(interval time.Duration) error {
	_, err := c.sup.Add("stats", sched.KindService, interval, func(context.Context) error {
		for _, st := range c.sup.Stats() {
			c.sl.Info("task stats",
				"task", st.Name,
				"cycles", st.Cycles,
				"overruns", st.Overruns,
				"errors", st.Errors,
				"jitter_last", st.JitterLast,
				"jitter_avg", st.JitterAvg,
			)
		}
		return nil
	})
	return err
}

// SetPublisher connects the pointbus block to its downstream
// publisher. Until a publisher is set, the block's publish cycles do
// nothing.
func (c *Controller) SetPublisher(blockID string, pub pointbus.Publisher) error {
	set, ok := c.buses[blockID]
	if !ok {
		return fmt.Errorf("plc: no pointbus block %q", blockID)
	}
	set.mu.Lock()
	set.pub = pub
	set.mu.Unlock()
	return nil
}

// InvokeAction queues one action invocation on a pointbus block.
func (c *Controller) InvokeAction(blockID, point string, value any) (uuid.UUID, error) {
	set, ok := c.buses[blockID]
	if !ok || set.action == nil {
		return uuid.Nil, fmt.Errorf("plc: no pointbus block %q: %w", blockID, pointbus.ErrUnknownPoint)
	}
	return set.action.InvokeAction(point, value)
}

// SaveSnapshot writes all context values to path in CBOR.
func (c *Controller) SaveSnapshot(path string) error {
	data, err := c.store.Snapshot()
	if err != nil {
		return fmt.Errorf("plc: snapshot: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadSnapshot restores context values from a snapshot file. A missing
// file is not an error.
func (c *Controller) LoadSnapshot(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("plc: read snapshot: %w", err)
	}
	if err := c.store.Restore(data); err != nil {
		return fmt.Errorf("plc: restore snapshot: %w", err)
	}
	return nil
}

// Status returns the current lifecycle status.
func (c *Controller) Status() sched.Status { return c.sup.Status() }

// Stop requests a graceful shutdown of a running controller.
func (c *Controller) Stop(reason string) {
	c.stopOnce.Do(func() { c.stopCh <- reason })
}

// Run starts everything and blocks until a stop request, SIGINT or
// SIGTERM, then drives the shutdown sequence. It returns ErrForceStop
// when the stop timeout expired (unless the force-stop handler exited
// the process first).
func (c *Controller) Run(ctx context.Context) error {
	if n := c.cfg.Core.CPUs; n > 0 {
		runtime.GOMAXPROCS(n)
	}

	if err := c.writePidFile(); err != nil {
		return err
	}
	defer os.Remove(c.pidPath)
	defer c.closeAll()

	for _, s := range c.servers {
		if err := s.srv.ListenTCP(s.listen); err != nil {
			return err
		}
	}
	if c.apiSrv != nil {
		if err := c.apiSrv.Start(); err != nil {
			return err
		}
	}

	// Tasks keep running through the graceful shutdown sequence, so
	// their context must survive a cancellation of the caller's.
	taskCtx := context.WithoutCancel(ctx)
	for _, set := range c.buses {
		if set.action != nil {
			if err := set.action.Start(taskCtx); err != nil {
				return err
			}
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if err := c.sup.Start(taskCtx); err != nil {
		return err
	}
	c.mu.Lock()
	c.startedAt = time.Now()
	c.running = true
	c.mu.Unlock()
	c.sl.Info("controller active", "name", c.cfg.Name, "version", c.version)

	var reason string
	select {
	case <-ctx.Done():
		reason = "context canceled"
	case sig := <-sigCh:
		reason = sig.String()
	case reason = <-c.stopCh:
	}
	c.sl.Info("stopping", "reason", reason)

	err := c.sup.Stop(reason)
	for _, set := range c.buses {
		if set.action != nil {
			set.action.Stop()
		}
	}
	return err
}

func (c *Controller) closeAll() {
	if c.apiSrv != nil {
		_ = c.apiSrv.Close()
	}
	for _, s := range c.servers {
		_ = s.srv.Close()
	}
	for _, cl := range c.mbConns {
		_ = cl.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for _, s := range c.uaConns {
		_ = s.Close(ctx)
	}
	if c.fileLog != nil {
		_ = c.fileLog.Close()
	}
}

func (c *Controller) writePidFile() error {
	pid := fmt.Sprintf("%d\n", os.Getpid())
	if err := os.WriteFile(c.pidPath, []byte(pid), 0o644); err != nil {
		return fmt.Errorf("plc: write pid file: %w", err)
	}
	return nil
}

func (c *Controller) logState(newState, reason string) {
	c.logger.Log(log.Event{
		Timestamp: time.Now(),
		Source:    log.SourceScheduler,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityController,
			NewState: newState,
			Reason:   reason,
		},
	})
}

// Info implements the control API backend.
func (c *Controller) Info() api.Info {
	c.mu.Lock()
	started := c.startedAt
	running := c.running
	c.mu.Unlock()

	var uptime time.Duration
	if running {
		uptime = time.Since(started)
	}
	return api.Info{
		SystemName:  SystemName,
		Name:        c.cfg.Name,
		Description: c.cfg.Description,
		Version:     c.version,
		Status:      c.sup.Status().String(),
		PID:         os.Getpid(),
		Uptime:      uptime,
	}
}

// TaskStats implements the control API backend.
func (c *Controller) TaskStats() []sched.TaskStats { return c.sup.Stats() }

// ResetTaskStats implements the control API backend.
func (c *Controller) ResetTaskStats() { c.sup.ResetStats() }

// varDir returns the runtime directory for sockets and pid files,
// creating it if needed. PLC_VAR_DIR overrides the default.
func varDir() (string, error) {
	dir := os.Getenv("PLC_VAR_DIR")
	if dir == "" {
		dir = defaultVarDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("plc: create var dir: %w", err)
	}
	return dir, nil
}
