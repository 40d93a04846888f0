package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/goplc-io/goplc/pkg/ctxstore"
	"github.com/goplc-io/goplc/pkg/modbusio"
)

// ErrConfig is wrapped by all configuration errors.
var ErrConfig = errors.New("invalid configuration")

// Interval is a duration declared as an interval literal ("100ms",
// "2s", bare integer = seconds). It decodes from YAML scalars.
type Interval time.Duration

// Duration returns the interval as a time.Duration.
func (i Interval) Duration() time.Duration { return time.Duration(i) }

// Offset is a register offset spec, either relative ("12", "2+3") or
// absolute ("=10", "=10+8"). YAML integers decode as relative offsets.
type Offset string

// Config is the root of the YAML document.
type Config struct {
	Version     int    `yaml:"version"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	Core    Core          `yaml:"core"`
	Context Context       `yaml:"context"`
	Server  []ServerBlock `yaml:"server"`
	API     APIConfig     `yaml:"api"`
	Log     LogConfig     `yaml:"log"`
	IO      []IOBlock     `yaml:"io"`
}

// Core holds process level settings.
type Core struct {
	// StopTimeout bounds the graceful shutdown before the controller
	// force-stops. Zero keeps the runtime default.
	StopTimeout Interval `yaml:"stop_timeout"`

	// CPUs caps GOMAXPROCS when positive.
	CPUs int `yaml:"cpus"`
}

// Context declares the process context schema and locking mode.
type Context struct {
	// Serialize makes every transaction take a store-wide lock instead
	// of per-root-field locks.
	Serialize bool `yaml:"serialize"`

	// Modbus sizes the served register image. Required when a modbus
	// server block is configured.
	Modbus *ImageSizes `yaml:"modbus"`

	// Fields is the ordered field declaration tree. It is kept as a
	// raw node so declaration order survives decoding; Schema parses
	// it.
	Fields yaml.Node `yaml:"fields"`
}

// ImageSizes sizes the four register spaces of the served image.
type ImageSizes struct {
	Coils     int `yaml:"c"`
	Discretes int `yaml:"d"`
	Inputs    int `yaml:"i"`
	Holdings  int `yaml:"h"`
}

// ServerBlock declares one locally served endpoint.
type ServerBlock struct {
	Kind   string             `yaml:"kind"`
	Config ModbusServerConfig `yaml:"config"`
}

// ModbusServerConfig configures the served Modbus TCP endpoint.
type ModbusServerConfig struct {
	Proto   string   `yaml:"proto"`
	Listen  string   `yaml:"listen"`
	Unit    int      `yaml:"unit"`
	Timeout Interval `yaml:"timeout"`
	MaxConn int      `yaml:"maxconn"`
}

// APIConfig controls the control socket. The API is on unless
// explicitly disabled.
type APIConfig struct {
	Enabled *bool `yaml:"enabled"`
}

// On reports whether the control socket should be served.
func (a APIConfig) On() bool { return a.Enabled == nil || *a.Enabled }

// LogConfig selects the event log sinks.
type LogConfig struct {
	// File is the event log path. Empty disables the file sink.
	File string `yaml:"file"`

	// Console mirrors events to stderr in text form.
	Console bool `yaml:"console"`
}

// IOBlock declares one I/O block. Kind selects which parts of Config
// and of the group fields apply.
type IOBlock struct {
	ID     string      `yaml:"id"`
	Kind   string      `yaml:"kind"`
	Config BlockConfig `yaml:"config"`

	Input  []Group `yaml:"input"`
	Output []Group `yaml:"output"`
}

// BlockConfig is the union of the per-kind transport settings.
type BlockConfig struct {
	// Modbus client: proto is "tcp" or "rtu"; path is "host:port" or a
	// serial device.
	Proto    string   `yaml:"proto"`
	Path     string   `yaml:"path"`
	Timeout  Interval `yaml:"timeout"`
	BaudRate int      `yaml:"baud_rate"`
	DataBits int      `yaml:"data_bits"`
	Parity   string   `yaml:"parity"`
	StopBits int      `yaml:"stop_bits"`

	// OPC-UA session.
	URL              string      `yaml:"url"`
	TrustServerCerts bool        `yaml:"trust_server_certs"`
	Auth             *AuthConfig `yaml:"auth"`

	// Point bus.
	ActionPoolSize int `yaml:"action_pool_size"`
	QueueSize      int `yaml:"queue_size"`
}

// AuthConfig selects OPC-UA authentication. User/Password and
// CertFile/KeyFile are mutually exclusive; an absent auth block means
// anonymous.
type AuthConfig struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Group is one synchronized mapping group of a block.
type Group struct {
	// Reg is the register range for modbus groups, e.g. "h10-27" or
	// "h10" combined with Number.
	Reg string `yaml:"reg"`

	// Number expands a single-register Reg to a count.
	Number int `yaml:"number"`

	// Unit overrides the slave id. All groups of a block must agree.
	Unit int `yaml:"unit"`

	Sync  Interval `yaml:"sync"`
	Cache Interval `yaml:"cache"`

	// Map lists register mappings for modbus groups.
	Map []MapEntry `yaml:"map"`

	// Nodes lists node mappings for opcua groups.
	Nodes []NodeEntry `yaml:"nodes"`

	// ActionMap (input) and PointMap (output) list pointbus mappings.
	ActionMap []PointEntry `yaml:"action_map"`
	PointMap  []PointEntry `yaml:"point_map"`
}

// Range returns the effective register range of a modbus group.
func (g *Group) Range() (modbusio.Range, error) {
	r, err := modbusio.ParseRange(g.Reg)
	if err != nil {
		return modbusio.Range{}, err
	}
	if g.Number > 0 {
		if strings.ContainsRune(g.Reg, '-') {
			return modbusio.Range{}, fmt.Errorf("%w: number combined with explicit end in %q", modbusio.ErrRange, g.Reg)
		}
		if int(r.Start)+g.Number > 65536 {
			return modbusio.Range{}, fmt.Errorf("%w: %q number %d exceeds address space", modbusio.ErrRange, g.Reg, g.Number)
		}
		r.Count = uint16(g.Number)
	}
	return r, nil
}

// MapEntry binds an offset inside the group range to a context path.
// Input entries name a Target, output entries a Source.
type MapEntry struct {
	Offset Offset `yaml:"offset"`
	Target string `yaml:"target"`
	Source string `yaml:"source"`
}

// Path returns whichever of target and source is set.
func (m MapEntry) Path() string {
	if m.Target != "" {
		return m.Target
	}
	return m.Source
}

// NodeEntry binds an OPC-UA node to a context path.
type NodeEntry struct {
	ID  string `yaml:"id"`
	Map string `yaml:"map"`
}

// PointEntry binds a bus point name to a context path.
type PointEntry struct {
	Point string `yaml:"point"`
	Value string `yaml:"value"`
}

// UnmarshalYAML accepts interval literals and bare integers.
func (i *Interval) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("%w: interval must be a scalar", ErrConfig)
	}
	d, err := parseInterval(node.Value)
	if err != nil {
		return err
	}
	*i = Interval(d)
	return nil
}

// UnmarshalYAML accepts offset specs as strings or plain integers.
func (o *Offset) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("%w: offset must be a scalar", ErrConfig)
	}
	*o = Offset(node.Value)
	return nil
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes and validates one YAML document. Unknown keys are
// rejected.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Schema parses the declared context fields into a type tree.
func (c *Config) Schema() (*ctxstore.Type, error) {
	return parseSchema(&c.Context.Fields)
}

// Validate checks the document without resolving context paths.
func (c *Config) Validate() error {
	if c.Version != 1 {
		return fmt.Errorf("%w: unsupported version %d", ErrConfig, c.Version)
	}
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrConfig)
	}
	if _, err := c.Schema(); err != nil {
		return err
	}
	if sz := c.Context.Modbus; sz != nil {
		for _, n := range []int{sz.Coils, sz.Discretes, sz.Inputs, sz.Holdings} {
			if n < 0 || n > 65536 {
				return fmt.Errorf("%w: context.modbus: size %d out of range", ErrConfig, n)
			}
		}
	}

	for i := range c.Server {
		s := &c.Server[i]
		at := fmt.Sprintf("server[%d]", i)
		if s.Kind != "modbus" {
			return fmt.Errorf("%w: %s: unknown kind %q", ErrConfig, at, s.Kind)
		}
		if s.Config.Proto != "" && s.Config.Proto != "tcp" {
			return fmt.Errorf("%w: %s: unsupported proto %q", ErrConfig, at, s.Config.Proto)
		}
		if s.Config.Listen == "" {
			return fmt.Errorf("%w: %s: listen is required", ErrConfig, at)
		}
		if c.Context.Modbus == nil {
			return fmt.Errorf("%w: %s: requires context.modbus sizes", ErrConfig, at)
		}
	}

	seen := make(map[string]bool, len(c.IO))
	for i := range c.IO {
		b := &c.IO[i]
		at := fmt.Sprintf("io[%d]", i)
		if b.ID == "" {
			return fmt.Errorf("%w: %s: id is required", ErrConfig, at)
		}
		if seen[b.ID] {
			return fmt.Errorf("%w: %s: duplicate id %q", ErrConfig, at, b.ID)
		}
		seen[b.ID] = true

		var err error
		switch b.Kind {
		case "modbus":
			err = b.validateModbus(at)
		case "opcua":
			err = b.validateOPCUA(at)
		case "pointbus":
			err = b.validatePointBus(at)
		default:
			err = fmt.Errorf("%w: %s: unknown kind %q", ErrConfig, at, b.Kind)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// EffectiveUnit returns the slave id shared by the block's groups,
// defaulting to 1 when no group names one.
func (b *IOBlock) EffectiveUnit() byte {
	for _, g := range b.Input {
		if g.Unit > 0 {
			return byte(g.Unit)
		}
	}
	for _, g := range b.Output {
		if g.Unit > 0 {
			return byte(g.Unit)
		}
	}
	return 1
}

func (b *IOBlock) validateModbus(at string) error {
	switch b.Config.Proto {
	case "tcp", "rtu":
	case "":
		return fmt.Errorf("%w: %s: proto is required", ErrConfig, at)
	default:
		return fmt.Errorf("%w: %s: unsupported proto %q", ErrConfig, at, b.Config.Proto)
	}
	if b.Config.Path == "" {
		return fmt.Errorf("%w: %s: path is required", ErrConfig, at)
	}
	if len(b.Input) == 0 && len(b.Output) == 0 {
		return fmt.Errorf("%w: %s: no input or output groups", ErrConfig, at)
	}

	unit := 0
	checkUnit := func(g *Group, at string) error {
		if g.Unit < 0 || g.Unit > 255 {
			return fmt.Errorf("%w: %s: unit %d out of range", ErrConfig, at, g.Unit)
		}
		if g.Unit == 0 {
			return nil
		}
		if unit != 0 && unit != g.Unit {
			return fmt.Errorf("%w: %s: unit %d differs from the block's unit %d", ErrConfig, at, g.Unit, unit)
		}
		unit = g.Unit
		return nil
	}
	for gi := range b.Input {
		gat := fmt.Sprintf("%s.input[%d]", at, gi)
		if err := checkUnit(&b.Input[gi], gat); err != nil {
			return err
		}
		if err := b.Input[gi].validateModbus(gat, false); err != nil {
			return err
		}
	}
	for gi := range b.Output {
		gat := fmt.Sprintf("%s.output[%d]", at, gi)
		if err := checkUnit(&b.Output[gi], gat); err != nil {
			return err
		}
		if err := b.Output[gi].validateModbus(gat, true); err != nil {
			return err
		}
	}
	return nil
}

func (g *Group) validateModbus(at string, output bool) error {
	r, err := g.Range()
	if err != nil {
		return fmt.Errorf("%w: %s.reg: %v", ErrConfig, at, err)
	}
	if output && !r.Space.Writable() {
		return fmt.Errorf("%w: %s.reg: space %s is read-only", ErrConfig, at, r.Space)
	}
	if g.Sync <= 0 {
		return fmt.Errorf("%w: %s: sync interval is required", ErrConfig, at)
	}
	if !output && g.Cache > 0 {
		return fmt.Errorf("%w: %s: cache applies to output groups only", ErrConfig, at)
	}
	if len(g.Nodes) > 0 || len(g.ActionMap) > 0 || len(g.PointMap) > 0 {
		return fmt.Errorf("%w: %s: modbus groups take map entries only", ErrConfig, at)
	}
	if len(g.Map) == 0 {
		return fmt.Errorf("%w: %s: empty map", ErrConfig, at)
	}
	for mi, m := range g.Map {
		mat := fmt.Sprintf("%s.map[%d]", at, mi)
		if err := m.checkDirection(mat, output); err != nil {
			return err
		}
		if _, err := parseOffset(string(m.Offset), r); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrConfig, mat, err)
		}
	}
	return nil
}

// checkDirection enforces target on inputs and source on outputs.
func (m MapEntry) checkDirection(at string, output bool) error {
	if output {
		if m.Source == "" || m.Target != "" {
			return fmt.Errorf("%w: %s: output entries name a source", ErrConfig, at)
		}
		return nil
	}
	if m.Target == "" || m.Source != "" {
		return fmt.Errorf("%w: %s: input entries name a target", ErrConfig, at)
	}
	return nil
}

func (b *IOBlock) validateOPCUA(at string) error {
	if b.Config.URL == "" {
		return fmt.Errorf("%w: %s: url is required", ErrConfig, at)
	}
	if a := b.Config.Auth; a != nil {
		userAuth := a.User != ""
		certAuth := a.CertFile != "" || a.KeyFile != ""
		if userAuth && certAuth {
			return fmt.Errorf("%w: %s.auth: user and certificate auth are mutually exclusive", ErrConfig, at)
		}
		if certAuth && (a.CertFile == "" || a.KeyFile == "") {
			return fmt.Errorf("%w: %s.auth: cert_file and key_file are both required", ErrConfig, at)
		}
		if !userAuth && !certAuth {
			return fmt.Errorf("%w: %s.auth: empty auth block", ErrConfig, at)
		}
	}
	if len(b.Input) == 0 && len(b.Output) == 0 {
		return fmt.Errorf("%w: %s: no input or output groups", ErrConfig, at)
	}
	for gi := range b.Input {
		if err := b.Input[gi].validateOPCUA(fmt.Sprintf("%s.input[%d]", at, gi), false); err != nil {
			return err
		}
	}
	for gi := range b.Output {
		if err := b.Output[gi].validateOPCUA(fmt.Sprintf("%s.output[%d]", at, gi), true); err != nil {
			return err
		}
	}
	return nil
}

func (g *Group) validateOPCUA(at string, output bool) error {
	if g.Reg != "" || len(g.Map) > 0 || len(g.ActionMap) > 0 || len(g.PointMap) > 0 {
		return fmt.Errorf("%w: %s: opcua groups take node entries only", ErrConfig, at)
	}
	if g.Sync <= 0 {
		return fmt.Errorf("%w: %s: sync interval is required", ErrConfig, at)
	}
	if !output && g.Cache > 0 {
		return fmt.Errorf("%w: %s: cache applies to output groups only", ErrConfig, at)
	}
	if len(g.Nodes) == 0 {
		return fmt.Errorf("%w: %s: empty nodes", ErrConfig, at)
	}
	for ni, n := range g.Nodes {
		if n.ID == "" {
			return fmt.Errorf("%w: %s.nodes[%d]: id is required", ErrConfig, at, ni)
		}
		if n.Map == "" {
			return fmt.Errorf("%w: %s.nodes[%d]: map is required", ErrConfig, at, ni)
		}
	}
	return nil
}

func (b *IOBlock) validatePointBus(at string) error {
	if b.Config.ActionPoolSize < 0 || b.Config.QueueSize < 0 {
		return fmt.Errorf("%w: %s: action_pool_size and queue_size must not be negative", ErrConfig, at)
	}
	if len(b.Input) == 0 && len(b.Output) == 0 {
		return fmt.Errorf("%w: %s: no input or output groups", ErrConfig, at)
	}
	for gi := range b.Input {
		g := &b.Input[gi]
		gat := fmt.Sprintf("%s.input[%d]", at, gi)
		if g.Reg != "" || len(g.Map) > 0 || len(g.Nodes) > 0 || len(g.PointMap) > 0 {
			return fmt.Errorf("%w: %s: pointbus input groups take action_map entries only", ErrConfig, gat)
		}
		if len(g.ActionMap) == 0 {
			return fmt.Errorf("%w: %s: empty action_map", ErrConfig, gat)
		}
		if err := checkPoints(g.ActionMap, gat+".action_map"); err != nil {
			return err
		}
	}
	for gi := range b.Output {
		g := &b.Output[gi]
		gat := fmt.Sprintf("%s.output[%d]", at, gi)
		if g.Reg != "" || len(g.Map) > 0 || len(g.Nodes) > 0 || len(g.ActionMap) > 0 {
			return fmt.Errorf("%w: %s: pointbus output groups take point_map entries only", ErrConfig, gat)
		}
		if len(g.PointMap) == 0 {
			return fmt.Errorf("%w: %s: empty point_map", ErrConfig, gat)
		}
		if g.Sync <= 0 {
			return fmt.Errorf("%w: %s: sync interval is required", ErrConfig, gat)
		}
		if err := checkPoints(g.PointMap, gat+".point_map"); err != nil {
			return err
		}
	}
	return nil
}

func checkPoints(entries []PointEntry, at string) error {
	for pi, p := range entries {
		if p.Point == "" || p.Value == "" {
			return fmt.Errorf("%w: %s[%d]: point and value are required", ErrConfig, at, pi)
		}
	}
	return nil
}

// arrayKey splits a struct-array declaration key like "connector[2]".
func arrayKey(key string) (name string, n int, ok bool, err error) {
	open := strings.IndexByte(key, '[')
	if open < 0 {
		return key, 0, false, nil
	}
	if !strings.HasSuffix(key, "]") || open == 0 {
		return "", 0, false, fmt.Errorf("malformed field key %q", key)
	}
	n, convErr := strconv.Atoi(key[open+1 : len(key)-1])
	if convErr != nil || n <= 0 {
		return "", 0, false, fmt.Errorf("malformed array length in key %q", key)
	}
	return key[:open], n, true, nil
}
