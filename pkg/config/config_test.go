package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goplc-io/goplc/pkg/ctxstore"
	"github.com/goplc-io/goplc/pkg/modbusio"
)

const sampleDoc = `
version: 1
name: vent-controller
description: ventilation demo

core:
  stop_timeout: 5s
  cpus: 2

context:
  serialize: true
  modbus: {c: 16, d: 16, i: 64, h: 64}
  fields:
    fan: BOOL
    temp_in: REAL
    temps: REAL[4]
    data:
      flags: UINT[12]
      inner:
        temp_out: REAL
    connector[2]:
      voltage: LREAL

server:
  - kind: modbus
    config: {proto: tcp, listen: ":1502", unit: 1, timeout: 1s, maxconn: 5}

api:
  enabled: true

log:
  file: /tmp/vent.plclog
  console: true

io:
  - id: meter
    kind: modbus
    config: {proto: tcp, path: "10.0.0.5:502", timeout: 500ms}
    input:
      - reg: h10
        number: 18
        unit: 1
        sync: 100ms
        map:
          - {offset: "=10", target: data.flags}
          - {offset: 12, target: temp_in}
    output:
      - reg: c0-c4
        unit: 1
        sync: 100ms
        cache: 30s
        map:
          - {offset: 0, source: fan}
  - id: scada
    kind: opcua
    config:
      url: "opc.tcp://scada.local:4840"
      trust_server_certs: true
      auth: {user: plc, password: secret}
    input:
      - nodes: [{id: "ns=2;s=setpoint", map: data.inner.temp_out}]
        sync: 1s
    output:
      - nodes: [{id: "ns=2;s=fan", map: fan}]
        sync: 1s
        cache: 10s
  - id: cloud
    kind: pointbus
    config: {action_pool_size: 2, queue_size: 32}
    input:
      - action_map: [{point: "fan.override", value: fan}]
    output:
      - point_map: [{point: "plant.temp_in", value: temp_in}]
        sync: 1s
        cache: 30s
`

func TestParseSampleDocument(t *testing.T) {
	cfg, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)

	assert.Equal(t, "vent-controller", cfg.Name)
	assert.Equal(t, 5*time.Second, cfg.Core.StopTimeout.Duration())
	assert.Equal(t, 2, cfg.Core.CPUs)
	assert.True(t, cfg.Context.Serialize)
	require.NotNil(t, cfg.Context.Modbus)
	assert.Equal(t, 64, cfg.Context.Modbus.Holdings)
	require.Len(t, cfg.Server, 1)
	assert.Equal(t, ":1502", cfg.Server[0].Config.Listen)
	assert.Equal(t, 5, cfg.Server[0].Config.MaxConn)
	assert.True(t, cfg.API.On())
	assert.Equal(t, "/tmp/vent.plclog", cfg.Log.File)

	require.Len(t, cfg.IO, 3)
	meter := cfg.IO[0]
	assert.Equal(t, "modbus", meter.Kind)
	assert.Equal(t, "tcp", meter.Config.Proto)
	assert.Equal(t, 500*time.Millisecond, meter.Config.Timeout.Duration())
	assert.Equal(t, byte(1), meter.EffectiveUnit())
	require.Len(t, meter.Input, 1)
	assert.Equal(t, Offset("=10"), meter.Input[0].Map[0].Offset)
	assert.Equal(t, Offset("12"), meter.Input[0].Map[1].Offset)
	assert.Equal(t, "temp_in", meter.Input[0].Map[1].Path())
	assert.Equal(t, "fan", meter.Output[0].Map[0].Path())
	assert.Equal(t, 30*time.Second, meter.Output[0].Cache.Duration())

	scada := cfg.IO[1]
	assert.Equal(t, "opc.tcp://scada.local:4840", scada.Config.URL)
	require.NotNil(t, scada.Config.Auth)
	assert.Equal(t, "plc", scada.Config.Auth.User)
	assert.Equal(t, "ns=2;s=setpoint", scada.Input[0].Nodes[0].ID)

	cloud := cfg.IO[2]
	assert.Equal(t, 2, cloud.Config.ActionPoolSize)
	assert.Equal(t, "fan.override", cloud.Input[0].ActionMap[0].Point)
	assert.Equal(t, "temp_in", cloud.Output[0].PointMap[0].Value)
}

func TestGroupRange(t *testing.T) {
	cfg, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)

	// "reg: h10, number: 18" expands to h10-27.
	r, err := cfg.IO[0].Input[0].Range()
	require.NoError(t, err)
	assert.Equal(t, modbusio.SpaceHolding, r.Space)
	assert.Equal(t, uint16(10), r.Start)
	assert.Equal(t, uint16(18), r.Count)

	// "reg: c0-c4" carries its own end.
	r, err = cfg.IO[0].Output[0].Range()
	require.NoError(t, err)
	assert.Equal(t, modbusio.SpaceCoil, r.Space)
	assert.Equal(t, uint16(5), r.Count)
}

func TestGroupRangeRejectsNumberWithEnd(t *testing.T) {
	g := Group{Reg: "h10-27", Number: 18}
	_, err := g.Range()
	require.Error(t, err)
	assert.ErrorIs(t, err, modbusio.ErrRange)
}

func TestSchemaShape(t *testing.T) {
	cfg, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)

	root, err := cfg.Schema()
	require.NoError(t, err)
	require.Equal(t, ctxstore.KindStruct, root.Kind)
	require.Len(t, root.Fields, 5)

	// Declaration order survives decoding.
	assert.Equal(t, "fan", root.Fields[0].Name)
	assert.Equal(t, "temp_in", root.Fields[1].Name)
	assert.Equal(t, "temps", root.Fields[2].Name)
	assert.Equal(t, "data", root.Fields[3].Name)
	assert.Equal(t, "connector", root.Fields[4].Name)

	temps := root.Fields[2].Type
	require.Equal(t, ctxstore.KindArray, temps.Kind)
	assert.Equal(t, 4, temps.Len)
	assert.Equal(t, ctxstore.KindFloat32, temps.Elem.Kind)

	data := root.Fields[3].Type
	require.Equal(t, ctxstore.KindStruct, data.Kind)
	assert.Equal(t, "flags", data.Fields[0].Name)
	inner := data.Fields[1].Type
	require.Equal(t, ctxstore.KindStruct, inner.Kind)
	assert.Equal(t, "temp_out", inner.Fields[0].Name)

	conn := root.Fields[4].Type
	require.Equal(t, ctxstore.KindArray, conn.Kind)
	assert.Equal(t, 2, conn.Len)
	require.Equal(t, ctxstore.KindStruct, conn.Elem.Kind)
	assert.Equal(t, "voltage", conn.Elem.Fields[0].Name)
}

func TestSchemaDeclares(t *testing.T) {
	cfg, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)

	root, err := cfg.Schema()
	require.NoError(t, err)
	store, err := ctxstore.Declare(root, cfg.Context.Serialize)
	require.NoError(t, err)

	_, err = store.Resolve("connector[1].voltage")
	assert.NoError(t, err)
	_, err = store.Resolve("data.inner.temp_out")
	assert.NoError(t, err)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleDoc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "vent-controller", cfg.Name)
}

func TestAPIDefaultsOn(t *testing.T) {
	assert.True(t, APIConfig{}.On())
	off := false
	assert.False(t, APIConfig{Enabled: &off}.On())
}

// replaceOnce swaps one snippet of the sample document to produce an
// invalid variant.
func replaceOnce(t *testing.T, old, new string) []byte {
	t.Helper()
	require.Contains(t, sampleDoc, old)
	return []byte(strings.Replace(sampleDoc, old, new, 1))
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		old  string
		new  string
		want string
	}{
		{"wrong version", "version: 1", "version: 2", "unsupported version"},
		{"missing name", "name: vent-controller", `name: ""`, "name is required"},
		{"bad range", "reg: h10", "reg: x10", "io[0].input[0].reg"},
		{"output into read-only space", "reg: c0-c4", "reg: i0-i4", "read-only"},
		{"absolute offset below range", `offset: "=10"`, `offset: "=9"`, "io[0].input[0].map[0]"},
		{"bad interval", "sync: 100ms", "sync: -5s", "invalid interval"},
		{"bad type name", "fan: BOOL", "fan: BOOLEAN", "context.fields.fan"},
		{"bad struct array key", "connector[2]:", "connector[0]:", "malformed array length"},
		{"duplicate block id", "id: scada", "id: meter", "duplicate id"},
		{"missing url", `url: "opc.tcp://scada.local:4840"`, `url: ""`, "url is required"},
		{"unknown block kind", "kind: pointbus", "kind: mqtt", "unknown kind"},
		{"target on output entry", "offset: 0, source: fan", "offset: 0, target: fan", "output entries name a source"},
		{"source on input entry", "offset: 12, target: temp_in", "offset: 12, source: temp_in", "input entries name a target"},
		{"mixed auth", "auth: {user: plc, password: secret}", "auth: {user: plc, cert_file: a.pem, key_file: a.key}", "mutually exclusive"},
		{"missing proto", "config: {proto: tcp, path:", "config: {path:", "proto is required"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(replaceOnce(t, tc.old, tc.new))
			require.Error(t, err)
			assert.ErrorContains(t, err, tc.want)
		})
	}
}

func TestUnitMustAgreeAcrossGroups(t *testing.T) {
	doc := replaceOnce(t, "- reg: c0-c4\n        unit: 1", "- reg: c0-c4\n        unit: 2")
	_, err := Parse(doc)
	require.Error(t, err)
	assert.ErrorContains(t, err, "differs from the block's unit")
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	doc := replaceOnce(t, "core:", "cores: {}\ncore:")
	_, err := Parse(doc)
	require.Error(t, err)
}

func TestModbusGroupNeedsMap(t *testing.T) {
	doc := replaceOnce(t, `        map:
          - {offset: 0, source: fan}`, "        map: []")
	_, err := Parse(doc)
	require.Error(t, err)
	assert.ErrorContains(t, err, "io[0].output[0]")
}
