package modbusio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/grid-x/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goplc-io/goplc/pkg/ctxstore"
	"github.com/goplc-io/goplc/pkg/log"
)

// fakeClient is an in-memory device image implementing the grid-x
// client interface for transfer tests.
type fakeClient struct {
	coils     map[uint16]bool
	discretes map[uint16]bool
	inputs    map[uint16]uint16
	holdings  map[uint16]uint16

	readErr    error
	writeErr   error
	coilWrites int
	regWrites  int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		coils:     make(map[uint16]bool),
		discretes: make(map[uint16]bool),
		inputs:    make(map[uint16]uint16),
		holdings:  make(map[uint16]uint16),
	}
}

func (f *fakeClient) readBits(src map[uint16]bool, address, quantity uint16) ([]byte, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	bits := make([]bool, quantity)
	for i := range bits {
		bits[i] = src[address+uint16(i)]
	}
	return PackBits(bits), nil
}

func (f *fakeClient) readWords(src map[uint16]uint16, address, quantity uint16) ([]byte, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	words := make([]uint16, quantity)
	for i := range words {
		words[i] = src[address+uint16(i)]
	}
	return WordsToBytes(words), nil
}

func (f *fakeClient) ReadCoils(_ context.Context, address, quantity uint16) ([]byte, error) {
	return f.readBits(f.coils, address, quantity)
}

func (f *fakeClient) ReadDiscreteInputs(_ context.Context, address, quantity uint16) ([]byte, error) {
	return f.readBits(f.discretes, address, quantity)
}

func (f *fakeClient) WriteSingleCoil(_ context.Context, address, value uint16) ([]byte, error) {
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	f.coilWrites++
	f.coils[address] = value != 0
	return nil, nil
}

func (f *fakeClient) WriteMultipleCoils(_ context.Context, address, quantity uint16, value []byte) ([]byte, error) {
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	f.coilWrites++
	bits, err := UnpackBits(value, int(quantity))
	if err != nil {
		return nil, err
	}
	for i, b := range bits {
		f.coils[address+uint16(i)] = b
	}
	return nil, nil
}

func (f *fakeClient) ReadInputRegisters(_ context.Context, address, quantity uint16) ([]byte, error) {
	return f.readWords(f.inputs, address, quantity)
}

func (f *fakeClient) ReadHoldingRegisters(_ context.Context, address, quantity uint16) ([]byte, error) {
	return f.readWords(f.holdings, address, quantity)
}

func (f *fakeClient) WriteSingleRegister(_ context.Context, address, value uint16) ([]byte, error) {
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	f.regWrites++
	f.holdings[address] = value
	return nil, nil
}

func (f *fakeClient) WriteMultipleRegisters(_ context.Context, address, quantity uint16, value []byte) ([]byte, error) {
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	f.regWrites++
	words, err := BytesToWords(value)
	if err != nil {
		return nil, err
	}
	for i := uint16(0); i < quantity; i++ {
		f.holdings[address+i] = words[i]
	}
	return nil, nil
}

func (f *fakeClient) ReadWriteMultipleRegisters(context.Context, uint16, uint16, uint16, uint16, []byte) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeClient) MaskWriteRegister(context.Context, uint16, uint16, uint16) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeClient) ReadFIFOQueue(context.Context, uint16) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeClient) ReadDeviceIdentification(context.Context, modbus.ReadDeviceIDCode) (map[byte][]byte, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeClient) ReadDeviceIdentificationWithObjectIDOffset(context.Context, modbus.ReadDeviceIDCode, int) (map[byte][]byte, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeClient) ReadDeviceIdentificationSpecificObject(context.Context, byte) (map[byte][]byte, error) {
	return nil, errors.New("not implemented")
}

var _ modbus.Client = (*fakeClient)(nil)

func testStore(t *testing.T) *ctxstore.Store {
	t.Helper()
	s, err := ctxstore.Declare(ctxstore.StructOf(
		ctxstore.Field{Name: "fan", Type: ctxstore.Prim(ctxstore.KindBool)},
		ctxstore.Field{Name: "alarms", Type: ctxstore.ArrayOf(ctxstore.Prim(ctxstore.KindBool), 4)},
		ctxstore.Field{Name: "temp_in", Type: ctxstore.Prim(ctxstore.KindFloat32)},
		ctxstore.Field{Name: "data", Type: ctxstore.StructOf(
			ctxstore.Field{Name: "flags", Type: ctxstore.ArrayOf(ctxstore.Prim(ctxstore.KindUint16), 12)},
		)},
	), true)
	require.NoError(t, err)
	return s
}

func TestSyncInputHoldingWithAbsoluteOffset(t *testing.T) {
	store := testStore(t)
	dev := newFakeClient()
	block := NewBlock("meter", 1, dev, store, nil)

	r, err := ParseRange("h10-27")
	require.NoError(t, err)

	// data.flags sits at the absolute register 10, temp_in after it.
	flagsOff, err := ParseOffset("=10", r)
	require.NoError(t, err)
	tempOff, err := ParseOffset("12", r)
	require.NoError(t, err)

	g := &Group{
		Name:  "meter-in",
		Range: r,
		Entries: []Entry{
			{Offset: flagsOff, Handle: store.MustResolve("data.flags")},
			{Offset: tempOff, Handle: store.MustResolve("temp_in")},
		},
	}
	_, err = block.AddInput(g)
	require.NoError(t, err)

	dev.holdings[10] = 0x1234
	dev.holdings[21] = 0xBEEF
	tempWords := encodeOne(t, float32(21.5))
	dev.holdings[22] = tempWords[0]
	dev.holdings[23] = tempWords[1]

	skipped, err := block.SyncInput(context.Background(), g)
	require.NoError(t, err)
	assert.False(t, skipped)

	flags := store.Get(store.MustResolve("data.flags")).([]uint16)
	assert.Equal(t, uint16(0x1234), flags[0])
	assert.Equal(t, uint16(0xBEEF), flags[11])
	assert.Equal(t, float32(21.5), store.Get(store.MustResolve("temp_in")))
}

func TestSyncOutputCoils(t *testing.T) {
	store := testStore(t)
	dev := newFakeClient()
	block := NewBlock("fan", 1, dev, store, nil)

	r, err := ParseRange("c0-4")
	require.NoError(t, err)
	g := &Group{
		Name:  "fan-out",
		Range: r,
		Entries: []Entry{
			{Offset: 0, Handle: store.MustResolve("fan")},
			{Offset: 1, Handle: store.MustResolve("alarms")},
		},
	}
	_, err = block.AddOutput(g)
	require.NoError(t, err)

	require.NoError(t, store.Set(store.MustResolve("fan"), true))
	require.NoError(t, store.Set(store.MustResolve("alarms"), []bool{false, true, false, true}))

	skipped, err := block.SyncOutput(context.Background(), g)
	require.NoError(t, err)
	assert.False(t, skipped)

	assert.True(t, dev.coils[0])
	assert.False(t, dev.coils[1])
	assert.True(t, dev.coils[2])
	assert.False(t, dev.coils[3])
	assert.True(t, dev.coils[4])
}

func TestSyncOutputSuppressionAndTTL(t *testing.T) {
	store := testStore(t)
	dev := newFakeClient()
	block := NewBlock("meter", 1, dev, store, nil)

	r, err := ParseRange("h0-11")
	require.NoError(t, err)
	g := &Group{
		Name:     "meter-out",
		Range:    r,
		Entries:  []Entry{{Offset: 0, Handle: store.MustResolve("data.flags")}},
		CacheTTL: time.Hour,
	}
	_, err = block.AddOutput(g)
	require.NoError(t, err)

	// First sync transmits, second is suppressed while unchanged.
	_, err = block.SyncOutput(context.Background(), g)
	require.NoError(t, err)
	_, err = block.SyncOutput(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, 1, dev.regWrites)

	// A changed value transmits again immediately.
	require.NoError(t, store.Set(store.MustResolve("data.flags[3]"), uint16(7)))
	_, err = block.SyncOutput(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, 2, dev.regWrites)
	assert.Equal(t, uint16(7), dev.holdings[3])
}

func TestSyncOutputFailureInvalidatesCache(t *testing.T) {
	store := testStore(t)
	dev := newFakeClient()
	block := NewBlock("meter", 1, dev, store, nil)

	r, err := ParseRange("h0-11")
	require.NoError(t, err)
	g := &Group{
		Name:     "meter-out",
		Range:    r,
		Entries:  []Entry{{Offset: 0, Handle: store.MustResolve("data.flags")}},
		CacheTTL: time.Hour,
	}
	_, err = block.AddOutput(g)
	require.NoError(t, err)

	dev.writeErr = errors.New("device gone")
	_, err = block.SyncOutput(context.Background(), g)
	require.Error(t, err)

	// After the failure the same value must be retried, not suppressed.
	dev.writeErr = nil
	_, err = block.SyncOutput(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, 1, dev.regWrites)
}

// recordingLogger keeps every event for assertions.
type recordingLogger struct {
	mu     sync.Mutex
	events []log.Event
}

func (r *recordingLogger) Log(e log.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingLogger) snapshot() []log.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]log.Event(nil), r.events...)
}

func TestSyncSkipsWhileInFlight(t *testing.T) {
	store := testStore(t)
	dev := newFakeClient()
	rec := &recordingLogger{}
	block := NewBlock("meter", 1, dev, store, rec)

	r, err := ParseRange("h0-11")
	require.NoError(t, err)
	g := &Group{
		Name:     "meter-in",
		Range:    r,
		Interval: 500 * time.Millisecond,
		Entries:  []Entry{{Offset: 0, Handle: store.MustResolve("data.flags")}},
	}
	_, err = block.AddInput(g)
	require.NoError(t, err)

	g.mu.Lock()
	skipped, err := block.SyncInput(context.Background(), g)
	g.mu.Unlock()

	require.NoError(t, err)
	assert.True(t, skipped)

	// The skip must show up on the event log.
	events := rec.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, log.CategoryCycle, events[0].Category)
	assert.Equal(t, "meter", events[0].Block)
	require.NotNil(t, events[0].Cycle)
	assert.True(t, events[0].Cycle.Skipped)
	assert.Equal(t, 500*time.Millisecond, events[0].Cycle.Period)
}

func TestGroupValidation(t *testing.T) {
	store := testStore(t)

	// Output to a read-only space.
	g := &Group{
		Range:   Range{Space: SpaceInput, Start: 0, Count: 4},
		Entries: []Entry{{Offset: 0, Handle: store.MustResolve("data.flags")}},
	}
	_, err := g.Validate(true)
	assert.ErrorIs(t, err, ErrRange)

	// Entry exceeding the range.
	g = &Group{
		Range:   Range{Space: SpaceHolding, Start: 0, Count: 4},
		Entries: []Entry{{Offset: 0, Handle: store.MustResolve("data.flags")}},
	}
	_, err = g.Validate(false)
	assert.ErrorIs(t, err, ErrRange)

	// Non-BOOL slot in a bit space.
	g = &Group{
		Range:   Range{Space: SpaceCoil, Start: 0, Count: 4},
		Entries: []Entry{{Offset: 0, Handle: store.MustResolve("temp_in")}},
	}
	_, err = g.Validate(false)
	assert.ErrorIs(t, err, ErrCodec)

	// Overlapping entries are reported, not fatal.
	g = &Group{
		Range: Range{Space: SpaceHolding, Start: 0, Count: 12},
		Entries: []Entry{
			{Offset: 0, Handle: store.MustResolve("data.flags")},
			{Offset: 4, Handle: store.MustResolve("temp_in")},
		},
	}
	overlaps, err := g.Validate(false)
	require.NoError(t, err)
	assert.Equal(t, []string{"temp_in"}, overlaps)
}

func TestServerImageAccessors(t *testing.T) {
	srv, err := NewServer("unit-test", "0.0.0", ServerSizes{
		Coils:     8,
		Discretes: 8,
		Inputs:    16,
		Holdings:  16,
	}, nil)
	require.NoError(t, err)

	require.NoError(t, srv.WriteCoils(0, []bool{true, false, true}))
	coils, err := srv.ReadCoils(0, 3)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true}, coils)

	require.NoError(t, srv.WriteHoldings(4, []uint16{0xABCD, 0x0001}))
	regs, err := srv.ReadHoldings(4, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0xABCD, 0x0001}, regs)

	require.NoError(t, srv.WriteInputs(0, []uint16{42}))
	inputs, err := srv.ReadInputs(0, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint16{42}, inputs)
}
