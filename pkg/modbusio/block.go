package modbusio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/grid-x/modbus"

	"github.com/goplc-io/goplc/pkg/ctxstore"
	"github.com/goplc-io/goplc/pkg/log"
	"github.com/goplc-io/goplc/pkg/synccache"
)

// Entry binds one context slot into a transfer range at a relative
// register (or bit) offset.
type Entry struct {
	Offset int
	Handle ctxstore.Handle
}

// width returns the registers (or bits) the entry occupies.
func (e Entry) width(space Space) (int, error) {
	if space.IsBits() {
		if e.Handle.Kind() != ctxstore.KindBool {
			return 0, fmt.Errorf("%s: %w: %s space requires BOOL, got %s",
				e.Handle.Path(), ErrCodec, space, e.Handle.Kind())
		}
		return e.Handle.Len(), nil
	}
	wpe, err := WordsPerElem(e.Handle.Kind())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", e.Handle.Path(), err)
	}
	return wpe * e.Handle.Len(), nil
}

// Group is one register range synced as a unit on its own period.
// Entries scatter into (input) or gather from (output) the range buffer.
type Group struct {
	Name     string
	Range    Range
	Entries  []Entry
	Interval time.Duration

	// CacheTTL enables write suppression for output groups. Zero
	// transmits every cycle.
	CacheTTL time.Duration

	cache *synccache.Cache
	mu    sync.Mutex // held while a sync is in flight
}

// Validate checks that every entry fits the range and matches the space,
// and that overlapping entries are reported. Later entries win on
// overlap; overlaps are returned so the caller can log them.
func (g *Group) Validate(output bool) (overlaps []string, err error) {
	if output && !g.Range.Space.Writable() {
		return nil, fmt.Errorf("%w: %s space %s is read-only", ErrRange, g.Range, g.Range.Space)
	}

	used := make([]bool, g.Range.Count)
	for _, e := range g.Entries {
		w, err := e.width(g.Range.Space)
		if err != nil {
			return nil, err
		}
		if e.Offset < 0 || e.Offset+w > int(g.Range.Count) {
			return nil, fmt.Errorf("%s: %w: offset %d width %d exceeds range %s",
				e.Handle.Path(), ErrRange, e.Offset, w, g.Range)
		}
		overlapped := false
		for i := e.Offset; i < e.Offset+w; i++ {
			if used[i] {
				overlapped = true
			}
			used[i] = true
		}
		if overlapped {
			overlaps = append(overlaps, e.Handle.Path())
		}
	}
	return overlaps, nil
}

// Block is one configured Modbus device connection with its input and
// output groups. The client is shared by all groups of the block; each
// group carries its own in-flight guard so a slow device skips cycles
// per group instead of blocking the whole scheduler.
type Block struct {
	ID     string
	Unit   byte
	client modbus.Client
	store  *ctxstore.Store
	logger log.Logger

	Inputs  []*Group
	Outputs []*Group
}

// NewBlock wires a block to a connected client.
func NewBlock(id string, unit byte, client modbus.Client, store *ctxstore.Store, logger log.Logger) *Block {
	if logger == nil {
		logger = &log.NoopLogger{}
	}
	return &Block{ID: id, Unit: unit, client: client, store: store, logger: logger}
}

// AddInput validates and registers an input group.
func (b *Block) AddInput(g *Group) ([]string, error) {
	overlaps, err := g.Validate(false)
	if err != nil {
		return nil, fmt.Errorf("block %s input %s: %w", b.ID, g.Range, err)
	}
	b.Inputs = append(b.Inputs, g)
	return overlaps, nil
}

// AddOutput validates and registers an output group.
func (b *Block) AddOutput(g *Group) ([]string, error) {
	overlaps, err := g.Validate(true)
	if err != nil {
		return nil, fmt.Errorf("block %s output %s: %w", b.ID, g.Range, err)
	}
	if g.CacheTTL > 0 {
		g.cache = synccache.New(g.CacheTTL)
	}
	b.Outputs = append(b.Outputs, g)
	return overlaps, nil
}

// SyncInput performs one read transfer for the group: one bulk read of
// the whole range, then one store transaction scattering the mapped
// slots. Returns skipped=true without touching the device when the
// previous sync of this group is still in flight.
func (b *Block) SyncInput(ctx context.Context, g *Group) (skipped bool, err error) {
	if !g.mu.TryLock() {
		b.logSkip(g)
		return true, nil
	}
	defer g.mu.Unlock()

	if g.Range.Space.IsBits() {
		err = b.syncInputBits(ctx, g)
	} else {
		err = b.syncInputWords(ctx, g)
	}
	if err != nil {
		return false, err
	}

	b.logTransfer(g, log.DirectionIn, false)
	return false, nil
}

func (b *Block) syncInputBits(ctx context.Context, g *Group) error {
	r := g.Range

	var payload []byte
	var err error
	if r.Space == SpaceCoil {
		payload, err = b.client.ReadCoils(ctx, r.Start, r.Count)
	} else {
		payload, err = b.client.ReadDiscreteInputs(ctx, r.Start, r.Count)
	}
	if err != nil {
		return b.transferErr(g, "read", err)
	}

	bits, err := UnpackBits(payload, int(r.Count))
	if err != nil {
		return b.transferErr(g, "read", err)
	}

	b.store.Update(func(tx *ctxstore.Txn) {
		for _, e := range g.Entries {
			if err != nil {
				return
			}
			err = decodeSlotBits(tx, e.Handle, bits[e.Offset:e.Offset+e.Handle.Len()])
		}
	})
	return err
}

func (b *Block) syncInputWords(ctx context.Context, g *Group) error {
	r := g.Range

	var payload []byte
	var err error
	if r.Space == SpaceInput {
		payload, err = b.client.ReadInputRegisters(ctx, r.Start, r.Count)
	} else {
		payload, err = b.client.ReadHoldingRegisters(ctx, r.Start, r.Count)
	}
	if err != nil {
		return b.transferErr(g, "read", err)
	}

	words, err := BytesToWords(payload)
	if err != nil {
		return b.transferErr(g, "read", err)
	}
	if len(words) < int(r.Count) {
		return b.transferErr(g, "read",
			fmt.Errorf("%w: short response: %d of %d registers", ErrCodec, len(words), r.Count))
	}

	b.store.Update(func(tx *ctxstore.Txn) {
		for _, e := range g.Entries {
			if err != nil {
				return
			}
			w, werr := e.width(r.Space)
			if werr != nil {
				err = werr
				return
			}
			err = decodeSlotWords(tx, e.Handle, words[e.Offset:e.Offset+w])
		}
	})
	return err
}

// SyncOutput performs one write transfer for the group: one store
// transaction gathering the mapped slots into the range buffer, then one
// bulk write. Unmapped positions in the range are written as zero. With
// a cache TTL configured, an unchanged buffer is suppressed until the
// TTL expires.
func (b *Block) SyncOutput(ctx context.Context, g *Group) (skipped bool, err error) {
	if !g.mu.TryLock() {
		b.logSkip(g)
		return true, nil
	}
	defer g.mu.Unlock()

	r := g.Range
	var payload []byte

	if r.Space.IsBits() {
		bits := make([]bool, r.Count)
		b.store.View(func(tx *ctxstore.Txn) {
			for _, e := range g.Entries {
				if err != nil {
					return
				}
				var src []bool
				src, err = encodeSlotBits(tx, e.Handle)
				if err == nil {
					copy(bits[e.Offset:], src)
				}
			}
		})
		if err != nil {
			return false, err
		}
		payload = PackBits(bits)
	} else {
		words := make([]uint16, r.Count)
		b.store.View(func(tx *ctxstore.Txn) {
			for _, e := range g.Entries {
				if err != nil {
					return
				}
				var src []uint16
				src, err = encodeSlotWords(tx, e.Handle)
				if err == nil {
					copy(words[e.Offset:], src)
				}
			}
		})
		if err != nil {
			return false, err
		}
		payload = WordsToBytes(words)
	}

	cacheKey := b.ID + "/" + r.String()
	if g.cache != nil && !g.cache.Modified(cacheKey, payload) {
		b.logTransfer(g, log.DirectionOut, true)
		return false, nil
	}

	if r.Space == SpaceCoil {
		_, err = b.client.WriteMultipleCoils(ctx, r.Start, r.Count, payload)
	} else {
		_, err = b.client.WriteMultipleRegisters(ctx, r.Start, r.Count, payload)
	}
	if err != nil {
		if g.cache != nil {
			g.cache.Invalidate(cacheKey)
		}
		return false, b.transferErr(g, "write", err)
	}

	b.logTransfer(g, log.DirectionOut, false)
	return false, nil
}

func (b *Block) logTransfer(g *Group, dir log.Direction, suppressed bool) {
	b.logger.Log(log.Event{
		Timestamp: time.Now(),
		Block:     b.ID,
		Source:    log.SourceModbus,
		Category:  log.CategoryTransfer,
		Transfer: &log.TransferEvent{
			Direction:  dir,
			Address:    g.Range.String(),
			Count:      int(g.Range.Count),
			Unit:       b.Unit,
			Suppressed: suppressed,
		},
	})
}

// logSkip records a cycle skipped because the previous transfer of the
// same group is still in flight.
func (b *Block) logSkip(g *Group) {
	b.logger.Log(log.Event{
		Timestamp: time.Now(),
		Block:     b.ID,
		Source:    log.SourceModbus,
		Category:  log.CategoryCycle,
		Cycle: &log.CycleEvent{
			Period:  g.Interval,
			Skipped: true,
		},
	})
}

func (b *Block) transferErr(g *Group, op string, err error) error {
	wrapped := fmt.Errorf("block %s: %s %s: %w", b.ID, op, g.Range, err)
	b.logger.Log(log.Event{
		Timestamp: time.Now(),
		Block:     b.ID,
		Source:    log.SourceModbus,
		Category:  log.CategoryError,
		Error:     &log.ErrorEventData{Message: wrapped.Error()},
	})
	return wrapped
}
