package opcuaio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gopcua/opcua/ua"

	"github.com/goplc-io/goplc/pkg/ctxstore"
	"github.com/goplc-io/goplc/pkg/log"
	"github.com/goplc-io/goplc/pkg/synccache"
)

// ErrNode is wrapped by node mapping and value conversion errors.
var ErrNode = errors.New("opcua node")

// Node binds one context slot to one OPC-UA variable node.
type Node struct {
	ID     *ua.NodeID
	Handle ctxstore.Handle
}

// ParseNode resolves a node id string ("ns=2;s=fan") and checks that the
// slot kind can be represented as a node value.
func ParseNode(id string, h ctxstore.Handle) (Node, error) {
	nid, err := ua.ParseNodeID(id)
	if err != nil {
		return Node{}, fmt.Errorf("%w %q: %v", ErrNode, id, err)
	}
	if h.Kind() == ctxstore.KindDuration {
		return Node{}, fmt.Errorf("%w %q: TIME slots cannot map to node values", ErrNode, id)
	}
	return Node{ID: nid, Handle: h}, nil
}

// Group is a set of nodes synced together on one period.
type Group struct {
	Name     string
	Nodes    []Node
	Interval time.Duration

	// CacheTTL enables per-node write suppression for output groups.
	CacheTTL time.Duration

	cache *synccache.Cache
	mu    sync.Mutex
}

// Block is one configured OPC-UA server connection with its groups.
type Block struct {
	ID      string
	session ReadWriter
	store   *ctxstore.Store
	logger  log.Logger

	Inputs  []*Group
	Outputs []*Group
}

// NewBlock wires a block to a session.
func NewBlock(id string, session ReadWriter, store *ctxstore.Store, logger log.Logger) *Block {
	if logger == nil {
		logger = &log.NoopLogger{}
	}
	return &Block{ID: id, session: session, store: store, logger: logger}
}

// AddInput registers an input group.
func (b *Block) AddInput(g *Group) {
	b.Inputs = append(b.Inputs, g)
}

// AddOutput registers an output group.
func (b *Block) AddOutput(g *Group) {
	if g.CacheTTL > 0 {
		g.cache = synccache.New(g.CacheTTL)
	}
	b.Outputs = append(b.Outputs, g)
}

// SyncInput reads all nodes of the group in one request and scatters the
// values into the context. Returns skipped=true when the previous sync
// is still in flight.
func (b *Block) SyncInput(ctx context.Context, g *Group) (skipped bool, err error) {
	if !g.mu.TryLock() {
		b.logSkip(g)
		return true, nil
	}
	defer g.mu.Unlock()

	ids := make([]*ua.ReadValueID, len(g.Nodes))
	for i, n := range g.Nodes {
		ids[i] = &ua.ReadValueID{NodeID: n.ID, AttributeID: ua.AttributeIDValue}
	}

	results, err := b.session.ReadValues(ctx, ids)
	if err != nil {
		return false, b.groupErr(g, "read", err)
	}

	b.store.Update(func(tx *ctxstore.Txn) {
		for i, n := range g.Nodes {
			if err != nil {
				return
			}
			dv := results[i]
			if dv.Status != ua.StatusOK {
				err = fmt.Errorf("%w %s: status %v", ErrNode, n.ID, dv.Status)
				return
			}
			if dv.Value == nil {
				err = fmt.Errorf("%w %s: empty value", ErrNode, n.ID)
				return
			}
			err = setSlot(tx, n.Handle, dv.Value.Value())
		}
	})
	if err != nil {
		return false, b.groupErr(g, "read", err)
	}

	b.logTransfer(g, log.DirectionIn, len(g.Nodes), false)
	return false, nil
}

// SyncOutput gathers the mapped slots and writes the changed nodes in
// one request. Unchanged nodes within the cache TTL are left out; when
// nothing changed the sync is fully suppressed.
func (b *Block) SyncOutput(ctx context.Context, g *Group) (skipped bool, err error) {
	if !g.mu.TryLock() {
		b.logSkip(g)
		return true, nil
	}
	defer g.mu.Unlock()

	values := make([]any, len(g.Nodes))
	b.store.View(func(tx *ctxstore.Txn) {
		for i, n := range g.Nodes {
			values[i] = tx.Get(n.Handle)
		}
	})

	var writes []*ua.WriteValue
	var keys []string
	for i, n := range g.Nodes {
		key := b.ID + "/" + n.ID.String()
		if g.cache != nil && !g.cache.Modified(key, fingerprint(values[i])) {
			continue
		}
		variant, verr := ua.NewVariant(values[i])
		if verr != nil {
			return false, b.groupErr(g, "write", fmt.Errorf("%w %s: %v", ErrNode, n.ID, verr))
		}
		writes = append(writes, &ua.WriteValue{
			NodeID:      n.ID,
			AttributeID: ua.AttributeIDValue,
			Value: &ua.DataValue{
				EncodingMask: ua.DataValueValue,
				Value:        variant,
			},
		})
		keys = append(keys, key)
	}

	if len(writes) == 0 {
		b.logTransfer(g, log.DirectionOut, 0, true)
		return false, nil
	}

	results, err := b.session.WriteValues(ctx, writes)
	if err != nil {
		b.invalidateKeys(g, keys)
		return false, b.groupErr(g, "write", err)
	}
	for i, status := range results {
		if status != ua.StatusOK {
			b.invalidateKeys(g, keys)
			return false, b.groupErr(g, "write",
				fmt.Errorf("%w %s: status %v", ErrNode, writes[i].NodeID, status))
		}
	}

	b.logTransfer(g, log.DirectionOut, len(writes), false)
	return false, nil
}

func (b *Block) invalidateKeys(g *Group, keys []string) {
	if g.cache == nil {
		return
	}
	for _, k := range keys {
		g.cache.Invalidate(k)
	}
}

// fingerprint renders a slot value for change detection. Values are
// small primitives or short arrays, so the textual form is fine.
func fingerprint(v any) []byte {
	return []byte(fmt.Sprintf("%T:%v", v, v))
}

// setSlot converts a node value into the slot's exact type. The gopcua
// variant decoder already yields the matching Go types, so this is a
// strict assertion plus the array length check done by the store.
func setSlot(tx *ctxstore.Txn, h ctxstore.Handle, v any) error {
	if v == nil {
		return fmt.Errorf("%w: %s: null value", ErrNode, h.Path())
	}

	// uint8 arrays arrive as ByteString ([]byte); the store wants
	// []uint8, which is the same type in Go.
	if err := tx.Set(h, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNode, h.Path(), err)
	}
	return nil
}

func (b *Block) logTransfer(g *Group, dir log.Direction, count int, suppressed bool) {
	b.logger.Log(log.Event{
		Timestamp: time.Now(),
		Block:     b.ID,
		Source:    log.SourceOPCUA,
		Category:  log.CategoryTransfer,
		Transfer: &log.TransferEvent{
			Direction:  dir,
			Address:    g.Name,
			Count:      count,
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
		Source:    log.SourceOPCUA,
		Category:  log.CategoryCycle,
		Cycle: &log.CycleEvent{
			Period:  g.Interval,
			Skipped: true,
		},
	})
}

func (b *Block) groupErr(g *Group, op string, err error) error {
	wrapped := fmt.Errorf("block %s: %s %s: %w", b.ID, op, g.Name, err)
	b.logger.Log(log.Event{
		Timestamp: time.Now(),
		Block:     b.ID,
		Source:    log.SourceOPCUA,
		Category:  log.CategoryError,
		Error:     &log.ErrorEventData{Message: wrapped.Error()},
	})
	return wrapped
}
