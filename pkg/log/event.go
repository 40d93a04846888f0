package log

import (
	"time"
)

// Event represents a runtime log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// Task is the scheduler task that produced the event, if any.
	Task string `cbor:"2,keyasint,omitempty"`

	// Block is the I/O block id the event belongs to, if any.
	Block string `cbor:"3,keyasint,omitempty"`

	// Source is the runtime layer that captured the event.
	Source Source `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// Type-specific payload (one of these will be set).
	Cycle       *CycleEvent       `cbor:"10,keyasint,omitempty"` // Scheduler cycle
	Transfer    *TransferEvent    `cbor:"11,keyasint,omitempty"` // Protocol transfer
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Controller/task state
	Error       *ErrorEventData   `cbor:"13,keyasint,omitempty"` // Errors at any layer
}

// Source indicates which runtime layer captured the event.
type Source uint8

const (
	// SourceScheduler is the scan scheduler.
	SourceScheduler Source = 0
	// SourceModbus is the Modbus adapter (client or server).
	SourceModbus Source = 1
	// SourceOPCUA is the OPC-UA adapter.
	SourceOPCUA Source = 2
	// SourcePointBus is the action/observable point adapter.
	SourcePointBus Source = 3
	// SourceStore is the context store.
	SourceStore Source = 4
	// SourceAPI is the control API.
	SourceAPI Source = 5
)

// String returns the source name.
func (s Source) String() string {
	switch s {
	case SourceScheduler:
		return "SCHEDULER"
	case SourceModbus:
		return "MODBUS"
	case SourceOPCUA:
		return "OPCUA"
	case SourcePointBus:
		return "POINTBUS"
	case SourceStore:
		return "STORE"
	case SourceAPI:
		return "API"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryCycle indicates a scan cycle event.
	CategoryCycle Category = 0
	// CategoryTransfer indicates a protocol transfer event.
	CategoryTransfer Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryCycle:
		return "CYCLE"
	case CategoryTransfer:
		return "TRANSFER"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Direction indicates the direction of a field transfer.
type Direction uint8

const (
	// DirectionIn indicates device-to-context (input) flow.
	DirectionIn Direction = 0
	// DirectionOut indicates context-to-device (output) flow.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// CycleEvent captures one scan cycle of a periodic task.
type CycleEvent struct {
	// Period is the configured cycle period. Stored as nanoseconds.
	Period time.Duration `cbor:"1,keyasint"`

	// Elapsed is how long the cycle body ran. Stored as nanoseconds.
	Elapsed time.Duration `cbor:"2,keyasint"`

	// Overrun indicates the body exceeded the period.
	Overrun bool `cbor:"3,keyasint,omitempty"`

	// Skipped indicates the cycle was skipped because the previous
	// transfer of the same block was still in flight.
	Skipped bool `cbor:"4,keyasint,omitempty"`
}

// TransferEvent captures one protocol transfer of an I/O mapping group.
type TransferEvent struct {
	// Direction indicates input (device to context) or output.
	Direction Direction `cbor:"1,keyasint"`

	// Address is the protocol-side address of the group
	// (register range, node id list summary, or point name).
	Address string `cbor:"2,keyasint,omitempty"`

	// Count is the number of registers/bits/nodes/points transferred.
	Count int `cbor:"3,keyasint,omitempty"`

	// Unit is the Modbus unit id, when applicable.
	Unit uint8 `cbor:"4,keyasint,omitempty"`

	// Suppressed indicates the physical write was skipped because the
	// value set was unchanged and the cache TTL had not expired.
	Suppressed bool `cbor:"5,keyasint,omitempty"`
}

// StateChangeEvent captures controller and task lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityController indicates a controller status change.
	StateEntityController StateEntity = 0
	// StateEntityTask indicates a task state change.
	StateEntityTask StateEntity = 1
	// StateEntitySession indicates a protocol session state change.
	StateEntitySession StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityController:
		return "CONTROLLER"
	case StateEntityTask:
		return "TASK"
	case StateEntitySession:
		return "SESSION"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Message is the error message.
	Message string `cbor:"1,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"2,keyasint,omitempty"`
}
