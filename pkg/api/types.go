package api

import (
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/goplc-io/goplc/pkg/sched"
)

// Request is the JSON-RPC 2.0 shaped request envelope.
type Request struct {
	Jsonrpc string          `cbor:"jsonrpc"`
	Method  string          `cbor:"method"`
	Params  cbor.RawMessage `cbor:"params,omitempty"`
	ID      uint64          `cbor:"id,omitempty"`
}

// Response is the reply envelope; exactly one of Result and Error is
// set.
type Response struct {
	Jsonrpc string          `cbor:"jsonrpc"`
	Result  cbor.RawMessage `cbor:"result,omitempty"`
	Error   *Error          `cbor:"error,omitempty"`
	ID      uint64          `cbor:"id,omitempty"`
}

// Error is the JSON-RPC error object.
type Error struct {
	Code    int    `cbor:"code"`
	Message string `cbor:"message"`
}

func (e *Error) Error() string { return e.Message }

// Standard JSON-RPC error codes plus the local connection limit code.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInternalError  = -32603
	codeTooManyConns   = -32000
)

// Info describes the running controller.
type Info struct {
	SystemName  string        `cbor:"system_name"`
	Name        string        `cbor:"name"`
	Description string        `cbor:"description,omitempty"`
	Version     string        `cbor:"version"`
	Status      string        `cbor:"status"`
	PID         int           `cbor:"pid"`
	Uptime      time.Duration `cbor:"uptime"`
}

// TaskStats mirrors sched.TaskStats for the wire.
type TaskStats struct {
	Name     string        `cbor:"name"`
	Kind     string        `cbor:"kind"`
	Interval time.Duration `cbor:"interval"`

	Cycles   uint64 `cbor:"cycles"`
	Overruns uint64 `cbor:"overruns"`
	Errors   uint64 `cbor:"errors"`

	JitterMin  time.Duration `cbor:"jitter_min"`
	JitterMax  time.Duration `cbor:"jitter_max"`
	JitterLast time.Duration `cbor:"jitter_last"`
	JitterAvg  time.Duration `cbor:"jitter_avg"`
}

func fromSchedStats(in []sched.TaskStats) []TaskStats {
	out := make([]TaskStats, len(in))
	for i, s := range in {
		out[i] = TaskStats{
			Name:       s.Name,
			Kind:       s.Kind.String(),
			Interval:   s.Interval,
			Cycles:     s.Cycles,
			Overruns:   s.Overruns,
			Errors:     s.Errors,
			JitterMin:  s.JitterMin,
			JitterMax:  s.JitterMax,
			JitterLast: s.JitterLast,
			JitterAvg:  s.JitterAvg,
		}
	}
	return out
}

// Backend is what the server needs from the controller.
type Backend interface {
	Info() Info
	TaskStats() []sched.TaskStats
	ResetTaskStats()
}
