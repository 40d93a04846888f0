// Package ctxstore implements the typed process context of the PLC runtime.
//
// The context is declared once from a schema of IEC 61131-3 style type
// descriptors (BOOL, INT, REAL, UINT[12], nested structures, arrays of
// structures) and allocated as a flat arena of typed slots. Dotted/bracketed
// paths ("data.subfield.temp_out", "temps[3]") resolve exactly once, at
// configuration load, into opaque Handle values; every runtime access goes
// through a Handle, so the hot path never re-parses path strings.
//
// Access is guarded by the context-wide serialize mode: with serialize
// enabled a single store lock makes View/Update transactions atomic with
// respect to every other reader and writer; without it each top-level field
// subtree carries its own lock and only per-field atomicity is guaranteed.
//
// Writes are strict: a value of the wrong type or width is rejected without
// mutating the slot, and arrays never truncate or extend silently.
package ctxstore
