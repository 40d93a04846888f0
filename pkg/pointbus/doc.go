// Package pointbus connects the context to an action/observable point
// model, the integration surface used by supervisory systems that speak
// in named points rather than registers.
//
// Incoming action invocations carry a point name and a value; a bounded
// worker pool applies them to the mapped context slots so a burst of
// actions never blocks the caller or the scan cycle. Every invocation
// gets a unique id for correlation in the event log.
//
// Observable points publish the current value of their mapped slots
// through a Publisher on the owning output task's period. Unchanged
// points are suppressed per the cache TTL, so idle systems stay quiet on
// the wire.
package pointbus
