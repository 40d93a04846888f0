// Package plc assembles a controller from a configuration document:
// the typed context store, the I/O blocks with their scan tasks, the
// served Modbus image, the point bus and the control socket.
//
// Applications declare their cyclic programs with RegisterProgram and
// hand control to Run, which drives the lifecycle
// SYNCING -> PREPARING -> ACTIVE and, on a stop request or signal,
// STOPPING -> STOP_SYNCING -> STOPPED with one final output transfer.
package plc
