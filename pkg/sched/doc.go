// Package sched runs the periodic tasks of the controller.
//
// Tasks come in four kinds with distinct lifecycle gates. Input tasks
// start as soon as the supervisor enters SYNCING and perform one initial
// transfer before programs are released; program tasks start at
// PREPARING with fresh input values already in the context; output tasks
// start at ACTIVE and keep running through shutdown until STOP_SYNCING,
// where each performs one final transfer so the last program outputs
// reach the devices. Service tasks run from SYNCING until STOPPING.
//
// Every task loop is drift-corrected: the next deadline advances by the
// configured interval from the previous deadline, not from the wakeup
// time, so steady-state cycles do not accumulate lag. A cycle body that
// overruns its interval is logged and the schedule rebased to now, no
// catch-up bursts are produced. Wakeup jitter is sampled per cycle and
// aggregated per task.
package sched
