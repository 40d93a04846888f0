// Package log provides structured event logging for the PLC runtime.
//
// This package defines the Logger interface and Event types for capturing
// runtime events: scan cycles, field transfers, controller state changes and
// errors. It is separate from operational logging (slog) - the event stream is
// a complete machine-readable trace of what the scheduler and the I/O blocks
// did, suitable for post-mortem analysis of scan jitter and bus traffic.
//
// # Basic Usage
//
// The controller is configured with a Logger implementation:
//
//	// For development: log to console via slog
//	cfg.EventLogger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	cfg.EventLogger, _ = log.NewFileLogger("/var/lib/goplc/plant1.plog")
//
//	// Both: use MultiLogger
//	cfg.EventLogger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
// Events carry one payload each:
//   - CycleEvent: one scan cycle of a task (period, elapsed, overrun, skip)
//   - TransferEvent: one protocol transfer of an I/O mapping group
//   - StateChangeEvent: controller, task or session state transitions
//   - ErrorEventData: errors at any layer
//
// # File Format
//
// Log files use CBOR encoding with .plog extension. The goplc-log CLI tool
// prints and filters them.
package log
