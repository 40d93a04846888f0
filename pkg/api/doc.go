// Package api implements the local control interface of a running
// controller: a unix domain socket speaking JSON-RPC 2.0 shaped
// requests in CBOR encoding, framed as a zero header byte followed by a
// little-endian uint32 payload length.
//
// Supported methods are "test" (liveness), "info" (identity, status,
// pid, uptime), "task_stats.get" and "task_stats.reset". The server
// admits a bounded number of concurrent connections; excess connections
// receive an error response and are closed.
package api
