// Package synccache implements write suppression for output sinks.
//
// Output tasks encode their values every cycle, but most cycles the
// values have not changed. The cache remembers the fingerprint of the
// last transmitted value per key together with its transmission time; a
// value equal to the cached fingerprint is suppressed until the entry is
// older than the configured TTL, after which one refresh write goes out
// even without a change. A TTL of zero disables suppression entirely.
package synccache
