// Package config loads and validates the controller configuration.
//
// The configuration is one YAML document declaring the context schema,
// the optional served Modbus register image, the control API and the
// I/O blocks with their mapping groups. Load performs full syntactic
// validation: every register range, offset, interval literal and type
// descriptor is parsed up front, and errors name the offending entry by
// its position ("io[2].output[0].map[1]"). Context path resolution
// happens later, against the declared store, when the runtime is
// assembled.
package config
