// Package modbusio maps context slots onto Modbus register spaces.
//
// The package covers both directions of the protocol. The client side
// (Block/Group) polls or writes remote devices over TCP or RTU using
// github.com/grid-x/modbus, moving whole register ranges per scan cycle
// and scattering/gathering the mapped slots inside the range. The server
// side wraps github.com/rolfl/modbus to expose a register image to
// external Modbus TCP clients.
//
// Register ranges use the compact notation "<kind><start>[-<end>]" with
// kind letters c (coil), d (discrete input), i (input register) and h
// (holding register), e.g. "h10-27" for 18 holding registers starting at
// address 10. Entry offsets inside a range are relative by default; an
// offset written "=N" addresses the absolute register N within the range.
//
// Multi-register values use big-endian word order for integers and
// swapped word order for floats, matching common energy-meter layouts:
// a REAL occupies two registers low word first, an LREAL four registers
// in fully reversed word order.
package modbusio
