// Package opcuaio maps context slots onto OPC-UA node values.
//
// A Session wraps one gopcua client connection with lazy connect and
// exponential reconnect backoff, so a temporarily unreachable server
// costs the scan cycle one failed attempt per backoff window instead of
// blocking it. Input groups read all mapped nodes in a single ReadRequest
// per sync; output groups write only the nodes whose values changed
// since the last transmission, refreshing unchanged nodes once per cache
// TTL.
//
// Scalar slots map to scalar node values of the matching OPC-UA type,
// array slots to array values of the declared length. Type or length
// mismatches reported by the server side are errors, never silent
// coercions.
package opcuaio
