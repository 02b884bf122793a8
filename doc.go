// Package edgerpc implements the wire protocol for a schema-free,
// bidirectional RPC framework: requests, batches, responses, and the error
// taxonomy shared by every other package in this module (registry, dispatch,
// hibernate, channel, server, discovery, client).
//
// Methods are plain dotted strings ("root.namespace.action") and parameters are
// arbitrary JSON values; there is no code generation from a schema. The
// codec's job is limited to validating and (de)serializing the envelopes
// described in spec.md §3-4.1: it knows nothing about method dispatch,
// connection lifecycle, or transport.
package edgerpc

// Version is the protocol version marker edgerpc does not currently place on
// the wire (unlike JSON-RPC 2.0's "jsonrpc" field) but is kept as a constant
// for diagnostic and future-compat use.
const Version = "edgerpc-1"
