// Package protocol owns the line-level wire contract and its parsing primitives.
//
// Ownership boundary:
// - method vocabulary and broadcast classification
// - message encode/decode (method + ordered arguments)
// - fixed-point numeric wire formats
// - capability token sets
//
// Tags and CRLF framing live in protocol/frame; per-method argument
// requirements live in protocol/schema.
package protocol
