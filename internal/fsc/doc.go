// Package fsc is the client engine for the forecourt controller protocol.
//
// A Connection owns one transport, the negotiated server capabilities and
// every Session multiplexed over it. A single read loop parses inbound lines,
// routes them by tag prefix, answers requests through the dispatch table and
// completes pending correlations. Writers from any goroutine share one
// serialized transport.
//
// Lifecycle:
//
//	Connecting -> Negotiating -> Ready -> Closing -> Closed
//
// Dial sends the client capabilities, waits for the peer's CAPABILITY and
// confirms CHARSET UTF-8 before returning a Ready connection.
package fsc
