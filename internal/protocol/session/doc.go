// Package session owns the per-session engine primitives shared by the
// connection and its sessions.
//
// Ownership boundary:
// - engine timeouts, limits and transport security settings
// - tag correlation (pending requests awaiting OK/ERR)
// - retry/backoff for the reconnect loop
//
// Line framing lives in frame; method vocabulary and argument encoding live
// in protocol.
package session
