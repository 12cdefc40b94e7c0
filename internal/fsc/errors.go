package fsc

import (
	"errors"
	"fmt"

	"github.com/danmuck/fsconnect/internal/protocol/session"
)

var (
	ErrTransportRequired      = errors.New("fsc: transport required")
	ErrCapabilityNotSupported = errors.New("fsc: capability not supported by peer")
	ErrNotReady               = errors.New("fsc: connection not ready")
	ErrConnectionClosed       = errors.New("fsc: connection closed")
	ErrSessionExists          = errors.New("fsc: session prefix already exists")
	ErrUnknownSession         = errors.New("fsc: unknown session")
	ErrInvalidPrefix          = errors.New("fsc: invalid session prefix")
)

// RemoteError is a terminal ERR returned by the peer.
type RemoteError = session.RemoteError

// HandshakeError reports which negotiation step failed.
type HandshakeError struct {
	Step string
	Err  error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("fsc: handshake %s: %v", e.Step, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}
