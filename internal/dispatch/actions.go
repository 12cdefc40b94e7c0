package dispatch

import (
	"github.com/danmuck/fsconnect/internal/delegate"
	"github.com/danmuck/fsconnect/internal/protocol"
)

// Target is what a handler needs from the addressed session.
type Target interface {
	Delegate() delegate.Set
	Prefix() string
}

// Action is a state change produced by a control message.
type Action interface {
	actionName() string
}

// SetServerCapabilities replaces the connection's view of the peer's
// capabilities.
type SetServerCapabilities struct {
	Tokens []string
}

// SetActive and SetInactive toggle the addressed session's active flag.
type SetActive struct{}

type SetInactive struct{}

func (SetServerCapabilities) actionName() string { return "set_server_capabilities" }
func (SetActive) actionName() string             { return "set_active" }
func (SetInactive) actionName() string           { return "set_inactive" }

// ActionName returns a stable label for logs.
func ActionName(a Action) string {
	if a == nil {
		return "none"
	}
	return a.actionName()
}

// Reply is one outgoing message. Broadcast replies go out untagged; all
// others carry the inbound tag.
type Reply struct {
	Message   protocol.Message
	Broadcast bool
}

type Result struct {
	Replies []Reply
	Actions []Action
}

// Terminal returns the OK/ERR reply closing the result, if any.
func (r Result) Terminal() (protocol.Message, bool) {
	for i := len(r.Replies) - 1; i >= 0; i-- {
		if r.Replies[i].Message.Method.Terminal() {
			return r.Replies[i].Message, true
		}
	}
	return protocol.Message{}, false
}

// Request is one inbound message as seen by a handler. Tagged is false for
// frames carrying the untagged marker.
type Request struct {
	Message protocol.Message
	Tagged  bool
}

func (r Request) Args() []string {
	return r.Message.Args
}
