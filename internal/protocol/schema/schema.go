package schema

import (
	"fmt"

	"github.com/danmuck/fsconnect/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Unbounded marks a requirement without an upper argument count.
const Unbounded = -1

// Requirement is the accepted argument count range for an inbound request.
type Requirement struct {
	Min int
	Max int
}

type ValidationError struct {
	Method protocol.Method
	Got    int
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("schema: method=%s args=%d: %s", e.Method, e.Got, e.Reason)
}

// Trailing arguments past the ones a handler reads are ignored for the pump
// and transaction requests; controllers append fields such as a payment
// method there.
var requirements = map[protocol.Method]Requirement{
	protocol.MethodPumpStatus:   {Min: 1, Max: Unbounded},
	protocol.MethodTransactions: {Min: 0, Max: Unbounded},
	protocol.MethodPan:          {Min: 2, Max: 2},
	protocol.MethodClear:        {Min: 1, Max: Unbounded},
	protocol.MethodUnlockPump:   {Min: 3, Max: Unbounded},
	protocol.MethodLockPump:     {Min: 1, Max: Unbounded},
	protocol.MethodSessionMode:  {Min: 1, Max: 1},
}

// Lookup returns the requirement registered for method.
func Lookup(method protocol.Method) (Requirement, bool) {
	req, ok := requirements[method]
	return req, ok
}

// Validate enforces the argument count for an inbound request. Methods
// without a registered requirement accept any arguments.
func Validate(method protocol.Method, args []string) error {
	req, ok := requirements[method]
	if !ok {
		return nil
	}
	n := len(args)
	if n < req.Min {
		log.Debug().Str("method", method.String()).Int("args", n).Int("min", req.Min).Msg("schema.Validate too few arguments")
		return ValidationError{
			Method: method,
			Got:    n,
			Reason: fmt.Sprintf("expected at least %d arguments", req.Min),
		}
	}
	if req.Max != Unbounded && n > req.Max {
		log.Debug().Str("method", method.String()).Int("args", n).Int("max", req.Max).Msg("schema.Validate too many arguments")
		return ValidationError{
			Method: method,
			Got:    n,
			Reason: fmt.Sprintf("expected at most %d arguments", req.Max),
		}
	}
	return nil
}
