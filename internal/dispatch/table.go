package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/fsconnect/internal/delegate"
	"github.com/danmuck/fsconnect/internal/observability"
	"github.com/danmuck/fsconnect/internal/protocol"
	"github.com/danmuck/fsconnect/internal/protocol/schema"
	"github.com/rs/zerolog"
)

// Handler answers one inbound request for the addressed session.
type Handler func(ctx context.Context, target Target, req Request) Result

// Table maps inbound method tokens to handlers. It is populated once by
// NewTable and never modified afterwards.
type Table struct {
	handlers map[protocol.Method]Handler
	now      func() time.Time
	logger   zerolog.Logger
}

type Option func(*Table)

// WithClock overrides the clock used for BEAT timestamps.
func WithClock(now func() time.Time) Option {
	return func(t *Table) {
		t.now = now
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(t *Table) {
		t.logger = logger
	}
}

func NewTable(opts ...Option) *Table {
	t := &Table{
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.handlers = map[protocol.Method]Handler{
		protocol.MethodCapability:   t.capability,
		protocol.MethodSessionMode:  t.sessionMode,
		protocol.MethodHeartbeat:    t.heartbeat,
		protocol.MethodPush:         t.push,
		protocol.MethodProducts:     t.delegated(protocol.MethodProducts, products),
		protocol.MethodPrices:       t.delegated(protocol.MethodPrices, prices),
		protocol.MethodPumps:        t.delegated(protocol.MethodPumps, pumps),
		protocol.MethodPumpStatus:   t.delegated(protocol.MethodPumpStatus, pumpStatus),
		protocol.MethodTransactions: t.delegated(protocol.MethodTransactions, transactions),
		protocol.MethodPan:          t.delegated(protocol.MethodPan, pan),
		protocol.MethodClear:        t.delegated(protocol.MethodClear, clearTransaction),
		protocol.MethodUnlockPump:   t.delegated(protocol.MethodUnlockPump, unlockPump),
		protocol.MethodLockPump:     t.delegated(protocol.MethodLockPump, lockPump),
	}
	return t
}

// IsRequest reports whether method is answered by this table. Such frames
// are never treated as replies to our own pending requests.
func (t *Table) IsRequest(method protocol.Method) bool {
	_, ok := t.handlers[method]
	return ok
}

// Evaluate runs the handler for req. The bool is false for methods without
// a handler (data and terminal messages).
func (t *Table) Evaluate(ctx context.Context, target Target, req Request) (Result, bool) {
	h, ok := t.handlers[req.Message.Method]
	if !ok {
		return Result{}, false
	}
	return h(ctx, target, req), true
}

func (t *Table) capability(_ context.Context, _ Target, req Request) Result {
	tokens := append([]string(nil), req.Args()...)
	res := Result{Actions: []Action{SetServerCapabilities{Tokens: tokens}}}
	if req.Tagged {
		res.Replies = []Reply{{Message: protocol.New(protocol.MethodOK)}}
	}
	return res
}

func (t *Table) sessionMode(_ context.Context, target Target, req Request) Result {
	if err := schema.Validate(protocol.MethodSessionMode, req.Args()); err != nil {
		t.logger.Warn().Err(err).Str("session", target.Prefix()).Msg("dispatch: malformed SESSIONMODE")
		if !req.Tagged {
			return Result{}
		}
		return errResult(protocol.MethodSessionMode, delegate.CodeBadRequest, err.Error())
	}
	var action Action = SetInactive{}
	if req.Message.Arg(0) == "active" {
		action = SetActive{}
	}
	res := Result{Actions: []Action{action}}
	if req.Tagged {
		res.Replies = []Reply{{Message: protocol.New(protocol.MethodOK)}}
	}
	return res
}

func (t *Table) heartbeat(_ context.Context, _ Target, _ Request) Result {
	stamp := t.now().UTC().Format(time.RFC3339Nano)
	return Result{Replies: []Reply{
		{Message: protocol.New(protocol.MethodBeat, stamp)},
		{Message: protocol.New(protocol.MethodOK)},
	}}
}

func (t *Table) push(ctx context.Context, target Target, _ Request) Result {
	set := target.Delegate()
	if set.Push == nil {
		return noDelegate(protocol.MethodPush)
	}
	var plan delegate.PushPlan
	err := t.call(protocol.MethodPush, func() error {
		var err error
		plan, err = set.Push(ctx)
		return err
	})
	if err != nil {
		return t.failure(target, protocol.MethodPush, err)
	}
	replies := make([]Reply, 0, len(plan.Methods)+len(plan.Messages)+1)
	for _, m := range plan.Methods {
		replies = append(replies, Reply{Message: protocol.New(protocol.MethodPushing, m.String())})
	}
	for _, msg := range plan.Messages {
		replies = append(replies, Reply{Message: msg})
	}
	return okResult(protocol.MethodPush, replies)
}

// invocation runs one delegate slot and returns its data replies.
type invocation func(ctx context.Context, set delegate.Set, args []string) ([]protocol.Message, error)

func (t *Table) delegated(method protocol.Method, invoke invocation) Handler {
	return func(ctx context.Context, target Target, req Request) Result {
		if err := schema.Validate(method, req.Args()); err != nil {
			t.logger.Warn().Err(err).Str("session", target.Prefix()).Msg("dispatch: malformed request")
			return errResult(method, delegate.CodeBadRequest, err.Error())
		}
		set := target.Delegate()
		if !set.Supports(method) {
			return noDelegate(method)
		}
		var data []protocol.Message
		err := t.call(method, func() error {
			var err error
			data, err = invoke(ctx, set, req.Args())
			return err
		})
		if err != nil {
			return t.failure(target, method, err)
		}
		replies := make([]Reply, 0, len(data)+1)
		for _, msg := range data {
			replies = append(replies, Reply{Message: msg})
		}
		return okResult(method, replies)
	}
}

// call times fn and turns a delegate panic into an error.
func (t *Table) call(method protocol.Method, fn func() error) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch: delegate %s panicked: %v", method, r)
		}
		observability.ObserveDelegate(method.String(), time.Since(start))
	}()
	return fn()
}

func (t *Table) failure(target Target, method protocol.Method, err error) Result {
	if errors.Is(err, protocol.ErrInvalidNumber) {
		t.logger.Warn().Err(err).Str("session", target.Prefix()).Str("method", method.String()).Msg("dispatch: malformed argument")
		return errResult(method, delegate.CodeBadRequest, err.Error())
	}
	code, text := delegate.Code(err)
	event := t.logger.Info()
	if code >= delegate.CodeInternal {
		event = t.logger.Error()
	}
	event.Err(err).Str("session", target.Prefix()).Str("method", method.String()).Int("code", code).Msg("dispatch: delegate failed")
	return errResult(method, code, text)
}

func noDelegate(method protocol.Method) Result {
	return errResult(method, delegate.CodeInternal, "no delegate for "+method.String())
}

func okResult(method protocol.Method, replies []Reply) Result {
	observability.RecordTerminal(method.String(), 0)
	return Result{Replies: append(replies, Reply{Message: protocol.New(protocol.MethodOK)})}
}

// errResult builds ERR <code> <message>. The message is split on whitespace
// because arguments cannot carry spaces.
func errResult(method protocol.Method, code int, text string) Result {
	observability.RecordTerminal(method.String(), code)
	return Result{Replies: []Reply{{Message: ErrMessage(code, text)}}}
}

// ErrMessage renders an ERR terminal from a code and free text.
func ErrMessage(code int, text string) protocol.Message {
	args := append([]string{strconv.Itoa(code)}, strings.Fields(text)...)
	return protocol.New(protocol.MethodErr, args...)
}
