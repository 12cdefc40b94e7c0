package delegate

import (
	"context"
	"sort"

	"github.com/danmuck/fsconnect/internal/protocol"
)

// Set is the capability set a session answers inbound requests with. Every
// slot is optional; a nil slot means the operation is not implemented and
// dispatch answers ERR 500.
type Set struct {
	Products     func(ctx context.Context) ([]Product, error)
	Prices       func(ctx context.Context) ([]Price, error)
	Pumps        func(ctx context.Context) ([]Pump, error)
	PumpStatus   func(ctx context.Context, pumpID, updateTTL int) (Pump, error)
	Transactions func(ctx context.Context, pumpID, updateTTL int) ([]Transaction, error)
	Pan          func(ctx context.Context, transactionID, pan string) error
	Clear        func(ctx context.Context, req ClearRequest) ([]ReceiptInfo, error)
	UnlockPump   func(ctx context.Context, req UnlockRequest) error
	LockPump     func(ctx context.Context, pumpID int) error
	// Push enables the PUSH extension.
	Push func(ctx context.Context) (PushPlan, error)
}

// Supports reports whether the slot backing method is set.
func (s Set) Supports(method protocol.Method) bool {
	switch method {
	case protocol.MethodProducts:
		return s.Products != nil
	case protocol.MethodPrices:
		return s.Prices != nil
	case protocol.MethodPumps:
		return s.Pumps != nil
	case protocol.MethodPumpStatus:
		return s.PumpStatus != nil
	case protocol.MethodTransactions:
		return s.Transactions != nil
	case protocol.MethodPan:
		return s.Pan != nil
	case protocol.MethodClear:
		return s.Clear != nil
	case protocol.MethodUnlockPump:
		return s.UnlockPump != nil
	case protocol.MethodLockPump:
		return s.LockPump != nil
	case protocol.MethodPush:
		return s.Push != nil
	}
	return false
}

// Methods lists the inbound request methods this set implements, in
// lexical order.
func (s Set) Methods() []protocol.Method {
	var out []protocol.Method
	for _, m := range backed {
		if s.Supports(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Capabilities is the client capability set advertised for s: the implemented
// operations plus HEARTBEAT, SESSIONMODE and QUIT.
func (s Set) Capabilities() protocol.CapabilitySet {
	methods := append(s.Methods(), protocol.MethodHeartbeat, protocol.MethodSessionMode, protocol.MethodQuit)
	return protocol.NewCapabilitySet(methods...)
}

var backed = []protocol.Method{
	protocol.MethodProducts,
	protocol.MethodPrices,
	protocol.MethodPumps,
	protocol.MethodPumpStatus,
	protocol.MethodTransactions,
	protocol.MethodPan,
	protocol.MethodClear,
	protocol.MethodUnlockPump,
	protocol.MethodLockPump,
	protocol.MethodPush,
}

// Backed reports whether method is answered by a delegate slot.
func Backed(method protocol.Method) bool {
	for _, m := range backed {
		if m == method {
			return true
		}
	}
	return false
}
