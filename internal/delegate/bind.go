package delegate

import "context"

type ProductsProvider interface {
	Products(ctx context.Context) ([]Product, error)
}

type PricesProvider interface {
	Prices(ctx context.Context) ([]Price, error)
}

type PumpsProvider interface {
	Pumps(ctx context.Context) ([]Pump, error)
}

type PumpStatusProvider interface {
	PumpStatus(ctx context.Context, pumpID, updateTTL int) (Pump, error)
}

// TransactionsProvider lists transactions; pumpID 0 means every pump.
type TransactionsProvider interface {
	Transactions(ctx context.Context, pumpID, updateTTL int) ([]Transaction, error)
}

type PanReceiver interface {
	ReceivePan(ctx context.Context, transactionID, pan string) error
}

type TransactionClearer interface {
	ClearTransaction(ctx context.Context, req ClearRequest) ([]ReceiptInfo, error)
}

type PumpUnlocker interface {
	UnlockPump(ctx context.Context, req UnlockRequest) error
}

type PumpLocker interface {
	LockPump(ctx context.Context, pumpID int) error
}

type Pusher interface {
	Push(ctx context.Context) (PushPlan, error)
}

// Bind fills a Set from whichever provider interfaces impl satisfies.
func Bind(impl any) Set {
	var s Set
	if p, ok := impl.(ProductsProvider); ok {
		s.Products = p.Products
	}
	if p, ok := impl.(PricesProvider); ok {
		s.Prices = p.Prices
	}
	if p, ok := impl.(PumpsProvider); ok {
		s.Pumps = p.Pumps
	}
	if p, ok := impl.(PumpStatusProvider); ok {
		s.PumpStatus = p.PumpStatus
	}
	if p, ok := impl.(TransactionsProvider); ok {
		s.Transactions = p.Transactions
	}
	if p, ok := impl.(PanReceiver); ok {
		s.Pan = p.ReceivePan
	}
	if p, ok := impl.(TransactionClearer); ok {
		s.Clear = p.ClearTransaction
	}
	if p, ok := impl.(PumpUnlocker); ok {
		s.UnlockPump = p.UnlockPump
	}
	if p, ok := impl.(PumpLocker); ok {
		s.LockPump = p.LockPump
	}
	if p, ok := impl.(Pusher); ok {
		s.Push = p.Push
	}
	return s
}
