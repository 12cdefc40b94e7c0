package dispatch

import (
	"context"

	"github.com/danmuck/fsconnect/internal/delegate"
	"github.com/danmuck/fsconnect/internal/protocol"
)

func products(ctx context.Context, set delegate.Set, _ []string) ([]protocol.Message, error) {
	items, err := set.Products(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]protocol.Message, 0, len(items))
	for _, p := range items {
		out = append(out, p.Message())
	}
	return out, nil
}

func prices(ctx context.Context, set delegate.Set, _ []string) ([]protocol.Message, error) {
	items, err := set.Prices(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]protocol.Message, 0, len(items))
	for _, p := range items {
		out = append(out, p.Message())
	}
	return out, nil
}

func pumps(ctx context.Context, set delegate.Set, _ []string) ([]protocol.Message, error) {
	items, err := set.Pumps(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]protocol.Message, 0, len(items))
	for _, p := range items {
		out = append(out, p.Message())
	}
	return out, nil
}

// PUMPSTATUS <pumpId> [updateTTL]
func pumpStatus(ctx context.Context, set delegate.Set, args []string) ([]protocol.Message, error) {
	pumpID, err := protocol.ParseInt(args[0])
	if err != nil {
		return nil, err
	}
	ttl, err := optionalInt(args, 1)
	if err != nil {
		return nil, err
	}
	p, err := set.PumpStatus(ctx, pumpID, ttl)
	if err != nil {
		return nil, err
	}
	return []protocol.Message{p.Message()}, nil
}

// TRANSACTIONS [pumpId] [updateTTL]; pumpId 0 selects every pump.
func transactions(ctx context.Context, set delegate.Set, args []string) ([]protocol.Message, error) {
	pumpID, err := optionalInt(args, 0)
	if err != nil {
		return nil, err
	}
	ttl, err := optionalInt(args, 1)
	if err != nil {
		return nil, err
	}
	items, err := set.Transactions(ctx, pumpID, ttl)
	if err != nil {
		return nil, err
	}
	out := make([]protocol.Message, 0, len(items))
	for _, tx := range items {
		out = append(out, tx.Message())
	}
	return out, nil
}

// PAN <transactionId> <pan>
func pan(ctx context.Context, set delegate.Set, args []string) ([]protocol.Message, error) {
	return nil, set.Pan(ctx, args[0], args[1])
}

// CLEAR <pumpId> [siteTransactionId] [paceTransactionId]
func clearTransaction(ctx context.Context, set delegate.Set, args []string) ([]protocol.Message, error) {
	pumpID, err := protocol.ParseInt(args[0])
	if err != nil {
		return nil, err
	}
	req := delegate.ClearRequest{
		PumpID:            pumpID,
		SiteTransactionID: optionalString(args, 1),
		PaceTransactionID: optionalString(args, 2),
	}
	receipts, err := set.Clear(ctx, req)
	if err != nil {
		return nil, err
	}
	out := make([]protocol.Message, 0, len(receipts))
	for _, r := range receipts {
		out = append(out, r.Message())
	}
	return out, nil
}

// UNLOCKPUMP <pumpId> <currency> <credit> [paceTransactionId] [productId...]
func unlockPump(ctx context.Context, set delegate.Set, args []string) ([]protocol.Message, error) {
	pumpID, err := protocol.ParseInt(args[0])
	if err != nil {
		return nil, err
	}
	credit, err := protocol.ParseDecimal(args[2])
	if err != nil {
		return nil, err
	}
	req := delegate.UnlockRequest{
		PumpID:            pumpID,
		Currency:          args[1],
		Credit:            credit,
		PaceTransactionID: optionalString(args, 3),
	}
	if len(args) > 4 {
		req.ProductIDs = append([]string(nil), args[4:]...)
	}
	return nil, set.UnlockPump(ctx, req)
}

// LOCKPUMP <pumpId>
func lockPump(ctx context.Context, set delegate.Set, args []string) ([]protocol.Message, error) {
	pumpID, err := protocol.ParseInt(args[0])
	if err != nil {
		return nil, err
	}
	return nil, set.LockPump(ctx, pumpID)
}

func optionalInt(args []string, i int) (int, error) {
	if i >= len(args) {
		return 0, nil
	}
	return protocol.ParseInt(args[i])
}

func optionalString(args []string, i int) string {
	if i >= len(args) {
		return ""
	}
	return args[i]
}
