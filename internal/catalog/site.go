package catalog

import (
	"context"
	"sync"

	"github.com/danmuck/fsconnect/internal/delegate"
	"github.com/danmuck/fsconnect/internal/protocol"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Transaction states kept by the catalog.
const (
	StatusOpen    = "open"
	StatusCleared = "cleared"
	StatusExpired = "expired"
)

// Authorization records an accepted UNLOCKPUMP.
type Authorization struct {
	PumpID            int
	Currency          string
	Credit            decimal.Decimal
	PaceTransactionID string
	ProductIDs        []string
}

// Site answers delegate operations from an in-memory catalog. It is safe for
// concurrent use.
type Site struct {
	mu           sync.Mutex
	products     []delegate.Product
	prices       []delegate.Price
	pumps        map[int]*delegate.Pump
	pumpOrder    []int
	transactions []*delegate.Transaction
	receipts     map[string][]ReceiptEntry
	unlocks      map[int]Authorization
	pans         map[string]string
}

func newSite() *Site {
	return &Site{
		pumps:    make(map[int]*delegate.Pump),
		receipts: make(map[string][]ReceiptEntry),
		unlocks:  make(map[int]Authorization),
		pans:     make(map[string]string),
	}
}

// Delegate binds every operation the site implements.
func (s *Site) Delegate() delegate.Set {
	return delegate.Bind(s)
}

func (s *Site) Products(context.Context) ([]delegate.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]delegate.Product(nil), s.products...), nil
}

func (s *Site) Prices(context.Context) ([]delegate.Price, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]delegate.Price(nil), s.prices...), nil
}

func (s *Site) Pumps(context.Context) ([]delegate.Pump, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]delegate.Pump, 0, len(s.pumpOrder))
	for _, id := range s.pumpOrder {
		out = append(out, *s.pumps[id])
	}
	return out, nil
}

// PumpStatus ignores updateTTL: a static site has no status changes to
// stream.
func (s *Site) PumpStatus(_ context.Context, pumpID, _ int) (delegate.Pump, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pumps[pumpID]
	if !ok {
		return delegate.Pump{}, delegate.ErrPumpNotFound
	}
	return *p, nil
}

// Transactions lists open transactions on pumpID, or on every pump when
// pumpID is 0.
func (s *Site) Transactions(_ context.Context, pumpID, _ int) ([]delegate.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pumpID != 0 {
		if _, ok := s.pumps[pumpID]; !ok {
			return nil, delegate.ErrUnknownPump
		}
	}
	var out []delegate.Transaction
	for _, tx := range s.transactions {
		if tx.Status != StatusOpen {
			continue
		}
		if pumpID == 0 || tx.PumpID == pumpID {
			out = append(out, *tx)
		}
	}
	return out, nil
}

// ReceivePan stores a masked PAN for the transaction.
func (s *Site) ReceivePan(_ context.Context, transactionID, pan string) error {
	s.mu.Lock()
	s.pans[transactionID] = maskPan(pan)
	s.mu.Unlock()
	log.Info().Str("transaction", transactionID).Msg("catalog: pan received")
	return nil
}

// MaskedPan returns the stored PAN for a transaction with all but the last
// four digits hidden.
func (s *Site) MaskedPan(transactionID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pan, ok := s.pans[transactionID]
	return pan, ok
}

func maskPan(pan string) string {
	if len(pan) <= 4 {
		return pan
	}
	out := make([]byte, len(pan))
	for i := range out {
		out[i] = '*'
	}
	copy(out[len(pan)-4:], pan[len(pan)-4:])
	return string(out)
}

// ClearTransaction settles an open transaction and frees its pump. A cleared
// or expired transaction answers 410.
func (s *Site) ClearTransaction(_ context.Context, req delegate.ClearRequest) ([]delegate.ReceiptInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := s.findTransaction(req.SiteTransactionID)
	if tx == nil || tx.PumpID != req.PumpID {
		return nil, delegate.ErrUnknownTransaction
	}
	if tx.Status != StatusOpen {
		return nil, delegate.ErrExpiredTransaction
	}
	tx.Status = StatusCleared
	if p, ok := s.pumps[tx.PumpID]; ok {
		p.Status = delegate.PumpFree
	}
	delete(s.unlocks, tx.PumpID)

	ref := req.PaceTransactionID
	if ref == "" {
		ref = tx.SiteTransactionID
	}
	var out []delegate.ReceiptInfo
	for _, r := range s.receipts[tx.SiteTransactionID] {
		out = append(out, delegate.ReceiptInfo{TransactionID: ref, Key: r.Key, Value: r.Value})
	}
	log.Info().Int("pump", tx.PumpID).Str("transaction", tx.SiteTransactionID).Msg("catalog: transaction cleared")
	return out, nil
}

// UnlockPump authorizes fueling on a free or locked pump for the given
// credit and products.
func (s *Site) UnlockPump(_ context.Context, req delegate.UnlockRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pumps[req.PumpID]
	if !ok {
		return delegate.ErrUnknownPump
	}
	switch p.Status {
	case delegate.PumpFree, delegate.PumpLocked:
	default:
		return delegate.Errorf(delegate.CodeBadRequest, "Pump %d is %s", p.ID, p.Status)
	}
	if !req.Credit.IsPositive() {
		return delegate.Errorf(delegate.CodeBadRequest, "Credit must be positive")
	}
	for _, id := range req.ProductIDs {
		if !s.hasProduct(id) {
			return delegate.Errorf(delegate.CodeBadRequest, "Product %s not found", id)
		}
	}
	p.Status = delegate.PumpFree
	s.unlocks[p.ID] = Authorization{
		PumpID:            req.PumpID,
		Currency:          req.Currency,
		Credit:            req.Credit,
		PaceTransactionID: req.PaceTransactionID,
		ProductIDs:        append([]string(nil), req.ProductIDs...),
	}
	log.Info().Int("pump", p.ID).Str("credit", req.Credit.String()).Msg("catalog: pump unlocked")
	return nil
}

// LockPump withdraws any authorization and locks the pump.
func (s *Site) LockPump(_ context.Context, pumpID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pumps[pumpID]
	if !ok {
		return delegate.ErrUnknownPump
	}
	p.Status = delegate.PumpLocked
	delete(s.unlocks, pumpID)
	log.Info().Int("pump", pumpID).Msg("catalog: pump locked")
	return nil
}

// Authorization returns the active unlock for pumpID.
func (s *Site) Authorization(pumpID int) (Authorization, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.unlocks[pumpID]
	return a, ok
}

// Push announces that products and prices are pushed proactively and sends
// the current catalog with the answer.
func (s *Site) Push(context.Context) (delegate.PushPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	plan := delegate.PushPlan{
		Methods: []protocol.Method{protocol.MethodProduct, protocol.MethodPrice, protocol.MethodTransaction},
	}
	for _, p := range s.products {
		plan.Messages = append(plan.Messages, p.Message())
	}
	for _, p := range s.prices {
		plan.Messages = append(plan.Messages, p.Message())
	}
	return plan, nil
}

// Snapshot returns the current products, prices and pumps for an initial
// push after connecting.
func (s *Site) Snapshot() ([]delegate.Product, []delegate.Price, []delegate.Pump) {
	products, _ := s.Products(context.Background())
	prices, _ := s.Prices(context.Background())
	pumps, _ := s.Pumps(context.Background())
	return products, prices, pumps
}

func (s *Site) findTransaction(id string) *delegate.Transaction {
	for _, tx := range s.transactions {
		if tx.SiteTransactionID == id {
			return tx
		}
	}
	return nil
}

func (s *Site) hasProduct(id string) bool {
	for _, p := range s.products {
		if p.ID == id {
			return true
		}
	}
	return false
}
