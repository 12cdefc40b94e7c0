package delegate

import (
	"github.com/danmuck/fsconnect/internal/protocol"
	"github.com/shopspring/decimal"
)

// Pump status tokens used by the forecourt controller.
const (
	PumpFree       = "free"
	PumpInUse      = "in-use"
	PumpReadyToPay = "ready-to-pay"
	PumpLocked     = "locked"
	PumpOutOfOrder = "out-of-order"
)

type Product struct {
	ID       string
	Category string
	VATRate  decimal.Decimal
}

// Message renders PRODUCT <id> <category> <vatRate:2>.
func (p Product) Message() protocol.Message {
	return protocol.New(protocol.MethodProduct, p.ID, p.Category, protocol.FormatMoney(p.VATRate))
}

type Price struct {
	ProductID    string
	Unit         string
	Currency     string
	PricePerUnit decimal.Decimal
	Description  string
}

// Message renders PRICE <productId> <unit> <currency> <pricePerUnit:4> <description>.
func (p Price) Message() protocol.Message {
	return protocol.New(protocol.MethodPrice,
		p.ProductID,
		p.Unit,
		p.Currency,
		protocol.FormatUnit(p.PricePerUnit),
		p.Description,
	)
}

type Pump struct {
	ID     int
	Status string
}

func (p Pump) Message() protocol.Message {
	return protocol.New(protocol.MethodPump, protocol.FormatInt(p.ID), p.Status)
}

type Transaction struct {
	PumpID            int
	SiteTransactionID string
	Status            string
	ProductID         string
	Currency          string
	PriceWithVAT      decimal.Decimal
	PriceWithoutVAT   decimal.Decimal
	VATRate           decimal.Decimal
	VATAmount         decimal.Decimal
	Unit              string
	Volume            decimal.Decimal
	PricePerUnit      decimal.Decimal
}

// Message renders TRANSACTION with money fields at 2 places and volume and
// per-unit price at 4.
func (t Transaction) Message() protocol.Message {
	return protocol.New(protocol.MethodTransaction,
		protocol.FormatInt(t.PumpID),
		t.SiteTransactionID,
		t.Status,
		t.ProductID,
		t.Currency,
		protocol.FormatMoney(t.PriceWithVAT),
		protocol.FormatMoney(t.PriceWithoutVAT),
		protocol.FormatMoney(t.VATRate),
		protocol.FormatMoney(t.VATAmount),
		t.Unit,
		protocol.FormatUnit(t.Volume),
		protocol.FormatUnit(t.PricePerUnit),
	)
}

type ReceiptInfo struct {
	TransactionID string
	Key           string
	Value         string
}

func (r ReceiptInfo) Message() protocol.Message {
	return protocol.New(protocol.MethodReceiptInfo, r.TransactionID, r.Key, r.Value)
}

type UnlockRequest struct {
	PumpID            int
	Currency          string
	Credit            decimal.Decimal
	PaceTransactionID string
	ProductIDs        []string
}

type ClearRequest struct {
	PumpID            int
	SiteTransactionID string
	PaceTransactionID string
}

// PushPlan answers an inbound PUSH: the methods this client will push
// proactively and any data to send right away.
type PushPlan struct {
	Methods  []protocol.Method
	Messages []protocol.Message
}
