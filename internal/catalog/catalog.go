// Package catalog is a static, file-backed site: products, prices, pumps and
// open transactions loaded from TOML. It answers every delegate operation and
// keeps pump and transaction state in memory.
package catalog

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/fsconnect/internal/delegate"
	"github.com/danmuck/fsconnect/internal/protocol"
	"github.com/pelletier/go-toml/v2"
	"github.com/shopspring/decimal"
)

// File is the on-disk layout.
type File struct {
	Products     []ProductEntry     `toml:"products"`
	Prices       []PriceEntry       `toml:"prices"`
	Pumps        []PumpEntry        `toml:"pumps"`
	Transactions []TransactionEntry `toml:"transactions"`
	Receipts     []ReceiptEntry     `toml:"receipts"`
}

type ProductEntry struct {
	ID       string  `toml:"id"`
	Category string  `toml:"category"`
	VATRate  float64 `toml:"vat_rate"`
}

type PriceEntry struct {
	ProductID    string  `toml:"product_id"`
	Unit         string  `toml:"unit"`
	Currency     string  `toml:"currency"`
	PricePerUnit float64 `toml:"price_per_unit"`
	Description  string  `toml:"description"`
}

type PumpEntry struct {
	ID     int    `toml:"id"`
	Status string `toml:"status"`
}

type TransactionEntry struct {
	PumpID            int     `toml:"pump_id"`
	SiteTransactionID string  `toml:"site_transaction_id"`
	Status            string  `toml:"status"`
	ProductID         string  `toml:"product_id"`
	Currency          string  `toml:"currency"`
	PriceWithVAT      float64 `toml:"price_with_vat"`
	PriceWithoutVAT   float64 `toml:"price_without_vat"`
	VATRate           float64 `toml:"vat_rate"`
	VATAmount         float64 `toml:"vat_amount"`
	Unit              string  `toml:"unit"`
	Volume            float64 `toml:"volume"`
	PricePerUnit      float64 `toml:"price_per_unit"`
}

// ReceiptEntry is extra receipt data returned when a transaction is cleared.
type ReceiptEntry struct {
	SiteTransactionID string `toml:"site_transaction_id"`
	Key               string `toml:"key"`
	Value             string `toml:"value"`
}

// Load reads and validates a catalog file.
func Load(path string) (*Site, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: load %s: %w", path, err)
	}
	site, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", path, err)
	}
	return site, nil
}

// Parse decodes TOML catalog data. Unknown keys are rejected.
func Parse(data []byte) (*Site, error) {
	var f File
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return New(f)
}

// New validates f and builds a site from it. Every value must render as a
// protocol argument, so tokens cannot contain whitespace.
func New(f File) (*Site, error) {
	s := newSite()
	productIDs := make(map[string]struct{}, len(f.Products))
	for i, e := range f.Products {
		p := delegate.Product{ID: e.ID, Category: e.Category, VATRate: decimal.NewFromFloat(e.VATRate)}
		if err := checkMessage(p.Message()); err != nil {
			return nil, fmt.Errorf("products[%d]: %w", i, err)
		}
		if _, dup := productIDs[e.ID]; dup {
			return nil, fmt.Errorf("products[%d]: duplicate id %q", i, e.ID)
		}
		productIDs[e.ID] = struct{}{}
		s.products = append(s.products, p)
	}
	for i, e := range f.Prices {
		p := delegate.Price{
			ProductID:    e.ProductID,
			Unit:         e.Unit,
			Currency:     e.Currency,
			PricePerUnit: decimal.NewFromFloat(e.PricePerUnit),
			Description:  e.Description,
		}
		if err := checkMessage(p.Message()); err != nil {
			return nil, fmt.Errorf("prices[%d]: %w", i, err)
		}
		if _, ok := productIDs[e.ProductID]; !ok {
			return nil, fmt.Errorf("prices[%d]: unknown product %q", i, e.ProductID)
		}
		s.prices = append(s.prices, p)
	}
	for i, e := range f.Pumps {
		if e.ID <= 0 {
			return nil, fmt.Errorf("pumps[%d]: id must be positive", i)
		}
		if _, dup := s.pumps[e.ID]; dup {
			return nil, fmt.Errorf("pumps[%d]: duplicate id %d", i, e.ID)
		}
		status := strings.TrimSpace(e.Status)
		if status == "" {
			status = delegate.PumpFree
		}
		p := delegate.Pump{ID: e.ID, Status: status}
		if err := checkMessage(p.Message()); err != nil {
			return nil, fmt.Errorf("pumps[%d]: %w", i, err)
		}
		s.pumps[e.ID] = &p
		s.pumpOrder = append(s.pumpOrder, e.ID)
	}
	for i, e := range f.Transactions {
		tx := delegate.Transaction{
			PumpID:            e.PumpID,
			SiteTransactionID: e.SiteTransactionID,
			Status:            e.Status,
			ProductID:         e.ProductID,
			Currency:          e.Currency,
			PriceWithVAT:      decimal.NewFromFloat(e.PriceWithVAT),
			PriceWithoutVAT:   decimal.NewFromFloat(e.PriceWithoutVAT),
			VATRate:           decimal.NewFromFloat(e.VATRate),
			VATAmount:         decimal.NewFromFloat(e.VATAmount),
			Unit:              e.Unit,
			Volume:            decimal.NewFromFloat(e.Volume),
			PricePerUnit:      decimal.NewFromFloat(e.PricePerUnit),
		}
		if tx.Status == "" {
			tx.Status = StatusOpen
		}
		if err := checkMessage(tx.Message()); err != nil {
			return nil, fmt.Errorf("transactions[%d]: %w", i, err)
		}
		if _, ok := s.pumps[e.PumpID]; !ok {
			return nil, fmt.Errorf("transactions[%d]: unknown pump %d", i, e.PumpID)
		}
		if s.findTransaction(e.SiteTransactionID) != nil {
			return nil, fmt.Errorf("transactions[%d]: duplicate id %q", i, e.SiteTransactionID)
		}
		s.transactions = append(s.transactions, &tx)
	}
	for i, e := range f.Receipts {
		r := delegate.ReceiptInfo{TransactionID: e.SiteTransactionID, Key: e.Key, Value: e.Value}
		if err := checkMessage(r.Message()); err != nil {
			return nil, fmt.Errorf("receipts[%d]: %w", i, err)
		}
		if s.findTransaction(e.SiteTransactionID) == nil {
			return nil, fmt.Errorf("receipts[%d]: unknown transaction %q", i, e.SiteTransactionID)
		}
		s.receipts[e.SiteTransactionID] = append(s.receipts[e.SiteTransactionID], e)
	}
	return s, nil
}

func checkMessage(msg protocol.Message) error {
	_, err := protocol.Encode(msg)
	return err
}
