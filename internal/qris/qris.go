// Package qris builds the demo QRIS payloads shown on the QR screens. The
// payloads are placeholders for display only and carry no signature.
package qris

import (
	"encoding/json"
	"strconv"
	"time"
)

type payload struct {
	Version   string `json:"version"`
	Type      string `json:"type"`
	Merchant  string `json:"merchant"`
	ID        string `json:"id"`
	Category  string `json:"category"`
	Currency  string `json:"currency"`
	Amount    string `json:"amount,omitempty"`
	Country   string `json:"country"`
	Name      string `json:"name"`
	City      string `json:"city"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Merchant describes who receives the payment.
type Merchant struct {
	ID   string
	Name string
	City string
}

// Builder renders payload strings for a merchant.
type Builder struct {
	merchant Merchant
	clock    func() time.Time
}

func NewBuilder(m Merchant) *Builder {
	return &Builder{merchant: m, clock: time.Now}
}

// Static returns the fixed merchant code (type 11).
func (b *Builder) Static() string {
	return b.encode(payload{Type: "11"})
}

// Dynamic returns a single-use code for amount (type 12).
func (b *Builder) Dynamic(amount int64) string {
	return b.encode(payload{
		Type:      "12",
		Amount:    strconv.FormatInt(amount, 10),
		Timestamp: b.clock().UnixMilli(),
	})
}

func (b *Builder) encode(p payload) string {
	p.Version = "01"
	p.Merchant = b.merchant.ID
	p.ID = "ID.CO.QRIS.WWW"
	p.Category = "5411"
	p.Currency = "360"
	p.Country = "ID"
	p.Name = b.merchant.Name
	p.City = b.merchant.City
	data, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return string(data)
}
