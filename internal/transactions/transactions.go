// Package transactions records completed kiosk payments and serves them to
// the history screen, locally from SQLite or from a remote kiosk API.
package transactions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalid is returned for a transaction body that fails validation.
var ErrInvalid = errors.New("invalid transaction data")

// Transaction is a persisted payment record.
type Transaction struct {
	ID            string    `json:"id"`
	Amount        string    `json:"amount"`
	PaymentMethod string    `json:"paymentMethod"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
}

// NewTransaction is the create request body.
type NewTransaction struct {
	Amount        string `json:"amount"`
	PaymentMethod string `json:"paymentMethod"`
	Status        string `json:"status"`
}

// Ledger is what the controller needs from transaction storage.
type Ledger interface {
	Create(ctx context.Context, tx NewTransaction) (Transaction, error)
	List(ctx context.Context) ([]Transaction, error)
}

const maxAmountDigits = 12

var (
	methods  = map[string]bool{"static": true, "dynamic": true, "tap": true}
	statuses = map[string]bool{"success": true, "pending": true, "failed": true}
)

// Validate checks the body and returns an error wrapping ErrInvalid.
func (n NewTransaction) Validate() error {
	amount := strings.TrimSpace(n.Amount)
	if amount == "" || len(amount) > maxAmountDigits || strings.Trim(amount, "0123456789") != "" {
		return fmt.Errorf("%w: amount must be 1-%d digits", ErrInvalid, maxAmountDigits)
	}
	if strings.Trim(amount, "0") == "" {
		return fmt.Errorf("%w: amount must be positive", ErrInvalid)
	}
	if !methods[n.PaymentMethod] {
		return fmt.Errorf("%w: unknown payment method %q", ErrInvalid, n.PaymentMethod)
	}
	if !statuses[n.Status] {
		return fmt.Errorf("%w: unknown status %q", ErrInvalid, n.Status)
	}
	return nil
}
