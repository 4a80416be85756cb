// Package models holds typed views of API resources.
package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Sternrassler/classy-pay-client/pkg/client"
)

// Transaction is a payment transaction as returned by /transaction.
type Transaction struct {
	ID            int64           `json:"id"`
	AppID         string          `json:"appId,omitempty"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency,omitempty"`
	PaymentMethod string          `json:"paymentMethod,omitempty"`
	CreatedAt     *time.Time      `json:"createdAt,omitempty"`
	UpdatedAt     *time.Time      `json:"updatedAt,omitempty"`
}

// IsRefund reports whether the transaction moves money back to the payer.
func (t Transaction) IsRefund() bool {
	return t.Amount.IsNegative()
}

// DecodeTransaction converts a value returned by client.Get.
func DecodeTransaction(v any) (Transaction, error) {
	tx, err := client.Decode[Transaction](v)
	if err != nil {
		return Transaction{}, fmt.Errorf("decode transaction: %w", err)
	}
	return tx, nil
}

// DecodeTransactions converts the items returned by client.List.
func DecodeTransactions(items []any) ([]Transaction, error) {
	out := make([]Transaction, 0, len(items))
	for i, item := range items {
		tx, err := DecodeTransaction(item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, tx)
	}
	return out, nil
}

// Total sums the amounts of txs.
func Total(txs []Transaction) decimal.Decimal {
	sum := decimal.Zero
	for _, tx := range txs {
		sum = sum.Add(tx.Amount)
	}
	return sum
}
