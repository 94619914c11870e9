package domain

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TxCustomerPayment TransactionType = "customer_payment"
	TxRefund          TransactionType = "refund"
	TxAdminPayment    TransactionType = "admin_payment"
	TxWithdrawal      TransactionType = "withdrawal"
)

// Direction is relative to the company's balance.
type Direction string

const (
	Credit Direction = "credit"
	Debit  Direction = "debit"
)

// Direction returns the balance direction entries of this type always carry.
func (t TransactionType) Direction() Direction {
	switch t {
	case TxRefund, TxWithdrawal:
		return Debit
	default:
		return Credit
	}
}

// Transaction is an append-only ledger entry. Amount is signed: credits are
// positive, debits negative, so a company balance is SUM(amount).
type Transaction struct {
	ID              uuid.UUID       `json:"id"`
	ReferenceNumber string          `json:"reference_number"`
	CompanyID       uuid.UUID       `json:"company_id"`
	JobID           *uuid.UUID      `json:"job_id,omitempty"`
	Type            TransactionType `json:"type"`
	Direction       Direction       `json:"direction"`
	Amount          int64           `json:"amount"` // in fils, signed
	Currency        string          `json:"currency"`
	Description     string          `json:"description"`
	CreatedAt       time.Time       `json:"created_at"`
}

// NewReferenceNumber builds an externally shareable reference such as
// TXN-20261016-9F3A61C2B4D07E15. The suffix is 64 random bits taken from the
// parts of a v4 UUID that carry no version or variant bits.
func NewReferenceNumber(prefix string, at time.Time) string {
	id := uuid.New()
	random := append(id[0:6:6], id[10:12]...)
	suffix := strings.ToUpper(hex.EncodeToString(random))
	return fmt.Sprintf("%s-%s-%s", prefix, at.UTC().Format("20060102"), suffix)
}
