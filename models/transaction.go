package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType categorizes a normalized transaction.
type TransactionType string

const (
	TypeDeposit    TransactionType = "DEPOSIT"
	TypeWithdrawal TransactionType = "WITHDRAWAL"
	TypeP2PSell    TransactionType = "P2P_SELL"
	TypeTrade      TransactionType = "TRADE"
	TypePayment    TransactionType = "PAYMENT"
	TypeOther      TransactionType = "OTHER"
)

// Side is the direction of a transaction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Status of a transaction. Email-sourced records are always completed since
// notification emails describe already-finalized events.
type Status string

const (
	StatusCompleted Status = "COMPLETED"
)

// SourceType tags where a record came from.
type SourceType string

const (
	SourceEmail SourceType = "email"
	SourceAPI   SourceType = "api"
)

// PaymentDetails carries the payment-rail sub-record for P2P and payment
// transactions.
type PaymentDetails struct {
	Method    string `json:"method,omitempty"`
	Currency  string `json:"currency,omitempty"`
	Reference string `json:"reference,omitempty"`
}

// TransactionRecord is the canonical normalized transaction shape produced by
// the parsers and the exchange readers, consumed by the writers.
//
// Price uses NullDecimal because it has no meaning for payments; Quantity is
// always positive and denominated in Symbol units.
type TransactionRecord struct {
	ExternalID      string              `json:"external_id"`
	TransactionType TransactionType     `json:"transaction_type"`
	Symbol          string              `json:"symbol"`
	Side            Side                `json:"side"`
	Quantity        decimal.Decimal     `json:"quantity"`
	Price           decimal.NullDecimal `json:"price"`
	QuoteQuantity   decimal.Decimal     `json:"quote_quantity"`
	Status          Status              `json:"status"`
	OrderType       string              `json:"order_type,omitempty"`
	Time            time.Time           `json:"time"`
	UpdateTime      time.Time           `json:"update_time"`
	Description     string              `json:"description,omitempty"`
	WalletAddress   string              `json:"wallet_address,omitempty"`
	PaymentDetails  *PaymentDetails     `json:"payment_details,omitempty"`
	SourceType      SourceType          `json:"source_type"`
	Platform        string              `json:"platform,omitempty"`
}

// GenerateExternalID synthesizes a collision-resistant external id for records
// whose source text carries no transaction identifier. The prefix and
// timestamp keep ids readable; uniqueness comes from the uuid fragment.
func GenerateExternalID(prefix string, t time.Time) string {
	return fmt.Sprintf("%s%d-%s", prefix, t.UnixMilli(), uuid.NewString()[:8])
}
