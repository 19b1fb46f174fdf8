package mailparse

import (
	"fmt"
	"regexp"
	"time"

	"ledgerflow/models"

	"github.com/shopspring/decimal"
)

var reTradePrice = regexp.MustCompile(`\b(?i:price|at)\s*:\s*(?P<price>[\d,]+(?:\.\d+)?)`)

// ParseTrade extracts a filled-order record. The side is decided by the
// classifier from the body wording and passed in, so the parser can be
// invoked directly in tests.
//
// Narrative text does not say whether an order was limit or market, so every
// email-sourced trade is tagged MARKET.
func (p *Parser) ParseTrade(body string, ts time.Time, side models.Side) (models.TransactionRecord, error) {
	qty, symbol, err := cryptoPair(body)
	if err != nil {
		return models.TransactionRecord{}, fmt.Errorf("trade amount: %w", err)
	}

	price := decimal.NewFromInt(1)
	if m := reTradePrice.FindStringSubmatch(body); m != nil {
		if parsed, perr := parseAmount(m[len(m)-1]); perr == nil {
			price = parsed
		}
	}

	if side == "" {
		side = models.SideBuy
	}

	rec := p.newRecord(models.TypeTrade, ts)
	rec.ExternalID = models.GenerateExternalID("TRD", ts)
	rec.Symbol = symbol
	rec.Side = side
	rec.Quantity = qty
	rec.Price = decimal.NewNullDecimal(price)
	rec.QuoteQuantity = price.Mul(qty)
	rec.OrderType = "MARKET"
	return rec, nil
}
