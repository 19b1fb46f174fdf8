package mailparse

import (
	"fmt"
	"regexp"
	"time"

	"ledgerflow/logger"
	"ledgerflow/models"

	"github.com/shopspring/decimal"
)

// Deposit notification templates seen in the wild, most specific first.
var depositCascade = []*regexp.Regexp{
	// "Your deposit of 10,000 USDT is now available"
	regexp.MustCompile(`(?i:deposit of)\s+(?P<amount>[\d,]+(?:\.\d+)?)(?:\s+(?P<symbol>[A-Z]{2,10})\b)?`),
	// "10,000 USDT has been deposited to your account"
	regexp.MustCompile(`(?P<amount>[\d,]+(?:\.\d+)?)\s+(?P<symbol>[A-Z]{2,10})\s+(?i:has been (?:deposited|credited))`),
	// labeled form: "Amount: 10,000 USDT"
	regexp.MustCompile(`(?i:amount:)\s*(?P<amount>[\d,]+(?:\.\d+)?)(?:\s*(?P<symbol>[A-Z]{2,10})\b)?`),
}

// ParseDeposit extracts a deposit record from a notification body.
//
// When no pattern captures a currency code, the body is searched for a
// standalone whitelisted code; failing that, the configured default currency
// is applied. The default is a policy choice favoring record completeness
// over precision, and a warning is logged whenever it kicks in so operators
// can spot wrong-currency misattribution.
func (p *Parser) ParseDeposit(body string, ts time.Time) (models.TransactionRecord, error) {
	caps, ok := firstMatch(body, depositCascade)
	if !ok {
		return models.TransactionRecord{}, fmt.Errorf("no deposit amount pattern matched")
	}

	qty, err := parseAmount(caps["amount"])
	if err != nil {
		return models.TransactionRecord{}, fmt.Errorf("deposit amount: %w", err)
	}

	symbol := caps["symbol"]
	if symbol == "" {
		symbol = p.knownCurrency.FindString(body)
	}
	if symbol == "" {
		symbol = p.defaultCurrency
		p.log.WithComponent("deposit_parser").WithFields(logger.Fields{
			"default_currency": symbol,
		}).Warn("currency not determinable from body, default applied")
	}

	rec := p.newRecord(models.TypeDeposit, ts)
	rec.ExternalID = models.GenerateExternalID("DEP", ts)
	rec.Symbol = symbol
	rec.Side = models.SideBuy
	rec.Quantity = qty
	rec.Price = decimal.NewNullDecimal(decimal.NewFromInt(1))
	rec.QuoteQuantity = qty
	return rec, nil
}
