package mailparse

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"ledgerflow/models"

	"github.com/shopspring/decimal"
)

// Generic "<number> <2-10 uppercase letters>" pair, shared by the P2P and
// trade parsers.
var reCryptoPair = regexp.MustCompile(`(?P<amount>[\d,]+(?:\.\d+)?)\s+(?P<symbol>[A-Z]{2,10})\b`)

// Fiat legs are limited to the currencies the P2P marketplace settles in.
var reFiatPair = regexp.MustCompile(`(?P<amount>[\d,]+(?:\.\d+)?)\s+(?P<currency>(?i:USD|EUR|GBP|ARS))\b`)

var reP2PMethod = regexp.MustCompile(`(?i:payment method)\s*[:\-]?\s*(?P<method>[^\n.;]+)`)

var fiatCodes = map[string]bool{"USD": true, "EUR": true, "GBP": true, "ARS": true}

// cryptoPair finds the first generic amount+symbol pair whose symbol is not a
// fiat code, so the crypto leg is not confused with the fiat leg.
func cryptoPair(body string) (decimal.Decimal, string, error) {
	for _, m := range reCryptoPair.FindAllStringSubmatch(body, -1) {
		symbol := m[2]
		if fiatCodes[symbol] {
			continue
		}
		qty, err := parseAmount(m[1])
		if err != nil {
			continue
		}
		return qty, symbol, nil
	}
	return decimal.Zero, "", fmt.Errorf("no crypto amount pair found")
}

// ParseP2P extracts a P2P sale: a crypto leg and a fiat leg must both be
// present, and the implied price is fiat divided by crypto.
func (p *Parser) ParseP2P(body string, ts time.Time) (models.TransactionRecord, error) {
	qty, symbol, err := cryptoPair(body)
	if err != nil {
		return models.TransactionRecord{}, fmt.Errorf("p2p crypto leg: %w", err)
	}

	fm := reFiatPair.FindStringSubmatch(body)
	if fm == nil {
		return models.TransactionRecord{}, fmt.Errorf("p2p fiat leg: no fiat amount pair found")
	}
	fiat, err := parseAmount(fm[1])
	if err != nil {
		return models.TransactionRecord{}, fmt.Errorf("p2p fiat amount: %w", err)
	}
	fiatCurrency := strings.ToUpper(fm[2])

	rec := p.newRecord(models.TypeP2PSell, ts)
	rec.ExternalID = models.GenerateExternalID("P2P", ts)
	rec.Symbol = symbol
	rec.Side = models.SideSell
	rec.Quantity = qty
	rec.Price = decimal.NewNullDecimal(fiat.Div(qty))
	rec.QuoteQuantity = fiat
	rec.PaymentDetails = &models.PaymentDetails{Currency: fiatCurrency}

	if m := reP2PMethod.FindStringSubmatch(body); m != nil {
		rec.PaymentDetails.Method = strings.TrimSpace(m[len(m)-1])
	}
	return rec, nil
}
