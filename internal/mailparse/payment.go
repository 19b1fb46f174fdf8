package mailparse

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"ledgerflow/models"

	"github.com/shopspring/decimal"
)

// paymentMethodTag marks records from the exchange pay rail in the
// payment-details sub-record.
const paymentMethodTag = "exchange_pay"

const paymentSubjectMarker = "payment transaction detail"

var rePaymentTitle = regexp.MustCompile(`^\[[^\]]+\]\s*(?P<title>[^-]+?)\s*-`)

// Payment bodies have gone through more template revisions than any other
// notification type; the cascade covers every variant seen so far.
var paymentCascade = []*regexp.Regexp{
	// single-line labeled amount: "Amount: 768.87 USDT"
	regexp.MustCompile(`(?i:amount:)[ \t]*(?P<amount>[\d,]+(?:\.\d+)?)[ \t]*(?P<symbol>[A-Z]{2,10})\b`),
	// label and value on separate lines
	regexp.MustCompile(`(?i:amount:)\s*(?:\r?\n\s*)+(?P<amount>[\d,]+(?:\.\d+)?)\s*(?P<symbol>[A-Z]{2,10})\b`),
	// "Time: ... 768.87 USDT" sequences
	regexp.MustCompile(`(?i:time:)(?s:.*?)(?P<amount>[\d,]+(?:\.\d+)?)\s+(?P<symbol>[A-Z]{2,10})\b`),
	// "paid for 768.87 USDT"
	regexp.MustCompile(`\b(?i:for)\s+(?P<amount>[\d,]+(?:\.\d+)?)\s+(?P<symbol>[A-Z]{2,10})\b`),
	// "payment of 768.87 USDT"
	regexp.MustCompile(`\b(?i:of)\s+(?P<amount>[\d,]+(?:\.\d+)?)\s+(?P<symbol>[A-Z]{2,10})\b`),
	// "768.87 USDT has been sent"
	regexp.MustCompile(`(?P<amount>[\d,]+(?:\.\d+)?)\s+(?P<symbol>[A-Z]{2,10})\s+(?i:has been (?:sent|paid))`),
	// catch-all: any number followed by a 3-5 letter code
	regexp.MustCompile(`(?P<amount>[\d,]+(?:\.\d+)?)\s+(?P<symbol>[A-Z]{3,5})\b`),
}

var rePaymentRef = regexp.MustCompile(`(?i:order id|transaction id|reference)\s*[:\-]?\s*(?P<ref>[A-Za-z0-9\-]{6,})`)

// ParsePayment extracts a pay-rail transaction. The subject marker is checked
// again here even though the classifier already routed the message: the
// parser is also invoked directly, out of the classification flow.
//
// Price carries no meaning for a payment and stays null; the amount lands in
// both quantity and quote quantity.
func (p *Parser) ParsePayment(subject, body string, receivedAt time.Time) (models.TransactionRecord, error) {
	if !strings.Contains(strings.ToLower(subject), paymentSubjectMarker) {
		return models.TransactionRecord{}, fmt.Errorf("subject is not a payment transaction notification")
	}

	ts := receivedAt
	if embedded, ok := subjectTime(subject); ok {
		ts = embedded
	}

	caps, ok := firstMatch(body, paymentCascade)
	if !ok {
		return models.TransactionRecord{}, fmt.Errorf("no payment amount pattern matched")
	}
	amount, err := parseAmount(caps["amount"])
	if err != nil {
		return models.TransactionRecord{}, fmt.Errorf("payment amount: %w", err)
	}

	rec := p.newRecord(models.TypePayment, ts)
	rec.Symbol = caps["symbol"]
	rec.Side = models.SideSell
	rec.Quantity = amount
	rec.Price = decimal.NullDecimal{}
	rec.QuoteQuantity = amount
	rec.PaymentDetails = &models.PaymentDetails{
		Method:   paymentMethodTag,
		Currency: caps["symbol"],
	}

	if m := rePaymentTitle.FindStringSubmatch(subject); m != nil {
		rec.Description = strings.TrimSpace(m[len(m)-1])
	}

	if m := rePaymentRef.FindStringSubmatch(body); m != nil {
		rec.ExternalID = m[len(m)-1]
		rec.PaymentDetails.Reference = m[len(m)-1]
	} else {
		rec.ExternalID = models.GenerateExternalID("PAY", ts)
	}
	return rec, nil
}
