package mailparse

import (
	"fmt"
	"regexp"
	"time"

	"ledgerflow/models"

	"github.com/shopspring/decimal"
)

var withdrawalCascade = []*regexp.Regexp{
	// "You've successfully withdrawn 628.62 USDT from your account"
	regexp.MustCompile(`(?i:withdrawn)\s+(?P<amount>[\d,]+(?:\.\d+)?)\s+(?P<symbol>[A-Z]{2,10})\b`),
	// labeled form: "Withdrawal Amount: 628.62 USDT"
	regexp.MustCompile(`(?i:withdrawal amount:)\s*(?P<amount>[\d,]+(?:\.\d+)?)\s*(?P<symbol>[A-Z]{2,10})\b`),
	// "628.62 USDT has been withdrawn"
	regexp.MustCompile(`(?P<amount>[\d,]+(?:\.\d+)?)\s+(?P<symbol>[A-Z]{2,10})\s+(?i:has been withdrawn)`),
}

// Transaction id and destination address are extracted independently of the
// amount; either may be missing without failing the parse.
var (
	reWithdrawalTxID = regexp.MustCompile(`(?i:transaction id|tx\s?id|hash)\s*[:\-]?\s*(?P<txid>0x[0-9a-fA-F]+|[A-Za-z0-9]{16,})`)
	reWithdrawalAddr = regexp.MustCompile(`(?i:withdrawal address|receiving address|address|to:)\s*[:\-]?\s*(?P<addr>0x[0-9a-fA-F]{6,}|[A-Za-z0-9]{24,})`)
)

// ParseWithdrawal extracts a withdrawal record. The amount is mandatory; the
// on-chain transaction id becomes the external id when present, otherwise an
// id is synthesized.
func (p *Parser) ParseWithdrawal(body string, ts time.Time) (models.TransactionRecord, error) {
	caps, ok := firstMatch(body, withdrawalCascade)
	if !ok {
		return models.TransactionRecord{}, fmt.Errorf("no withdrawal amount pattern matched")
	}

	qty, err := parseAmount(caps["amount"])
	if err != nil {
		return models.TransactionRecord{}, fmt.Errorf("withdrawal amount: %w", err)
	}

	rec := p.newRecord(models.TypeWithdrawal, ts)
	rec.Symbol = caps["symbol"]
	rec.Side = models.SideSell
	rec.Quantity = qty
	rec.Price = decimal.NewNullDecimal(decimal.NewFromInt(1))
	rec.QuoteQuantity = qty

	if m := reWithdrawalTxID.FindStringSubmatch(body); m != nil {
		rec.ExternalID = m[len(m)-1]
	} else {
		rec.ExternalID = models.GenerateExternalID("WD", ts)
	}
	if m := reWithdrawalAddr.FindStringSubmatch(body); m != nil {
		rec.WalletAddress = m[len(m)-1]
	}
	return rec, nil
}
