// Package mailparse classifies transaction-notification emails and extracts
// normalized transaction records from their free-text bodies.
//
// The classifier and type parsers are pure string functions: no I/O, no
// shared state. All side effects (dedup ledger, sinks) live in the processor
// package.
package mailparse

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	appconfig "ledgerflow/config"
	"ledgerflow/logger"
	"ledgerflow/models"
)

// Parser holds the per-type extraction rules together with the configured
// business policy (default currency, currency whitelist, platform tag).
type Parser struct {
	defaultCurrency string
	platform        string
	knownCurrency   *regexp.Regexp
	log             *logger.Log
}

// New builds a Parser from configuration. The currency whitelist is compiled
// into a single alternation used for ambiguous-currency detection.
func New(cfg appconfig.ParserConfig) *Parser {
	codes := make([]string, 0, len(cfg.KnownCurrencies))
	for _, c := range cfg.KnownCurrencies {
		codes = append(codes, regexp.QuoteMeta(strings.ToUpper(strings.TrimSpace(c))))
	}
	if len(codes) == 0 {
		codes = []string{"USDT"}
	}
	return &Parser{
		defaultCurrency: strings.ToUpper(cfg.DefaultCurrency),
		platform:        cfg.Platform,
		knownCurrency:   regexp.MustCompile(`\b(` + strings.Join(codes, "|") + `)\b`),
		log:             logger.GetLogger(),
	}
}

// Parse routes a classified message to its type parser. The contract is a
// list of zero or more records even though every current parser emits at most
// one; callers must not assume a single record.
//
// A nil error with an empty list never happens: parsers either extract a
// record or explain why they could not.
func (p *Parser) Parse(c Classification) ([]models.TransactionRecord, error) {
	var (
		rec models.TransactionRecord
		err error
	)
	switch c.Type {
	case models.TypeDeposit:
		rec, err = p.ParseDeposit(c.Body, c.Time)
	case models.TypeWithdrawal:
		rec, err = p.ParseWithdrawal(c.Body, c.Time)
	case models.TypeP2PSell:
		rec, err = p.ParseP2P(c.Body, c.Time)
	case models.TypeTrade:
		rec, err = p.ParseTrade(c.Body, c.Time, c.Side)
	case models.TypePayment:
		rec, err = p.ParsePayment(c.Subject, c.Body, c.Time)
	case models.TypeOther:
		return nil, nil
	default:
		return nil, fmt.Errorf("no parser for transaction type %s", c.Type)
	}
	if err != nil {
		return nil, err
	}
	return []models.TransactionRecord{rec}, nil
}

// newRecord fills the fields common to every email-sourced record.
func (p *Parser) newRecord(typ models.TransactionType, ts time.Time) models.TransactionRecord {
	return models.TransactionRecord{
		TransactionType: typ,
		Status:          models.StatusCompleted,
		Time:            ts,
		UpdateTime:      ts,
		SourceType:      models.SourceEmail,
		Platform:        p.platform,
	}
}
