package binance

import (
	"testing"
	"time"

	binance "github.com/adshao/go-binance/v2"

	"ledgerflow/models"
)

func TestDepositRecord(t *testing.T) {
	d := &binance.Deposit{
		Amount:     "628.62",
		Coin:       "USDT",
		Status:     depositStatusSuccess,
		Address:    "0x46c2587b0e51e884919d16429be8737e853f22b0",
		TxID:       "0xabc123",
		InsertTime: time.Date(2025, 4, 11, 14, 25, 2, 0, time.UTC).UnixMilli(),
	}

	rec, ok := depositRecord(d)
	if !ok {
		t.Fatalf("expected deposit to normalize")
	}
	if rec.ExternalID != "0xabc123" {
		t.Errorf("expected tx id as external id, got %s", rec.ExternalID)
	}
	if rec.TransactionType != models.TypeDeposit || rec.Side != models.SideBuy {
		t.Errorf("unexpected type/side %s/%s", rec.TransactionType, rec.Side)
	}
	if rec.Symbol != "USDT" || rec.Quantity.String() != "628.62" {
		t.Errorf("unexpected symbol/quantity %s/%s", rec.Symbol, rec.Quantity)
	}
	if rec.SourceType != models.SourceAPI || rec.Platform != "binance" {
		t.Errorf("unexpected source/platform %s/%s", rec.SourceType, rec.Platform)
	}
	if !rec.Time.Equal(time.Date(2025, 4, 11, 14, 25, 2, 0, time.UTC)) {
		t.Errorf("unexpected time %v", rec.Time)
	}
}

func TestDepositRecordGeneratesExternalID(t *testing.T) {
	d := &binance.Deposit{
		Amount:     "1.5",
		Coin:       "BTC",
		Status:     depositStatusSuccess,
		InsertTime: time.Now().UnixMilli(),
	}
	rec, ok := depositRecord(d)
	if !ok {
		t.Fatalf("expected deposit to normalize")
	}
	if rec.ExternalID == "" {
		t.Errorf("external id must be generated when tx id is missing")
	}
}

func TestDepositRecordSkipsPendingAndBadAmounts(t *testing.T) {
	cases := []*binance.Deposit{
		nil,
		{Amount: "1.0", Coin: "USDT", Status: 0},
		{Amount: "garbage", Coin: "USDT", Status: depositStatusSuccess},
		{Amount: "0", Coin: "USDT", Status: depositStatusSuccess},
	}
	for i, d := range cases {
		if _, ok := depositRecord(d); ok {
			t.Errorf("case %d: expected deposit to be skipped", i)
		}
	}
}

func TestWithdrawRecord(t *testing.T) {
	w := &binance.Withdraw{
		Amount:    "250",
		Coin:      "USDT",
		Status:    withdrawStatusCompleted,
		Address:   "0x46c2587b0e51e884919d16429be8737e853f22b0",
		TxID:      "0xdef456",
		ApplyTime: "2025-04-11 14:25:02",
	}

	rec, ok := withdrawRecord(w)
	if !ok {
		t.Fatalf("expected withdrawal to normalize")
	}
	if rec.ExternalID != "0xdef456" {
		t.Errorf("expected tx id as external id, got %s", rec.ExternalID)
	}
	if rec.TransactionType != models.TypeWithdrawal || rec.Side != models.SideSell {
		t.Errorf("unexpected type/side %s/%s", rec.TransactionType, rec.Side)
	}
	if rec.Symbol != "USDT" || rec.Quantity.String() != "250" {
		t.Errorf("unexpected symbol/quantity %s/%s", rec.Symbol, rec.Quantity)
	}
	if !rec.Time.Equal(time.Date(2025, 4, 11, 14, 25, 2, 0, time.UTC)) {
		t.Errorf("unexpected time %v", rec.Time)
	}
}

func TestWithdrawRecordSkipsPendingAndBadAmounts(t *testing.T) {
	cases := []*binance.Withdraw{
		nil,
		{Amount: "1.0", Coin: "USDT", Status: 4},
		{Amount: "garbage", Coin: "USDT", Status: withdrawStatusCompleted},
		{Amount: "-5", Coin: "USDT", Status: withdrawStatusCompleted},
	}
	for i, w := range cases {
		if _, ok := withdrawRecord(w); ok {
			t.Errorf("case %d: expected withdrawal to be skipped", i)
		}
	}
}
