package mailparse

import (
	"strings"
	"testing"
	"time"

	appconfig "ledgerflow/config"
	"ledgerflow/models"

	"github.com/shopspring/decimal"
)

func testParser() *Parser {
	return New(appconfig.ParserConfig{
		DefaultCurrency: "USDT",
		KnownCurrencies: []string{"USDT", "BTC", "ETH", "BNB", "BUSD"},
		Platform:        "binance",
	})
}

var ts = time.Date(2025, 4, 11, 14, 25, 2, 0, time.UTC)

func TestParseDeposit(t *testing.T) {
	rec, err := testParser().ParseDeposit("Your deposit of 10,000 USDT is now available", ts)
	if err != nil {
		t.Fatalf("ParseDeposit failed: %v", err)
	}
	if rec.TransactionType != models.TypeDeposit {
		t.Errorf("unexpected type: %s", rec.TransactionType)
	}
	if rec.Symbol != "USDT" {
		t.Errorf("unexpected symbol: %s", rec.Symbol)
	}
	if !rec.Quantity.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("unexpected quantity: %s", rec.Quantity)
	}
	if rec.Side != models.SideBuy {
		t.Errorf("unexpected side: %s", rec.Side)
	}
	if !rec.Price.Valid || !rec.Price.Decimal.Equal(decimal.NewFromInt(1)) {
		t.Errorf("unexpected price: %+v", rec.Price)
	}
	if !strings.HasPrefix(rec.ExternalID, "DEP") {
		t.Errorf("unexpected external id: %s", rec.ExternalID)
	}
}

func TestParseDepositNarrationVariant(t *testing.T) {
	rec, err := testParser().ParseDeposit("2.5 BTC has been deposited to your wallet", ts)
	if err != nil {
		t.Fatalf("ParseDeposit failed: %v", err)
	}
	if rec.Symbol != "BTC" || !rec.Quantity.Equal(decimal.NewFromFloat(2.5)) {
		t.Errorf("unexpected extraction: %s %s", rec.Quantity, rec.Symbol)
	}
}

func TestParseDepositCurrencyFromWhitelist(t *testing.T) {
	// The amount pattern captures no currency, but a standalone known code is
	// present elsewhere in the body.
	rec, err := testParser().ParseDeposit("Your deposit of 42 is now available. Network: ETH", ts)
	if err != nil {
		t.Fatalf("ParseDeposit failed: %v", err)
	}
	if rec.Symbol != "ETH" {
		t.Errorf("expected whitelist currency ETH, got %s", rec.Symbol)
	}
}

func TestParseDepositDefaultCurrencyPolicy(t *testing.T) {
	rec, err := testParser().ParseDeposit("Your deposit of 42 is now available", ts)
	if err != nil {
		t.Fatalf("ParseDeposit failed: %v", err)
	}
	if rec.Symbol != "USDT" {
		t.Errorf("expected configured default currency, got %s", rec.Symbol)
	}
}

func TestParseDepositFailsWithoutAmount(t *testing.T) {
	if _, err := testParser().ParseDeposit("your funds arrived", ts); err == nil {
		t.Fatalf("expected error for body without amount")
	}
}

func TestParseWithdrawalWithAddressAndTxID(t *testing.T) {
	body := "You've successfully withdrawn 628.62 USDT from your account. " +
		"Withdrawal Address: 0x0cD2CB36963e9D13d8Bf805d21c66AD96C30cFAE " +
		"Transaction ID: 0x4b2a9d8f13e07c6b21a5e4d9f8c3b7a1d6e2f0c9"
	rec, err := testParser().ParseWithdrawal(body, ts)
	if err != nil {
		t.Fatalf("ParseWithdrawal failed: %v", err)
	}
	if rec.TransactionType != models.TypeWithdrawal || rec.Side != models.SideSell {
		t.Errorf("unexpected type/side: %s/%s", rec.TransactionType, rec.Side)
	}
	if rec.Symbol != "USDT" || !rec.Quantity.Equal(decimal.NewFromFloat(628.62)) {
		t.Errorf("unexpected extraction: %s %s", rec.Quantity, rec.Symbol)
	}
	if rec.WalletAddress != "0x0cD2CB36963e9D13d8Bf805d21c66AD96C30cFAE" {
		t.Errorf("unexpected wallet address: %s", rec.WalletAddress)
	}
	if rec.ExternalID != "0x4b2a9d8f13e07c6b21a5e4d9f8c3b7a1d6e2f0c9" {
		t.Errorf("expected tx id as external id, got %s", rec.ExternalID)
	}
}

func TestParseWithdrawalGeneratesIDWithoutTxID(t *testing.T) {
	rec, err := testParser().ParseWithdrawal("Withdrawal Amount: 15 BNB", ts)
	if err != nil {
		t.Fatalf("ParseWithdrawal failed: %v", err)
	}
	if !strings.HasPrefix(rec.ExternalID, "WD") {
		t.Errorf("expected generated WD id, got %s", rec.ExternalID)
	}
	if rec.WalletAddress != "" {
		t.Errorf("expected no wallet address, got %s", rec.WalletAddress)
	}
}

func TestParseWithdrawalFailsWithoutAmount(t *testing.T) {
	if _, err := testParser().ParseWithdrawal("your withdrawal is complete", ts); err == nil {
		t.Fatalf("expected error for body without amount")
	}
}

func TestParseP2P(t *testing.T) {
	body := "P2P order completed. You sold 450 USDT and received 495.00 USD. Payment Method: Bank Transfer"
	rec, err := testParser().ParseP2P(body, ts)
	if err != nil {
		t.Fatalf("ParseP2P failed: %v", err)
	}
	if rec.TransactionType != models.TypeP2PSell || rec.Side != models.SideSell {
		t.Errorf("unexpected type/side: %s/%s", rec.TransactionType, rec.Side)
	}
	if rec.Symbol != "USDT" || !rec.Quantity.Equal(decimal.NewFromInt(450)) {
		t.Errorf("unexpected crypto leg: %s %s", rec.Quantity, rec.Symbol)
	}
	if !rec.QuoteQuantity.Equal(decimal.NewFromInt(495)) {
		t.Errorf("unexpected fiat leg: %s", rec.QuoteQuantity)
	}
	if !rec.Price.Valid || !rec.Price.Decimal.Equal(decimal.NewFromFloat(1.1)) {
		t.Errorf("unexpected implied price: %+v", rec.Price)
	}
	if rec.PaymentDetails == nil || rec.PaymentDetails.Currency != "USD" {
		t.Errorf("unexpected payment details: %+v", rec.PaymentDetails)
	}
	if rec.PaymentDetails.Method != "Bank Transfer" {
		t.Errorf("unexpected payment method: %q", rec.PaymentDetails.Method)
	}
}

func TestParseP2PRequiresBothLegs(t *testing.T) {
	if _, err := testParser().ParseP2P("You sold 450 USDT", ts); err == nil {
		t.Fatalf("expected error without fiat leg")
	}
	if _, err := testParser().ParseP2P("You received 495.00 USD", ts); err == nil {
		t.Fatalf("expected error without crypto leg")
	}
}

func TestParseTrade(t *testing.T) {
	rec, err := testParser().ParseTrade("You sold 2 ETH price: 3,000.50", ts, models.SideSell)
	if err != nil {
		t.Fatalf("ParseTrade failed: %v", err)
	}
	if rec.Side != models.SideSell || rec.Symbol != "ETH" {
		t.Errorf("unexpected side/symbol: %s/%s", rec.Side, rec.Symbol)
	}
	if !rec.Price.Decimal.Equal(decimal.NewFromFloat(3000.50)) {
		t.Errorf("unexpected price: %s", rec.Price.Decimal)
	}
	if !rec.QuoteQuantity.Equal(decimal.NewFromInt(6001)) {
		t.Errorf("unexpected quote quantity: %s", rec.QuoteQuantity)
	}
	if rec.OrderType != "MARKET" {
		t.Errorf("unexpected order type: %s", rec.OrderType)
	}
}

func TestParseTradeDefaultPrice(t *testing.T) {
	rec, err := testParser().ParseTrade("Order filled for 10 BNB", ts, models.SideBuy)
	if err != nil {
		t.Fatalf("ParseTrade failed: %v", err)
	}
	if !rec.Price.Decimal.Equal(decimal.NewFromInt(1)) {
		t.Errorf("expected default price 1, got %s", rec.Price.Decimal)
	}
	if !rec.QuoteQuantity.Equal(decimal.NewFromInt(10)) {
		t.Errorf("unexpected quote quantity: %s", rec.QuoteQuantity)
	}
}

func TestParsePayment(t *testing.T) {
	subject := "[Binance]Payment Transaction Detail - 2025-04-11 14:25:02 (UTC)"
	rec, err := testParser().ParsePayment(subject, "Amount: 768.87 USDT", time.Date(2025, 4, 12, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ParsePayment failed: %v", err)
	}
	if rec.TransactionType != models.TypePayment || rec.Side != models.SideSell {
		t.Errorf("unexpected type/side: %s/%s", rec.TransactionType, rec.Side)
	}
	if rec.Symbol != "USDT" || !rec.QuoteQuantity.Equal(decimal.NewFromFloat(768.87)) {
		t.Errorf("unexpected extraction: %s %s", rec.QuoteQuantity, rec.Symbol)
	}
	if rec.Price.Valid {
		t.Errorf("price should not be set for payments")
	}
	want := time.Date(2025, 4, 11, 14, 25, 2, 0, time.UTC)
	if !rec.Time.Equal(want) {
		t.Errorf("expected subject-embedded time %v, got %v", want, rec.Time)
	}
	if rec.Description != "Payment Transaction Detail" {
		t.Errorf("unexpected title: %q", rec.Description)
	}
	if rec.PaymentDetails == nil || rec.PaymentDetails.Method != paymentMethodTag {
		t.Errorf("unexpected payment details: %+v", rec.PaymentDetails)
	}
}

func TestParsePaymentCascadeVariants(t *testing.T) {
	subject := "[Binance]Payment Transaction Detail - 2025-04-11 14:25:02 (UTC)"
	bodies := []string{
		"Amount: 768.87 USDT",
		"Amount:\n  768.87 USDT",
		"Time: 2025-04-11 14:25:02\n768.87 USDT",
		"You paid for 768.87 USDT",
		"a payment of 768.87 USDT",
		"768.87 USDT has been sent",
		"768.87 USDT",
	}
	for _, body := range bodies {
		rec, err := testParser().ParsePayment(subject, body, ts)
		if err != nil {
			t.Errorf("body %q: %v", body, err)
			continue
		}
		if !rec.QuoteQuantity.Equal(decimal.NewFromFloat(768.87)) || rec.Symbol != "USDT" {
			t.Errorf("body %q: unexpected extraction %s %s", body, rec.QuoteQuantity, rec.Symbol)
		}
	}
}

func TestParsePaymentReference(t *testing.T) {
	subject := "[Binance]Payment Transaction Detail - 2025-04-11 14:25:02 (UTC)"
	rec, err := testParser().ParsePayment(subject, "Amount: 10 USDT Order ID: PAY123456789", ts)
	if err != nil {
		t.Fatalf("ParsePayment failed: %v", err)
	}
	if rec.ExternalID != "PAY123456789" {
		t.Errorf("expected extracted order id, got %s", rec.ExternalID)
	}
}

func TestParsePaymentRejectsWrongSubject(t *testing.T) {
	if _, err := testParser().ParsePayment("hello", "Amount: 10 USDT", ts); err == nil {
		t.Fatalf("expected subject check to fail")
	}
}

func TestParsePaymentFailsWithoutAmount(t *testing.T) {
	subject := "[Binance]Payment Transaction Detail - 2025-04-11 14:25:02 (UTC)"
	if _, err := testParser().ParsePayment(subject, "thank you for your business", ts); err == nil {
		t.Fatalf("expected error for body without amount")
	}
}

func TestParseDispatchesOnClassification(t *testing.T) {
	c := Classify("USDT Deposit Confirmed", "Your deposit of 5 USDT is now available", ts)
	records, err := testParser().Parse(c)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(records) != 1 || records[0].TransactionType != models.TypeDeposit {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestParseOtherYieldsNoRecords(t *testing.T) {
	c := Classify("newsletter", "hi", ts)
	records, err := testParser().Parse(c)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records, got %+v", records)
	}
}

func TestCommaStrippingInAmounts(t *testing.T) {
	d, err := parseAmount("1,234,567.89")
	if err != nil {
		t.Fatalf("parseAmount failed: %v", err)
	}
	if !d.Equal(decimal.NewFromFloat(1234567.89)) {
		t.Errorf("unexpected amount: %s", d)
	}
}
