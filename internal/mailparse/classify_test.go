package mailparse

import (
	"testing"
	"time"

	"ledgerflow/models"
)

var receivedAt = time.Date(2025, 4, 11, 9, 0, 0, 0, time.UTC)

func TestClassifySubjectPriority(t *testing.T) {
	cases := []struct {
		subject string
		want    models.TransactionType
	}{
		{"USDT Deposit Confirmed", models.TypeDeposit},
		{"USDT Withdrawal Successful", models.TypeWithdrawal},
		{"P2P order completed", models.TypeP2PSell},
		{"Order Filled", models.TypeTrade},
		{"[Binance]Payment Transaction Detail - 2025-04-11 14:25:02 (UTC)", models.TypePayment},
	}
	for _, c := range cases {
		got := Classify(c.subject, "", receivedAt)
		if got.Type != c.want {
			t.Errorf("subject %q: expected %s, got %s", c.subject, c.want, got.Type)
		}
	}
}

func TestClassifyPriorityOverGeneric(t *testing.T) {
	// A subject matching several keyword categories resolves to the earlier
	// fixed-priority pattern.
	c := Classify("USDT Deposit Confirmed for your order", "", receivedAt)
	if c.Type != models.TypeDeposit {
		t.Fatalf("expected DEPOSIT, got %s", c.Type)
	}
}

func TestClassifyGenericSubjectFallback(t *testing.T) {
	cases := []struct {
		subject string
		want    models.TransactionType
	}{
		{"[Binance] Your deposit arrived", models.TypeDeposit},
		{"[Binance] Withdrawal processed", models.TypeWithdrawal},
		{"[Binance] Payment receipt", models.TypePayment},
		{"[Binance] Your trade summary", models.TypeTrade},
	}
	for _, c := range cases {
		got := Classify(c.subject, "", receivedAt)
		if got.Type != c.want {
			t.Errorf("subject %q: expected %s, got %s", c.subject, c.want, got.Type)
		}
	}
}

func TestClassifyBodyFallback(t *testing.T) {
	cases := []struct {
		body string
		want models.TransactionType
	}{
		{"your deposit has completed", models.TypeDeposit},
		{"the withdrawal was successful", models.TypeWithdrawal},
		{"payment transaction summary attached", models.TypePayment},
	}
	for _, c := range cases {
		got := Classify("hello", c.body, receivedAt)
		if got.Type != c.want {
			t.Errorf("body %q: expected %s, got %s", c.body, c.want, got.Type)
		}
	}
}

func TestClassifyUnrelatedMessage(t *testing.T) {
	c := Classify("Weekly newsletter", "nothing to see here", receivedAt)
	if c.Type != models.TypeOther {
		t.Fatalf("expected OTHER, got %s", c.Type)
	}
}

func TestClassifyDeforwarding(t *testing.T) {
	body := "Please take a look at 999 BTC below\n" + forwardMarker + "\nYour deposit of 10,000 USDT is now available"
	c := Classify("Fwd: [Binance] USDT Deposit Confirmed", body, receivedAt)
	if c.Type != models.TypeDeposit {
		t.Fatalf("expected DEPOSIT, got %s", c.Type)
	}
	if c.Subject != "[Binance] USDT Deposit Confirmed" {
		t.Errorf("unexpected de-forwarded subject: %q", c.Subject)
	}
	if want := "\nYour deposit of 10,000 USDT is now available"; c.Body != want {
		t.Errorf("expected post-marker body only, got %q", c.Body)
	}
}

func TestClassifyTradeSide(t *testing.T) {
	buy := Classify("Order Filled", "You bought 1.5 BTC", receivedAt)
	if buy.Side != models.SideBuy {
		t.Errorf("expected BUY side, got %s", buy.Side)
	}
	sell := Classify("Order Filled", "You sold 1.5 BTC", receivedAt)
	if sell.Side != models.SideSell {
		t.Errorf("expected SELL side, got %s", sell.Side)
	}
}

func TestClassifySubjectTimestamp(t *testing.T) {
	c := Classify("[Binance]Payment Transaction Detail - 2025-04-11 14:25:02 (UTC)", "", receivedAt)
	want := time.Date(2025, 4, 11, 14, 25, 2, 0, time.UTC)
	if !c.Time.Equal(want) {
		t.Errorf("expected subject-derived time %v, got %v", want, c.Time)
	}
}

func TestClassifyNeverPanicsOnMalformedInput(t *testing.T) {
	c := Classify("", "", time.Time{})
	if c.Type != models.TypeOther {
		t.Fatalf("expected OTHER for empty input, got %s", c.Type)
	}
}
