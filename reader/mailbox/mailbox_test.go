package mailbox

import (
	"strings"
	"testing"
	"time"
)

func TestDecodeMessages(t *testing.T) {
	payload := `{
		"messages": [
			{"id": "m-1", "subject": "USDT Deposit Confirmed", "body": "deposit of 5 USDT", "received_at": "2025-04-11T14:25:02Z"},
			{"id": "", "subject": "missing id", "body": "dropped"},
			{"id": "m-2", "subject": "no timestamp", "body": "body"}
		]
	}`

	msgs, err := decodeMessages(strings.NewReader(payload))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}

	if msgs[0].ID != "m-1" || msgs[0].Source != "mailbox" {
		t.Errorf("unexpected first message %+v", msgs[0])
	}
	want := time.Date(2025, 4, 11, 14, 25, 2, 0, time.UTC)
	if !msgs[0].ReceivedAt.Equal(want) {
		t.Errorf("expected received_at %v, got %v", want, msgs[0].ReceivedAt)
	}

	if msgs[1].ID != "m-2" {
		t.Errorf("expected m-2, got %s", msgs[1].ID)
	}
	if msgs[1].ReceivedAt.IsZero() {
		t.Errorf("missing received_at must default to now")
	}
}

func TestDecodeMessagesBadJSON(t *testing.T) {
	if _, err := decodeMessages(strings.NewReader("not-json")); err == nil {
		t.Fatalf("expected error for malformed response")
	}
}

func TestDecodeMessagesEmpty(t *testing.T) {
	msgs, err := decodeMessages(strings.NewReader(`{"messages": []}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected no messages, got %d", len(msgs))
	}
}
