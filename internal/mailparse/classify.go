package mailparse

import (
	"regexp"
	"strings"
	"time"

	"ledgerflow/models"
)

// forwardMarker is the boundary line mail clients insert above forwarded
// content. Text before the marker is forwarding commentary and must be
// ignored for extraction.
const forwardMarker = "---------- Forwarded message ---------"

var (
	reForwardPrefix = regexp.MustCompile(`^(?i:fwd?:)\s*`)
	reSubjectTag    = regexp.MustCompile(`^\[[^\]]+\]\s*(.+)$`)
	reSubjectTime   = regexp.MustCompile(`(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})`)
)

// subjectPatterns is the fixed-priority list of exact notification subjects.
// The order matters: a subject can contain phrases from several categories
// and the first match wins.
var subjectPatterns = []struct {
	re  *regexp.Regexp
	typ models.TransactionType
}{
	{regexp.MustCompile(`(?i)USDT Deposit Confirmed`), models.TypeDeposit},
	{regexp.MustCompile(`(?i)USDT Withdrawal Successful`), models.TypeWithdrawal},
	{regexp.MustCompile(`(?i)P2P order completed`), models.TypeP2PSell},
	{regexp.MustCompile(`(?i)Order Filled`), models.TypeTrade},
	{regexp.MustCompile(`(?i)Payment Transaction Detail`), models.TypePayment},
}

// Classification is the routing decision for one message: which type parser
// applies and the de-forwarded subject/body to hand to it.
type Classification struct {
	Type    models.TransactionType
	Subject string
	Body    string
	// Side is only meaningful for trades, where the body wording decides the
	// direction before the parser runs.
	Side models.Side
	// Time is the content-derived timestamp: a subject-embedded timestamp
	// when present, the source-reported receive time otherwise.
	Time time.Time
}

// Classify decides which type parser applies to a message. It never fails:
// malformed input classifies as OTHER at worst.
func Classify(subject, body string, receivedAt time.Time) Classification {
	subject = deforwardSubject(subject)
	body = deforwardBody(body)

	c := Classification{
		Type:    models.TypeOther,
		Subject: subject,
		Body:    body,
		Time:    receivedAt,
	}
	if ts, ok := subjectTime(subject); ok {
		c.Time = ts
	}

	c.Type = detectType(subject, body)

	if c.Type == models.TypeTrade {
		c.Side = models.SideBuy
		if strings.Contains(strings.ToLower(body), "sold") {
			c.Side = models.SideSell
		}
	}
	return c
}

func detectType(subject, body string) models.TransactionType {
	for _, p := range subjectPatterns {
		if p.re.MatchString(subject) {
			return p.typ
		}
	}

	// Looser detection for subjects following the "[Source] description"
	// convention.
	if m := reSubjectTag.FindStringSubmatch(subject); m != nil {
		desc := strings.ToLower(m[1])
		switch {
		case strings.Contains(desc, "deposit"):
			return models.TypeDeposit
		case strings.Contains(desc, "withdrawal"):
			return models.TypeWithdrawal
		case strings.Contains(desc, "payment"):
			return models.TypePayment
		case strings.Contains(desc, "order"), strings.Contains(desc, "trade"):
			return models.TypeTrade
		}
	}

	// Last resort: co-occurring keyword pairs in the body.
	lower := strings.ToLower(body)
	switch {
	case strings.Contains(lower, "deposit") && strings.Contains(lower, "completed"):
		return models.TypeDeposit
	case strings.Contains(lower, "withdrawal") &&
		(strings.Contains(lower, "completed") || strings.Contains(lower, "successful")):
		return models.TypeWithdrawal
	case strings.Contains(lower, "payment") && strings.Contains(lower, "transaction"):
		return models.TypePayment
	}
	return models.TypeOther
}

// deforwardSubject strips any number of leading Fwd:/Fw: prefixes.
func deforwardSubject(subject string) string {
	subject = strings.TrimSpace(subject)
	for {
		stripped := reForwardPrefix.ReplaceAllString(subject, "")
		if stripped == subject {
			return subject
		}
		subject = stripped
	}
}

// deforwardBody returns only the text after the forwarding boundary marker
// when one is present.
func deforwardBody(body string) string {
	if idx := strings.Index(body, forwardMarker); idx >= 0 {
		return body[idx+len(forwardMarker):]
	}
	return body
}

// subjectTime extracts a "YYYY-MM-DD HH:MM:SS" timestamp embedded in the
// subject, interpreted as UTC.
func subjectTime(subject string) (time.Time, bool) {
	m := reSubjectTime.FindStringSubmatch(subject)
	if m == nil {
		return time.Time{}, false
	}
	ts, err := time.Parse("2006-01-02 15:04:05", m[1])
	if err != nil {
		return time.Time{}, false
	}
	return ts.UTC(), true
}
