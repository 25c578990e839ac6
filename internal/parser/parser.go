package parser

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Notification holds the structured payment facts extracted from a raw bank
// alert. It is ephemeral: produced here, consumed by the matching engine,
// never persisted as such.
type Notification struct {
	IsTransfer    bool
	AmountMinor   *int64
	SenderEmail   string
	SenderName    string
	Reference     string
	TransactionID string
	Raw           string
}

// Classification phrases. A text matching none of these is not an
// e-transfer deposit notification and must not be matched against orders.
var transferPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)interac.{0,40}e-?transfer`),
	regexp.MustCompile(`(?i)e-?transfer.{0,40}(?:received|deposited|deposit)`),
	regexp.MustCompile(`(?i)auto-?\s?deposit\s+complete`),
	regexp.MustCompile(`(?i)has\s+sent\s+you\s+(?:money|funds|\$)`),
}

// Amount patterns, tried in order. The first match wins. Each captures the
// numeric portion with optional thousands separators.
var amountPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\$\s*([0-9][0-9,]*(?:\.[0-9]{1,2})?)`),
	regexp.MustCompile(`([0-9][0-9,]*(?:\.[0-9]{1,2})?)\s*CAD\b`),
	regexp.MustCompile(`(?i)amount\s*:?\s*\$?\s*([0-9][0-9,]*(?:\.[0-9]{1,2})?)`),
	regexp.MustCompile(`(?i)deposited\s*:?\s*\$?\s*([0-9][0-9,]*(?:\.[0-9]{1,2})?)`),
}

var senderEmailPattern = regexp.MustCompile(
	`(?i)(?:from|sender)\s*:?[^@\r\n]{0,60}?([A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,})`)

// Sender name: a two-word name adjacent to a sending phrase. Both forms are
// tried because banks word this either way ("From: Jane Doe" vs
// "Jane Doe has sent you ...").
var (
	senderNameAfterPattern = regexp.MustCompile(
		`(?i)(?:from|sent\s+by)\s*:?\s+([A-Z][A-Za-z'.-]+\s+[A-Z][A-Za-z'.-]+)`)
	senderNameBeforePattern = regexp.MustCompile(
		`([A-Z][A-Za-z'.-]+\s+[A-Z][A-Za-z'.-]+)\s+has\s+sent`)
)

const maxSenderNameLen = 50

// Reference patterns, tried in order: an explicit ORD- token anywhere, a
// labeled order/reference field, then a token in the transfer message field.
var referencePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(ORD-[A-Za-z0-9]{4,})\b`),
	regexp.MustCompile(`(?i)order\s*(?:#|number|no\.?)?\s*:?\s*([A-Za-z0-9][A-Za-z0-9-]{3,})`),
	regexp.MustCompile(`(?i)reference\s*#\s*:?\s*([A-Za-z0-9][A-Za-z0-9-]{3,})`),
	regexp.MustCompile(`(?i)message\s*:?\s*"?([A-Za-z0-9][A-Za-z0-9-]{3,})"?`),
}

// Transaction id: a labeled bank confirmation code of at least 10
// alphanumerics. Kept only as an audit attribute; banks reuse the format
// across payers so it can never serve as a matching key.
var transactionIDPattern = regexp.MustCompile(
	`(?i)(?:reference|confirmation|transaction)\s*(?:number|no\.?|id|#)?\s*:?\s*([A-Za-z0-9]{10,})`)

// Parse extracts structured payment facts from raw notification text. It is
// a pure function: no I/O, deterministic for a fixed input. Extractors run
// independently; one failing to find its field does not stop the others.
func Parse(raw string) Notification {
	n := Notification{Raw: raw}
	if !isTransferNotification(raw) {
		return n
	}
	n.IsTransfer = true
	n.AmountMinor = extractAmount(raw)
	n.SenderEmail = extractSenderEmail(raw)
	n.SenderName = extractSenderName(raw)
	n.Reference = extractReference(raw)
	n.TransactionID = extractTransactionID(raw)
	return n
}

func isTransferNotification(text string) bool {
	for _, p := range transferPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// extractAmount returns the payment amount in minor currency units, or nil
// when no currency-formatted amount is present.
func extractAmount(text string) *int64 {
	for _, p := range amountPatterns {
		m := p.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		normalized := strings.ReplaceAll(m[1], ",", "")
		f, err := strconv.ParseFloat(normalized, 64)
		if err != nil || f <= 0 {
			continue
		}
		minor := int64(math.Round(f * 100))
		return &minor
	}
	return nil
}

func extractSenderEmail(text string) string {
	m := senderEmailPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}

func extractSenderName(text string) string {
	for _, p := range []*regexp.Regexp{senderNameBeforePattern, senderNameAfterPattern} {
		m := p.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		name := strings.TrimSpace(m[1])
		if len(name) > maxSenderNameLen {
			continue
		}
		return name
	}
	return ""
}

func extractReference(text string) string {
	for _, p := range referencePatterns {
		m := p.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		return strings.ToUpper(strings.TrimSpace(m[1]))
	}
	return ""
}

func extractTransactionID(text string) string {
	m := transactionIDPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}
