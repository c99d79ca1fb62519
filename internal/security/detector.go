package security

import "regexp"

// PII classes reported in warnings and redacted by Sanitize.
const (
	PIIEmail      = "email"
	PIIPhone      = "phone"
	PIISSN        = "ssn"
	PIICreditCard = "credit_card"
	PIIAPIKey     = "api_key"
)

type namedRegex struct {
	name        string
	re          *regexp.Regexp
	placeholder string
}

// piiDetectors are applied in this order. Longer digit shapes come before
// phone numbers so a card number is never half-redacted as a phone.
var piiDetectors = []namedRegex{
	{PIIAPIKey, regexp.MustCompile(`\b(?:sk-[A-Za-z0-9_\-]{20,}|pk_[A-Za-z0-9]{20,}|AKIA[A-Z0-9]{16}|ghp_[A-Za-z0-9]{36}|gho_[A-Za-z0-9]{36}|glpat-[A-Za-z0-9\-]{20,}|AIza[A-Za-z0-9_\-]{35}|xox[abp]-[A-Za-z0-9\-]{10,})\b`), "[API_KEY_REDACTED]"},
	{PIIEmail, regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`), "[EMAIL_REDACTED]"},
	{PIICreditCard, regexp.MustCompile(`\b(?:\d{4}[\s\-]?){3}\d{4}\b`), "[CREDIT_CARD_REDACTED]"},
	{PIISSN, regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[SSN_REDACTED]"},
	{PIIPhone, regexp.MustCompile(`(?:\+\d{1,3}[\s.\-]?)?(?:\(\d{3}\)|\b\d{3})[\s.\-]?\d{3}[\s.\-]?\d{4}\b`), "[PHONE_REDACTED]"},
}

// DetectPII returns the distinct PII classes present in text, in detector order.
func DetectPII(text string) []string {
	var found []string
	rest := text
	for _, nr := range piiDetectors {
		if nr.re.MatchString(rest) {
			found = append(found, nr.name)
			// Mask so a card number does not also count as a phone number.
			rest = nr.re.ReplaceAllString(rest, nr.placeholder)
		}
	}
	return found
}

// Sanitize replaces every detected PII value with its class placeholder.
// Sanitize(Sanitize(x)) == Sanitize(x).
func Sanitize(text string) string {
	out := text
	for i := 0; i < 10; i++ {
		next := out
		for _, nr := range piiDetectors {
			next = nr.re.ReplaceAllString(next, nr.placeholder)
		}
		if next == out {
			break
		}
		out = next
	}
	return out
}

// Placeholders lists every redaction token.
func Placeholders() []string {
	out := make([]string, len(piiDetectors))
	for i, nr := range piiDetectors {
		out[i] = nr.placeholder
	}
	return out
}
