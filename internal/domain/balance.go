package domain

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	balanceJunk  = regexp.MustCompile(`[₹$€£,\s]|(?i)INR`)
	balanceToken = regexp.MustCompile(`\d+(?:\.\d+)?`)
)

// ParseBalanceAmount extracts a numeric amount from portal-rendered balance
// text. Currency symbols, the INR marker, commas and whitespace are
// stripped; a trailing CR/DR/CREDIT/DEBIT marker is removed; the first
// numeric token wins. ok is false when no number remains.
func ParseBalanceAmount(s string) (amount float64, ok bool) {
	cleaned := balanceJunk.ReplaceAllString(s, "")
	upper := strings.ToUpper(cleaned)
	for _, suffix := range []string{"CREDIT", "DEBIT", "CR", "DR"} {
		if strings.HasSuffix(upper, suffix) {
			cleaned = cleaned[:len(cleaned)-len(suffix)]
			break
		}
	}
	token := balanceToken.FindString(cleaned)
	if token == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// FormatAmount renders an amount with comma thousands grouping and two
// decimals, e.g. 72500 -> "72,500.00".
func FormatAmount(amount float64) string {
	s := strconv.FormatFloat(amount, 'f', 2, 64)
	dot := strings.Index(s, ".")
	intPart, frac := s[:dot], s[dot:]
	neg := strings.HasPrefix(intPart, "-")
	if neg {
		intPart = intPart[1:]
	}
	var b strings.Builder
	pre := len(intPart) % 3
	if pre > 0 {
		b.WriteString(intPart[:pre])
	}
	for i := pre; i < len(intPart); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(intPart[i : i+3])
	}
	out := b.String() + frac
	if neg {
		out = "-" + out
	}
	return out
}
