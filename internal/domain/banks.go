package domain

import (
	"fmt"
	"strings"
)

// Bank identifies one supported portal. Label is the canonical name used
// for adapter dispatch; SinkLabel is the exact string the statement sink's
// bank dropdown expects; CutoverHour is the local hour before which the
// statement date window starts on the previous day.
type Bank struct {
	Label       string
	SinkLabel   string
	CutoverHour int
}

var (
	BankTMB          = Bank{Label: "TMB", SinkLabel: "TMB", CutoverHour: 5}
	BankIOB          = Bank{Label: "IOB", SinkLabel: "IOB", CutoverHour: 6}
	BankIOBCorporate = Bank{Label: "IOB CORPORATE", SinkLabel: "IOB", CutoverHour: 6}
	BankKGB          = Bank{Label: "KGB", SinkLabel: "Kerala Gramin Bank", CutoverHour: 6}
	BankIDBI         = Bank{Label: "IDBI", SinkLabel: "IDBI", CutoverHour: 5}
	BankIDFC         = Bank{Label: "IDFC", SinkLabel: "IDFC", CutoverHour: 5}
	BankCanara       = Bank{Label: "CANARA", SinkLabel: "Canara Bank", CutoverHour: 5}
)

// SupportedBanks returns the closed set of banks in dispatch order.
func SupportedBanks() []Bank {
	return []Bank{BankTMB, BankIOB, BankIOBCorporate, BankKGB, BankIDBI, BankIDFC, BankCanara}
}

// bankSynonyms maps normalized portal names to canonical labels.
var bankSynonyms = map[string]string{
	"INDIAN OVERSEAS BANK":     "IOB",
	"IOB CORP":                 "IOB CORPORATE",
	"IOB CORPORATE":            "IOB CORPORATE",
	"CNRB":                     "CANARA",
	"CANARA BANK":              "CANARA",
	"KERALA GRAMIN BANK":       "KGB",
	"TAMILNAD MERCANTILE BANK": "TMB",
}

// CanonicalBankLabel normalizes a raw bank label: uppercase, ampersand to
// AND, whitespace collapsed, then synonym mapping.
func CanonicalBankLabel(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "&", " AND ")
	s = strings.Join(strings.Fields(s), " ")
	if canon, ok := bankSynonyms[s]; ok {
		return canon
	}
	return s
}

// BankByLabel resolves a raw label to its Bank.
func BankByLabel(raw string) (Bank, error) {
	canon := CanonicalBankLabel(raw)
	for _, b := range SupportedBanks() {
		if b.Label == canon {
			return b, nil
		}
	}
	return Bank{}, fmt.Errorf("bank %q: %w", raw, ErrUnsupportedBank)
}

// aliasSuffixes maps alias suffixes to bank labels. Order matters:
// _iobcorp must win over _iob.
var aliasSuffixes = []struct {
	suffix string
	label  string
}{
	{"_iobcorp", "IOB CORPORATE"},
	{"_iob", "IOB"},
	{"_tmb", "TMB"},
	{"_kgb", "KGB"},
	{"_idbi", "IDBI"},
	{"_idfc", "IDFC"},
	{"_canara", "CANARA"},
	{"_cnrb", "CANARA"},
}

// LabelFromAlias derives the bank label from an alias suffix, falling back
// to the last underscore-separated token uppercased.
func LabelFromAlias(alias string) string {
	lower := strings.ToLower(alias)
	for _, m := range aliasSuffixes {
		if strings.HasSuffix(lower, m.suffix) {
			return m.label
		}
	}
	if i := strings.LastIndex(alias, "_"); i >= 0 && i+1 < len(alias) {
		return strings.ToUpper(alias[i+1:])
	}
	return strings.ToUpper(alias)
}
