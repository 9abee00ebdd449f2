/**
 * Amount extraction - ordered pattern/priority rule engine
 *
 * Receipts carry many numbers (line items, VAT, change, weights); the total is
 * identified by an ordered table of regex rules, each pairing a keyword cluster
 * with a money-shaped number. Earlier rules always outrank later ones: a
 * keyword-qualified total beats a currency-suffixed number beats a bare number,
 * regardless of where they appear in the text.
 */

package extract

import (
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// AmountCandidate is a provisional amount recovered from the recognized text.
type AmountCandidate struct {
	Value       decimal.Decimal
	Priority    int
	MatchedText string
	RawDigits   string
}

// Bounds for plausible receipt totals. Values outside this range are OCR
// garbage or unrelated numbers (dates, barcodes, tax office codes).
var (
	minAmount = decimal.RequireFromString("0.01")
	maxAmount = decimal.NewFromInt(10_000_000)
)

// number matches digit groups separated by '.', ',' or spaces with exactly two
// trailing decimal digits: 1.850,53 / 1,234.56 / 1 850,53 / 1850.53 / 100,00.
// Group separators never span lines: digits on separate receipt lines are
// separate numbers.
const number = `(\d{1,3}(?:[., ]\d{3})+[.,]\d{2}|\d+[.,]\d{2})`

// currency is an optional currency marker between a keyword and its number.
const currency = `(?:₺|tl|\$|€|£)?`

// amountRules is evaluated in fixed descending priority order against the
// normalized (whitespace-collapsed, Turkish-lowercased) text. Each rule's
// single capture group is the numeric string. Priority of rule i is
// len(amountRules)-i, so adding a locale means adding a row, not control flow.
//
// Keywords spell every i as [iı]: Turkish lowercasing folds ASCII 'I' to
// dotless 'ı', so uppercase input like "INVOICE" normalizes to "ınvoıce".
var amountRules = []*regexp.Regexp{
	// Keyword-qualified totals and payments
	regexp.MustCompile(`(?:genel\s+toplam|toplam|total)\s*:?\s*` + currency + `\s*` + number),
	regexp.MustCompile(`(?:k\.?\s?kart[ıi]?|kred[iı]\s+kart[ıi]|card)\s*:?\s*` + currency + `\s*` + number),
	regexp.MustCompile(`(?:nak[iı]t|[öo]denecek|cash)\s*:?\s*` + currency + `\s*` + number),
	regexp.MustCompile(`(?:net|br[üu]t|gross)\s*:?\s*` + currency + `\s*` + number),
	regexp.MustCompile(`(?:sat[ıi][şs]|sales)\s*:?\s*` + currency + `\s*` + number),
	regexp.MustCompile(`(?:fatura|f[iı][şs]|[iı]nvo[iı]ce|rece[iı]pt)\s*(?:tutar[ıi])?\s*:?\s*` + currency + `\s*` + number),
	regexp.MustCompile(`kdv\s+dah[iı]l\s*:?\s*` + currency + `\s*` + number),
	regexp.MustCompile(`(?:tutar|bedel|f[iı]yat|amount)\s*:?\s*` + currency + `\s*` + number),
	// Currency-suffixed numbers with no keyword context
	regexp.MustCompile(number + `\s*(?:₺|tl|\$|€|£)`),
	// Bare numbers, last resort
	regexp.MustCompile(number),
}

// extractAmounts runs the rule table over normalized text and returns all
// surviving candidates sorted by (priority desc, value desc).
func extractAmounts(normalized string) []AmountCandidate {
	total := len(amountRules)
	var candidates []AmountCandidate

	for i, rule := range amountRules {
		for _, m := range rule.FindAllStringSubmatch(normalized, -1) {
			raw := m[1]
			value, ok := parseAmount(raw)
			if !ok {
				continue
			}
			candidates = append(candidates, AmountCandidate{
				Value:       value,
				Priority:    total - i,
				MatchedText: strings.TrimSpace(m[0]),
				RawDigits:   raw,
			})
		}
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		if candidates[a].Priority != candidates[b].Priority {
			return candidates[a].Priority > candidates[b].Priority
		}
		return candidates[a].Value.GreaterThan(candidates[b].Value)
	})

	return candidates
}

// parseAmount normalizes separators and parses the result, rejecting values
// outside the plausible range.
func parseAmount(raw string) (decimal.Decimal, bool) {
	value, err := decimal.NewFromString(normalizeSeparators(raw))
	if err != nil {
		return decimal.Decimal{}, false
	}
	if value.LessThan(minAmount) || value.GreaterThan(maxAmount) {
		return decimal.Decimal{}, false
	}
	return value, true
}

// normalizeSeparators disambiguates decimal vs. thousands separators by
// counting '.' and ',' occurrences and comparing their last positions.
// Turkish receipts write 11.850,53; US-style POS printers write 1,234.56;
// OCR noise produces anything in between.
func normalizeSeparators(raw string) string {
	s := strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, raw)

	dots := strings.Count(s, ".")
	commas := strings.Count(s, ",")
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case commas == 1 && lastComma > lastDot:
		// Turkish/European: dots group thousands, comma is the decimal mark
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	case dots == 1 && lastDot > lastComma:
		// US: commas group thousands, dot is the decimal mark
		s = strings.ReplaceAll(s, ",", "")
	case commas > 1 && dots == 0:
		// Noisy OCR: treat every comma as a thousands separator
		s = strings.ReplaceAll(s, ",", "")
	case dots > 1:
		// All but the last dot are thousands separators
		s = strings.ReplaceAll(s, ",", "")
		last := strings.LastIndex(s, ".")
		s = strings.ReplaceAll(s[:last], ".", "") + s[last:]
	}

	return s
}
