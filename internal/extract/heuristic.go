/**
 * Heuristic field extraction from recognized invoice text
 *
 * Pulls the structured fields (total amount, date, vendor, invoice number)
 * out of raw OCR output using layout-free pattern matching. Extraction is
 * best-effort and never fails: fields that cannot be recovered stay zero,
 * and the caller decides whether the result is good enough.
 *
 * All keyword matching runs on a normalized copy of the text: whitespace
 * collapsed and lowercased with Turkish case rules. Go's regexp (?i) flag
 * does not fold the dotted/dotless I pair, so "FİŞ" and "SATIŞ" only match
 * after strings.ToLowerSpecial with unicode.TurkishCase. Turkish lowercasing
 * also folds ASCII 'I' to dotless 'ı' ("INVOICE" becomes "ınvoıce"), so
 * keyword patterns spell every i as [iı].
 */

package extract

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Fields holds everything the heuristic pass recovered from one document.
type Fields struct {
	Amount          *decimal.Decimal
	Date            string
	Vendor          string
	InvoiceNumber   string
	DetectedAmounts []AmountCandidate
}

// maxDetectedAmounts caps the candidate list surfaced to the caller. The
// first entry is always the selected amount; the rest are alternatives a UI
// can offer when the top pick is wrong.
const maxDetectedAmounts = 5

var (
	// Label-qualified dates win over bare ones so "Fatura Tarihi: 28.07.2023"
	// is preferred to an incidental date elsewhere on the receipt.
	labeledDatePattern = regexp.MustCompile(`(?:tar[iı]h[iı]?|date)\s*:?\s*(\d{1,2}[./-]\d{1,2}[./-]\d{4})`)
	bareDatePattern    = regexp.MustCompile(`\d{1,2}[./-]\d{1,2}[./-]\d{4}`)

	// Explicit document-number labels, then a bare "no:" as fallback. The
	// fallback value must be letters followed by digits (serial prefixes like
	// "GIB2023...") so "no: 5" on a table receipt does not become an invoice
	// number.
	labeledInvoicePattern = regexp.MustCompile(`(?:fatura|[iı]nvo[iı]ce|belge|f[iı][şs])\s*no\s*[:.]?\s*([a-zçğıöşü0-9][a-zçğıöşü0-9\-/]+)`)
	bareInvoicePattern    = regexp.MustCompile(`\bno\s*[:.]\s*([a-zçğıöşü]{2,}[-/]?\d[a-zçğıöşü0-9\-/]*)`)

	whitespaceRun = regexp.MustCompile(`[ \t]+`)
)

// Vendor name length bounds. Shorter strings are usually OCR fragments,
// longer ones are address lines that bled together.
const (
	minVendorLen = 6
	maxVendorLen = 99
)

// Extractor runs the heuristic field extraction pass. It is stateless and
// safe for concurrent use.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract recovers structured fields from raw OCR text. It never returns an
// error: unrecoverable fields are left at their zero values.
func (e *Extractor) Extract(text string) Fields {
	normalized := normalizeText(text)

	var fields Fields

	candidates := extractAmounts(normalized)
	if len(candidates) > 0 {
		amount := candidates[0].Value
		fields.Amount = &amount
		if len(candidates) > maxDetectedAmounts {
			candidates = candidates[:maxDetectedAmounts]
		}
		fields.DetectedAmounts = candidates
	}

	fields.Date = extractDate(normalized)
	fields.InvoiceNumber = extractInvoiceNumber(normalized)
	fields.Vendor = extractVendor(text)

	return fields
}

// normalizeText collapses runs of spaces and lowercases with Turkish case
// rules so keyword patterns match regardless of the printer's casing.
// Newlines are kept: some patterns should not match across line breaks.
func normalizeText(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(whitespaceRun.ReplaceAllString(line, " "))
	}
	joined := strings.Join(lines, "\n")
	return strings.ToLowerSpecial(unicode.TurkishCase, joined)
}

// extractDate returns the first label-qualified date, falling back to the
// first bare date-shaped token. The string is passed through as printed
// (DD.MM.YYYY, DD/MM/YYYY or DD-MM-YYYY) without calendar validation;
// parsing to a canonical form is the caller's concern.
func extractDate(normalized string) string {
	if m := labeledDatePattern.FindStringSubmatch(normalized); m != nil {
		return m[1]
	}
	return bareDatePattern.FindString(normalized)
}

// extractInvoiceNumber looks for a document-number label first, then for a
// bare "no:" followed by a token with at least two letters and a digit.
func extractInvoiceNumber(normalized string) string {
	if m := labeledInvoicePattern.FindStringSubmatch(normalized); m != nil {
		return strings.ToUpper(m[1])
	}
	if m := bareInvoicePattern.FindStringSubmatch(normalized); m != nil {
		return strings.ToUpper(m[1])
	}
	return ""
}

// extractVendor picks the longest of the first three non-empty lines of the
// raw text. Receipt headers put the merchant name at the top, and the name
// line is usually the longest of the header lines. Runs on the original text
// so the vendor keeps its printed casing.
func extractVendor(text string) string {
	var header []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		header = append(header, line)
		if len(header) == 3 {
			break
		}
	}

	// Lengths are in runes: Turkish merchant names are full of multi-byte
	// letters and the bounds describe characters, not encoding size.
	var vendor string
	for _, line := range header {
		if utf8.RuneCountInString(line) > utf8.RuneCountInString(vendor) {
			vendor = line
		}
	}
	if n := utf8.RuneCountInString(vendor); n < minVendorLen || n > maxVendorLen {
		return ""
	}
	return vendor
}
