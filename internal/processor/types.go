/**
 * Invoice OCR result types
 */

package processor

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/faturalab/ocr-worker/internal/extract"
)

// Mode selects how the AI extractor participates in a processing run.
type Mode string

const (
	// ModeHeuristic runs preprocessing, recognition and heuristic
	// extraction only; no AI call is made.
	ModeHeuristic Mode = "heuristic"
	// ModeText sends the recognized text to the AI extractor.
	ModeText Mode = "text"
	// ModeVision sends the original image to the AI extractor alongside
	// the local recognition pass (hybrid: both sources contribute).
	ModeVision Mode = "vision"
)

// ProcessRequest describes one invoice image to process.
type ProcessRequest struct {
	JobID     string
	UserID    string
	Filename  string
	MimeType  string
	ImageData []byte
	Mode      Mode
}

// OCRResult is the merged outcome of one processing run. Confidence is on
// [0,100] regardless of which source produced it. When AIEnhanced is true
// the AI's fields are authoritative and DetectedAmounts is empty.
type OCRResult struct {
	Text             string                    `json:"text"`
	Amount           *decimal.Decimal          `json:"amount,omitempty"`
	InvoiceNumber    string                    `json:"invoiceNumber,omitempty"`
	Date             string                    `json:"date,omitempty"`
	Vendor           string                    `json:"vendor,omitempty"`
	Category         string                    `json:"category,omitempty"`
	Confidence       float64                   `json:"confidence"`
	DetectedAmounts  []extract.AmountCandidate `json:"detectedAmounts,omitempty"`
	AIEnhanced       bool                      `json:"aiEnhanced"`
	RawAIResponse    string                    `json:"rawAiResponse,omitempty"`
	ProcessingTimeMs int64                     `json:"processingTimeMs"`
}

// ProgressFunc receives pipeline progress updates: a stage label and a
// fraction in [0,1], monotonically non-decreasing, reaching 1 on success.
type ProgressFunc func(stage string, fraction float64)

// Pipeline stage labels reported through ProgressFunc.
const (
	StagePreprocess = "preprocessing"
	StageRecognize  = "recognizing"
	StageExtract    = "extracting"
	StageEnhance    = "enhancing"
	StageDone       = "done"
)

var invoiceDatePattern = regexp.MustCompile(`^(\d{1,2})[./-](\d{1,2})[./-](\d{4})$`)

// ParseInvoiceDateISO converts an extracted DD.MM.YYYY / DD/MM/YYYY /
// DD-MM-YYYY string to ISO YYYY-MM-DD for storage. Returns false when the
// input does not have the expected shape or is not a plausible calendar day;
// extraction itself passes dates through unvalidated, this is the downstream
// conversion point.
func ParseInvoiceDateISO(s string) (string, bool) {
	m := invoiceDatePattern.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	if day < 1 || day > 31 || month < 1 || month > 12 || year < 1900 || year > 2100 {
		return "", false
	}
	return fmt.Sprintf("%04d-%02d-%02d", year, month, day), true
}
