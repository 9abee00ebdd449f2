/**
 * Result merger - heuristic vs. AI field selection
 *
 * The heuristic pass always runs and its result is the floor. When the AI
 * extractor was attempted and returned decodable fields (a hard success),
 * its fields replace the heuristic ones wholesale: the AI path yields a
 * single authoritative amount, so the candidate list is dropped. A soft
 * miss (answer without JSON) or a hard failure leaves the heuristic result
 * in place.
 */

package processor

import (
	"github.com/shopspring/decimal"

	"github.com/faturalab/ocr-worker/internal/clients"
	"github.com/faturalab/ocr-worker/internal/extract"
)

// mergeResults builds the final OCRResult from the heuristic fields, the
// local recognition confidence (0-100) and the optional AI outcome. ai is
// nil when AI was not attempted or hard-failed. hybrid marks the
// image+text path where both sources contributed and the reported
// confidence is the better of the two.
func mergeResults(text string, fields extract.Fields, recognitionConfidence float64, ai *clients.InvoiceData, hybrid bool) *OCRResult {
	result := &OCRResult{
		Text:       text,
		Confidence: recognitionConfidence,
	}

	if ai != nil {
		result.RawAIResponse = ai.RawExtraction
	}

	if ai == nil || !ai.Found {
		result.Amount = fields.Amount
		result.InvoiceNumber = fields.InvoiceNumber
		result.Date = fields.Date
		result.Vendor = fields.Vendor
		result.DetectedAmounts = fields.DetectedAmounts
		return result
	}

	// AI hard success: its fields are authoritative. Missing fields stay
	// absent, never backfilled from the heuristic pass.
	result.AIEnhanced = true
	if ai.Amount != nil {
		amount := decimal.NewFromFloat(*ai.Amount)
		result.Amount = &amount
	}
	if ai.InvoiceNumber != nil {
		result.InvoiceNumber = *ai.InvoiceNumber
	}
	if ai.Date != nil {
		result.Date = *ai.Date
	}
	if ai.Vendor != nil {
		result.Vendor = *ai.Vendor
	}
	if ai.Category != nil {
		result.Category = *ai.Category
	}

	aiConfidence := ai.Confidence * 100
	if hybrid && recognitionConfidence > aiConfidence {
		result.Confidence = recognitionConfidence
	} else {
		result.Confidence = aiConfidence
	}

	return result
}
