/**
 * Invoice Processor - OCR pipeline orchestration
 *
 * Runs the linear pipeline for one uploaded invoice image:
 * preprocessing -> recognition -> heuristic extraction -> optional AI
 * enhancement -> merge. Stages run strictly in sequence; the progress
 * callback is the only mid-flight signal exposed to callers.
 *
 * AI enhancement is strictly additive: a hard AI failure is logged and the
 * heuristic result stands, so an upload never fails because the model
 * service was down.
 */

package processor

import (
	"context"
	"log"
	"time"

	"github.com/faturalab/ocr-worker/internal/clients"
	"github.com/faturalab/ocr-worker/internal/errors"
	"github.com/faturalab/ocr-worker/internal/extract"
	"github.com/faturalab/ocr-worker/internal/logging"
	"github.com/faturalab/ocr-worker/internal/recognize"
)

// Preprocessor prepares an image for recognition.
type Preprocessor interface {
	Process(data []byte) ([]byte, error)
}

// Recognizer turns a bitmap into text with a confidence estimate.
type Recognizer interface {
	Recognize(ctx context.Context, imageData []byte) (*recognize.Result, error)
}

// AIExtractor is the generative-model field extraction contract.
type AIExtractor interface {
	ExtractFromText(ctx context.Context, ocrText string) (*clients.InvoiceData, error)
	ExtractFromImage(ctx context.Context, imageData []byte, mimeType string) (*clients.InvoiceData, error)
}

// InvoiceProcessor handles invoice image processing
type InvoiceProcessor struct {
	preprocessor Preprocessor
	recognizer   Recognizer
	extractor    *extract.Extractor
	ai           AIExtractor // nil disables AI enhancement
	logger       *logging.Logger
}

// NewInvoiceProcessor creates a new invoice processor. ai may be nil, in
// which case every run stays on the heuristic path.
func NewInvoiceProcessor(pre Preprocessor, rec Recognizer, ai AIExtractor) *InvoiceProcessor {
	return &InvoiceProcessor{
		preprocessor: pre,
		recognizer:   rec,
		extractor:    extract.NewExtractor(),
		ai:           ai,
		logger:       logging.NewLogger("InvoiceProcessor"),
	}
}

// ProcessInvoice runs the full pipeline for one image. progress may be nil.
func (p *InvoiceProcessor) ProcessInvoice(ctx context.Context, req *ProcessRequest, progress ProgressFunc) (*OCRResult, error) {
	start := time.Now()
	report := func(stage string, fraction float64) {
		if progress != nil {
			progress(stage, fraction)
		}
	}

	// Step 1: Preprocess image for recognition
	log.Printf("[Job %s] Step 1: Preprocessing image (%d bytes)", req.JobID, len(req.ImageData))
	report(StagePreprocess, 0.05)

	prepared, err := p.preprocessor.Process(req.ImageData)
	if err != nil {
		return nil, err
	}
	report(StagePreprocess, 0.3)

	// Step 2: Recognize text
	log.Printf("[Job %s] Step 2: Recognizing text (%d bytes prepared)", req.JobID, len(prepared))
	report(StageRecognize, 0.35)

	recognition, err := p.recognizer.Recognize(ctx, prepared)
	if err != nil {
		return nil, errors.NewRecognitionError(req.JobID, err)
	}
	report(StageRecognize, 0.7)

	// Step 3: Heuristic field extraction (never fails)
	log.Printf("[Job %s] Step 3: Extracting fields (%d chars, confidence %.1f)",
		req.JobID, len(recognition.Text), recognition.Confidence)
	report(StageExtract, 0.75)

	fields := p.extractor.Extract(recognition.Text)
	report(StageExtract, 0.8)

	// Step 4: Optional AI enhancement
	var aiData *clients.InvoiceData
	hybrid := false
	if p.ai != nil && req.Mode != ModeHeuristic {
		log.Printf("[Job %s] Step 4: AI enhancement (mode: %s)", req.JobID, req.Mode)
		report(StageEnhance, 0.85)

		switch req.Mode {
		case ModeVision:
			// Hybrid path: the model sees the original image while the
			// local pass contributed text and confidence
			hybrid = true
			aiData, err = p.ai.ExtractFromImage(ctx, req.ImageData, req.MimeType)
		default:
			aiData, err = p.ai.ExtractFromText(ctx, recognition.Text)
		}
		if err != nil {
			// Hard failure: fall back to heuristics, flow continues
			p.logger.Warn("AI enhancement unavailable, using heuristic result",
				"jobId", req.JobID, "error", err)
			aiData = nil
		}
		report(StageEnhance, 0.95)
	}

	// Step 5: Merge
	result := mergeResults(recognition.Text, fields, recognition.Confidence, aiData, hybrid)
	result.ProcessingTimeMs = time.Since(start).Milliseconds()
	report(StageDone, 1.0)

	log.Printf("[Job %s] Step 5: Processing complete (aiEnhanced: %v, confidence: %.1f, %dms)",
		req.JobID, result.AIEnhanced, result.Confidence, result.ProcessingTimeMs)

	return result, nil
}
