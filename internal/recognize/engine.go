/**
 * Text Recognition Engine - Tesseract adapter
 *
 * Wraps a gosseract client behind an explicitly owned handle. The underlying
 * Tesseract instance is expensive to initialize and stateful, so it is created
 * lazily on first use, serialized behind a mutex, and reused until Close.
 */

package recognize

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"

	ocrerrors "github.com/faturalab/ocr-worker/internal/errors"
	"github.com/faturalab/ocr-worker/internal/logging"
)

// Result is the raw recognition output: the text plus a 0-100 confidence.
type Result struct {
	Text       string
	Confidence float64
}

// Config holds engine configuration
type Config struct {
	// Languages is a Tesseract language spec, e.g. "tur+eng".
	Languages string
	// CharWhitelist restricts the recognized character set. Empty means no
	// restriction.
	CharWhitelist string
}

// Engine is a process-wide recognition handle. Only one recognition job runs
// against the underlying client at a time; concurrent callers block.
type Engine struct {
	cfg    Config
	logger *logging.Logger

	mu     sync.Mutex
	client *gosseract.Client
	closed bool
}

// NewEngine creates an engine handle. No Tesseract resources are allocated
// until the first Recognize call.
func NewEngine(cfg Config) *Engine {
	if cfg.Languages == "" {
		cfg.Languages = "tur+eng"
	}
	return &Engine{
		cfg:    cfg,
		logger: logging.NewLogger("RecognitionEngine"),
	}
}

// Recognize runs OCR on an encoded bitmap and returns the raw text with a
// 0-100 confidence score. Any failure is reported as a RECOGNITION_FAILED
// error; callers are expected to degrade to manual entry.
func (e *Engine) Recognize(ctx context.Context, imageData []byte) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, ocrerrors.NewRecognitionError("", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	client, err := e.acquireLocked()
	if err != nil {
		return nil, ocrerrors.NewRecognitionError("", err)
	}

	if err := client.SetImageFromBytes(imageData); err != nil {
		return nil, ocrerrors.NewRecognitionError("", err)
	}

	text, err := client.Text()
	if err != nil {
		return nil, ocrerrors.NewRecognitionError("", err)
	}

	confidence := e.wordConfidence(client)
	if confidence <= 0 {
		confidence = estimateConfidence(text)
	}

	e.logger.Debug("Recognition complete",
		"textLength", len(text),
		"confidence", confidence)

	return &Result{Text: text, Confidence: confidence}, nil
}

// Close releases the Tesseract resources. The engine cannot be reused after
// Close; a new handle must be constructed.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closed = true
	if e.client == nil {
		return nil
	}

	err := e.client.Close()
	e.client = nil
	return err
}

// acquireLocked lazily initializes the shared client. Callers must hold e.mu.
func (e *Engine) acquireLocked() (*gosseract.Client, error) {
	if e.closed {
		return nil, errClosed
	}
	if e.client != nil {
		return e.client, nil
	}

	e.logger.Info("Initializing Tesseract client",
		"languages", e.cfg.Languages,
		"whitelisted", e.cfg.CharWhitelist != "")

	client := gosseract.NewClient()

	if err := client.SetLanguage(strings.Split(e.cfg.Languages, "+")...); err != nil {
		client.Close()
		return nil, err
	}

	// Receipts are sparse, irregular text, not paragraphs.
	if err := client.SetPageSegMode(gosseract.PSM_SPARSE_TEXT); err != nil {
		client.Close()
		return nil, err
	}

	if err := client.SetVariable("preserve_interword_spaces", "1"); err != nil {
		client.Close()
		return nil, err
	}

	if e.cfg.CharWhitelist != "" {
		if err := client.SetWhitelist(e.cfg.CharWhitelist); err != nil {
			client.Close()
			return nil, err
		}
	}

	e.client = client
	return client, nil
}

// wordConfidence averages the per-word confidences reported by Tesseract.
// Returns 0 when word boxes are unavailable.
func (e *Engine) wordConfidence(client *gosseract.Client) float64 {
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}

	var sum float64
	for _, box := range boxes {
		sum += box.Confidence
	}
	return sum / float64(len(boxes))
}

// estimateConfidence derives a 0-100 confidence from text quality indicators.
// Used only when Tesseract does not report word-level confidences.
func estimateConfidence(text string) float64 {
	confidence := 50.0

	if len(text) > 200 {
		confidence += 10
	}
	if len(text) > 1000 {
		confidence += 10
	}

	words := strings.Fields(text)
	if len(words) > 20 {
		confidence += 10
	}

	// Receipts mix digits and letters; an extreme ratio either way usually
	// means garbage recognition.
	alphaCount := 0
	for _, r := range text {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			alphaCount++
		}
	}
	if len(text) > 0 {
		alphaRatio := float64(alphaCount) / float64(len(text))
		if alphaRatio > 0.3 && alphaRatio < 0.9 {
			confidence += 10
		}
	}

	if confidence > 85 {
		confidence = 85
	}

	return confidence
}

var errClosed = errors.New("recognition engine is closed")
