/**
 * Gemini Client - AI-assisted invoice field extraction
 *
 * Talks to the Gemini generateContent REST endpoint in two modes:
 * - Text mode: sends the Tesseract output and asks the model to correct OCR
 *   noise and return structured fields
 * - Vision mode: sends the invoice image itself (inline base64) and asks for
 *   fields plus a spending-category suggestion from a fixed list
 *
 * The model is instructed to answer with a bare JSON object. Responses are
 * scraped for the first JSON object and decoded strictly into an
 * optional-fields record; a response without decodable JSON is a soft miss
 * (empty result, no error), while transport and API errors are hard failures.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	ocrerrors "github.com/faturalab/ocr-worker/internal/errors"
	"github.com/faturalab/ocr-worker/internal/logging"
)

// InvoiceData holds the fields the model extracted from one invoice. Nil
// pointers mean the model reported the field as absent. Confidence is the
// model's own estimate on [0,1].
type InvoiceData struct {
	Amount        *float64 `json:"amount"`
	InvoiceNumber *string  `json:"invoiceNumber"`
	Date          *string  `json:"date"`
	Vendor        *string  `json:"vendor"`
	Category      *string  `json:"category"`
	Confidence    float64  `json:"confidence"`

	// RawExtraction is the model's verbatim text answer, kept for
	// diagnostics even when no JSON could be scraped out of it.
	RawExtraction string `json:"rawExtraction"`

	// Found reports whether a JSON object was recovered from the response.
	// False means a soft miss: the caller should fall back to heuristics.
	Found bool `json:"-"`
}

// GeminiClient handles communication with the Gemini API
type GeminiClient struct {
	baseURL    string
	model      string
	apiKey     string
	categories []string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewGeminiClient creates a new Gemini client. categories is the list of
// spending categories the vision prompt offers the model to choose from.
func NewGeminiClient(baseURL, model, apiKey string, categories []string) *GeminiClient {
	return &GeminiClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		apiKey:     apiKey,
		categories: categories,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logging.NewLogger("GeminiClient"),
	}
}

// generateContent wire format

type generateRequest struct {
	Contents         []requestContent `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type requestContent struct {
	Parts []requestPart `json:"parts"`
}

type requestPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// extractedFields mirrors the JSON object the prompts ask for. All fields are
// optional so a partial answer still decodes.
type extractedFields struct {
	Amount        *float64 `json:"amount"`
	InvoiceNumber *string  `json:"invoiceNumber"`
	Date          *string  `json:"date"`
	Vendor        *string  `json:"vendor"`
	Category      *string  `json:"category"`
	Confidence    *float64 `json:"confidence"`
}

// jsonObjectPattern grabs the first {...} span from the model's answer, which
// may be wrapped in prose or a markdown code fence despite the instructions.
var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// ExtractFromText asks the model to pull invoice fields out of raw OCR text.
func (c *GeminiClient) ExtractFromText(ctx context.Context, ocrText string) (*InvoiceData, error) {
	if ocrText == "" {
		return nil, fmt.Errorf("ocr text is empty")
	}

	c.logger.Info("Requesting field extraction from Gemini",
		"model", c.model,
		"textLength", len(ocrText))

	req := &generateRequest{
		Contents: []requestContent{{
			Parts: []requestPart{{Text: c.textPrompt(ocrText)}},
		}},
		GenerationConfig: generationConfig{
			Temperature:     0.1,
			MaxOutputTokens: 500,
		},
	}

	return c.generate(ctx, req)
}

// ExtractFromImage sends the invoice image itself for analysis. The vision
// prompt additionally asks for a category suggestion.
func (c *GeminiClient) ExtractFromImage(ctx context.Context, imageData []byte, mimeType string) (*InvoiceData, error) {
	if len(imageData) == 0 {
		return nil, fmt.Errorf("image data is empty")
	}
	if mimeType == "" {
		mimeType = "image/png"
	}

	c.logger.Info("Requesting vision field extraction from Gemini",
		"model", c.model,
		"mimeType", mimeType,
		"imageSize", len(imageData))

	req := &generateRequest{
		Contents: []requestContent{{
			Parts: []requestPart{
				{Text: c.visionPrompt()},
				{InlineData: &inlineData{
					MimeType: mimeType,
					Data:     base64.StdEncoding.EncodeToString(imageData),
				}},
			},
		}},
		GenerationConfig: generationConfig{
			Temperature:     0.1,
			MaxOutputTokens: 1000,
		},
	}

	return c.generate(ctx, req)
}

// TestAPIKey sends a minimal request to verify the configured key works.
func (c *GeminiClient) TestAPIKey(ctx context.Context) bool {
	req := &generateRequest{
		Contents: []requestContent{{
			Parts: []requestPart{{Text: "Test"}},
		}},
		GenerationConfig: generationConfig{Temperature: 0.1, MaxOutputTokens: 10},
	}

	_, err := c.generate(ctx, req)
	return err == nil
}

// generate executes one generateContent call and turns the answer into an
// InvoiceData record. Hard failures (transport, non-200 status, undecodable
// envelope) come back as AI-extraction ProcessingErrors so callers can match
// them with errors.Is against ErrAIExtraction.
func (c *GeminiClient) generate(ctx context.Context, req *generateRequest) (*InvoiceData, error) {
	data, err := c.doGenerate(ctx, req)
	if err != nil {
		return nil, ocrerrors.NewAIExtractionError("", c.model, err)
	}
	return data, nil
}

func (c *GeminiClient) doGenerate(ctx context.Context, req *generateRequest) (*InvoiceData, error) {
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)

	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to Gemini failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Gemini returned error status %d: %s", resp.StatusCode, string(body))
	}

	var genResp generateResponse
	if err := json.Unmarshal(body, &genResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	answer := ""
	if len(genResp.Candidates) > 0 && len(genResp.Candidates[0].Content.Parts) > 0 {
		answer = genResp.Candidates[0].Content.Parts[0].Text
	}

	return c.parseAnswer(answer), nil
}

// parseAnswer scrapes the first JSON object out of the model's text answer.
// An answer without decodable JSON yields a soft miss, never an error.
func (c *GeminiClient) parseAnswer(answer string) *InvoiceData {
	data := &InvoiceData{RawExtraction: answer}

	jsonText := jsonObjectPattern.FindString(answer)
	if jsonText == "" {
		c.logger.Warn("Gemini answer contained no JSON object", "answerLength", len(answer))
		return data
	}

	var fields extractedFields
	if err := json.Unmarshal([]byte(jsonText), &fields); err != nil {
		c.logger.Warn("Failed to decode extracted JSON", "error", err)
		return data
	}

	data.Found = true
	data.Amount = fields.Amount
	data.InvoiceNumber = fields.InvoiceNumber
	data.Date = fields.Date
	data.Vendor = fields.Vendor
	data.Category = fields.Category
	if fields.Confidence != nil {
		data.Confidence = clampUnit(*fields.Confidence)
	} else {
		// The model answered but skipped the confidence field
		data.Confidence = 0.5
	}

	c.logger.Info("Field extraction complete",
		"hasAmount", data.Amount != nil,
		"hasVendor", data.Vendor != nil,
		"confidence", data.Confidence)

	return data
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// textPrompt builds the text-mode instruction. It names the keyword markers
// totals carry on Turkish receipts and the OCR confusions the model should
// repair (O read as 0, l as 1, swapped separators).
func (c *GeminiClient) textPrompt(ocrText string) string {
	var b strings.Builder
	b.WriteString("Sen bir fatura analiz uzmanısın. Aşağıdaki OCR metninden fatura bilgilerini çıkar.\n\n")
	b.WriteString("OCR METNİ:\n")
	b.WriteString(ocrText)
	b.WriteString("\n\nGÖREV:\n")
	b.WriteString("1. TUTAR: En büyük tutarı bul (TOPLAM, K.KART, NAKİT vb. ile işaretlenmiş)\n")
	b.WriteString("   - Türk Lirası formatı: 1.850,53 veya 1850.53\n")
	b.WriteString("   - OCR hataları düzelt (O→0, l→1, virgül/nokta karışımı)\n")
	b.WriteString("   - Sonucu sayıya çevir (örn: 1850.53)\n")
	b.WriteString("2. FATURA NO: Fatura numarası, belge no, fiş no vb.\n")
	b.WriteString("   - Genellikle \"NO:\", \"FIŞ NO:\", \"BELGE NO:\" ile başlar\n")
	b.WriteString("3. TARİH: Fatura tarihi (DD/MM/YYYY veya DD.MM.YYYY)\n")
	b.WriteString("4. SATICI: Firma adı, mağaza adı (ilk 2-3 satırdaki firma bilgisi)\n\n")
	b.WriteString("ÖNEMLİ:\n")
	b.WriteString("- Eğer bir bilgi bulunamazsa null döndür\n")
	b.WriteString("- Tutarları MUTLAKA sayı formatına çevir (nokta ayraç olarak)\n")
	b.WriteString("- OCR hatalarını düzelt (örn: \"11.85O,53\" → 11850.53)\n\n")
	b.WriteString("JSON formatında yanıt ver (sadece JSON, açıklama yok):\n")
	b.WriteString(`{"amount": 1850.53, "invoiceNumber": "276850-5", "date": "28/07/2023", "vendor": "HIRFANLI PETROL A.S.", "confidence": 0.95}`)
	return b.String()
}

// visionPrompt builds the image-mode instruction, which additionally asks
// the model to pick a spending category from the configured list.
func (c *GeminiClient) visionPrompt() string {
	var b strings.Builder
	b.WriteString("Sen bir fatura analiz uzmanısın. Bu fatura görselini analiz et ve bilgileri çıkar.\n\n")
	b.WriteString("GÖREV:\n")
	b.WriteString("1. TUTAR: Faturadaki toplam tutarı bul (TOPLAM, K.KART, NAKİT, NET, BRÜT vb. ile işaretlenmiş en yüksek tutar)\n")
	b.WriteString("   - Türk Lirası formatında: 1.850,53 veya 1850.53\n")
	b.WriteString("   - Sonucu sayıya çevir (örn: 1850.53)\n")
	b.WriteString("2. FATURA NO: Fatura numarası, belge no, fiş no vb.\n")
	b.WriteString("3. TARİH: Fatura tarihi (DD/MM/YYYY veya DD.MM.YYYY)\n")
	b.WriteString("4. SATICI: Firma adı, mağaza adı (faturanın üst kısmındaki firma bilgisi)\n")
	b.WriteString("5. KATEGORİ: Fatura kategorisi (tahmin et)\n")
	b.WriteString("   - Seçenekler: ")
	b.WriteString(strings.Join(c.categories, ", "))
	b.WriteString("\n   - Firma adına ve içeriğine göre en uygun kategoriyi seç\n\n")
	b.WriteString("ÖNEMLİ:\n")
	b.WriteString("- Eğer bir bilgi bulunamazsa null döndür\n")
	b.WriteString("- Tutarları MUTLAKA sayı formatına çevir (nokta ayraç olarak)\n")
	b.WriteString("- Türkçe karakterleri koru\n\n")
	b.WriteString("JSON formatında yanıt ver (sadece JSON, açıklama yok):\n")
	b.WriteString(`{"amount": 1850.53, "invoiceNumber": "276850-5", "date": "28/07/2023", "vendor": "HIRFANLI PETROL A.S.", "category": "Ulaşım", "confidence": 0.95}`)
	return b.String()
}
