/**
 * Gemini client tests against a stub generateContent endpoint
 */

package clients

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	ocrerrors "github.com/faturalab/ocr-worker/internal/errors"
)

var testCategories = []string{"Yemek", "Ulaşım", "Diğer"}

// stubGemini returns a server that answers every generateContent call with
// the given model text, capturing the last request body for inspection.
func stubGemini(t *testing.T, answer string, lastBody *map[string]interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-goog-api-key") == "" {
			t.Error("missing x-goog-api-key header")
		}
		if lastBody != nil {
			var body map[string]interface{}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("request body is not JSON: %v", err)
			}
			*lastBody = body
		}
		resp := map[string]interface{}{
			"candidates": []map[string]interface{}{{
				"content": map[string]interface{}{
					"parts": []map[string]interface{}{{"text": answer}},
				},
			}},
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestExtractFromText(t *testing.T) {
	answer := `{"amount": 1850.53, "invoiceNumber": "276850-5", "date": "28.07.2023", "vendor": "HIRFANLI PETROL A.S.", "confidence": 0.95}`
	srv := stubGemini(t, answer, nil)
	defer srv.Close()

	c := NewGeminiClient(srv.URL, "gemini-2.0-flash-exp", "test-key", testCategories)
	data, err := c.ExtractFromText(context.Background(), "TOPLAM: 1.850,53 TL")
	if err != nil {
		t.Fatalf("ExtractFromText: %v", err)
	}

	if !data.Found {
		t.Fatal("expected Found=true")
	}
	if data.Amount == nil || *data.Amount != 1850.53 {
		t.Errorf("amount = %v, want 1850.53", data.Amount)
	}
	if data.InvoiceNumber == nil || *data.InvoiceNumber != "276850-5" {
		t.Errorf("invoiceNumber = %v, want 276850-5", data.InvoiceNumber)
	}
	if data.Confidence != 0.95 {
		t.Errorf("confidence = %v, want 0.95", data.Confidence)
	}
	if data.RawExtraction != answer {
		t.Error("raw extraction should carry the verbatim answer")
	}
}

func TestExtractFromTextFencedJSON(t *testing.T) {
	// Models wrap answers in markdown fences despite the instructions.
	answer := "```json\n{\"amount\": 42.00, \"confidence\": 0.8}\n```"
	srv := stubGemini(t, answer, nil)
	defer srv.Close()

	c := NewGeminiClient(srv.URL, "gemini-2.0-flash-exp", "test-key", testCategories)
	data, err := c.ExtractFromText(context.Background(), "some text")
	if err != nil {
		t.Fatalf("ExtractFromText: %v", err)
	}
	if !data.Found || data.Amount == nil || *data.Amount != 42.00 {
		t.Errorf("fenced JSON not recovered: found=%v amount=%v", data.Found, data.Amount)
	}
}

func TestExtractFromTextSoftMiss(t *testing.T) {
	srv := stubGemini(t, "I could not read this invoice, sorry.", nil)
	defer srv.Close()

	c := NewGeminiClient(srv.URL, "gemini-2.0-flash-exp", "test-key", testCategories)
	data, err := c.ExtractFromText(context.Background(), "garbled")
	if err != nil {
		t.Fatalf("soft miss must not be an error: %v", err)
	}
	if data.Found {
		t.Error("expected Found=false for answer without JSON")
	}
	if data.Confidence != 0 {
		t.Errorf("confidence = %v, want 0", data.Confidence)
	}
	if data.RawExtraction == "" {
		t.Error("raw answer should be preserved for diagnostics")
	}
}

func TestExtractFromTextDefaultConfidence(t *testing.T) {
	srv := stubGemini(t, `{"amount": 10.00}`, nil)
	defer srv.Close()

	c := NewGeminiClient(srv.URL, "gemini-2.0-flash-exp", "test-key", testCategories)
	data, err := c.ExtractFromText(context.Background(), "text")
	if err != nil {
		t.Fatal(err)
	}
	if data.Confidence != 0.5 {
		t.Errorf("confidence = %v, want 0.5 default", data.Confidence)
	}
}

func TestExtractFromTextAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "API key not valid"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewGeminiClient(srv.URL, "gemini-2.0-flash-exp", "bad-key", testCategories)
	_, err := c.ExtractFromText(context.Background(), "text")
	if err == nil {
		t.Fatal("expected hard failure on non-200 status")
	}
	if !errors.Is(err, ocrerrors.ErrAIExtraction) {
		t.Errorf("hard failure should carry the AI extraction code, got %v", err)
	}
}

func TestExtractFromTextTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	c := NewGeminiClient(srv.URL, "gemini-2.0-flash-exp", "test-key", testCategories)
	_, err := c.ExtractFromText(context.Background(), "text")
	if !errors.Is(err, ocrerrors.ErrAIExtraction) {
		t.Errorf("transport failure should carry the AI extraction code, got %v", err)
	}
}

func TestExtractFromImageRequestShape(t *testing.T) {
	var body map[string]interface{}
	answer := `{"amount": 1850.53, "category": "Ulaşım", "confidence": 0.9}`
	srv := stubGemini(t, answer, &body)
	defer srv.Close()

	c := NewGeminiClient(srv.URL, "gemini-2.0-flash-exp", "test-key", testCategories)
	data, err := c.ExtractFromImage(context.Background(), []byte{0x89, 0x50, 0x4e, 0x47}, "image/png")
	if err != nil {
		t.Fatalf("ExtractFromImage: %v", err)
	}
	if data.Category == nil || *data.Category != "Ulaşım" {
		t.Errorf("category = %v, want Ulaşım", data.Category)
	}

	contents := body["contents"].([]interface{})
	parts := contents[0].(map[string]interface{})["parts"].([]interface{})
	if len(parts) != 2 {
		t.Fatalf("got %d parts, want prompt + inline image", len(parts))
	}
	inline, ok := parts[1].(map[string]interface{})["inline_data"].(map[string]interface{})
	if !ok {
		t.Fatal("second part must carry inline_data")
	}
	if inline["mime_type"] != "image/png" {
		t.Errorf("mime_type = %v, want image/png", inline["mime_type"])
	}
}
