package recognize

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestEstimateConfidence(t *testing.T) {
	// Short garbage stays near the floor.
	if c := estimateConfidence("x"); c != 50 {
		t.Errorf("short text confidence = %v, want 50", c)
	}

	// A realistic receipt body earns the length, word-count and
	// letter-ratio bonuses but never exceeds the cap.
	receipt := strings.Repeat("MIGROS TICARET A.S. TOPLAM 1.850,53 TL FATURA NO 12345 ", 30)
	if c := estimateConfidence(receipt); c != 85 {
		t.Errorf("receipt-like text confidence = %v, want capped 85", c)
	}

	if c := estimateConfidence(""); c < 0 || c > 100 {
		t.Errorf("empty text confidence = %v, out of range", c)
	}
}

func TestRecognizeAfterClose(t *testing.T) {
	e := NewEngine(Config{Languages: "tur+eng"})
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := e.Recognize(context.Background(), []byte("img")); !errors.Is(err, errClosed) {
		t.Fatalf("got %v, want errClosed", err)
	}
}

func TestRecognizeHonorsContext(t *testing.T) {
	e := NewEngine(Config{Languages: "tur+eng"})
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := e.Recognize(ctx, []byte("img")); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
