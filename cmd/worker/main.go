/**
 * Invoice OCR Worker - Main Entry Point
 *
 * Go worker for invoice field extraction from receipt images.
 *
 * Architecture:
 * - Asynq consumer for the Redis-backed invoice:process queue
 * - Image preprocessing tuned for faint thermal-printer receipts
 * - Tesseract recognition (Turkish + English, sparse text layout)
 * - Heuristic field extraction with a priority-ordered amount rule table
 * - Optional Gemini enhancement (text and vision modes)
 * - PostgreSQL persistence, Redis pub/sub progress for the upload UI
 */

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/faturalab/ocr-worker/internal/clients"
	"github.com/faturalab/ocr-worker/internal/config"
	"github.com/faturalab/ocr-worker/internal/preprocess"
	"github.com/faturalab/ocr-worker/internal/processor"
	"github.com/faturalab/ocr-worker/internal/queue"
	"github.com/faturalab/ocr-worker/internal/recognize"
	"github.com/faturalab/ocr-worker/internal/storage"
)

const queueName = "invoice-ocr"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env not found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Invoice OCR Worker starting...")
	log.Printf("Configuration loaded: Redis=%s, Workers=%d, Languages=%s, AI=%v",
		cfg.RedisURL, cfg.WorkerConcurrency, cfg.OCRLanguages, cfg.AIEnabled())

	// PostgreSQL result store (optional: worker can run stateless)
	var store queue.ResultStore
	var pg *storage.PostgresClient
	if cfg.DatabaseURL != "" {
		log.Printf("Connecting to PostgreSQL...")
		pg, err = storage.NewPostgresClient(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to PostgreSQL: %v", err)
		}
		store = pg
		log.Printf("PostgreSQL connected")
	} else {
		log.Printf("Warning: DATABASE_URL not set, results will not be persisted")
	}

	// Redis progress publisher for the upload UI
	progress, err := queue.NewProgressPublisher(cfg.RedisURL, queueName)
	if err != nil {
		log.Fatalf("Failed to initialize progress publisher: %v", err)
	}
	defer progress.Close()

	// Recognition engine: lazily initialized, shared across jobs, torn down
	// on shutdown
	engine := recognize.NewEngine(recognize.Config{
		Languages:     cfg.OCRLanguages,
		CharWhitelist: cfg.CharWhitelist,
	})

	preprocessor := preprocess.NewPreprocessor(preprocess.Options{
		MinDimension:      cfg.MinDimension,
		MaxDimension:      cfg.MaxDimension,
		ContrastFactor:    cfg.ContrastFactor,
		BrightnessOffset:  cfg.BrightnessOffset,
		BinarizeThreshold: cfg.BinarizeThreshold,
		BinarizeMix:       cfg.BinarizeMix,
	})

	// Gemini extractor is optional; without a key every job stays on the
	// heuristic path
	var ai processor.AIExtractor
	if cfg.AIEnabled() {
		ai = clients.NewGeminiClient(cfg.GeminiBaseURL, cfg.GeminiModel, cfg.GeminiAPIKey, cfg.Categories)
		log.Printf("Gemini extractor enabled (model=%s)", cfg.GeminiModel)
	} else {
		log.Printf("GEMINI_API_KEY not set, AI enhancement disabled")
	}

	proc := processor.NewInvoiceProcessor(preprocessor, engine, ai)

	queueConsumer, err := queue.NewConsumer(&queue.ConsumerConfig{
		RedisURL:          cfg.RedisURL,
		QueueName:         queueName,
		Concurrency:       cfg.WorkerConcurrency,
		ProcessingTimeout: int64(cfg.ProcessingTimeout),
		Processor:         proc,
		Store:             store,
		Progress:          progress,
	})
	if err != nil {
		log.Fatalf("Failed to initialize queue consumer: %v", err)
	}

	ctx := context.Background()
	if err := queueConsumer.Start(ctx); err != nil {
		log.Fatalf("Failed to start queue consumer: %v", err)
	}

	log.Printf("===========================================")
	log.Printf("Invoice OCR Worker is READY")
	log.Printf("===========================================")
	log.Printf("Queue: %s", queueName)
	log.Printf("Workers: %d", cfg.WorkerConcurrency)
	log.Printf("Languages: %s", cfg.OCRLanguages)
	log.Printf("AI enhancement: %v", cfg.AIEnabled())
	log.Printf("===========================================")
	log.Printf("Waiting for jobs...")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	log.Printf("Received signal %v, initiating graceful shutdown...", sig)

	if err := queueConsumer.Stop(ctx); err != nil {
		log.Printf("Error stopping queue consumer: %v", err)
	}

	// Tear down the shared Tesseract client
	if err := engine.Close(); err != nil {
		log.Printf("Error closing recognition engine: %v", err)
	}

	if pg != nil {
		if err := pg.Close(); err != nil {
			log.Printf("Error closing PostgreSQL: %v", err)
		}
	}

	log.Printf("Shutdown complete")
}
