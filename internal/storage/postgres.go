/**
 * PostgreSQL Client for the invoice OCR worker
 *
 * Persists job lifecycle state and the extracted invoice fields. Jobs are
 * upserted so the worker can create the record even when the uploading API
 * has not written it yet.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/faturalab/ocr-worker/internal/errors"
	"github.com/faturalab/ocr-worker/internal/processor"
)

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// UpdateJobStatus upserts the job record with the given lifecycle status.
func (p *PostgresClient) UpdateJobStatus(ctx context.Context, jobID string, status string, progress int, metadata map[string]interface{}) error {
	if jobID == "" {
		return fmt.Errorf("job ID is required")
	}
	if status == "" {
		return fmt.Errorf("status is required")
	}

	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO ocr.processing_jobs (
			id, status, progress, metadata, created_at, updated_at
		) VALUES (
			$1::uuid, $2, $3, COALESCE($4::jsonb, '{}'::jsonb), NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			progress = EXCLUDED.progress,
			metadata = COALESCE(EXCLUDED.metadata, ocr.processing_jobs.metadata),
			updated_at = NOW()`

	if _, err := p.db.ExecContext(ctx, query, jobID, status, progress, metadataJSON); err != nil {
		return errors.NewStorageFailedError(jobID, fmt.Errorf("failed to update job status: %w", err))
	}

	return nil
}

// SaveResult stores the final extraction result for a job. Amounts are
// written as NUMERIC strings so no float rounding sneaks in between the
// pipeline and the ledger.
func (p *PostgresClient) SaveResult(ctx context.Context, jobID, userID string, result *processor.OCRResult) error {
	if jobID == "" {
		return fmt.Errorf("job ID is required")
	}
	if result == nil {
		return fmt.Errorf("result is required")
	}

	var amount sql.NullString
	if result.Amount != nil {
		amount = sql.NullString{String: result.Amount.String(), Valid: true}
	}

	var isoDate sql.NullString
	if iso, ok := processor.ParseInvoiceDateISO(result.Date); ok {
		isoDate = sql.NullString{String: iso, Valid: true}
	}

	candidatesJSON, err := json.Marshal(result.DetectedAmounts)
	if err != nil {
		return fmt.Errorf("failed to marshal detected amounts: %w", err)
	}

	query := `
		INSERT INTO ocr.extraction_results (
			id, job_id, user_id, raw_text,
			amount, invoice_number, invoice_date, invoice_date_iso,
			vendor, category, confidence, ai_enhanced,
			detected_amounts, processing_time_ms, created_at
		) VALUES (
			$1::uuid, $2::uuid, NULLIF($3, ''), $4,
			$5::numeric, NULLIF($6, ''), NULLIF($7, ''), $8::date,
			NULLIF($9, ''), NULLIF($10, ''), $11, $12,
			$13::jsonb, $14, NOW()
		)
		ON CONFLICT (job_id) DO UPDATE SET
			raw_text = EXCLUDED.raw_text,
			amount = EXCLUDED.amount,
			invoice_number = EXCLUDED.invoice_number,
			invoice_date = EXCLUDED.invoice_date,
			invoice_date_iso = EXCLUDED.invoice_date_iso,
			vendor = EXCLUDED.vendor,
			category = EXCLUDED.category,
			confidence = EXCLUDED.confidence,
			ai_enhanced = EXCLUDED.ai_enhanced,
			detected_amounts = EXCLUDED.detected_amounts,
			processing_time_ms = EXCLUDED.processing_time_ms`

	_, err = p.db.ExecContext(ctx, query,
		uuid.NewString(), jobID, userID, result.Text,
		amount, result.InvoiceNumber, result.Date, isoDate,
		result.Vendor, result.Category, result.Confidence, result.AIEnhanced,
		candidatesJSON, result.ProcessingTimeMs,
	)
	if err != nil {
		return errors.NewStorageFailedError(jobID, fmt.Errorf("failed to save extraction result: %w", err))
	}

	return nil
}

// GetJobStatus reads back the lifecycle state of one job.
func (p *PostgresClient) GetJobStatus(ctx context.Context, jobID string) (string, int, error) {
	var status string
	var progress int
	err := p.db.QueryRowContext(ctx,
		`SELECT status, progress FROM ocr.processing_jobs WHERE id = $1::uuid`,
		jobID,
	).Scan(&status, &progress)
	if err == sql.ErrNoRows {
		return "", 0, fmt.Errorf("job %s not found", jobID)
	}
	if err != nil {
		return "", 0, errors.NewStorageFailedError(jobID, err)
	}
	return status, progress, nil
}

// Close releases the database connection pool.
func (p *PostgresClient) Close() error {
	return p.db.Close()
}
