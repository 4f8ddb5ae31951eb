package worker

// submit_worker.go
// Processes receipt submission jobs from QueueSubmit: sends the signed
// receipt to the revenue authority and records the acknowledgement.
// Transport failures keep the receipt Pending with a scheduled retry;
// structured rejections flip it to Rejected. The receipt itself is never
// modified — only its status and retry bookkeeping.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Compulink-Dev/fiscal-api/internal/fiscal"
	"github.com/Compulink-Dev/fiscal-api/internal/infra"
	"github.com/Compulink-Dev/fiscal-api/internal/model"
	"github.com/Compulink-Dev/fiscal-api/internal/repository"
)

// MaxSubmitRetries is the retry budget before a receipt goes to the DLQ.
// The receipt stays locally valid either way — submission failure never
// invalidates a signed receipt.
const MaxSubmitRetries = 10

// SubmitJobPayload is the job envelope sent to QueueSubmit.
type SubmitJobPayload struct {
	ReceiptID     string  `json:"receipt_id"`
	CustomerEmail *string `json:"customer_email,omitempty"`
}

// SubmitWorker submits signed receipts to the authority, guarded by the
// circuit breaker so a downed remote does not stall the pool.
type SubmitWorker struct {
	client      *infra.FDMSClient
	receiptRepo repository.ReceiptRepository
	deviceRepo  repository.DeviceRepository
	cb          *infra.CircuitBreaker
	dispatcher  *Dispatcher
}

func NewSubmitWorker(
	client *infra.FDMSClient,
	receiptRepo repository.ReceiptRepository,
	deviceRepo repository.DeviceRepository,
	cb *infra.CircuitBreaker,
	dispatcher *Dispatcher,
) *SubmitWorker {
	return &SubmitWorker{
		client:      client,
		receiptRepo: receiptRepo,
		deviceRepo:  deviceRepo,
		cb:          cb,
		dispatcher:  dispatcher,
	}
}

// Process handles a single submission job:
//  1. Fetch the receipt (with taxes + payments) and its device
//  2. Submit through the circuit breaker with exponential backoff
//  3. Record the acknowledgement: Approved + server signature, or Rejected
//  4. On transport failure: bump retry bookkeeping, the cron picks it up
//  5. Optionally enqueue the customer email job
func (w *SubmitWorker) Process(ctx context.Context, raw json.RawMessage) {
	var payload SubmitJobPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.Error().Err(err).Msg("submit_worker: invalid payload")
		return
	}

	receiptID, err := uuid.Parse(payload.ReceiptID)
	if err != nil {
		log.Error().Str("receipt_id", payload.ReceiptID).Msg("submit_worker: invalid receipt_id")
		return
	}

	rec, err := w.receiptRepo.FindByID(ctx, receiptID)
	if err != nil {
		log.Error().Err(err).Str("receipt_id", payload.ReceiptID).Msg("submit_worker: receipt not found")
		return
	}
	if rec.Status != model.StatusPending {
		log.Debug().Str("receipt_id", payload.ReceiptID).Str("status", string(rec.Status)).
			Msg("submit_worker: receipt already settled, skipping")
		return
	}

	dev, err := w.deviceRepo.FindByID(ctx, rec.DeviceID)
	if err != nil {
		log.Error().Err(err).Str("receipt_id", payload.ReceiptID).Msg("submit_worker: device not found")
		return
	}

	var resp *infra.SubmitReceiptResponse
	var rejection *fiscal.RemoteApiError
	submitErr := withRetry(ctx, 3, func(attempt int) error {
		return w.cb.Execute(func() error {
			r, err := w.client.SubmitReceipt(ctx, dev, infra.FormatReceiptPayload(rec))
			if err != nil {
				var apiErr *fiscal.RemoteApiError
				if errors.As(err, &apiErr) {
					// The remote answered; retrying won't change its mind and
					// the circuit must not trip.
					rejection = apiErr
					return nil
				}
				log.Warn().Err(err).Int("attempt", attempt+1).
					Int64("global_no", rec.GlobalNo).
					Msg("submit_worker: submission attempt failed")
				return err
			}
			resp = r
			return nil
		})
	})

	w.settle(ctx, rec, resp, rejection, submitErr)

	if payload.CustomerEmail != nil && *payload.CustomerEmail != "" {
		emailJob := EmailJobPayload{ReceiptID: rec.ID.String(), ToEmail: *payload.CustomerEmail}
		if err := w.dispatcher.EnqueueEmail(ctx, emailJob); err != nil {
			log.Warn().Err(err).Str("email", *payload.CustomerEmail).Msg("submit_worker: failed to enqueue email")
		}
	}
}

// settle applies the submission outcome to the receipt row.
func (w *SubmitWorker) settle(ctx context.Context, rec *model.Receipt, resp *infra.SubmitReceiptResponse, rejection *fiscal.RemoteApiError, submitErr error) {
	switch {
	case submitErr == nil && resp != nil:
		rec.Status = model.StatusApproved
		rec.ServerReceiptID = &resp.ReceiptID
		rec.ServerDate = &resp.ServerDate
		rec.ServerSignature = &resp.ReceiptServerSignature
		rec.NextRetryAt = nil
		rec.LastError = nil
		if err := w.receiptRepo.Update(ctx, rec); err != nil {
			log.Error().Err(err).Int64("global_no", rec.GlobalNo).Msg("submit_worker: failed to store acknowledgement")
			return
		}
		log.Info().Int64("global_no", rec.GlobalNo).Int64("server_id", resp.ReceiptID).
			Msg("submit_worker: receipt approved")

	case rejection != nil:
		// The authority understood the receipt and said no. Not retryable.
		rec.Status = model.StatusRejected
		msg := rejection.Error()
		rec.LastError = &msg
		rec.NextRetryAt = nil
		_ = w.receiptRepo.Update(ctx, rec)
		log.Warn().Str("code", rejection.Code).Int64("global_no", rec.GlobalNo).
			Msg("submit_worker: receipt rejected by authority")

	case submitErr != nil:
		// Unreachable remote or open circuit — stays Pending, retried later.
		rec.RetryCount++
		msg := submitErr.Error()
		rec.LastError = &msg
		next := time.Now().Add(computeRetryBackoff(rec.RetryCount))
		rec.NextRetryAt = &next
		_ = w.receiptRepo.Update(ctx, rec)
		log.Warn().Err(submitErr).Int64("global_no", rec.GlobalNo).
			Int("retry_count", rec.RetryCount).Time("next_retry_at", next).
			Msg("submit_worker: authority unreachable, retry scheduled")
	}
}

// computeRetryBackoff returns the wait before retry n: 1m, 2m, 4m … capped
// at 1h.
func computeRetryBackoff(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	backoff := time.Minute * time.Duration(1<<uint(min(retryCount-1, 6)))
	if backoff > time.Hour {
		backoff = time.Hour
	}
	return backoff
}

// withRetry calls fn up to maxAttempts times with exponential backoff.
// Backoff schedule: attempt 1 = immediate, 2 = 1s, 3 = 2s.
// Returns nil if any attempt succeeds; last error otherwise.
func withRetry(ctx context.Context, maxAttempts int, fn func(attempt int) error) error {
	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		if i > 0 {
			// 1s, 2s … (exponential backoff)
			wait := time.Duration(1<<uint(i-1)) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
		if err := fn(i); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

// retryDescription is used for DLQ entries when the budget is exhausted.
func retryDescription(rec *model.Receipt) string {
	reason := "unknown"
	if rec.LastError != nil {
		reason = *rec.LastError
	}
	return fmt.Sprintf("max retries (%d) exceeded: %s", MaxSubmitRetries, reason)
}
