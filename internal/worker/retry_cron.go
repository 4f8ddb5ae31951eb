package worker

// retry_cron.go
// Background goroutine that periodically re-attempts submission for receipts
// stuck in Pending with a next_retry_at in the past. Uses the circuit
// breaker to avoid hammering a downed authority.

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Compulink-Dev/fiscal-api/internal/fiscal"
	"github.com/Compulink-Dev/fiscal-api/internal/infra"
	"github.com/Compulink-Dev/fiscal-api/internal/model"
	"github.com/Compulink-Dev/fiscal-api/internal/repository"

	"github.com/redis/go-redis/v9"
)

const (
	retryTickInterval = 30 * time.Second
	retryBatchSize    = 10
)

// RetryCronConfig holds all dependencies for the retry goroutine.
type RetryCronConfig struct {
	ReceiptRepo repository.ReceiptRepository
	DeviceRepo  repository.DeviceRepository
	Client      *infra.FDMSClient
	CB          *infra.CircuitBreaker
	RDB         *redis.Client
}

// StartRetryCron launches a background goroutine that ticks every 30s,
// queries receipts due for resubmission, and re-attempts them through the
// circuit breaker. It respects the context for graceful shutdown.
func StartRetryCron(ctx context.Context, cfg RetryCronConfig) {
	go func() {
		ticker := time.NewTicker(retryTickInterval)
		defer ticker.Stop()

		log.Info().Msg("retry_cron: started")

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("retry_cron: shutting down")
				return
			case <-ticker.C:
				processRetries(ctx, cfg)
			}
		}
	}()
}

func processRetries(ctx context.Context, cfg RetryCronConfig) {
	// If CB is open, skip entirely — don't hammer a downed authority
	if cfg.CB.State() == infra.CBOpen {
		log.Debug().Msg("retry_cron: circuit breaker is open, skipping tick")
		return
	}

	now := time.Now()
	receipts, err := cfg.ReceiptRepo.ListPendingRetries(ctx, now, retryBatchSize)
	if err != nil {
		log.Error().Err(err).Msg("retry_cron: failed to query pending retries")
		return
	}
	if len(receipts) == 0 {
		return
	}

	log.Info().Int("count", len(receipts)).Msg("retry_cron: processing pending receipts")

	for i := range receipts {
		rec := &receipts[i]

		// Check CB state before each call — it may have tripped mid-batch
		if cfg.CB.State() == infra.CBOpen {
			log.Debug().Msg("retry_cron: circuit breaker opened mid-batch, stopping")
			return
		}

		dev, err := cfg.DeviceRepo.FindByID(ctx, rec.DeviceID)
		if err != nil {
			log.Error().Err(err).Int64("global_no", rec.GlobalNo).Msg("retry_cron: device not found")
			continue
		}
		// Exchange-file devices are reconciled via getFileStatus, not here.
		if dev.OperatingMode != model.ModeOnline {
			continue
		}

		var (
			resp      *infra.SubmitReceiptResponse
			rejection *fiscal.RemoteApiError
		)
		cbErr := cfg.CB.Execute(func() error {
			r, err := cfg.Client.SubmitReceipt(ctx, dev, infra.FormatReceiptPayload(rec))
			if err != nil {
				var apiErr *fiscal.RemoteApiError
				if errors.As(err, &apiErr) {
					// The remote answered; retrying won't change its mind and
					// the circuit must not trip.
					rejection = apiErr
					return nil
				}
				return err
			}
			resp = r
			return nil
		})

		if rejection != nil {
			rec.Status = model.StatusRejected
			msg := rejection.Error()
			rec.LastError = &msg
			rec.NextRetryAt = nil
			_ = cfg.ReceiptRepo.Update(ctx, rec)
			log.Warn().Str("code", rejection.Code).Int64("global_no", rec.GlobalNo).
				Msg("retry_cron: receipt rejected on retry")
			continue
		}

		if cbErr != nil {
			// Transport failure — schedule next attempt or give up to the DLQ.
			rec.RetryCount++
			errMsg := cbErr.Error()
			rec.LastError = &errMsg
			nextRetry := time.Now().Add(computeRetryBackoff(rec.RetryCount))
			rec.NextRetryAt = &nextRetry

			if rec.RetryCount >= MaxSubmitRetries {
				rec.NextRetryAt = nil
				log.Error().
					Int64("global_no", rec.GlobalNo).
					Int("retries", rec.RetryCount).
					Msg("retry_cron: max retries exceeded, moving to DLQ")

				payload := []byte(`{"receipt_id":"` + rec.ID.String() + `"}`)
				SendToDLQ(ctx, cfg.RDB, QueueSubmit, "submit", payload,
					retryDescription(rec), rec.RetryCount)
			} else {
				log.Warn().
					Int64("global_no", rec.GlobalNo).
					Int("retry_count", rec.RetryCount).
					Time("next_retry_at", nextRetry).
					Msg("retry_cron: submission retry failed, scheduled next attempt")
			}

			_ = cfg.ReceiptRepo.Update(ctx, rec)
			continue
		}

		// Success path
		if resp != nil {
			rec.Status = model.StatusApproved
			rec.ServerReceiptID = &resp.ReceiptID
			rec.ServerDate = &resp.ServerDate
			rec.ServerSignature = &resp.ReceiptServerSignature
			rec.NextRetryAt = nil
			rec.LastError = nil
			_ = cfg.ReceiptRepo.Update(ctx, rec)

			log.Info().
				Int64("global_no", rec.GlobalNo).
				Int64("server_id", resp.ReceiptID).
				Int("total_retries", rec.RetryCount).
				Msg("retry_cron: receipt approved after retry")
		}
	}
}
