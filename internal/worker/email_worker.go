package worker

// email_worker.go
// Processes email jobs from QueueEmail: renders the signed receipt as a PDF
// ticket and mails it to the customer.

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Compulink-Dev/fiscal-api/internal/fiscal"
	"github.com/Compulink-Dev/fiscal-api/internal/infra"
	"github.com/Compulink-Dev/fiscal-api/internal/repository"
)

// EmailJobPayload is the job envelope sent to QueueEmail.
type EmailJobPayload struct {
	ReceiptID string `json:"receipt_id"`
	ToEmail   string `json:"to_email"`
}

// EmailWorker renders and mails receipt copies via SMTP.
type EmailWorker struct {
	mailer         *infra.Mailer
	receiptRepo    repository.ReceiptRepository
	deviceRepo     repository.DeviceRepository
	pdfStoragePath string
	qrBaseURL      string
}

func NewEmailWorker(
	mailer *infra.Mailer,
	receiptRepo repository.ReceiptRepository,
	deviceRepo repository.DeviceRepository,
	pdfStoragePath string,
	qrBaseURL string,
) *EmailWorker {
	return &EmailWorker{
		mailer:         mailer,
		receiptRepo:    receiptRepo,
		deviceRepo:     deviceRepo,
		pdfStoragePath: pdfStoragePath,
		qrBaseURL:      qrBaseURL,
	}
}

// Process generates the PDF ticket for the receipt and emails it.
func (w *EmailWorker) Process(ctx context.Context, raw json.RawMessage) {
	var payload EmailJobPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.Error().Err(err).Msg("email_worker: invalid payload")
		return
	}
	if payload.ToEmail == "" {
		log.Warn().Msg("email_worker: empty to_email — skipping")
		return
	}

	receiptID, err := uuid.Parse(payload.ReceiptID)
	if err != nil {
		log.Error().Str("receipt_id", payload.ReceiptID).Msg("email_worker: invalid receipt_id")
		return
	}

	rec, err := w.receiptRepo.FindByID(ctx, receiptID)
	if err != nil {
		log.Error().Err(err).Str("receipt_id", payload.ReceiptID).Msg("email_worker: receipt not found")
		return
	}
	dev, err := w.deviceRepo.FindByID(ctx, rec.DeviceID)
	if err != nil {
		log.Error().Err(err).Str("receipt_id", payload.ReceiptID).Msg("email_worker: device not found")
		return
	}

	qrURL := fiscal.QRCodeData(w.qrBaseURL, dev, rec)
	pdfPath, err := infra.GenerateReceiptPDF(dev, rec, qrURL, w.pdfStoragePath)
	if err != nil {
		log.Error().Err(err).Int64("global_no", rec.GlobalNo).Msg("email_worker: PDF generation failed")
		return
	}

	subject := fmt.Sprintf("Fiscal receipt %d", rec.GlobalNo)
	body := fmt.Sprintf("Attached is your fiscal receipt.\nTotal: %s %s\nVerify at: %s",
		rec.Currency, rec.Total.StringFixed(2), qrURL)

	if err := w.mailer.SendReceipt(payload.ToEmail, subject, body, pdfPath); err != nil {
		log.Error().Err(err).Str("to", payload.ToEmail).Msg("email_worker: failed to send email")
		return
	}
	log.Info().Str("to", payload.ToEmail).Int64("global_no", rec.GlobalNo).Msg("email_worker: receipt sent")
}
