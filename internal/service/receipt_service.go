package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/Compulink-Dev/fiscal-api/internal/dto"
	"github.com/Compulink-Dev/fiscal-api/internal/fiscal"
	"github.com/Compulink-Dev/fiscal-api/internal/infra"
	"github.com/Compulink-Dev/fiscal-api/internal/model"
	"github.com/Compulink-Dev/fiscal-api/internal/repository"
	"github.com/Compulink-Dev/fiscal-api/internal/worker"
)

const receiptDateLayout = "2006-01-02T15:04:05"

// sequenceRetries bounds the CAS retry loop in CreateReceipt. The per-device
// lock makes conflicts rare; this only covers lock-TTL expiry races.
const sequenceRetries = 3

type ReceiptService interface {
	CreateReceipt(ctx context.Context, deviceID uuid.UUID, req dto.CreateReceiptRequest) (*dto.ReceiptResponse, error)
	GetReceipt(ctx context.Context, deviceID uuid.UUID, globalNo int64) (*dto.ReceiptResponse, error)
	// VerifyReceipt re-encodes a stored receipt and checks its hash, its
	// signature against the device certificate, and its chain link.
	VerifyReceipt(ctx context.Context, deviceID uuid.UUID, globalNo int64) (*dto.VerifyReceiptResponse, error)
	ListReceipts(ctx context.Context, deviceID uuid.UUID, dayNo int) (*dto.ReceiptListResponse, error)
	// GeneratePDF renders the receipt's print form and returns the file path.
	GeneratePDF(ctx context.Context, deviceID uuid.UUID, globalNo int64) (string, error)
}

type receiptService struct {
	receipts   repository.ReceiptRepository
	devices    repository.DeviceRepository
	seq        *Sequencer
	locker     infra.DeviceLocker
	dispatcher *worker.Dispatcher
	qrBaseURL  string
	pdfDir     string
}

func NewReceiptService(
	receipts repository.ReceiptRepository,
	devices repository.DeviceRepository,
	seq *Sequencer,
	locker infra.DeviceLocker,
	dispatcher *worker.Dispatcher,
	qrBaseURL string,
	pdfDir string,
) ReceiptService {
	return &receiptService{
		receipts:   receipts,
		devices:    devices,
		seq:        seq,
		locker:     locker,
		dispatcher: dispatcher,
		qrBaseURL:  qrBaseURL,
		pdfDir:     pdfDir,
	}
}

// runTx executes fn inside a GORM transaction when db is available,
// or calls fn(nil) directly when db is nil (unit test mode).
func runTx(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	if db == nil {
		return fn(nil)
	}
	return db.WithContext(ctx).Transaction(fn)
}

// ── CreateReceipt ─────────────────────────────────────────────────────────────
// The whole fiscalization pipeline for one receipt:
//  1. Take the per-device lock
//  2. Compute the sequence position (global no, day counter, previous hash)
//  3. Run content validation — advisory findings are recorded, not fatal
//  4. Canonically encode, hash, sign
//  5. Persist, claiming the global number in the same transaction
//  6. Online devices: dispatch async submission. Offline receipts wait for
//     the next exchange file.
//
// Once signed, the receipt is immutable. A rejected submission never
// unwinds the chain.

func (s *receiptService) CreateReceipt(ctx context.Context, deviceID uuid.UUID, req dto.CreateReceiptRequest) (*dto.ReceiptResponse, error) {
	release, err := s.locker.Lock(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	defer release()

	date, err := time.Parse(receiptDateLayout, req.Date)
	if err != nil {
		return nil, &fiscal.StructuralError{Field: "date", Reason: fmt.Sprintf("must match %s", receiptDateLayout)}
	}

	var (
		dev *model.Device
		rec *model.Receipt
	)
	for attempt := 0; ; attempt++ {
		dev, err = s.devices.FindByID(ctx, deviceID)
		if err != nil {
			return nil, err
		}
		if !dev.IsActive {
			return nil, &fiscal.StructuralError{Field: "device", Reason: "device is deactivated"}
		}

		pos, err := s.seq.Next(ctx, dev)
		if err != nil {
			return nil, err
		}

		rec = buildReceipt(deviceID, req, date, pos)
		findings := fiscal.ValidateReceipt(rec)
		rec.Findings = fiscal.ToModel(findings)

		canonical, err := fiscal.EncodeReceipt(dev, rec)
		if err != nil {
			return nil, err
		}
		key, err := fiscal.ParsePrivateKey(dev.PrivateKeyPEM)
		if err != nil {
			return nil, err
		}
		sig, err := fiscal.Sign(canonical, key)
		if err != nil {
			return nil, err
		}
		rec.Hash = sig.Hash
		rec.Signature = sig.Signature

		// The persist claims pos.GlobalNo with a CAS on the device row inside
		// the insert's transaction: nothing committed before this point, so
		// any earlier failure leaves the sequence exactly where it was.
		err = s.receipts.Create(ctx, rec, pos.GlobalNo-1)
		if err == nil {
			dev.LastReceiptGlobalNo = pos.GlobalNo
			break
		}
		var conflict *fiscal.SequencingConflictError
		if errors.As(err, &conflict) && attempt < sequenceRetries-1 {
			log.Warn().Str("device_id", deviceID.String()).Int("attempt", attempt+1).
				Msg("receipt_service: sequencing conflict, retrying")
			continue
		}
		return nil, err
	}

	log.Info().
		Str("device_id", deviceID.String()).
		Int64("global_no", rec.GlobalNo).
		Int("counter", rec.Counter).
		Str("type", string(rec.ReceiptType)).
		Msg("receipt_service: receipt signed")

	s.dispatch(ctx, dev, rec, req.CustomerEmail)

	return s.toResponse(dev, rec), nil
}

// dispatch hands the signed receipt to the async pipeline. Failures here are
// logged, never propagated — the receipt is already fiscalized.
func (s *receiptService) dispatch(ctx context.Context, dev *model.Device, rec *model.Receipt, email *string) {
	if s.dispatcher == nil {
		return
	}
	if dev.OperatingMode == model.ModeOnline {
		job := worker.SubmitJobPayload{ReceiptID: rec.ID.String(), CustomerEmail: email}
		if err := s.dispatcher.EnqueueSubmit(ctx, job); err != nil {
			log.Error().Err(err).Int64("global_no", rec.GlobalNo).
				Msg("receipt_service: failed to enqueue submission, retry cron will pick it up")
			now := time.Now()
			rec.NextRetryAt = &now
			_ = s.receipts.Update(ctx, rec)
		}
		return
	}
	if email != nil && *email != "" {
		job := worker.EmailJobPayload{ReceiptID: rec.ID.String(), ToEmail: *email}
		if err := s.dispatcher.EnqueueEmail(ctx, job); err != nil {
			log.Warn().Err(err).Int64("global_no", rec.GlobalNo).
				Msg("receipt_service: failed to enqueue email")
		}
	}
}

func buildReceipt(deviceID uuid.UUID, req dto.CreateReceiptRequest, date time.Time, pos *SequencePosition) *model.Receipt {
	rec := &model.Receipt{
		ID:           uuid.New(),
		DeviceID:     deviceID,
		ReceiptType:  model.ReceiptType(req.ReceiptType),
		Currency:     req.Currency,
		InvoiceNo:    req.InvoiceNo,
		Date:         date,
		GlobalNo:     pos.GlobalNo,
		Counter:      pos.Counter,
		FiscalDayNo:  pos.Day.Number,
		Total:        req.Total,
		PreviousHash: pos.PreviousHash,
		Status:       model.StatusPending,
	}
	for _, l := range req.Lines {
		rec.Lines = append(rec.Lines, model.ReceiptLine{
			ReceiptID: rec.ID,
			LineType:  l.LineType, LineNo: l.LineNo, Name: l.Name, HSCode: l.HSCode,
			Price: l.Price, Quantity: l.Quantity, Total: l.Total,
			TaxID: l.TaxID, TaxCode: l.TaxCode, TaxPercent: l.TaxPercent,
		})
	}
	for _, t := range req.Taxes {
		rec.Taxes = append(rec.Taxes, model.ReceiptTax{
			ReceiptID: rec.ID,
			TaxID:     t.TaxID, TaxCode: t.TaxCode, TaxPercent: t.TaxPercent,
			TaxAmount: t.TaxAmount, SalesAmountWithTax: t.SalesAmountWithTax,
		})
	}
	for _, p := range req.Payments {
		rec.Payments = append(rec.Payments, model.ReceiptPayment{
			ReceiptID: rec.ID,
			MoneyType: p.MoneyType, Amount: p.Amount,
		})
	}
	return rec
}

// ── Queries ──────────────────────────────────────────────────────────────────

func (s *receiptService) GetReceipt(ctx context.Context, deviceID uuid.UUID, globalNo int64) (*dto.ReceiptResponse, error) {
	dev, err := s.devices.FindByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	rec, err := s.receipts.FindByGlobalNo(ctx, deviceID, globalNo)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return s.toResponse(dev, rec), nil
}

func (s *receiptService) VerifyReceipt(ctx context.Context, deviceID uuid.UUID, globalNo int64) (*dto.VerifyReceiptResponse, error) {
	dev, err := s.devices.FindByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	rec, err := s.receipts.FindByGlobalNo(ctx, deviceID, globalNo)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, gorm.ErrRecordNotFound
	}

	resp := &dto.VerifyReceiptResponse{GlobalNo: globalNo, Valid: true}

	if err := fiscal.VerifyReceipt(dev, rec); err != nil {
		resp.Valid = false
		resp.Error = err.Error()
		return resp, nil
	}

	// Chain link: the stored previous hash must match the predecessor's hash.
	if rec.GlobalNo > 1 {
		pred, err := s.receipts.FindByGlobalNo(ctx, deviceID, rec.GlobalNo-1)
		if err != nil {
			return nil, err
		}
		if pred == nil || pred.Hash != rec.PreviousHash {
			chainErr := &fiscal.ChainIntegrityError{GlobalNo: rec.GlobalNo, Reason: "previous hash does not match predecessor"}
			resp.Valid = false
			resp.Error = chainErr.Error()
		}
	}
	return resp, nil
}

func (s *receiptService) ListReceipts(ctx context.Context, deviceID uuid.UUID, dayNo int) (*dto.ReceiptListResponse, error) {
	dev, err := s.devices.FindByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	receipts, err := s.receipts.FindForDay(ctx, deviceID, dayNo)
	if err != nil {
		return nil, err
	}
	resp := &dto.ReceiptListResponse{Total: int64(len(receipts))}
	for i := range receipts {
		resp.Data = append(resp.Data, *s.toResponse(dev, &receipts[i]))
	}
	return resp, nil
}

func (s *receiptService) GeneratePDF(ctx context.Context, deviceID uuid.UUID, globalNo int64) (string, error) {
	dev, err := s.devices.FindByID(ctx, deviceID)
	if err != nil {
		return "", err
	}
	rec, err := s.receipts.FindByGlobalNo(ctx, deviceID, globalNo)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", gorm.ErrRecordNotFound
	}
	return infra.GenerateReceiptPDF(dev, rec, fiscal.QRCodeData(s.qrBaseURL, dev, rec), s.pdfDir)
}

func (s *receiptService) toResponse(dev *model.Device, rec *model.Receipt) *dto.ReceiptResponse {
	resp := &dto.ReceiptResponse{
		ID:              rec.ID.String(),
		DeviceID:        rec.DeviceID.String(),
		ReceiptType:     string(rec.ReceiptType),
		Currency:        rec.Currency,
		InvoiceNo:       rec.InvoiceNo,
		GlobalNo:        rec.GlobalNo,
		Counter:         rec.Counter,
		FiscalDayNo:     rec.FiscalDayNo,
		Date:            rec.Date.Format(receiptDateLayout),
		Total:           rec.Total,
		PreviousHash:    rec.PreviousHash,
		Hash:            rec.Hash,
		Signature:       rec.Signature,
		QRCode:          fiscal.QRCodeData(s.qrBaseURL, dev, rec),
		Status:          string(rec.Status),
		ServerReceiptID: rec.ServerReceiptID,
		CreatedAt:       rec.CreatedAt.Format(time.RFC3339),
	}
	for _, f := range rec.Findings {
		resp.Findings = append(resp.Findings, dto.FindingResponse{
			Code: f.Code, Message: f.Message, Severity: string(f.Severity),
		})
	}
	return resp
}
