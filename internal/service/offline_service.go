package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/Compulink-Dev/fiscal-api/internal/dto"
	"github.com/Compulink-Dev/fiscal-api/internal/fiscal"
	"github.com/Compulink-Dev/fiscal-api/internal/infra"
	"github.com/Compulink-Dev/fiscal-api/internal/model"
	"github.com/Compulink-Dev/fiscal-api/internal/repository"
)

// OfflineService runs the exchange-file protocol for devices that cannot
// submit receipts one by one. Files are numbered per fiscal day; a file is
// rebuilt with the same sequence until the authority acknowledges the
// upload, so resubmission after a failed upload is idempotent.
type OfflineService interface {
	// SubmitFile builds the device's next exchange file from pending
	// receipts and uploads it. When the day's closure has been initiated
	// the file carries the closing footer.
	SubmitFile(ctx context.Context, deviceID uuid.UUID) (*dto.SubmitFileResponse, error)
	// Reconcile polls the processing status of an uploaded file and, for a
	// closing file, completes the day transition.
	Reconcile(ctx context.Context, deviceID uuid.UUID, operationID string) (*dto.ReconcileResponse, error)
}

type offlineService struct {
	receipts  repository.ReceiptRepository
	days      repository.FiscalDayRepository
	devices   repository.DeviceRepository
	authority Authority
	locker    infra.DeviceLocker
}

func NewOfflineService(
	receipts repository.ReceiptRepository,
	days repository.FiscalDayRepository,
	devices repository.DeviceRepository,
	authority Authority,
	locker infra.DeviceLocker,
) OfflineService {
	return &offlineService{
		receipts:  receipts,
		days:      days,
		devices:   devices,
		authority: authority,
		locker:    locker,
	}
}

func (s *offlineService) SubmitFile(ctx context.Context, deviceID uuid.UUID) (*dto.SubmitFileResponse, error) {
	release, err := s.locker.Lock(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	defer release()

	dev, err := s.devices.FindByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	day, err := s.days.FindCurrent(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if day == nil || day.Status == model.DayClosed {
		return nil, &fiscal.NoOpenFiscalDayError{FiscalDeviceID: dev.FiscalDeviceID}
	}

	pending, err := s.receipts.FindPendingForDay(ctx, deviceID, day.Number)
	if err != nil {
		return nil, err
	}
	closesDay := day.Status == model.DayCloseInitiated
	if len(pending) == 0 && !closesDay {
		return nil, errors.New("no pending receipts to submit")
	}

	// The sequence only advances once the previous file was acknowledged, so
	// rebuilding after a failed upload reuses the same number.
	seq := day.LastAckedFileSeq + 1

	file := &infra.ExchangeFile{
		Header: infra.ExchangeHeader{
			DeviceID:        dev.FiscalDeviceID,
			FiscalDayNo:     day.Number,
			FiscalDayOpened: day.OpenedAt,
			FileSequence:    seq,
		},
	}
	globalNos := make([]int64, 0, len(pending))
	for i := range pending {
		file.Content.Receipts = append(file.Content.Receipts, infra.FormatReceiptPayload(&pending[i]))
		globalNos = append(globalNos, pending[i].GlobalNo)
	}

	if closesDay {
		if day.ClosingHash == nil || day.ClosingSignature == nil {
			return nil, errors.New("fiscal day has no frozen closing signature")
		}
		all, err := s.receipts.FindForDay(ctx, deviceID, day.Number)
		if err != nil {
			return nil, err
		}
		file.Footer = &infra.ExchangeFooter{
			FiscalDayCounters:        infra.FormatCounterPayloads(fiscal.Aggregate(all)),
			FiscalDayDeviceSignature: infra.SignaturePayload{Hash: *day.ClosingHash, Signature: *day.ClosingSignature},
			ReceiptCounter:           len(all),
			FiscalDayClosed:          time.Now(),
		}
	}

	resp, err := s.authority.SubmitFile(ctx, dev, file)
	if err != nil {
		return nil, err
	}

	// Upload acknowledged: every receipt in the file flips to Submitted and
	// the sequence advances, in one transaction.
	if err := runTx(ctx, s.receipts.DB(), func(tx *gorm.DB) error {
		if err := s.receipts.MarkSubmitted(ctx, deviceID, globalNos); err != nil {
			return err
		}
		day.LastAckedFileSeq = seq
		return s.days.Update(ctx, day)
	}); err != nil {
		return nil, err
	}

	log.Info().
		Str("device_id", deviceID.String()).
		Int("day_no", day.Number).
		Int("file_seq", seq).
		Int("receipts", len(globalNos)).
		Bool("closes_day", closesDay).
		Str("operation_id", resp.OperationID).
		Msg("offline_service: exchange file submitted")

	return &dto.SubmitFileResponse{
		OperationID:  resp.OperationID,
		FileSequence: seq,
		ReceiptCount: len(globalNos),
		ClosesDay:    closesDay,
	}, nil
}

func (s *offlineService) Reconcile(ctx context.Context, deviceID uuid.UUID, operationID string) (*dto.ReconcileResponse, error) {
	release, err := s.locker.Lock(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	defer release()

	dev, err := s.devices.FindByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	day, err := s.days.FindCurrent(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if day == nil {
		return nil, &fiscal.NoOpenFiscalDayError{FiscalDeviceID: dev.FiscalDeviceID}
	}

	status, err := s.authority.GetFileStatus(ctx, dev, operationID, day.Number)
	if err != nil {
		return nil, err
	}

	resp := &dto.ReconcileResponse{
		OperationID: operationID,
		Status:      status.Status,
		Message:     status.Message,
	}

	if day.Status != model.DayCloseInitiated {
		return resp, nil
	}

	switch status.Status {
	case "Accepted":
		pending, err := s.receipts.FindPendingForDay(ctx, deviceID, day.Number)
		if err != nil {
			return nil, err
		}
		// Receipts created after the closing file was built must travel in a
		// follow-up file before the day can complete.
		if len(pending) > 0 {
			log.Warn().Int("day_no", day.Number).Int("pending", len(pending)).
				Msg("offline_service: closing file accepted but new receipts are pending")
			return resp, nil
		}
		now := time.Now()
		day.Status = model.DayClosed
		day.ClosedAt = &now
		if err := s.days.Update(ctx, day); err != nil {
			return nil, err
		}
		resp.DayClosed = true
		log.Info().Int("day_no", day.Number).Msg("offline_service: fiscal day closed via exchange file")

	case "Rejected":
		day.Status = model.DayCloseFailed
		if err := s.days.Update(ctx, day); err != nil {
			return nil, err
		}
		log.Warn().Int("day_no", day.Number).Str("message", status.Message).
			Msg("offline_service: closing file rejected")
	}

	return resp, nil
}
