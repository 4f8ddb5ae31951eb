package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Compulink-Dev/fiscal-api/internal/dto"
	"github.com/Compulink-Dev/fiscal-api/internal/fiscal"
	"github.com/Compulink-Dev/fiscal-api/internal/infra"
	"github.com/Compulink-Dev/fiscal-api/internal/model"
	"github.com/Compulink-Dev/fiscal-api/internal/repository"
)

type FiscalDayService interface {
	// OpenDay starts the next fiscal day. Online devices report the opening
	// to the authority, which may override the day number.
	OpenDay(ctx context.Context, deviceID uuid.UUID) (*dto.FiscalDayResponse, error)
	// CloseDay validates the day, freezes the closing signature over the
	// aggregated counters, and reports the closure. Blocking findings abort
	// before anything is frozen.
	CloseDay(ctx context.Context, deviceID uuid.UUID) (*dto.FiscalDayResponse, error)
	// RetryClose re-attempts the remote closure of a day stuck in
	// CloseInitiated or CloseFailed, reusing the frozen signature.
	RetryClose(ctx context.Context, deviceID uuid.UUID) (*dto.FiscalDayResponse, error)
	GetStatus(ctx context.Context, deviceID uuid.UUID) (*dto.FiscalDayResponse, error)
}

type fiscalDayService struct {
	days      repository.FiscalDayRepository
	devices   repository.DeviceRepository
	receipts  repository.ReceiptRepository
	authority Authority
	locker    infra.DeviceLocker
	// maxDayHours is the taxpayer's permitted fiscal day length; a day open
	// longer surfaces as an advisory finding in GetStatus. 0 disables.
	maxDayHours int
}

func NewFiscalDayService(
	days repository.FiscalDayRepository,
	devices repository.DeviceRepository,
	receipts repository.ReceiptRepository,
	authority Authority,
	locker infra.DeviceLocker,
	maxDayHours int,
) FiscalDayService {
	return &fiscalDayService{
		days:        days,
		devices:     devices,
		receipts:    receipts,
		authority:   authority,
		locker:      locker,
		maxDayHours: maxDayHours,
	}
}

func (s *fiscalDayService) OpenDay(ctx context.Context, deviceID uuid.UUID) (*dto.FiscalDayResponse, error) {
	release, err := s.locker.Lock(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	defer release()

	dev, err := s.devices.FindByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	current, err := s.days.FindCurrent(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if current != nil && current.Status != model.DayClosed {
		return nil, fmt.Errorf("fiscal day %d is still %s", current.Number, current.Status)
	}

	number := dev.LastFiscalDayNo + 1
	openedAt := time.Now()

	if dev.OperatingMode == model.ModeOnline {
		resp, err := s.authority.OpenDay(ctx, dev, number, openedAt)
		switch {
		case err == nil:
			// The authority is the source of truth for day numbering.
			if resp.FiscalDayNo > 0 {
				number = resp.FiscalDayNo
			}
		case isUnavailable(err):
			// Opening is a local act; the day is reported with the first
			// submission once the remote is back.
			log.Warn().Err(err).Int("day_no", number).
				Msg("fiscalday_service: authority unreachable on open, proceeding locally")
		default:
			return nil, err
		}
	}

	day := &model.FiscalDay{
		ID:       uuid.New(),
		DeviceID: deviceID,
		Number:   number,
		Status:   model.DayOpened,
		OpenedAt: openedAt,
	}
	if err := s.days.Create(ctx, day); err != nil {
		return nil, err
	}

	dev.LastFiscalDayNo = number
	if err := s.devices.Update(ctx, dev); err != nil {
		return nil, err
	}

	log.Info().Str("device_id", deviceID.String()).Int("day_no", number).
		Msg("fiscalday_service: fiscal day opened")

	return s.toResponse(ctx, dev, day, nil)
}

func (s *fiscalDayService) CloseDay(ctx context.Context, deviceID uuid.UUID) (*dto.FiscalDayResponse, error) {
	release, err := s.locker.Lock(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	defer release()

	dev, err := s.devices.FindByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	day, err := s.days.FindOpen(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if day == nil {
		return nil, &fiscal.NoOpenFiscalDayError{FiscalDeviceID: dev.FiscalDeviceID}
	}

	receipts, err := s.receipts.FindForDay(ctx, deviceID, day.Number)
	if err != nil {
		return nil, err
	}

	// Blocking findings abort before any state changes: the day stays Opened
	// so corrective receipts (credit notes) can still be issued.
	findings := fiscal.ValidateClosure(receipts)
	if fiscal.Blocking(findings) {
		return nil, &fiscal.ClosureBlockedError{Findings: blocking(findings)}
	}

	counters := fiscal.Aggregate(receipts)

	day.Status = model.DayCloseInitiated
	canonical, err := fiscal.EncodeFiscalDay(dev, day, counters)
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
	day.ClosingHash = &sig.Hash
	day.ClosingSignature = &sig.Signature
	if err := s.days.Update(ctx, day); err != nil {
		return nil, err
	}

	if dev.OperatingMode != model.ModeOnline {
		// The closure travels in the day's final exchange file; the day stays
		// CloseInitiated until the file is acknowledged.
		log.Info().Int("day_no", day.Number).Msg("fiscalday_service: closure frozen, awaiting exchange file")
		return s.toResponse(ctx, dev, day, counters)
	}

	if err := s.reportClosure(ctx, dev, day, counters, len(receipts)); err != nil {
		return s.closureFailure(ctx, dev, day, counters, err)
	}
	return s.toResponse(ctx, dev, day, counters)
}

func (s *fiscalDayService) RetryClose(ctx context.Context, deviceID uuid.UUID) (*dto.FiscalDayResponse, error) {
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
	if day == nil || (day.Status != model.DayCloseInitiated && day.Status != model.DayCloseFailed) {
		return nil, errors.New("no fiscal day closure to retry")
	}
	if day.ClosingSignature == nil || day.ClosingHash == nil {
		return nil, errors.New("fiscal day has no frozen closing signature")
	}

	receipts, err := s.receipts.FindForDay(ctx, deviceID, day.Number)
	if err != nil {
		return nil, err
	}
	counters := fiscal.Aggregate(receipts)

	if err := s.reportClosure(ctx, dev, day, counters, len(receipts)); err != nil {
		return s.closureFailure(ctx, dev, day, counters, err)
	}
	return s.toResponse(ctx, dev, day, counters)
}

// reportClosure sends the frozen closure to the authority and, on success,
// transitions the day to Closed.
func (s *fiscalDayService) reportClosure(ctx context.Context, dev *model.Device, day *model.FiscalDay, counters []fiscal.Counter, receiptCount int) error {
	sig := infra.SignaturePayload{Hash: *day.ClosingHash, Signature: *day.ClosingSignature}
	_, err := s.authority.CloseDay(ctx, dev, day.Number, infra.FormatCounterPayloads(counters), sig, receiptCount)
	if err != nil {
		return err
	}

	now := time.Now()
	day.Status = model.DayClosed
	day.ClosedAt = &now
	if err := s.days.Update(ctx, day); err != nil {
		return err
	}
	log.Info().Int("day_no", day.Number).Str("device_id", dev.ID.String()).
		Msg("fiscalday_service: fiscal day closed")
	return nil
}

// closureFailure records the failed close. A structured rejection moves the
// day to CloseFailed; an unreachable remote leaves it CloseInitiated so a
// plain retry can finish the job.
func (s *fiscalDayService) closureFailure(ctx context.Context, dev *model.Device, day *model.FiscalDay, counters []fiscal.Counter, cause error) (*dto.FiscalDayResponse, error) {
	if !isUnavailable(cause) {
		day.Status = model.DayCloseFailed
		if err := s.days.Update(ctx, day); err != nil {
			return nil, err
		}
		log.Warn().Err(cause).Int("day_no", day.Number).Msg("fiscalday_service: closure rejected")
	} else {
		log.Warn().Err(cause).Int("day_no", day.Number).Msg("fiscalday_service: authority unreachable on close")
	}
	return nil, cause
}

func (s *fiscalDayService) GetStatus(ctx context.Context, deviceID uuid.UUID) (*dto.FiscalDayResponse, error) {
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

	var counters []fiscal.Counter
	var findings []fiscal.Finding
	if day.Status != model.DayClosed {
		receipts, err := s.receipts.FindForDay(ctx, deviceID, day.Number)
		if err != nil {
			return nil, err
		}
		counters = fiscal.Aggregate(receipts)
		findings = fiscal.ValidateClosure(receipts)
		findings = append(findings, fiscal.ValidateDayDuration(day.OpenedAt, time.Now(), s.maxDayHours)...)
	}

	resp, err := s.toResponse(ctx, dev, day, counters)
	if err != nil {
		return nil, err
	}
	for _, f := range findings {
		resp.Findings = append(resp.Findings, dto.FindingResponse{
			Code: f.Code, Message: f.Message, Severity: string(f.Severity),
		})
	}
	return resp, nil
}

func (s *fiscalDayService) toResponse(ctx context.Context, dev *model.Device, day *model.FiscalDay, counters []fiscal.Counter) (*dto.FiscalDayResponse, error) {
	count, err := s.receipts.CountForDay(ctx, dev.ID, day.Number)
	if err != nil {
		return nil, err
	}
	resp := &dto.FiscalDayResponse{
		DeviceID:     dev.ID.String(),
		Number:       day.Number,
		Status:       string(day.Status),
		OpenedAt:     day.OpenedAt.Format(time.RFC3339),
		ReceiptCount: count,
		ClosingHash:  day.ClosingHash,
	}
	if day.ClosedAt != nil {
		closed := day.ClosedAt.Format(time.RFC3339)
		resp.ClosedAt = &closed
	}
	for _, c := range counters {
		resp.Counters = append(resp.Counters, dto.CounterResponse{
			Key:   c.Key(),
			Label: fiscal.FormatKeyLabel(c),
			Value: c.Value,
		})
	}
	return resp, nil
}

// isUnavailable reports whether err is a transport failure rather than a
// structured remote rejection.
func isUnavailable(err error) bool {
	var unavailable *fiscal.RemoteUnavailableError
	return errors.As(err, &unavailable)
}

// blocking filters findings down to the Red/Grey subset.
func blocking(findings []fiscal.Finding) []fiscal.Finding {
	var out []fiscal.Finding
	for _, f := range findings {
		if f.Severity == model.SeverityRed || f.Severity == model.SeverityGrey {
			out = append(out, f)
		}
	}
	return out
}
