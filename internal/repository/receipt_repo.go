package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Compulink-Dev/fiscal-api/internal/fiscal"
	"github.com/Compulink-Dev/fiscal-api/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ReceiptRepository interface {
	// Create persists the receipt and advances the device's receipt number
	// high-water mark from prevGlobalNo to rec.GlobalNo in one transaction,
	// so a failed insert never leaves the claim behind. A concurrent writer
	// that already advanced the mark surfaces as a SequencingConflictError.
	Create(ctx context.Context, rec *model.Receipt, prevGlobalNo int64) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Receipt, error)
	// FindByGlobalNo returns nil when the device has no receipt with that
	// number.
	FindByGlobalNo(ctx context.Context, deviceID uuid.UUID, globalNo int64) (*model.Receipt, error)
	// FindLatest returns the device's globally most recent receipt, or nil
	// when the device has no receipts yet.
	FindLatest(ctx context.Context, deviceID uuid.UUID) (*model.Receipt, error)
	FindForDay(ctx context.Context, deviceID uuid.UUID, dayNo int) ([]model.Receipt, error)
	// FindPendingForDay returns the day's Pending receipts ordered by per-day
	// counter ascending — the exchange file order.
	FindPendingForDay(ctx context.Context, deviceID uuid.UUID, dayNo int) ([]model.Receipt, error)
	CountForDay(ctx context.Context, deviceID uuid.UUID, dayNo int) (int64, error)
	Update(ctx context.Context, rec *model.Receipt) error
	// MarkSubmitted flips the given receipts to Submitted in one statement.
	MarkSubmitted(ctx context.Context, deviceID uuid.UUID, globalNos []int64) error
	// ListPendingRetries returns online-mode receipts due for resubmission.
	ListPendingRetries(ctx context.Context, now time.Time, limit int) ([]model.Receipt, error)
	DB() *gorm.DB
}

type receiptRepo struct{ db *gorm.DB }

func NewReceiptRepository(db *gorm.DB) ReceiptRepository { return &receiptRepo{db: db} }

func (r *receiptRepo) DB() *gorm.DB { return r.db }

func (r *receiptRepo) Create(ctx context.Context, rec *model.Receipt, prevGlobalNo int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Device{}).
			Where("id = ? AND last_receipt_global_no = ?", rec.DeviceID, prevGlobalNo).
			Update("last_receipt_global_no", rec.GlobalNo)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &fiscal.SequencingConflictError{DeviceID: rec.DeviceID}
		}
		return tx.Create(rec).Error
	})
}

func (r *receiptRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.Receipt, error) {
	var rec model.Receipt
	err := r.db.WithContext(ctx).
		Preload("Lines").Preload("Taxes").Preload("Payments").Preload("Findings").
		First(&rec, "id = ?", id).Error
	return &rec, err
}

func (r *receiptRepo) FindByGlobalNo(ctx context.Context, deviceID uuid.UUID, globalNo int64) (*model.Receipt, error) {
	var rec model.Receipt
	err := r.db.WithContext(ctx).
		Preload("Lines").Preload("Taxes").Preload("Payments").Preload("Findings").
		Where("device_id = ? AND global_no = ?", deviceID, globalNo).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *receiptRepo) FindLatest(ctx context.Context, deviceID uuid.UUID) (*model.Receipt, error) {
	var rec model.Receipt
	err := r.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("global_no DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *receiptRepo) FindForDay(ctx context.Context, deviceID uuid.UUID, dayNo int) ([]model.Receipt, error) {
	var receipts []model.Receipt
	err := r.db.WithContext(ctx).
		Preload("Taxes").Preload("Payments").Preload("Findings").
		Where("device_id = ? AND fiscal_day_no = ?", deviceID, dayNo).
		Order("global_no ASC").
		Find(&receipts).Error
	return receipts, err
}

func (r *receiptRepo) FindPendingForDay(ctx context.Context, deviceID uuid.UUID, dayNo int) ([]model.Receipt, error) {
	var receipts []model.Receipt
	err := r.db.WithContext(ctx).
		Preload("Lines").Preload("Taxes").Preload("Payments").
		Where("device_id = ? AND fiscal_day_no = ? AND status = ?", deviceID, dayNo, model.StatusPending).
		Order("counter ASC").
		Find(&receipts).Error
	return receipts, err
}

func (r *receiptRepo) CountForDay(ctx context.Context, deviceID uuid.UUID, dayNo int) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Receipt{}).
		Where("device_id = ? AND fiscal_day_no = ?", deviceID, dayNo).
		Count(&count).Error
	return count, err
}

func (r *receiptRepo) Update(ctx context.Context, rec *model.Receipt) error {
	return r.db.WithContext(ctx).Save(rec).Error
}

func (r *receiptRepo) MarkSubmitted(ctx context.Context, deviceID uuid.UUID, globalNos []int64) error {
	if len(globalNos) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&model.Receipt{}).
		Where("device_id = ? AND global_no IN ?", deviceID, globalNos).
		Update("status", model.StatusSubmitted).Error
}

func (r *receiptRepo) ListPendingRetries(ctx context.Context, now time.Time, limit int) ([]model.Receipt, error) {
	var receipts []model.Receipt
	err := r.db.WithContext(ctx).
		Preload("Lines").Preload("Taxes").Preload("Payments").
		Where("status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?", model.StatusPending, now).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&receipts).Error
	return receipts, err
}
