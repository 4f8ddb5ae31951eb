package repository

import (
	"context"
	"errors"

	"github.com/Compulink-Dev/fiscal-api/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type FiscalDayRepository interface {
	Create(ctx context.Context, day *model.FiscalDay) error
	// FindCurrent returns the device's highest-numbered fiscal day, or nil
	// when the device has never opened one.
	FindCurrent(ctx context.Context, deviceID uuid.UUID) (*model.FiscalDay, error)
	// FindOpen returns the device's fiscal day in Opened status, or nil
	// when none is open.
	FindOpen(ctx context.Context, deviceID uuid.UUID) (*model.FiscalDay, error)
	FindByNumber(ctx context.Context, deviceID uuid.UUID, number int) (*model.FiscalDay, error)
	Update(ctx context.Context, day *model.FiscalDay) error
}

type fiscalDayRepo struct{ db *gorm.DB }

func NewFiscalDayRepository(db *gorm.DB) FiscalDayRepository { return &fiscalDayRepo{db: db} }

func (r *fiscalDayRepo) Create(ctx context.Context, day *model.FiscalDay) error {
	return r.db.WithContext(ctx).Create(day).Error
}

func (r *fiscalDayRepo) FindCurrent(ctx context.Context, deviceID uuid.UUID) (*model.FiscalDay, error) {
	var day model.FiscalDay
	err := r.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("number DESC").
		First(&day).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &day, nil
}

func (r *fiscalDayRepo) FindOpen(ctx context.Context, deviceID uuid.UUID) (*model.FiscalDay, error) {
	var day model.FiscalDay
	err := r.db.WithContext(ctx).
		Where("device_id = ? AND status = ?", deviceID, model.DayOpened).
		First(&day).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &day, nil
}

func (r *fiscalDayRepo) FindByNumber(ctx context.Context, deviceID uuid.UUID, number int) (*model.FiscalDay, error) {
	var day model.FiscalDay
	err := r.db.WithContext(ctx).
		Where("device_id = ? AND number = ?", deviceID, number).
		First(&day).Error
	return &day, err
}

func (r *fiscalDayRepo) Update(ctx context.Context, day *model.FiscalDay) error {
	return r.db.WithContext(ctx).Save(day).Error
}
