package repository

import (
	"context"

	"github.com/Compulink-Dev/fiscal-api/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type DeviceRepository interface {
	Create(ctx context.Context, d *model.Device) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Device, error)
	FindByFiscalDeviceID(ctx context.Context, fiscalDeviceID int) (*model.Device, error)
	Update(ctx context.Context, d *model.Device) error
	DB() *gorm.DB
}

type deviceRepo struct{ db *gorm.DB }

func NewDeviceRepository(db *gorm.DB) DeviceRepository { return &deviceRepo{db: db} }

func (r *deviceRepo) DB() *gorm.DB { return r.db }

func (r *deviceRepo) Create(ctx context.Context, d *model.Device) error {
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *deviceRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.Device, error) {
	var d model.Device
	err := r.db.WithContext(ctx).Preload("Company").First(&d, "id = ?", id).Error
	return &d, err
}

func (r *deviceRepo) FindByFiscalDeviceID(ctx context.Context, fiscalDeviceID int) (*model.Device, error) {
	var d model.Device
	err := r.db.WithContext(ctx).Preload("Company").Where("fiscal_device_id = ?", fiscalDeviceID).First(&d).Error
	return &d, err
}

func (r *deviceRepo) Update(ctx context.Context, d *model.Device) error {
	return r.db.WithContext(ctx).Save(d).Error
}

