package model

import (
	"time"

	"github.com/google/uuid"
)

// OperatingMode selects how receipts reach the revenue authority.
// Online devices submit each receipt immediately; Offline devices batch
// pending receipts into exchange files.
type OperatingMode string

const (
	ModeOnline  OperatingMode = "Online"
	ModeOffline OperatingMode = "Offline"
)

// Device is a registered fiscal device. Its sequence counters and fiscal-day
// state are the only mutable shared state in the engine — every mutation goes
// through the per-device lock (see infra.DeviceLocker).
type Device struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CompanyID uuid.UUID `gorm:"type:uuid;index;not null"`
	Company   *Company

	// FiscalDeviceID is the numeric device identifier assigned by the revenue
	// authority. It is the deviceID that enters every canonical encoding.
	FiscalDeviceID int    `gorm:"uniqueIndex;not null"`
	SerialNumber   string `gorm:"type:varchar(50);not null"`
	ModelName      string `gorm:"type:varchar(100);not null"`
	ModelVersion   string `gorm:"type:varchar(50)"`

	OperatingMode OperatingMode `gorm:"type:varchar(10);not null;default:'Online'"`

	// Certificate is the device's client certificate (PEM), issued by the
	// authority at registration. Nil until the device is registered.
	Certificate          *string
	CertificateValidTill *time.Time
	// PrivateKeyPEM is the device signing key (PKCS#8 PEM). Opaque to everything
	// except the signing step.
	PrivateKeyPEM string

	// LastReceiptGlobalNo is the device-wide receipt number high-water mark.
	// Advanced only by ReceiptRepository.Create, with a compare-and-swap in
	// the same transaction as the receipt insert.
	LastReceiptGlobalNo int64 `gorm:"not null;default:0"`
	// LastFiscalDayNo is the highest fiscal day number ever assigned.
	LastFiscalDayNo int `gorm:"not null;default:0"`

	IsActive  bool `gorm:"not null;default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
