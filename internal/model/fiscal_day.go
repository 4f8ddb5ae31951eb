package model

import (
	"time"

	"github.com/google/uuid"
)

// FiscalDayStatus is the day lifecycle state.
// Closed → Opened → CloseInitiated → Closed | CloseFailed.
// CloseFailed never reverts to Opened; only a close retry can resolve it.
type FiscalDayStatus string

const (
	DayClosed         FiscalDayStatus = "Closed"
	DayOpened         FiscalDayStatus = "Opened"
	DayCloseInitiated FiscalDayStatus = "CloseInitiated"
	DayCloseFailed    FiscalDayStatus = "CloseFailed"
)

// FiscalDay is one accounting period of a device. Exactly one row per device
// may be in a non-Closed status at any time.
type FiscalDay struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	DeviceID uuid.UUID `gorm:"type:uuid;index:idx_fiscal_days_device_number,unique;not null"`
	Number   int       `gorm:"index:idx_fiscal_days_device_number,unique;not null"`

	Status   FiscalDayStatus `gorm:"type:varchar(20);not null;default:'Opened'"`
	OpenedAt time.Time       `gorm:"not null"`
	ClosedAt *time.Time

	// Closing hash/signature over the aggregated counters, computed when the
	// close is initiated. Frozen from that point on.
	ClosingHash      *string
	ClosingSignature *string

	// LastAckedFileSeq is the highest exchange file sequence the authority
	// has acknowledged within this day. The next file is always built as
	// LastAckedFileSeq+1, so a file that failed to upload is rebuilt under
	// the same sequence (idempotent resubmission).
	LastAckedFileSeq int `gorm:"not null;default:0"`

	CreatedAt time.Time
	UpdatedAt time.Time
}
