package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReceiptType is the fiscal document kind. It selects which counter family
// the receipt's tax lines accumulate into.
type ReceiptType string

const (
	FiscalInvoice ReceiptType = "FiscalInvoice"
	CreditNote    ReceiptType = "CreditNote"
	DebitNote     ReceiptType = "DebitNote"
)

// ReceiptStatus tracks the receipt's exchange with the revenue authority.
// Pending → Approved | Rejected (online) or Pending → Submitted (offline).
type ReceiptStatus string

const (
	StatusPending   ReceiptStatus = "Pending"
	StatusApproved  ReceiptStatus = "Approved"
	StatusRejected  ReceiptStatus = "Rejected"
	StatusSubmitted ReceiptStatus = "Submitted"
)

// FindingSeverity grades a validation finding. Red and Grey findings block
// fiscal day closure; Yellow is advisory only.
type FindingSeverity string

const (
	SeverityGrey   FindingSeverity = "Grey"
	SeverityYellow FindingSeverity = "Yellow"
	SeverityRed    FindingSeverity = "Red"
)

// Receipt is immutable once signed: hash, signature and all fiscal fields are
// frozen, only Status / remote acknowledgement / retry bookkeeping may change.
type Receipt struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	DeviceID uuid.UUID `gorm:"type:uuid;index:idx_receipts_device_global,unique;not null"`

	ReceiptType ReceiptType `gorm:"type:varchar(20);not null"`
	Currency    string      `gorm:"type:varchar(3);not null"`
	InvoiceNo   string      `gorm:"type:varchar(50)"`
	Date        time.Time   `gorm:"not null"`

	// GlobalNo is device-lifetime-unique and strictly increasing by 1.
	GlobalNo int64 `gorm:"index:idx_receipts_device_global,unique;not null"`
	// Counter restarts at 1 at every fiscal day open.
	Counter     int `gorm:"not null"`
	FiscalDayNo int `gorm:"index;not null"`

	Lines    []ReceiptLine    `gorm:"foreignKey:ReceiptID;constraint:OnDelete:CASCADE"`
	Taxes    []ReceiptTax     `gorm:"foreignKey:ReceiptID;constraint:OnDelete:CASCADE"`
	Payments []ReceiptPayment `gorm:"foreignKey:ReceiptID;constraint:OnDelete:CASCADE"`

	Total decimal.Decimal `gorm:"type:decimal(14,2);not null"`

	// PreviousHash is the device-signature hash of the globally previous
	// receipt on this device ("" for the device's first receipt ever).
	PreviousHash string `gorm:"type:varchar(64)"`
	Hash         string `gorm:"type:varchar(64);not null"`
	Signature    string `gorm:"not null"`

	Status ReceiptStatus `gorm:"type:varchar(12);not null;default:'Pending'"`

	// Remote acknowledgement, present once the authority accepted the receipt.
	ServerReceiptID *int64
	ServerDate      *time.Time
	ServerSignature *string

	Findings []ReceiptFinding `gorm:"foreignKey:ReceiptID;constraint:OnDelete:CASCADE"`

	// Retry bookkeeping for the online submission worker.
	RetryCount  int `gorm:"not null;default:0"`
	NextRetryAt *time.Time
	LastError   *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ReceiptLine is one sold item. Lines are kept in submission order; they do
// not enter the hash input but are part of the exchange file.
type ReceiptLine struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ReceiptID uuid.UUID `gorm:"type:uuid;index;not null"`

	LineType string `gorm:"type:varchar(20);not null"` // Sale | Discount
	LineNo   int    `gorm:"not null"`
	Name     string `gorm:"type:varchar(200);not null"`
	HSCode   string `gorm:"type:varchar(20)"`

	Price    decimal.Decimal `gorm:"type:decimal(14,4);not null"`
	Quantity decimal.Decimal `gorm:"type:decimal(12,3);not null"`
	Total    decimal.Decimal `gorm:"type:decimal(14,2);not null"`

	TaxID      int `gorm:"not null"`
	TaxCode    string
	TaxPercent *decimal.Decimal `gorm:"type:decimal(5,2)"`
}

// ReceiptTax is one tax bracket summary of the receipt. TaxPercent is nil for
// exempt brackets.
type ReceiptTax struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ReceiptID uuid.UUID `gorm:"type:uuid;index;not null"`

	TaxID              int    `gorm:"not null"`
	TaxCode            string `gorm:"type:varchar(10)"`
	TaxPercent         *decimal.Decimal `gorm:"type:decimal(5,2)"`
	TaxAmount          decimal.Decimal  `gorm:"type:decimal(14,2);not null"`
	SalesAmountWithTax decimal.Decimal  `gorm:"type:decimal(14,2);not null"`
}

// ReceiptPayment is one tender line (cash, card, mobile money, ...).
type ReceiptPayment struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ReceiptID uuid.UUID `gorm:"type:uuid;index;not null"`

	MoneyType string          `gorm:"type:varchar(20);not null"`
	Amount    decimal.Decimal `gorm:"type:decimal(14,2);not null"`
}

// ReceiptFinding is a validation finding recorded against a receipt at
// creation time. Findings are immutable.
type ReceiptFinding struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ReceiptID uuid.UUID `gorm:"type:uuid;index;not null"`

	Code     string          `gorm:"type:varchar(10);not null"`
	Message  string          `gorm:"not null"`
	Severity FindingSeverity `gorm:"type:varchar(6);not null"`
}
