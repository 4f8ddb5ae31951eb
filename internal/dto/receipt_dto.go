package dto

import "github.com/shopspring/decimal"

// ─── Request DTOs ────────────────────────────────────────────────────────────

type ReceiptLineRequest struct {
	LineType string `json:"line_type" validate:"required,oneof=Sale Discount"`
	LineNo   int    `json:"line_no"   validate:"required,min=1"`
	Name     string `json:"name"      validate:"required"`
	HSCode   string `json:"hs_code"`

	Price    decimal.Decimal `json:"price"    validate:"required"`
	Quantity decimal.Decimal `json:"quantity" validate:"required"`
	Total    decimal.Decimal `json:"total"    validate:"required"`

	TaxID      int              `json:"tax_id" validate:"required,min=1"`
	TaxCode    string           `json:"tax_code"`
	TaxPercent *decimal.Decimal `json:"tax_percent"`
}

type ReceiptTaxRequest struct {
	TaxID              int              `json:"tax_id" validate:"required,min=1"`
	TaxCode            string           `json:"tax_code"`
	TaxPercent         *decimal.Decimal `json:"tax_percent"` // nil = exempt
	TaxAmount          decimal.Decimal  `json:"tax_amount"`
	SalesAmountWithTax decimal.Decimal  `json:"sales_amount_with_tax" validate:"required"`
}

type ReceiptPaymentRequest struct {
	MoneyType string          `json:"money_type" validate:"required,oneof=Cash Card MobileWallet Coupon Credit BankTransfer Other"`
	Amount    decimal.Decimal `json:"amount"     validate:"required"`
}

type CreateReceiptRequest struct {
	ReceiptType string `json:"receipt_type" validate:"required,oneof=FiscalInvoice CreditNote DebitNote"`
	Currency    string `json:"currency"     validate:"required,len=3"`
	InvoiceNo   string `json:"invoice_no"`
	// Date is local device time, "2006-01-02T15:04:05" (no zone).
	Date string `json:"date" validate:"required"`

	Lines    []ReceiptLineRequest    `json:"lines"    validate:"required,min=1,dive"`
	Taxes    []ReceiptTaxRequest     `json:"taxes"    validate:"required,min=1,dive"`
	Payments []ReceiptPaymentRequest `json:"payments" validate:"required,min=1,dive"`

	Total decimal.Decimal `json:"total" validate:"required"`

	// CustomerEmail: optional — when present, a PDF copy is mailed once signed.
	CustomerEmail *string `json:"customer_email" validate:"omitempty,email"`
}

// ─── Response DTOs ───────────────────────────────────────────────────────────

type FindingResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

type ReceiptResponse struct {
	ID          string `json:"id"`
	DeviceID    string `json:"device_id"`
	ReceiptType string `json:"receipt_type"`
	Currency    string `json:"currency"`
	InvoiceNo   string `json:"invoice_no,omitempty"`

	GlobalNo    int64 `json:"global_no"`
	Counter     int   `json:"counter"`
	FiscalDayNo int   `json:"fiscal_day_no"`

	Date  string          `json:"date"`
	Total decimal.Decimal `json:"total"`

	PreviousHash string `json:"previous_hash,omitempty"`
	Hash         string `json:"hash"`
	Signature    string `json:"signature"`
	QRCode       string `json:"qr_code"`

	Status   string            `json:"status"`
	Findings []FindingResponse `json:"findings,omitempty"`

	ServerReceiptID *int64 `json:"server_receipt_id,omitempty"`
	CreatedAt       string `json:"created_at"`
}

// VerifyReceiptResponse reports an integrity check of a stored receipt
// against the device certificate and the hash chain.
type VerifyReceiptResponse struct {
	GlobalNo int64  `json:"global_no"`
	Valid    bool   `json:"valid"`
	Error    string `json:"error,omitempty"`
}

type ReceiptListResponse struct {
	Data  []ReceiptResponse `json:"data"`
	Total int64             `json:"total"`
}
