package dto

import "github.com/shopspring/decimal"

// ─── Response DTOs ───────────────────────────────────────────────────────────

type CounterResponse struct {
	Key   string          `json:"key"`
	Label string          `json:"label"`
	Value decimal.Decimal `json:"value"`
}

type FiscalDayResponse struct {
	DeviceID string `json:"device_id"`
	Number   int    `json:"number"`
	Status   string `json:"status"`

	OpenedAt string  `json:"opened_at"`
	ClosedAt *string `json:"closed_at,omitempty"`

	ReceiptCount int64             `json:"receipt_count"`
	Counters     []CounterResponse `json:"counters,omitempty"`

	ClosingHash *string           `json:"closing_hash,omitempty"`
	Findings    []FindingResponse `json:"findings,omitempty"`
}

// ─── Offline exchange ────────────────────────────────────────────────────────

type ReconcileRequest struct {
	OperationID string `json:"operation_id" validate:"required"`
}

type SubmitFileResponse struct {
	OperationID  string `json:"operation_id"`
	FileSequence int    `json:"file_sequence"`
	ReceiptCount int    `json:"receipt_count"`
	ClosesDay    bool   `json:"closes_day"`
}

type ReconcileResponse struct {
	OperationID string `json:"operation_id"`
	Status      string `json:"status"` // InProgress | Accepted | Rejected
	Message     string `json:"message,omitempty"`
	DayClosed   bool   `json:"day_closed"`
}
