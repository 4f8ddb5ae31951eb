package dto

// ─── Request DTOs ────────────────────────────────────────────────────────────

type RegisterDeviceRequest struct {
	FiscalDeviceID int    `json:"fiscal_device_id" validate:"required,min=1"`
	ActivationKey  string `json:"activation_key"   validate:"required,min=8"`
	SerialNumber   string `json:"serial_number"    validate:"required"`
	ModelName      string `json:"model_name"       validate:"required"`
	ModelVersion   string `json:"model_version"`
	OperatingMode  string `json:"operating_mode"   validate:"omitempty,oneof=Online Offline"`
}

// ─── Response DTOs ───────────────────────────────────────────────────────────

type DeviceResponse struct {
	ID             string `json:"id"`
	FiscalDeviceID int    `json:"fiscal_device_id"`
	SerialNumber   string `json:"serial_number"`
	ModelName      string `json:"model_name"`
	ModelVersion   string `json:"model_version,omitempty"`
	OperatingMode  string `json:"operating_mode"`

	CertificateValidTill *string `json:"certificate_valid_till,omitempty"`

	LastReceiptGlobalNo int64 `json:"last_receipt_global_no"`
	LastFiscalDayNo     int   `json:"last_fiscal_day_no"`
	IsActive            bool  `json:"is_active"`
}

type PingResponse struct {
	ReportingFrequency int    `json:"reporting_frequency"`
	ServerReachable    bool   `json:"server_reachable"`
	Error              string `json:"error,omitempty"`
}
