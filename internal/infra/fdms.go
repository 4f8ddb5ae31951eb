package infra

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Compulink-Dev/fiscal-api/internal/fiscal"
	"github.com/Compulink-Dev/fiscal-api/internal/model"

	"github.com/shopspring/decimal"
)

// FDMSClient talks to the revenue authority's fiscal device management
// service. All device-scoped calls are mutually authenticated with the
// device certificate; registration runs over the activation-key channel
// before a certificate exists.
//
// Every call carries a bounded timeout. Transport failures surface as
// fiscal.RemoteUnavailableError (retryable), structured non-2xx responses
// as fiscal.RemoteApiError.
type FDMSClient struct {
	baseURL string
	timeout time.Duration
}

func NewFDMSClient(baseURL string, timeout time.Duration) *FDMSClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FDMSClient{baseURL: baseURL, timeout: timeout}
}

// ── Wire shapes ──────────────────────────────────────────────────────────────

type RegisterDeviceResponse struct {
	Certificate          string    `json:"certificate"`
	CertificateValidTill time.Time `json:"certificateValidTill"`
}

type SubmitReceiptResponse struct {
	ReceiptID              int64     `json:"receiptID"`
	ServerDate             time.Time `json:"serverDate"`
	ReceiptServerSignature string    `json:"receiptServerSignature"`
}

type OpenDayResponse struct {
	FiscalDayNo int `json:"fiscalDayNo"`
}

type CloseDayResponse struct {
	OperationID string `json:"operationID"`
}

type FileResponse struct {
	OperationID string `json:"operationID"`
}

type FileStatusResponse struct {
	OperationID string `json:"operationID"`
	Status      string `json:"status"` // InProgress | Accepted | Rejected
	Message     string `json:"message,omitempty"`
}

type PingResponse struct {
	ReportingFrequency int `json:"reportingFrequency"`
}

type remoteError struct {
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

// ReceiptPayload is the receipt as the authority expects it, used both for
// online submission and inside offline exchange files.
type ReceiptPayload struct {
	ReceiptType     string                  `json:"receiptType"`
	ReceiptCurrency string                  `json:"receiptCurrency"`
	ReceiptCounter  int                     `json:"receiptCounter"`
	ReceiptGlobalNo int64                   `json:"receiptGlobalNo"`
	InvoiceNo       string                  `json:"invoiceNo,omitempty"`
	ReceiptDate     string                  `json:"receiptDate"`
	ReceiptLines    []ReceiptLinePayload    `json:"receiptLines"`
	ReceiptTaxes    []ReceiptTaxPayload     `json:"receiptTaxes"`
	ReceiptPayments []ReceiptPaymentPayload `json:"receiptPayments"`
	ReceiptTotal    decimal.Decimal         `json:"receiptTotal"`
	DeviceSignature SignaturePayload        `json:"receiptDeviceSignature"`
}

type ReceiptLinePayload struct {
	LineType   string           `json:"receiptLineType"`
	LineNo     int              `json:"receiptLineNo"`
	HSCode     string           `json:"receiptLineHSCode,omitempty"`
	Name       string           `json:"receiptLineName"`
	Price      decimal.Decimal  `json:"receiptLinePrice"`
	Quantity   decimal.Decimal  `json:"receiptLineQuantity"`
	Total      decimal.Decimal  `json:"receiptLineTotal"`
	TaxCode    string           `json:"taxCode,omitempty"`
	TaxPercent *decimal.Decimal `json:"taxPercent,omitempty"`
	TaxID      int              `json:"taxID"`
}

type ReceiptTaxPayload struct {
	TaxCode            string           `json:"taxCode,omitempty"`
	TaxPercent         *decimal.Decimal `json:"taxPercent,omitempty"`
	TaxID              int              `json:"taxID"`
	TaxAmount          decimal.Decimal  `json:"taxAmount"`
	SalesAmountWithTax decimal.Decimal  `json:"salesAmountWithTax"`
}

type ReceiptPaymentPayload struct {
	MoneyTypeCode string          `json:"moneyTypeCode"`
	PaymentAmount decimal.Decimal `json:"paymentAmount"`
}

type SignaturePayload struct {
	Hash      string `json:"hash"`
	Signature string `json:"signature"`
}

type CounterPayload struct {
	FiscalCounterType       string           `json:"fiscalCounterType"`
	FiscalCounterCurrency   string           `json:"fiscalCounterCurrency"`
	FiscalCounterTaxID      *int             `json:"fiscalCounterTaxID,omitempty"`
	FiscalCounterTaxPercent *decimal.Decimal `json:"fiscalCounterTaxPercent,omitempty"`
	FiscalCounterMoneyType  *string          `json:"fiscalCounterMoneyType,omitempty"`
	FiscalCounterValue      decimal.Decimal  `json:"fiscalCounterValue"`
}

// FormatReceiptPayload converts a signed receipt to its wire shape.
func FormatReceiptPayload(r *model.Receipt) ReceiptPayload {
	p := ReceiptPayload{
		ReceiptType:     string(r.ReceiptType),
		ReceiptCurrency: r.Currency,
		ReceiptCounter:  r.Counter,
		ReceiptGlobalNo: r.GlobalNo,
		InvoiceNo:       r.InvoiceNo,
		ReceiptDate:     r.Date.Format("2006-01-02T15:04:05"),
		ReceiptTotal:    r.Total,
		DeviceSignature: SignaturePayload{Hash: r.Hash, Signature: r.Signature},
	}
	for _, l := range r.Lines {
		p.ReceiptLines = append(p.ReceiptLines, ReceiptLinePayload{
			LineType: l.LineType, LineNo: l.LineNo, HSCode: l.HSCode, Name: l.Name,
			Price: l.Price, Quantity: l.Quantity, Total: l.Total,
			TaxCode: l.TaxCode, TaxPercent: l.TaxPercent, TaxID: l.TaxID,
		})
	}
	for _, t := range r.Taxes {
		p.ReceiptTaxes = append(p.ReceiptTaxes, ReceiptTaxPayload{
			TaxCode: t.TaxCode, TaxPercent: t.TaxPercent, TaxID: t.TaxID,
			TaxAmount: t.TaxAmount, SalesAmountWithTax: t.SalesAmountWithTax,
		})
	}
	for _, pay := range r.Payments {
		p.ReceiptPayments = append(p.ReceiptPayments, ReceiptPaymentPayload{
			MoneyTypeCode: pay.MoneyType, PaymentAmount: pay.Amount,
		})
	}
	return p
}

// FormatCounterPayloads converts aggregated counters to their wire shape.
func FormatCounterPayloads(counters []fiscal.Counter) []CounterPayload {
	out := make([]CounterPayload, 0, len(counters))
	for _, c := range counters {
		p := CounterPayload{
			FiscalCounterType:     string(c.Type),
			FiscalCounterCurrency: c.Currency,
			FiscalCounterValue:    c.Value,
		}
		if c.Type == fiscal.BalanceByMoneyType {
			mt := c.MoneyType
			p.FiscalCounterMoneyType = &mt
		} else {
			id := c.TaxID
			p.FiscalCounterTaxID = &id
			p.FiscalCounterTaxPercent = c.TaxPercent
		}
		out = append(out, p)
	}
	return out
}

// ExchangeFile is the offline substitute for immediate online submission:
// header, pending receipts, and — when the file also closes the day — a
// footer with the aggregated counters and closing signature.
type ExchangeFile struct {
	Header  ExchangeHeader  `json:"header"`
	Content ExchangeContent `json:"content"`
	Footer  *ExchangeFooter `json:"footer,omitempty"`
}

type ExchangeHeader struct {
	DeviceID        int       `json:"deviceID"`
	FiscalDayNo     int       `json:"fiscalDayNo"`
	FiscalDayOpened time.Time `json:"fiscalDayOpened"`
	FileSequence    int       `json:"fileSequence"`
}

type ExchangeContent struct {
	Receipts []ReceiptPayload `json:"receipts"`
}

type ExchangeFooter struct {
	FiscalDayCounters        []CounterPayload `json:"fiscalDayCounters"`
	FiscalDayDeviceSignature SignaturePayload `json:"fiscalDayDeviceSignature"`
	ReceiptCounter           int              `json:"receiptCounter"`
	FiscalDayClosed          time.Time        `json:"fiscalDayClosed"`
}

// ── Operations ───────────────────────────────────────────────────────────────

func (c *FDMSClient) RegisterDevice(ctx context.Context, dev *model.Device, activationKey, csrPEM string) (*RegisterDeviceResponse, error) {
	body := map[string]any{
		"deviceID":           dev.FiscalDeviceID,
		"activationKey":      activationKey,
		"certificateRequest": csrPEM,
	}
	var resp RegisterDeviceResponse
	if err := c.post(ctx, dev, "/registerDevice", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *FDMSClient) SubmitReceipt(ctx context.Context, dev *model.Device, receipt ReceiptPayload) (*SubmitReceiptResponse, error) {
	body := map[string]any{
		"deviceID": dev.FiscalDeviceID,
		"receipt":  receipt,
	}
	var resp SubmitReceiptResponse
	if err := c.post(ctx, dev, "/submitReceipt", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *FDMSClient) OpenDay(ctx context.Context, dev *model.Device, dayNo int, openedAt time.Time) (*OpenDayResponse, error) {
	body := map[string]any{
		"deviceID":        dev.FiscalDeviceID,
		"fiscalDayNo":     dayNo,
		"fiscalDayOpened": openedAt,
	}
	var resp OpenDayResponse
	if err := c.post(ctx, dev, "/openDay", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *FDMSClient) CloseDay(ctx context.Context, dev *model.Device, dayNo int, counters []CounterPayload, sig SignaturePayload, receiptCounter int) (*CloseDayResponse, error) {
	body := map[string]any{
		"deviceID":                 dev.FiscalDeviceID,
		"fiscalDayNo":              dayNo,
		"fiscalDayCounters":        counters,
		"fiscalDayDeviceSignature": sig,
		"receiptCounter":           receiptCounter,
	}
	var resp CloseDayResponse
	if err := c.post(ctx, dev, "/closeDay", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *FDMSClient) SubmitFile(ctx context.Context, dev *model.Device, file *ExchangeFile) (*FileResponse, error) {
	var resp FileResponse
	if err := c.post(ctx, dev, "/submitFile", file, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *FDMSClient) GetFileStatus(ctx context.Context, dev *model.Device, operationID string, dayNo int) (*FileStatusResponse, error) {
	body := map[string]any{
		"deviceID":    dev.FiscalDeviceID,
		"operationId": operationID,
		"fiscalDayNo": dayNo,
	}
	var resp FileStatusResponse
	if err := c.post(ctx, dev, "/getFileStatus", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *FDMSClient) Ping(ctx context.Context, dev *model.Device) (*PingResponse, error) {
	body := map[string]any{"deviceID": dev.FiscalDeviceID}
	var resp PingResponse
	if err := c.post(ctx, dev, "/ping", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *FDMSClient) GetConfig(ctx context.Context, dev *model.Device) (map[string]any, error) {
	body := map[string]any{"deviceID": dev.FiscalDeviceID}
	var resp map[string]any
	if err := c.post(ctx, dev, "/getConfig", body, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ── Transport ────────────────────────────────────────────────────────────────

func (c *FDMSClient) post(ctx context.Context, dev *model.Device, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("fdms: marshal %s: %w", path, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("fdms: create request %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("DeviceModelName", dev.ModelName)
	req.Header.Set("DeviceModelVersion", dev.ModelVersion)

	client, err := c.httpClient(dev)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return &fiscal.RemoteUnavailableError{Op: path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var remote remoteError
		if decodeErr := json.NewDecoder(resp.Body).Decode(&remote); decodeErr == nil && remote.ErrorCode != "" {
			return &fiscal.RemoteApiError{Code: remote.ErrorCode, Message: remote.Message}
		}
		return &fiscal.RemoteApiError{Code: fmt.Sprintf("HTTP%d", resp.StatusCode), Message: resp.Status}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("fdms: decode %s response: %w", path, err)
	}
	return nil
}

// httpClient builds a client using the device's certificate for mutual TLS.
// Before registration the device has no certificate yet, so registration
// calls go out without a client cert.
func (c *FDMSClient) httpClient(dev *model.Device) (*http.Client, error) {
	if dev.Certificate == nil || dev.PrivateKeyPEM == "" {
		return &http.Client{Timeout: c.timeout}, nil
	}
	cert, err := tls.X509KeyPair([]byte(*dev.Certificate), []byte(dev.PrivateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("fdms: device certificate unusable: %w", err)
	}
	return &http.Client{
		Timeout: c.timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{Certificates: []tls.Certificate{cert}},
		},
	}, nil
}
