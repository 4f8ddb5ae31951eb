package service_test

// Shared in-memory stubs for the service tests. The stubs honor the same
// contracts as the GORM-backed repositories (nil results for missing rows,
// CAS semantics on the device sequence) so the services run unmodified.

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Compulink-Dev/fiscal-api/internal/dto"
	"github.com/Compulink-Dev/fiscal-api/internal/fiscal"
	"github.com/Compulink-Dev/fiscal-api/internal/infra"
	"github.com/Compulink-Dev/fiscal-api/internal/model"
	"github.com/Compulink-Dev/fiscal-api/internal/repository"
	"github.com/Compulink-Dev/fiscal-api/internal/service"
)

// ── stubDeviceRepo ───────────────────────────────────────────────────────────

type stubDeviceRepo struct {
	mu      sync.Mutex
	devices map[uuid.UUID]*model.Device
	// forceConflicts makes the next N receipt persists lose the sequence CAS.
	forceConflicts int
}

func newStubDeviceRepo() *stubDeviceRepo {
	return &stubDeviceRepo{devices: make(map[uuid.UUID]*model.Device)}
}

func (r *stubDeviceRepo) Create(_ context.Context, d *model.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	r.devices[d.ID] = d
	return nil
}

func (r *stubDeviceRepo) FindByID(_ context.Context, id uuid.UUID) (*model.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *stubDeviceRepo) FindByFiscalDeviceID(_ context.Context, fiscalDeviceID int) (*model.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		if d.FiscalDeviceID == fiscalDeviceID {
			cp := *d
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *stubDeviceRepo) Update(_ context.Context, d *model.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *d
	r.devices[d.ID] = &cp
	return nil
}

func (r *stubDeviceRepo) DB() *gorm.DB { return nil }

var _ repository.DeviceRepository = (*stubDeviceRepo)(nil)

// ── stubReceiptRepo ──────────────────────────────────────────────────────────

type stubReceiptRepo struct {
	mu       sync.Mutex
	receipts []*model.Receipt
	devices  *stubDeviceRepo
	// failCreates makes the next N persists fail before anything is written,
	// as if the insert's transaction rolled back.
	failCreates int
}

func newStubReceiptRepo(devices *stubDeviceRepo) *stubReceiptRepo {
	return &stubReceiptRepo{devices: devices}
}

// Create mirrors the GORM repository's claim-and-insert transaction: the
// device high-water mark and the receipt row move together, or not at all.
func (r *stubReceiptRepo) Create(_ context.Context, rec *model.Receipt, prevGlobalNo int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices.mu.Lock()
	defer r.devices.mu.Unlock()

	if r.devices.forceConflicts > 0 {
		r.devices.forceConflicts--
		return &fiscal.SequencingConflictError{DeviceID: rec.DeviceID}
	}
	if r.failCreates > 0 {
		r.failCreates--
		return errors.New("insert receipts: connection reset by peer")
	}
	d, ok := r.devices.devices[rec.DeviceID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if d.LastReceiptGlobalNo != prevGlobalNo {
		return &fiscal.SequencingConflictError{DeviceID: rec.DeviceID}
	}
	d.LastReceiptGlobalNo = rec.GlobalNo

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.CreatedAt = time.Now()
	r.receipts = append(r.receipts, rec)
	return nil
}

func (r *stubReceiptRepo) FindByID(_ context.Context, id uuid.UUID) (*model.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.receipts {
		if rec.ID == id {
			return rec, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *stubReceiptRepo) FindByGlobalNo(_ context.Context, deviceID uuid.UUID, globalNo int64) (*model.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.receipts {
		if rec.DeviceID == deviceID && rec.GlobalNo == globalNo {
			return rec, nil
		}
	}
	return nil, nil
}

func (r *stubReceiptRepo) FindLatest(_ context.Context, deviceID uuid.UUID) (*model.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *model.Receipt
	for _, rec := range r.receipts {
		if rec.DeviceID == deviceID && (latest == nil || rec.GlobalNo > latest.GlobalNo) {
			latest = rec
		}
	}
	return latest, nil
}

func (r *stubReceiptRepo) FindForDay(_ context.Context, deviceID uuid.UUID, dayNo int) ([]model.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Receipt
	for _, rec := range r.receipts {
		if rec.DeviceID == deviceID && rec.FiscalDayNo == dayNo {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GlobalNo < out[j].GlobalNo })
	return out, nil
}

func (r *stubReceiptRepo) FindPendingForDay(_ context.Context, deviceID uuid.UUID, dayNo int) ([]model.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Receipt
	for _, rec := range r.receipts {
		if rec.DeviceID == deviceID && rec.FiscalDayNo == dayNo && rec.Status == model.StatusPending {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Counter < out[j].Counter })
	return out, nil
}

func (r *stubReceiptRepo) CountForDay(_ context.Context, deviceID uuid.UUID, dayNo int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, rec := range r.receipts {
		if rec.DeviceID == deviceID && rec.FiscalDayNo == dayNo {
			count++
		}
	}
	return count, nil
}

func (r *stubReceiptRepo) Update(_ context.Context, rec *model.Receipt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.receipts {
		if existing.ID == rec.ID {
			r.receipts[i] = rec
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *stubReceiptRepo) MarkSubmitted(_ context.Context, deviceID uuid.UUID, globalNos []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	marked := make(map[int64]bool, len(globalNos))
	for _, n := range globalNos {
		marked[n] = true
	}
	for _, rec := range r.receipts {
		if rec.DeviceID == deviceID && marked[rec.GlobalNo] {
			rec.Status = model.StatusSubmitted
		}
	}
	return nil
}

func (r *stubReceiptRepo) ListPendingRetries(_ context.Context, now time.Time, limit int) ([]model.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Receipt
	for _, rec := range r.receipts {
		if rec.Status == model.StatusPending && rec.NextRetryAt != nil && !rec.NextRetryAt.After(now) {
			out = append(out, *rec)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *stubReceiptRepo) DB() *gorm.DB { return nil }

var _ repository.ReceiptRepository = (*stubReceiptRepo)(nil)

// ── stubDayRepo ──────────────────────────────────────────────────────────────

type stubDayRepo struct {
	mu   sync.Mutex
	days []*model.FiscalDay
}

func newStubDayRepo() *stubDayRepo { return &stubDayRepo{} }

func (r *stubDayRepo) Create(_ context.Context, day *model.FiscalDay) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if day.ID == uuid.Nil {
		day.ID = uuid.New()
	}
	r.days = append(r.days, day)
	return nil
}

func (r *stubDayRepo) FindCurrent(_ context.Context, deviceID uuid.UUID) (*model.FiscalDay, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var current *model.FiscalDay
	for _, d := range r.days {
		if d.DeviceID == deviceID && (current == nil || d.Number > current.Number) {
			current = d
		}
	}
	return current, nil
}

func (r *stubDayRepo) FindOpen(_ context.Context, deviceID uuid.UUID) (*model.FiscalDay, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.days {
		if d.DeviceID == deviceID && d.Status == model.DayOpened {
			return d, nil
		}
	}
	return nil, nil
}

func (r *stubDayRepo) FindByNumber(_ context.Context, deviceID uuid.UUID, number int) (*model.FiscalDay, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.days {
		if d.DeviceID == deviceID && d.Number == number {
			return d, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *stubDayRepo) Update(_ context.Context, day *model.FiscalDay) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, d := range r.days {
		if d.ID == day.ID {
			r.days[i] = day
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

var _ repository.FiscalDayRepository = (*stubDayRepo)(nil)

// ── stubCompanyRepo ──────────────────────────────────────────────────────────

type stubCompanyRepo struct {
	companies map[uuid.UUID]*model.Company
}

func newStubCompanyRepo() *stubCompanyRepo {
	return &stubCompanyRepo{companies: make(map[uuid.UUID]*model.Company)}
}

func (r *stubCompanyRepo) Create(_ context.Context, c *model.Company) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	r.companies[c.ID] = c
	return nil
}

func (r *stubCompanyRepo) FindByID(_ context.Context, id uuid.UUID) (*model.Company, error) {
	c, ok := r.companies[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return c, nil
}

func (r *stubCompanyRepo) FindByTIN(_ context.Context, tin string) (*model.Company, error) {
	for _, c := range r.companies {
		if c.TIN == tin {
			return c, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

var _ repository.CompanyRepository = (*stubCompanyRepo)(nil)

// ── fakeAuthority ────────────────────────────────────────────────────────────

type fakeAuthority struct {
	mu sync.Mutex

	// unavailable makes every call fail with a transport error.
	unavailable bool
	// rejectCode, when set, makes every call fail with a structured error.
	rejectCode string

	openDayNo  int // remote day-number override, 0 = echo the request
	fileStatus string

	closeCalls  int
	lastFile    *infra.ExchangeFile
	registered  int
	lastCounter []infra.CounterPayload
}

func (a *fakeAuthority) fail(op string) error {
	if a.unavailable {
		return &fiscal.RemoteUnavailableError{Op: op, Err: errors.New("dial tcp: connection refused")}
	}
	if a.rejectCode != "" {
		return &fiscal.RemoteApiError{Code: a.rejectCode, Message: "rejected by authority"}
	}
	return nil
}

func (a *fakeAuthority) RegisterDevice(_ context.Context, _ *model.Device, _, _ string) (*infra.RegisterDeviceResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.fail("/registerDevice"); err != nil {
		return nil, err
	}
	a.registered++
	return &infra.RegisterDeviceResponse{
		Certificate:          "-----BEGIN CERTIFICATE-----\nMIIB\n-----END CERTIFICATE-----\n",
		CertificateValidTill: time.Now().AddDate(1, 0, 0),
	}, nil
}

func (a *fakeAuthority) OpenDay(_ context.Context, _ *model.Device, dayNo int, _ time.Time) (*infra.OpenDayResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.fail("/openDay"); err != nil {
		return nil, err
	}
	no := dayNo
	if a.openDayNo > 0 {
		no = a.openDayNo
	}
	return &infra.OpenDayResponse{FiscalDayNo: no}, nil
}

func (a *fakeAuthority) CloseDay(_ context.Context, _ *model.Device, _ int, counters []infra.CounterPayload, _ infra.SignaturePayload, _ int) (*infra.CloseDayResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.fail("/closeDay"); err != nil {
		return nil, err
	}
	a.closeCalls++
	a.lastCounter = counters
	return &infra.CloseDayResponse{OperationID: "op-close-1"}, nil
}

func (a *fakeAuthority) SubmitFile(_ context.Context, _ *model.Device, file *infra.ExchangeFile) (*infra.FileResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.fail("/submitFile"); err != nil {
		return nil, err
	}
	a.lastFile = file
	return &infra.FileResponse{OperationID: "op-file-1"}, nil
}

func (a *fakeAuthority) GetFileStatus(_ context.Context, _ *model.Device, operationID string, _ int) (*infra.FileStatusResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.fail("/getFileStatus"); err != nil {
		return nil, err
	}
	status := a.fileStatus
	if status == "" {
		status = "Accepted"
	}
	return &infra.FileStatusResponse{OperationID: operationID, Status: status}, nil
}

func (a *fakeAuthority) Ping(_ context.Context, _ *model.Device) (*infra.PingResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.fail("/ping"); err != nil {
		return nil, err
	}
	return &infra.PingResponse{ReportingFrequency: 8}, nil
}

func (a *fakeAuthority) GetConfig(_ context.Context, _ *model.Device) (map[string]any, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.fail("/getConfig"); err != nil {
		return nil, err
	}
	return map[string]any{"taxPayerName": "Test Trading Ltd"}, nil
}

var _ service.Authority = (*fakeAuthority)(nil)

// ── test fixtures ────────────────────────────────────────────────────────────

type env struct {
	devices   *stubDeviceRepo
	days      *stubDayRepo
	receipts  *stubReceiptRepo
	companies *stubCompanyRepo
	auth      *fakeAuthority

	receiptSvc service.ReceiptService
	daySvc     service.FiscalDayService
	offlineSvc service.OfflineService
	deviceSvc  service.DeviceService

	dev *model.Device
}

func newEnv(t *testing.T, mode model.OperatingMode) *env {
	t.Helper()

	e := &env{
		devices:   newStubDeviceRepo(),
		days:      newStubDayRepo(),
		companies: newStubCompanyRepo(),
		auth:      &fakeAuthority{},
	}
	e.receipts = newStubReceiptRepo(e.devices)

	keyPEM, certPEM := newSigningIdentity(t)
	e.dev = &model.Device{
		ID:             uuid.New(),
		CompanyID:      uuid.New(),
		FiscalDeviceID: 321,
		SerialNumber:   "SN-0001",
		ModelName:      "Server",
		ModelVersion:   "v1",
		OperatingMode:  mode,
		Certificate:    &certPEM,
		PrivateKeyPEM:  keyPEM,
		IsActive:       true,
	}
	require.NoError(t, e.devices.Create(context.Background(), e.dev))

	locker := infra.NewLocalDeviceLocker()
	seq := service.NewSequencer(e.days, e.receipts)
	e.receiptSvc = service.NewReceiptService(e.receipts, e.devices, seq, locker, nil, "https://receipt.test", t.TempDir())
	e.daySvc = service.NewFiscalDayService(e.days, e.devices, e.receipts, e.auth, locker, 24)
	e.offlineSvc = service.NewOfflineService(e.receipts, e.days, e.devices, e.auth, locker)
	e.deviceSvc = service.NewDeviceService(e.devices, e.companies, e.auth)
	return e
}

// newSigningIdentity generates a P-256 key and a matching self-signed
// certificate, both PEM encoded.
func newSigningIdentity(t *testing.T) (keyPEM, certPEM string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	keyPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}))

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "SN-0001-0000000321"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().AddDate(1, 0, 0),
	}
	certDER, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	certPEM = string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}))
	return keyPEM, certPEM
}

func (e *env) openDay(t *testing.T) *dto.FiscalDayResponse {
	t.Helper()
	resp, err := e.daySvc.OpenDay(context.Background(), e.dev.ID)
	require.NoError(t, err)
	return resp
}

// saleRequest is a structurally valid USD sale: 100.00 net + 15% tax.
func saleRequest() dto.CreateReceiptRequest {
	pct := decimal.RequireFromString("15.00")
	return dto.CreateReceiptRequest{
		ReceiptType: "FiscalInvoice",
		Currency:    "USD",
		InvoiceNo:   "INV-001",
		Date:        "2026-04-12T10:30:00",
		Lines: []dto.ReceiptLineRequest{{
			LineType: "Sale", LineNo: 1, Name: "Widget",
			Price:    decimal.RequireFromString("115.00"),
			Quantity: decimal.NewFromInt(1),
			Total:    decimal.RequireFromString("115.00"),
			TaxID:    1, TaxCode: "A", TaxPercent: &pct,
		}},
		Taxes: []dto.ReceiptTaxRequest{{
			TaxID: 1, TaxCode: "A", TaxPercent: &pct,
			TaxAmount:          decimal.RequireFromString("15.00"),
			SalesAmountWithTax: decimal.RequireFromString("115.00"),
		}},
		Payments: []dto.ReceiptPaymentRequest{{
			MoneyType: "Cash", Amount: decimal.RequireFromString("115.00"),
		}},
		Total: decimal.RequireFromString("115.00"),
	}
}

func (e *env) createReceipt(t *testing.T) *dto.ReceiptResponse {
	t.Helper()
	resp, err := e.receiptSvc.CreateReceipt(context.Background(), e.dev.ID, saleRequest())
	require.NoError(t, err)
	return resp
}
