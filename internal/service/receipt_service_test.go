package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Compulink-Dev/fiscal-api/internal/fiscal"
	"github.com/Compulink-Dev/fiscal-api/internal/model"
)

func TestCreateReceiptAssignsSequenceAndChains(t *testing.T) {
	e := newEnv(t, model.ModeOnline)
	e.openDay(t)

	first := e.createReceipt(t)
	second := e.createReceipt(t)

	assert.Equal(t, int64(1), first.GlobalNo)
	assert.Equal(t, 1, first.Counter)
	assert.Equal(t, int64(2), second.GlobalNo)
	assert.Equal(t, 2, second.Counter)

	assert.Empty(t, first.PreviousHash)
	assert.Equal(t, first.Hash, second.PreviousHash)
	assert.NotEmpty(t, first.Signature)
	assert.Equal(t, string(model.StatusPending), first.Status)
	assert.Contains(t, first.QRCode, "https://receipt.test")

	dev, err := e.devices.FindByID(context.Background(), e.dev.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), dev.LastReceiptGlobalNo)
}

func TestCreateReceiptRequiresOpenDay(t *testing.T) {
	e := newEnv(t, model.ModeOnline)

	_, err := e.receiptSvc.CreateReceipt(context.Background(), e.dev.ID, saleRequest())

	var noDay *fiscal.NoOpenFiscalDayError
	require.ErrorAs(t, err, &noDay)
	assert.Equal(t, e.dev.FiscalDeviceID, noDay.FiscalDeviceID)
}

func TestCreateReceiptRejectsMalformedDate(t *testing.T) {
	e := newEnv(t, model.ModeOnline)
	e.openDay(t)

	req := saleRequest()
	req.Date = "2026-04-12 10:30:00" // space instead of T

	_, err := e.receiptSvc.CreateReceipt(context.Background(), e.dev.ID, req)

	var structural *fiscal.StructuralError
	require.ErrorAs(t, err, &structural)
	assert.Equal(t, "date", structural.Field)
}

func TestCreateReceiptRejectsDeactivatedDevice(t *testing.T) {
	e := newEnv(t, model.ModeOnline)
	e.openDay(t)

	e.dev.IsActive = false
	require.NoError(t, e.devices.Update(context.Background(), e.dev))

	_, err := e.receiptSvc.CreateReceipt(context.Background(), e.dev.ID, saleRequest())

	var structural *fiscal.StructuralError
	require.ErrorAs(t, err, &structural)
	assert.Equal(t, "device", structural.Field)
}

func TestCreateReceiptRetriesSequencingConflict(t *testing.T) {
	e := newEnv(t, model.ModeOnline)
	e.openDay(t)

	e.devices.forceConflicts = 2 // loses twice, wins on the third attempt

	resp, err := e.receiptSvc.CreateReceipt(context.Background(), e.dev.ID, saleRequest())
	require.NoError(t, err)
	assert.Equal(t, int64(1), resp.GlobalNo)
}

func TestCreateReceiptGivesUpAfterRepeatedConflicts(t *testing.T) {
	e := newEnv(t, model.ModeOnline)
	e.openDay(t)

	e.devices.forceConflicts = 10

	_, err := e.receiptSvc.CreateReceipt(context.Background(), e.dev.ID, saleRequest())

	var conflict *fiscal.SequencingConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestCreateReceiptFailedPersistLeavesNoGap(t *testing.T) {
	e := newEnv(t, model.ModeOnline)
	e.openDay(t)

	e.receipts.failCreates = 1

	_, err := e.receiptSvc.CreateReceipt(context.Background(), e.dev.ID, saleRequest())
	require.Error(t, err)

	// The failed attempt must not have consumed a number: the next receipt
	// is still number 1 and the chain starts clean.
	dev, err := e.devices.FindByID(context.Background(), e.dev.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), dev.LastReceiptGlobalNo)

	resp := e.createReceipt(t)
	assert.Equal(t, int64(1), resp.GlobalNo)
	assert.Equal(t, 1, resp.Counter)
	assert.Empty(t, resp.PreviousHash)

	dev, err = e.devices.FindByID(context.Background(), e.dev.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dev.LastReceiptGlobalNo)
}

func TestCreateReceiptRecordsAdvisoryFindings(t *testing.T) {
	e := newEnv(t, model.ModeOnline)
	e.openDay(t)

	req := saleRequest()
	req.Payments[0].Amount = decimal.RequireFromString("100.00") // short of 115.00

	resp, err := e.receiptSvc.CreateReceipt(context.Background(), e.dev.ID, req)
	require.NoError(t, err)

	require.Len(t, resp.Findings, 1)
	assert.Equal(t, fiscal.CodePaymentShortfall, resp.Findings[0].Code)
	assert.Equal(t, string(model.SeverityYellow), resp.Findings[0].Severity)
	// Advisory findings never block fiscalization.
	assert.NotEmpty(t, resp.Hash)
	assert.Equal(t, string(model.StatusPending), resp.Status)
}

func TestVerifyReceiptAcceptsIntactReceipt(t *testing.T) {
	e := newEnv(t, model.ModeOnline)
	e.openDay(t)
	e.createReceipt(t)
	e.createReceipt(t)

	resp, err := e.receiptSvc.VerifyReceipt(context.Background(), e.dev.ID, 2)
	require.NoError(t, err)
	assert.True(t, resp.Valid)
	assert.Empty(t, resp.Error)
}

func TestVerifyReceiptDetectsTampering(t *testing.T) {
	e := newEnv(t, model.ModeOnline)
	e.openDay(t)
	created := e.createReceipt(t)

	rec, err := e.receipts.FindByGlobalNo(context.Background(), e.dev.ID, created.GlobalNo)
	require.NoError(t, err)
	rec.Total = decimal.RequireFromString("9999.99")
	require.NoError(t, e.receipts.Update(context.Background(), rec))

	resp, err := e.receiptSvc.VerifyReceipt(context.Background(), e.dev.ID, created.GlobalNo)
	require.NoError(t, err)
	assert.False(t, resp.Valid)
	assert.NotEmpty(t, resp.Error)
}

func TestVerifyReceiptDetectsBrokenChainLink(t *testing.T) {
	e := newEnv(t, model.ModeOnline)
	e.openDay(t)
	e.createReceipt(t)
	second := e.createReceipt(t)

	// Tamper with the predecessor: its hash no longer matches what the
	// second receipt recorded, even though the second receipt itself still
	// verifies against the certificate.
	first, err := e.receipts.FindByGlobalNo(context.Background(), e.dev.ID, 1)
	require.NoError(t, err)
	first.Hash = "AAAA" + first.Hash[4:]
	require.NoError(t, e.receipts.Update(context.Background(), first))

	resp, err := e.receiptSvc.VerifyReceipt(context.Background(), e.dev.ID, second.GlobalNo)
	require.NoError(t, err)
	assert.False(t, resp.Valid)
	assert.Contains(t, resp.Error, "previous hash")
}

func TestGetReceiptNotFound(t *testing.T) {
	e := newEnv(t, model.ModeOnline)
	e.openDay(t)

	_, err := e.receiptSvc.GetReceipt(context.Background(), e.dev.ID, 42)
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestListReceiptsReturnsDayInOrder(t *testing.T) {
	e := newEnv(t, model.ModeOnline)
	day := e.openDay(t)
	e.createReceipt(t)
	e.createReceipt(t)
	e.createReceipt(t)

	resp, err := e.receiptSvc.ListReceipts(context.Background(), e.dev.ID, day.Number)
	require.NoError(t, err)
	assert.Equal(t, int64(3), resp.Total)
	require.Len(t, resp.Data, 3)
	for i, rec := range resp.Data {
		assert.Equal(t, int64(i+1), rec.GlobalNo)
	}
}
