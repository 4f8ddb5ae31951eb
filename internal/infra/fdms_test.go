package infra

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Compulink-Dev/fiscal-api/internal/fiscal"
	"github.com/Compulink-Dev/fiscal-api/internal/model"
)

func testFDMSDevice() *model.Device {
	// No certificate: calls go over the plain client, like registration does.
	return &model.Device{
		FiscalDeviceID: 321,
		ModelName:      "Server",
		ModelVersion:   "v1",
	}
}

func TestFDMSClientOpenDay(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, "Server", r.Header.Get("DeviceModelName"))
		assert.Equal(t, "v1", r.Header.Get("DeviceModelVersion"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]any{"fiscalDayNo": 42})
	}))
	defer srv.Close()

	client := NewFDMSClient(srv.URL, 5*time.Second)
	resp, err := client.OpenDay(context.Background(), testFDMSDevice(), 7, time.Date(2026, 4, 12, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, "/openDay", gotPath)
	assert.Equal(t, float64(321), gotBody["deviceID"])
	assert.Equal(t, 42, resp.FiscalDayNo)
}

func TestFDMSClientStructuredRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"errorCode": "DEV01", "message": "operationID not found"})
	}))
	defer srv.Close()

	client := NewFDMSClient(srv.URL, 5*time.Second)
	_, err := client.Ping(context.Background(), testFDMSDevice())

	var remote *fiscal.RemoteApiError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "DEV01", remote.Code)
	assert.Equal(t, "operationID not found", remote.Message)
}

func TestFDMSClientOpaqueErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewFDMSClient(srv.URL, 5*time.Second)
	_, err := client.Ping(context.Background(), testFDMSDevice())

	var remote *fiscal.RemoteApiError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "HTTP502", remote.Code)
}

func TestFDMSClientTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	client := NewFDMSClient(srv.URL, time.Second)
	_, err := client.Ping(context.Background(), testFDMSDevice())

	var unavailable *fiscal.RemoteUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "/ping", unavailable.Op)
}

func TestFormatCounterPayloads(t *testing.T) {
	pct := decimal.RequireFromString("15.00")
	counters := []fiscal.Counter{
		{Type: fiscal.SaleByTax, Currency: "USD", TaxID: 1, TaxPercent: &pct, Value: decimal.RequireFromString("115.00")},
		{Type: fiscal.SaleByTax, Currency: "USD", TaxID: 3, Value: decimal.RequireFromString("50.00")}, // exempt
		{Type: fiscal.BalanceByMoneyType, Currency: "USD", MoneyType: "Cash", Value: decimal.RequireFromString("165.00")},
	}

	payloads := FormatCounterPayloads(counters)
	require.Len(t, payloads, 3)

	taxed := payloads[0]
	require.NotNil(t, taxed.FiscalCounterTaxID)
	assert.Equal(t, 1, *taxed.FiscalCounterTaxID)
	require.NotNil(t, taxed.FiscalCounterTaxPercent)
	assert.True(t, taxed.FiscalCounterTaxPercent.Equal(pct))
	assert.Nil(t, taxed.FiscalCounterMoneyType)

	exempt := payloads[1]
	require.NotNil(t, exempt.FiscalCounterTaxID)
	assert.Nil(t, exempt.FiscalCounterTaxPercent)

	balance := payloads[2]
	assert.Nil(t, balance.FiscalCounterTaxID)
	require.NotNil(t, balance.FiscalCounterMoneyType)
	assert.Equal(t, "Cash", *balance.FiscalCounterMoneyType)
}

func TestFormatReceiptPayloadDates(t *testing.T) {
	r := &model.Receipt{
		ReceiptType: model.FiscalInvoice,
		Currency:    "USD",
		Counter:     3,
		GlobalNo:    17,
		Date:        time.Date(2026, 4, 12, 10, 30, 0, 0, time.UTC),
		Total:       decimal.RequireFromString("115.00"),
		Hash:        "aGFzaA==",
		Signature:   "c2ln",
	}
	p := FormatReceiptPayload(r)

	assert.Equal(t, "2026-04-12T10:30:00", p.ReceiptDate)
	assert.Equal(t, int64(17), p.ReceiptGlobalNo)
	assert.Equal(t, "aGFzaA==", p.DeviceSignature.Hash)
}
