package fiscal

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Compulink-Dev/fiscal-api/internal/model"

	"github.com/shopspring/decimal"
)

// Canonical encoding rules. The output feeds the hash chain, so every rule
// here is frozen: changing a format, separator or sort order invalidates all
// previously signed receipts.
//
//   - money is rendered as integer minor units, round(value * 100)
//   - receipt dates: 2006-01-02T15:04:05, no timezone offset
//   - fiscal day dates: 2006-01-02
//   - fields are concatenated with no separators

const (
	receiptDateLayout = "2006-01-02T15:04:05"
	dayDateLayout     = "2006-01-02"
)

var currencyRe = regexp.MustCompile(`^[A-Z]{3}$`)

// minorUnits renders a monetary amount as integer cents.
func minorUnits(d decimal.Decimal) string {
	return d.Shift(2).Round(0).String()
}

// EncodeReceipt builds the canonical string of a receipt:
// deviceID, TYPE, currency, globalNo, date, total, sorted taxes, previous hash.
func EncodeReceipt(dev *model.Device, r *model.Receipt) (string, error) {
	if err := checkReceiptStructure(dev, r); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(strconv.Itoa(dev.FiscalDeviceID))
	b.WriteString(strings.ToUpper(string(r.ReceiptType)))
	b.WriteString(r.Currency)
	b.WriteString(strconv.FormatInt(r.GlobalNo, 10))
	b.WriteString(r.Date.Format(receiptDateLayout))
	b.WriteString(minorUnits(r.Total))
	b.WriteString(encodeTaxes(r.Taxes))
	b.WriteString(r.PreviousHash)
	return b.String(), nil
}

// encodeTaxes renders tax summaries sorted by numeric tax ID, then tax code
// (byte-wise, locale-independent). Per entry: code, percent (2 decimals,
// empty when exempt), tax amount, sales amount with tax — all concatenated.
func encodeTaxes(taxes []model.ReceiptTax) string {
	sorted := make([]model.ReceiptTax, len(taxes))
	copy(sorted, taxes)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].TaxID != sorted[j].TaxID {
			return sorted[i].TaxID < sorted[j].TaxID
		}
		return sorted[i].TaxCode < sorted[j].TaxCode
	})

	var b strings.Builder
	for _, t := range sorted {
		b.WriteString(t.TaxCode)
		if t.TaxPercent != nil {
			b.WriteString(t.TaxPercent.StringFixed(2))
		}
		b.WriteString(minorUnits(t.TaxAmount))
		b.WriteString(minorUnits(t.SalesAmountWithTax))
	}
	return b.String()
}

// EncodeFiscalDay builds the canonical string of a fiscal day closure:
// deviceID, day number, day-opened date, sorted counters. Counters are
// ordered lexicographically by composite key; zero-valued counters are
// elided entirely.
func EncodeFiscalDay(dev *model.Device, day *model.FiscalDay, counters []Counter) (string, error) {
	if dev == nil || dev.FiscalDeviceID <= 0 {
		return "", &StructuralError{Field: "deviceID", Reason: "missing"}
	}
	if day == nil || day.Number <= 0 {
		return "", &StructuralError{Field: "fiscalDayNo", Reason: "missing"}
	}
	if day.OpenedAt.IsZero() {
		return "", &StructuralError{Field: "fiscalDayOpened", Reason: "missing"}
	}

	sorted := make([]Counter, len(counters))
	copy(sorted, counters)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key() < sorted[j].Key() })

	var b strings.Builder
	b.WriteString(strconv.Itoa(dev.FiscalDeviceID))
	b.WriteString(strconv.Itoa(day.Number))
	b.WriteString(day.OpenedAt.Format(dayDateLayout))
	for _, c := range sorted {
		if c.Value.IsZero() {
			continue
		}
		b.WriteString(c.Key())
		b.WriteString(minorUnits(c.Value))
	}
	return b.String(), nil
}

func checkReceiptStructure(dev *model.Device, r *model.Receipt) error {
	if dev == nil || dev.FiscalDeviceID <= 0 {
		return &StructuralError{Field: "deviceID", Reason: "missing"}
	}
	if r == nil {
		return &StructuralError{Field: "receipt", Reason: "missing"}
	}
	switch r.ReceiptType {
	case model.FiscalInvoice, model.CreditNote, model.DebitNote:
	default:
		return &StructuralError{Field: "receiptType", Reason: "unknown type " + string(r.ReceiptType)}
	}
	if r.Currency == "" {
		return &StructuralError{Field: "receiptCurrency", Reason: "missing"}
	}
	if r.GlobalNo <= 0 {
		return &StructuralError{Field: "receiptGlobalNo", Reason: "not assigned"}
	}
	if r.Date.IsZero() {
		return &StructuralError{Field: "receiptDate", Reason: "missing"}
	}
	for i, t := range r.Taxes {
		if t.TaxID <= 0 {
			return &StructuralError{Field: "receiptTaxes[" + strconv.Itoa(i) + "].taxID", Reason: "missing"}
		}
	}
	return nil
}
