package fiscal

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Compulink-Dev/fiscal-api/internal/model"

	"github.com/shopspring/decimal"
)

// CounterType names a fiscal day counter family. Credit notes accumulate
// into their own family with the same sign as sales, never as a debit
// against SaleByTax.
type CounterType string

const (
	SaleByTax          CounterType = "SaleByTax"
	SaleTaxByTax       CounterType = "SaleTaxByTax"
	CreditNoteByTax    CounterType = "CreditNoteByTax"
	CreditNoteTaxByTax CounterType = "CreditNoteTaxByTax"
	DebitNoteByTax     CounterType = "DebitNoteByTax"
	DebitNoteTaxByTax  CounterType = "DebitNoteTaxByTax"
	BalanceByMoneyType CounterType = "BalanceByMoneyType"
)

// Counter is one fiscal day tally. Counters are never persisted as
// authoritative state — they are recomputed from receipts on demand.
type Counter struct {
	Type     CounterType
	Currency string

	// Tax counters: TaxID + TaxPercent (nil = exempt).
	TaxID      int
	TaxPercent *decimal.Decimal
	// Balance counters: money type code.
	MoneyType string

	// Value in major units.
	Value decimal.Decimal
}

// Key is the composite counter key used for grouping and for the canonical
// fiscal day encoding sort order.
func (c Counter) Key() string {
	if c.Type == BalanceByMoneyType {
		return fmt.Sprintf("%s:%s:%s", c.Type, c.Currency, c.MoneyType)
	}
	percent := "exempt"
	if c.TaxPercent != nil {
		percent = c.TaxPercent.StringFixed(2)
	}
	return fmt.Sprintf("%s:%s:%d:%s", c.Type, c.Currency, c.TaxID, percent)
}

// counterFamilies maps a receipt type to its (amount, tax) counter families.
var counterFamilies = map[model.ReceiptType][2]CounterType{
	model.FiscalInvoice: {SaleByTax, SaleTaxByTax},
	model.CreditNote:    {CreditNoteByTax, CreditNoteTaxByTax},
	model.DebitNote:     {DebitNoteByTax, DebitNoteTaxByTax},
}

// Aggregate folds receipts into fiscal counters. Pure function: no side
// effects, and the result is independent of input ordering (the output is
// sorted by composite key).
func Aggregate(receipts []model.Receipt) []Counter {
	acc := make(map[string]*Counter)

	add := func(c Counter) {
		key := c.Key()
		if existing, ok := acc[key]; ok {
			existing.Value = existing.Value.Add(c.Value)
			return
		}
		c.Value = c.Value.Copy()
		acc[key] = &c
	}

	for i := range receipts {
		r := &receipts[i]
		families, ok := counterFamilies[r.ReceiptType]
		if !ok {
			continue
		}
		for _, t := range r.Taxes {
			add(Counter{
				Type: families[0], Currency: r.Currency,
				TaxID: t.TaxID, TaxPercent: t.TaxPercent,
				Value: t.SalesAmountWithTax,
			})
			add(Counter{
				Type: families[1], Currency: r.Currency,
				TaxID: t.TaxID, TaxPercent: t.TaxPercent,
				Value: t.TaxAmount,
			})
		}
		for _, p := range r.Payments {
			add(Counter{
				Type: BalanceByMoneyType, Currency: r.Currency,
				MoneyType: p.MoneyType,
				Value:     p.Amount,
			})
		}
	}

	out := make([]Counter, 0, len(acc))
	for _, c := range acc {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// FormatKeyLabel renders a counter key for reports and logs, e.g.
// "SaleByTax USD 1 @ 15.00%".
func FormatKeyLabel(c Counter) string {
	var b strings.Builder
	b.WriteString(string(c.Type))
	b.WriteString(" ")
	b.WriteString(c.Currency)
	if c.Type == BalanceByMoneyType {
		b.WriteString(" ")
		b.WriteString(c.MoneyType)
		return b.String()
	}
	b.WriteString(" ")
	b.WriteString(strconv.Itoa(c.TaxID))
	if c.TaxPercent != nil {
		b.WriteString(" @ ")
		b.WriteString(c.TaxPercent.StringFixed(2))
		b.WriteString("%")
	} else {
		b.WriteString(" exempt")
	}
	return b.String()
}
