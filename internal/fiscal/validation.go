package fiscal

import (
	"fmt"
	"sort"
	"time"

	"github.com/Compulink-Dev/fiscal-api/internal/model"

	"github.com/shopspring/decimal"
)

// Finding is one validation result. Codes follow the authority's RCPT
// numbering. Red blocks closure, Grey (broken chain linkage) blocks closure,
// Yellow is advisory only.
type Finding struct {
	Code     string
	Message  string
	Severity model.FindingSeverity
}

// Validation codes.
const (
	CodeInvalidCurrency   = "RCPT010"
	CodeCounterGap        = "RCPT011"
	CodeBrokenChain       = "RCPT012"
	CodeTaxTotalMismatch  = "RCPT013"
	CodePaymentShortfall  = "RCPT014"
	CodeRedFindingPresent = "RCPT020"
	CodeDayOverrun        = "DAY010"
)

// ValidateReceipt runs the per-receipt checks at creation time. The returned
// findings are stored with the receipt and consulted again at day closure.
func ValidateReceipt(r *model.Receipt) []Finding {
	var findings []Finding

	if !currencyRe.MatchString(r.Currency) {
		findings = append(findings, Finding{
			Code:     CodeInvalidCurrency,
			Message:  fmt.Sprintf("currency %q is not an ISO 4217 code", r.Currency),
			Severity: model.SeverityRed,
		})
	}

	// Taxes must account for the receipt total. Advisory — rounding schemes
	// on the POS side legitimately differ by a cent.
	taxTotal := decimal.Zero
	for _, t := range r.Taxes {
		taxTotal = taxTotal.Add(t.SalesAmountWithTax)
	}
	if len(r.Taxes) > 0 && !taxTotal.Equal(r.Total) {
		findings = append(findings, Finding{
			Code:     CodeTaxTotalMismatch,
			Message:  fmt.Sprintf("tax summaries total %s, receipt total %s", taxTotal, r.Total),
			Severity: model.SeverityYellow,
		})
	}

	paid := decimal.Zero
	for _, p := range r.Payments {
		paid = paid.Add(p.Amount)
	}
	if len(r.Payments) > 0 && paid.LessThan(r.Total) {
		findings = append(findings, Finding{
			Code:     CodePaymentShortfall,
			Message:  fmt.Sprintf("payments total %s below receipt total %s", paid, r.Total),
			Severity: model.SeverityYellow,
		})
	}

	return findings
}

// ValidateClosure runs the day-closure checks over all receipts of the day:
//
//   - any stored Red finding on any receipt blocks closure
//   - per-day counters must form the contiguous sequence 1..N (a gap means a
//     lost or out-of-order receipt)
//   - each receipt's previousReceiptHash must match its predecessor's hash
//     (broken linkage is a Grey finding and blocks closure)
//
// The returned findings contain only blocking (Red/Grey) results.
func ValidateClosure(receipts []model.Receipt) []Finding {
	var findings []Finding

	for i := range receipts {
		for _, f := range receipts[i].Findings {
			if f.Severity == model.SeverityRed {
				findings = append(findings, Finding{
					Code:     CodeRedFindingPresent,
					Message:  fmt.Sprintf("receipt %d has a Red finding %s: %s", receipts[i].GlobalNo, f.Code, f.Message),
					Severity: model.SeverityRed,
				})
			}
		}
	}

	byCounter := make([]model.Receipt, len(receipts))
	copy(byCounter, receipts)
	sort.Slice(byCounter, func(i, j int) bool { return byCounter[i].Counter < byCounter[j].Counter })
	for i := range byCounter {
		if byCounter[i].Counter != i+1 {
			findings = append(findings, Finding{
				Code:     CodeCounterGap,
				Message:  fmt.Sprintf("receipt counter sequence has a gap: expected %d, found %d", i+1, byCounter[i].Counter),
				Severity: model.SeverityRed,
			})
			break
		}
	}

	// Chain linkage within the day, in global order. The first receipt of the
	// day links to the previous day's last receipt, which is outside this
	// slice — only intra-day links are checked here.
	byGlobal := make([]model.Receipt, len(receipts))
	copy(byGlobal, receipts)
	sort.Slice(byGlobal, func(i, j int) bool { return byGlobal[i].GlobalNo < byGlobal[j].GlobalNo })
	for i := 1; i < len(byGlobal); i++ {
		if byGlobal[i].PreviousHash != byGlobal[i-1].Hash {
			findings = append(findings, Finding{
				Code:     CodeBrokenChain,
				Message:  fmt.Sprintf("receipt %d does not link to receipt %d", byGlobal[i].GlobalNo, byGlobal[i-1].GlobalNo),
				Severity: model.SeverityGrey,
			})
		}
	}

	return findings
}

// ValidateDayDuration flags a fiscal day that has been open longer than the
// taxpayer's permitted window. Advisory — the authority expects a close, it
// does not force one. maxHours <= 0 disables the check.
func ValidateDayDuration(openedAt, now time.Time, maxHours int) []Finding {
	if maxHours <= 0 {
		return nil
	}
	elapsed := now.Sub(openedAt)
	limit := time.Duration(maxHours) * time.Hour
	if elapsed <= limit {
		return nil
	}
	return []Finding{{
		Code:     CodeDayOverrun,
		Message:  fmt.Sprintf("fiscal day open for %s, permitted maximum is %dh", elapsed.Round(time.Minute), maxHours),
		Severity: model.SeverityYellow,
	}}
}

// Blocking reports whether any finding prevents day closure. Yellow findings
// never block.
func Blocking(findings []Finding) bool {
	for _, f := range findings {
		if f.Severity == model.SeverityRed || f.Severity == model.SeverityGrey {
			return true
		}
	}
	return false
}

// ToModel converts findings to their persisted form.
func ToModel(findings []Finding) []model.ReceiptFinding {
	out := make([]model.ReceiptFinding, 0, len(findings))
	for _, f := range findings {
		out = append(out, model.ReceiptFinding{Code: f.Code, Message: f.Message, Severity: f.Severity})
	}
	return out
}
