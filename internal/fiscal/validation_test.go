package fiscal_test

import (
	"testing"
	"time"

	"github.com/Compulink-Dev/fiscal-api/internal/fiscal"
	"github.com/Compulink-Dev/fiscal-api/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findingCodes(findings []fiscal.Finding) []string {
	codes := make([]string, 0, len(findings))
	for _, f := range findings {
		codes = append(codes, f.Code)
	}
	return codes
}

func TestValidateReceiptCurrency(t *testing.T) {
	r := testReceipt()
	r.Currency = "us$"

	findings := fiscal.ValidateReceipt(r)
	require.NotEmpty(t, findings)
	assert.Contains(t, findingCodes(findings), fiscal.CodeInvalidCurrency)
	assert.Equal(t, model.SeverityRed, findings[0].Severity)
}

func TestValidateReceiptAdvisoryFindings(t *testing.T) {
	r := testReceipt()
	r.Taxes[0].SalesAmountWithTax = dec("99.00") // off by 1.00 vs total
	r.Payments = []model.ReceiptPayment{{MoneyType: "Cash", Amount: dec("90.00")}}

	findings := fiscal.ValidateReceipt(r)
	codes := findingCodes(findings)
	assert.Contains(t, codes, fiscal.CodeTaxTotalMismatch)
	assert.Contains(t, codes, fiscal.CodePaymentShortfall)
	for _, f := range findings {
		assert.Equal(t, model.SeverityYellow, f.Severity)
	}
	// Yellow findings never block closure.
	assert.False(t, fiscal.Blocking(findings))
}

func dayReceipt(globalNo int64, counter int, prevHash, hash string) model.Receipt {
	r := *testReceipt()
	r.GlobalNo = globalNo
	r.Counter = counter
	r.PreviousHash = prevHash
	r.Hash = hash
	return r
}

func TestValidateClosureAcceptsContiguousDay(t *testing.T) {
	receipts := []model.Receipt{
		dayReceipt(10, 1, "h9", "h10"),
		dayReceipt(11, 2, "h10", "h11"),
		dayReceipt(12, 3, "h11", "h12"),
	}
	findings := fiscal.ValidateClosure(receipts)
	assert.Empty(t, findings)
}

func TestValidateClosureDetectsCounterGap(t *testing.T) {
	// Counters [1,2,4]: receipt 3 was lost — closure must fail.
	receipts := []model.Receipt{
		dayReceipt(10, 1, "h9", "h10"),
		dayReceipt(11, 2, "h10", "h11"),
		dayReceipt(13, 4, "h12", "h13"),
	}
	findings := fiscal.ValidateClosure(receipts)
	require.NotEmpty(t, findings)
	assert.Contains(t, findingCodes(findings), fiscal.CodeCounterGap)
	assert.True(t, fiscal.Blocking(findings))
}

func TestValidateClosureDetectsBrokenChain(t *testing.T) {
	receipts := []model.Receipt{
		dayReceipt(10, 1, "h9", "h10"),
		dayReceipt(11, 2, "WRONG", "h11"),
	}
	findings := fiscal.ValidateClosure(receipts)
	require.NotEmpty(t, findings)
	assert.Equal(t, fiscal.CodeBrokenChain, findings[0].Code)
	assert.Equal(t, model.SeverityGrey, findings[0].Severity)
	assert.True(t, fiscal.Blocking(findings))
}

func TestValidateClosureBlocksOnStoredRedFinding(t *testing.T) {
	r := dayReceipt(10, 1, "h9", "h10")
	r.Findings = []model.ReceiptFinding{
		{Code: fiscal.CodeInvalidCurrency, Message: "invalid currency", Severity: model.SeverityRed},
	}
	findings := fiscal.ValidateClosure([]model.Receipt{r})
	require.NotEmpty(t, findings)
	assert.Contains(t, findingCodes(findings), fiscal.CodeRedFindingPresent)
}

func TestValidateClosureIgnoresYellowFindings(t *testing.T) {
	r := dayReceipt(10, 1, "h9", "h10")
	r.Findings = []model.ReceiptFinding{
		{Code: fiscal.CodeTaxTotalMismatch, Message: "off by a cent", Severity: model.SeverityYellow},
	}
	findings := fiscal.ValidateClosure([]model.Receipt{r})
	assert.Empty(t, findings)
}

func TestValidateDayDuration(t *testing.T) {
	now := time.Now()

	assert.Empty(t, fiscal.ValidateDayDuration(now.Add(-23*time.Hour), now, 24))
	assert.Empty(t, fiscal.ValidateDayDuration(now.Add(-100*time.Hour), now, 0), "zero disables the check")

	findings := fiscal.ValidateDayDuration(now.Add(-30*time.Hour), now, 24)
	require.Len(t, findings, 1)
	assert.Equal(t, fiscal.CodeDayOverrun, findings[0].Code)
	assert.Equal(t, model.SeverityYellow, findings[0].Severity)
}
