package infra

// pdf.go — printable fiscal receipt generation using go-pdf/fpdf.
// Generates A7-size thermal-style tickets with:
//   - Seller name, TIN and device identifiers
//   - Receipt number (invoice no + fiscal global number)
//   - Item table (name, quantity, line total)
//   - Tax breakdown per bracket
//   - Bold total and tender lines
//   - Verification footer: signature hash prefix and QR verification URL
//
// The output file is saved to storagePath/receipt_{deviceID}_{globalNo}.pdf.

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-pdf/fpdf"

	"github.com/Compulink-Dev/fiscal-api/internal/model"
)

// GenerateReceiptPDF renders a signed receipt as a printable ticket.
// qrURL is the verification URL for the receipt (see fiscal.QRCodeData).
// Returns the absolute path to the generated file.
func GenerateReceiptPDF(dev *model.Device, r *model.Receipt, qrURL, storagePath string) (string, error) {
	if err := os.MkdirAll(storagePath, 0755); err != nil {
		return "", fmt.Errorf("pdf: create storage dir: %w", err)
	}

	fileName := fmt.Sprintf("receipt_%d_%d.pdf", dev.FiscalDeviceID, r.GlobalNo)
	filePath := filepath.Join(storagePath, fileName)

	// A7 ≈ 74mm × 105mm — close to thermal receipt paper (custom size, "A7" is not in fpdf's named list)
	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "mm",
		Size:           fpdf.SizeType{Wd: 74, Ht: 140},
	})
	pdf.SetMargins(4, 4, 4)
	pdf.AddPage()

	pageW, _ := pdf.GetPageSize()
	contentW := pageW - 8 // total margins = 8mm

	// ── Header ───────────────────────────────────────────────────────────────
	seller := "Fiscal Receipt"
	tin := ""
	if dev.Company != nil {
		seller = dev.Company.Name
		tin = dev.Company.TIN
	}
	pdf.SetFont("Helvetica", "B", 13)
	pdf.CellFormat(contentW, 7, seller, "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 8)
	if tin != "" {
		pdf.CellFormat(contentW, 5, "TIN "+tin, "", 1, "C", false, 0, "")
	}
	pdf.CellFormat(contentW, 5, string(r.ReceiptType), "", 1, "C", false, 0, "")
	pdf.Ln(2)

	// ── Receipt info ──────────────────────────────────────────────────────────
	pdf.SetFont("Helvetica", "B", 8)
	if r.InvoiceNo != "" {
		pdf.CellFormat(contentW, 5, "Invoice "+r.InvoiceNo, "", 1, "L", false, 0, "")
	}
	pdf.CellFormat(contentW, 5, fmt.Sprintf("Fiscal No %d  (day %d / #%d)", r.GlobalNo, r.FiscalDayNo, r.Counter), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 7)
	pdf.CellFormat(contentW, 4, fmt.Sprintf("Device %d  SN %s", dev.FiscalDeviceID, dev.SerialNumber), "", 1, "L", false, 0, "")
	pdf.CellFormat(contentW, 4, r.Date.Format("02/01/2006  15:04"), "", 1, "L", false, 0, "")
	pdf.Ln(2)

	// ── Separator ────────────────────────────────────────────────────────────
	pdf.Line(4, pdf.GetY(), pageW-4, pdf.GetY())
	pdf.Ln(2)

	// ── Items header ──────────────────────────────────────────────────────────
	col1 := contentW * 0.52 // item name
	col2 := contentW * 0.16 // qty
	col3 := contentW * 0.32 // line total

	pdf.SetFont("Helvetica", "B", 7)
	pdf.CellFormat(col1, 5, "Item", "B", 0, "L", false, 0, "")
	pdf.CellFormat(col2, 5, "Qty", "B", 0, "C", false, 0, "")
	pdf.CellFormat(col3, 5, "Total", "B", 1, "R", false, 0, "")

	// ── Item rows ─────────────────────────────────────────────────────────────
	pdf.SetFont("Helvetica", "", 7)
	for _, line := range r.Lines {
		name := line.Name
		// Truncate long names
		if len(name) > 22 {
			name = name[:21] + "…"
		}
		pdf.CellFormat(col1, 5, name, "", 0, "L", false, 0, "")
		pdf.CellFormat(col2, 5, "x"+line.Quantity.String(), "", 0, "C", false, 0, "")
		pdf.CellFormat(col3, 5, line.Total.StringFixed(2), "", 1, "R", false, 0, "")
	}

	pdf.Ln(2)
	pdf.Line(4, pdf.GetY(), pageW-4, pdf.GetY())
	pdf.Ln(2)

	// ── Taxes ─────────────────────────────────────────────────────────────────
	pdf.SetFont("Helvetica", "", 7)
	for _, tax := range r.Taxes {
		label := "Exempt"
		if tax.TaxPercent != nil {
			label = fmt.Sprintf("Tax %s%%", tax.TaxPercent.StringFixed(2))
		}
		if tax.TaxCode != "" {
			label += " (" + tax.TaxCode + ")"
		}
		pdf.CellFormat(col1+col2, 4, label+":", "", 0, "L", false, 0, "")
		pdf.CellFormat(col3, 4, tax.TaxAmount.StringFixed(2), "", 1, "R", false, 0, "")
	}

	// ── Total ─────────────────────────────────────────────────────────────────
	pdf.SetFont("Helvetica", "B", 9)
	pdf.CellFormat(col1+col2, 6, "TOTAL "+r.Currency+":", "", 0, "L", false, 0, "")
	pdf.CellFormat(col3, 6, r.Total.StringFixed(2), "", 1, "R", false, 0, "")

	// ── Tender ────────────────────────────────────────────────────────────────
	pdf.Ln(2)
	pdf.SetFont("Helvetica", "", 7)
	for _, pay := range r.Payments {
		pdf.CellFormat(col1+col2, 4, pay.MoneyType+":", "", 0, "L", false, 0, "")
		pdf.CellFormat(col3, 4, pay.Amount.StringFixed(2), "", 1, "R", false, 0, "")
	}

	// ── Verification footer ───────────────────────────────────────────────────
	pdf.Ln(3)
	pdf.Line(4, pdf.GetY(), pageW-4, pdf.GetY())
	pdf.Ln(2)
	pdf.SetFont("Helvetica", "", 6)
	hash := r.Hash
	if len(hash) > 24 {
		hash = hash[:24] + "…"
	}
	pdf.CellFormat(contentW, 3.5, "Signature "+hash, "", 1, "L", false, 0, "")
	pdf.MultiCell(contentW, 3.5, "Verify at: "+qrURL, "", "L", false)

	if err := pdf.OutputFileAndClose(filePath); err != nil {
		return "", fmt.Errorf("pdf: write file: %w", err)
	}

	return filePath, nil
}
