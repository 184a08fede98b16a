package interfaces

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	billing "utilibill/internal/billing/domain"
)

// BuildInvoicePDF renders a minimal PDF for an invoice.
func BuildInvoicePDF(inv *billing.Invoice) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, fmt.Sprintf("Invoice %s", inv.Number))
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Account: %s", inv.AccountNumber))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Tariff: %s", inv.Tariff.Name))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Period: %s to %s", inv.PeriodStart.Format("2006-01-02"), inv.PeriodEnd.Format("2006-01-02")))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Issued: %s  Due: %s", inv.IssueDate.Format("2006-01-02"), inv.DueDate.Format("2006-01-02")))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Status: %s", inv.Status))
	pdf.Ln(8)

	// Line items table
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(70, 6, "Description", "1", 0, "L", false, 0, "")
	pdf.CellFormat(30, 6, "Quantity", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Rate (p)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Amount", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, line := range inv.Lines {
		pdf.CellFormat(70, 6, line.Description, "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%s %s", line.Quantity.String(), line.Unit), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, line.RatePence.StringFixed(2), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, line.Amount.String(), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	pdf.Ln(4)
	pdf.Cell(0, 6, fmt.Sprintf("Subtotal: %s", inv.Subtotal.String()))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("VAT: %s", inv.VATAmount.String()))
	pdf.Ln(5)
	pdf.SetFont("Arial", "B", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Total: %s", inv.Total.String()))
	pdf.Ln(8)
	pdf.SetFont("Arial", "", 10)

	if inv.Gas != nil {
		pdf.Cell(0, 6, fmt.Sprintf("Gas conversion: %s units -> %s m3 -> %s kWh",
			inv.Gas.RawUnits.StringFixed(3), inv.Gas.CubicMeters.StringFixed(3), inv.Gas.EnergyKWh.StringFixed(6)))
		pdf.Ln(8)
	}

	// Meter register movement
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(60, 6, "Meter", "1", 0, "L", false, 0, "")
	pdf.CellFormat(35, 6, "Opening", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Closing", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Consumption", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, m := range inv.Meters {
		pdf.CellFormat(60, 6, m.MeterID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(35, 6, fmt.Sprintf("%.1f", m.OpeningReading), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 6, fmt.Sprintf("%.1f", m.ClosingReading), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 6, fmt.Sprintf("%.3f", m.Consumption), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	err := pdf.Output(&buf)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildInvoiceXLSX renders a minimal XLSX for an invoice.
func BuildInvoiceXLSX(inv *billing.Invoice) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	linesSheet := "lines"
	metersSheet := "meters"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(linesSheet)
	f.NewSheet(metersSheet)

	_ = f.SetCellValue(summarySheet, "A1", "Invoice")
	_ = f.SetCellValue(summarySheet, "B1", inv.Number)
	_ = f.SetCellValue(summarySheet, "A3", "Account")
	_ = f.SetCellValue(summarySheet, "B3", inv.AccountNumber)
	_ = f.SetCellValue(summarySheet, "A4", "Tariff")
	_ = f.SetCellValue(summarySheet, "B4", inv.Tariff.Name)
	_ = f.SetCellValue(summarySheet, "A5", "Period Start")
	_ = f.SetCellValue(summarySheet, "B5", inv.PeriodStart.Format("2006-01-02"))
	_ = f.SetCellValue(summarySheet, "A6", "Period End")
	_ = f.SetCellValue(summarySheet, "B6", inv.PeriodEnd.Format("2006-01-02"))
	_ = f.SetCellValue(summarySheet, "A7", "Due Date")
	_ = f.SetCellValue(summarySheet, "B7", inv.DueDate.Format("2006-01-02"))
	_ = f.SetCellValue(summarySheet, "A8", "Status")
	_ = f.SetCellValue(summarySheet, "B8", string(inv.Status))
	_ = f.SetCellValue(summarySheet, "A9", "Subtotal")
	_ = f.SetCellValue(summarySheet, "B9", inv.Subtotal.String())
	_ = f.SetCellValue(summarySheet, "A10", "VAT")
	_ = f.SetCellValue(summarySheet, "B10", inv.VATAmount.String())
	_ = f.SetCellValue(summarySheet, "A11", "Total")
	_ = f.SetCellValue(summarySheet, "B11", inv.Total.String())
	_ = f.SetCellValue(summarySheet, "A12", "Amount Paid")
	_ = f.SetCellValue(summarySheet, "B12", inv.AmountPaid.String())
	_ = f.SetCellValue(summarySheet, "A13", "Balance Due")
	_ = f.SetCellValue(summarySheet, "B13", inv.BalanceDue.String())
	if inv.Gas != nil {
		_ = f.SetCellValue(summarySheet, "A15", "Gas Energy (kWh)")
		_ = f.SetCellValue(summarySheet, "B15", inv.Gas.EnergyKWh.StringFixed(6))
	}

	_ = f.SetCellValue(linesSheet, "A1", "Description")
	_ = f.SetCellValue(linesSheet, "B1", "Quantity")
	_ = f.SetCellValue(linesSheet, "C1", "Unit")
	_ = f.SetCellValue(linesSheet, "D1", "Rate (p)")
	_ = f.SetCellValue(linesSheet, "E1", "Amount")
	for i, line := range inv.Lines {
		row := i + 2
		_ = f.SetCellValue(linesSheet, fmt.Sprintf("A%d", row), line.Description)
		_ = f.SetCellValue(linesSheet, fmt.Sprintf("B%d", row), line.Quantity.String())
		_ = f.SetCellValue(linesSheet, fmt.Sprintf("C%d", row), line.Unit)
		_ = f.SetCellValue(linesSheet, fmt.Sprintf("D%d", row), line.RatePence.StringFixed(2))
		_ = f.SetCellValue(linesSheet, fmt.Sprintf("E%d", row), line.Amount.String())
	}

	_ = f.SetCellValue(metersSheet, "A1", "Meter")
	_ = f.SetCellValue(metersSheet, "B1", "Opening")
	_ = f.SetCellValue(metersSheet, "C1", "Closing")
	_ = f.SetCellValue(metersSheet, "D1", "Consumption")
	_ = f.SetCellValue(metersSheet, "E1", "Readings")
	for i, m := range inv.Meters {
		row := i + 2
		_ = f.SetCellValue(metersSheet, fmt.Sprintf("A%d", row), m.MeterID)
		_ = f.SetCellValue(metersSheet, fmt.Sprintf("B%d", row), m.OpeningReading)
		_ = f.SetCellValue(metersSheet, fmt.Sprintf("C%d", row), m.ClosingReading)
		_ = f.SetCellValue(metersSheet, fmt.Sprintf("D%d", row), m.Consumption)
		_ = f.SetCellValue(metersSheet, fmt.Sprintf("E%d", row), m.ReadingCount)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
