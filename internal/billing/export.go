package billing

import (
	"fmt"
	"io"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"energy_billing/internal/metrics"
)

// WriteXLSX writes the presented breakdown as a workbook with a summary
// sheet and a daily sheet.
func WriteXLSX(w io.Writer, b *CostBreakdown) (err error) {
	defer func() { metrics.IncExport("xlsx", metrics.Result(err)) }()

	p := b.Presented()
	t := p.Table()

	f := excelize.NewFile()
	defer f.Close()

	summarySheet := "summary"
	dailySheet := "daily"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(dailySheet); err != nil {
		return err
	}

	_ = f.SetCellValue(summarySheet, "A1", t.Title)
	_ = f.SetCellValue(summarySheet, "A2", t.Subtitle)
	for i, h := range t.Header {
		cell, _ := excelize.CoordinatesToCellName(i+1, 4)
		_ = f.SetCellValue(summarySheet, cell, h)
	}
	row := 5
	for _, l := range p.Lines {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), l.Period)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), l.UsageKWh.InexactFloat64())
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("C%d", row), l.Rate.InexactFloat64())
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("D%d", row), money(l.Cost))
		row++
	}
	row++
	footer := []struct {
		label  string
		amount float64
	}{
		{t.Footer[0].Label, money(p.SupplyCharge)},
		{t.Footer[1].Label, money(p.SubTotal)},
		{t.Footer[2].Label, -money(p.SolarCredit)},
		{t.Footer[3].Label, money(p.NetCost)},
	}
	for _, fl := range footer {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), fl.label)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("D%d", row), fl.amount)
		row++
	}

	_ = f.SetCellValue(dailySheet, "A1", "Date")
	_ = f.SetCellValue(dailySheet, "B1", "Usage (kWh)")
	_ = f.SetCellValue(dailySheet, "C1", "Usage Cost")
	_ = f.SetCellValue(dailySheet, "D1", "Solar (kWh)")
	_ = f.SetCellValue(dailySheet, "E1", "Solar Credit")
	for i, d := range p.Daily {
		r := i + 2
		_ = f.SetCellValue(dailySheet, fmt.Sprintf("A%d", r), d.Date.Format(time.DateOnly))
		_ = f.SetCellValue(dailySheet, fmt.Sprintf("B%d", r), d.UsageKWh.InexactFloat64())
		_ = f.SetCellValue(dailySheet, fmt.Sprintf("C%d", r), money(d.UsageCost))
		_ = f.SetCellValue(dailySheet, fmt.Sprintf("D%d", r), d.SolarKWh.InexactFloat64())
		_ = f.SetCellValue(dailySheet, fmt.Sprintf("E%d", r), money(d.SolarCredit))
	}

	return f.Write(w)
}

// WritePDF writes the presented breakdown table as a one page PDF.
func WritePDF(w io.Writer, b *CostBreakdown) (err error) {
	defer func() { metrics.IncExport("pdf", metrics.Result(err)) }()

	t := b.Presented().Table()

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, t.Title)
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, t.Subtitle)
	pdf.Ln(10)

	widths := []float64{45, 40, 40, 40}
	pdf.SetFont("Arial", "B", 10)
	for i, h := range t.Header {
		pdf.CellFormat(widths[i], 6, h, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, r := range t.Rows {
		for i, v := range r {
			align := "R"
			if i == 0 {
				align = "L"
			}
			pdf.CellFormat(widths[i], 6, v, "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	pdf.Ln(4)
	for i, fl := range t.Footer {
		if i == len(t.Footer)-1 {
			pdf.SetFont("Arial", "B", 10)
		}
		pdf.CellFormat(widths[0]+widths[1]+widths[2], 6, fl.Label, "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[3], 6, fl.Amount, "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	return pdf.Output(w)
}
