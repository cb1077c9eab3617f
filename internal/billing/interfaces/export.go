package interfaces

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	billing "building-cloud/internal/billing/domain"
	"building-cloud/internal/observability/metrics"
)

// Export formats.
const (
	FormatPDF  = "pdf"
	FormatXLSX = "xlsx"
)

// ExportInput is what a definition export shows. Dues and summary are
// optional; without them only the expense breakdown is rendered.
type ExportInput struct {
	BuildingName string
	Definition   *billing.DueDefinition
	Dues         []billing.ApartmentDue
	Labels       map[string]string
	Summary      *billing.CollectionSummary
}

// BuildDefinitionExport renders input in format, recording export metrics.
func BuildDefinitionExport(format string, input ExportInput) ([]byte, string, error) {
	start := time.Now()
	var (
		body        []byte
		contentType string
		err         error
	)
	switch format {
	case FormatPDF:
		body, err = BuildDefinitionPDF(input)
		contentType = "application/pdf"
	case FormatXLSX:
		body, err = BuildDefinitionXLSX(input)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		err = fmt.Errorf("unsupported export format %q", format)
	}
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveExport(format, result, time.Since(start))
	return body, contentType, err
}

// BuildDefinitionPDF renders a one-page notice of a monthly due definition.
func BuildDefinitionPDF(input ExportInput) ([]byte, error) {
	def := input.Definition
	if def == nil {
		return nil, fmt.Errorf("export: nil definition")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetFont("Arial", "B", 14)
	pdf.AddPage()

	pdf.Cell(0, 8, tr(fmt.Sprintf("%s - Monthly Dues %s", input.BuildingName, def.Period)))
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Due date: %s", def.DueDate.Format("2006-01-02")))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Apartments: %d", def.ApartmentCount))
	pdf.Ln(5)
	if def.SentAt != nil {
		pdf.Cell(0, 6, fmt.Sprintf("Announced: %s", def.SentAt.Format(time.RFC3339)))
		pdf.Ln(5)
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(120, 6, "Expense", "1", 0, "L", false, 0, "")
	pdf.CellFormat(50, 6, fmt.Sprintf("Amount (%s)", def.Currency), "1", 0, "R", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, item := range def.Items {
		pdf.CellFormat(120, 6, tr(item.Name), "1", 0, "L", false, 0, "")
		pdf.CellFormat(50, 6, item.Amount.StringFixed(2), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(120, 6, "Total", "1", 0, "L", false, 0, "")
	pdf.CellFormat(50, 6, def.TotalAmount.StringFixed(2), "1", 0, "R", false, 0, "")
	pdf.Ln(-1)
	pdf.CellFormat(120, 6, "Per apartment", "1", 0, "L", false, 0, "")
	pdf.CellFormat(50, 6, def.PerApartmentAmount.StringFixed(2), "1", 0, "R", false, 0, "")
	pdf.Ln(10)

	if len(input.Dues) > 0 {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(60, 6, "Apartment", "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 6, "Amount", "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, "Status", "1", 0, "C", false, 0, "")
		pdf.CellFormat(40, 6, "Paid", "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 10)
		for _, due := range input.Dues {
			paid := ""
			if due.PaidAt != nil {
				paid = due.PaidAt.Format("2006-01-02")
			}
			pdf.CellFormat(60, 6, tr(label(input.Labels, due.ApartmentID)), "1", 0, "L", false, 0, "")
			pdf.CellFormat(40, 6, due.Amount.StringFixed(2), "1", 0, "R", false, 0, "")
			pdf.CellFormat(30, 6, string(due.Status), "1", 0, "C", false, 0, "")
			pdf.CellFormat(40, 6, paid, "1", 0, "C", false, 0, "")
			pdf.Ln(-1)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildDefinitionXLSX renders the definition with a dues sheet for collection tracking.
func BuildDefinitionXLSX(input ExportInput) ([]byte, error) {
	def := input.Definition
	if def == nil {
		return nil, fmt.Errorf("export: nil definition")
	}
	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	duesSheet := "dues"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(duesSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", input.BuildingName)
	_ = f.SetCellValue(summarySheet, "A2", "Period")
	_ = f.SetCellValue(summarySheet, "B2", string(def.Period))
	_ = f.SetCellValue(summarySheet, "A3", "Due date")
	_ = f.SetCellValue(summarySheet, "B3", def.DueDate.Format("2006-01-02"))
	_ = f.SetCellValue(summarySheet, "A4", "Currency")
	_ = f.SetCellValue(summarySheet, "B4", def.Currency)
	_ = f.SetCellValue(summarySheet, "A5", "Apartments")
	_ = f.SetCellValue(summarySheet, "B5", def.ApartmentCount)

	row := 7
	_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), "Expense")
	_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), "Amount")
	for _, item := range def.Items {
		row++
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), item.Name)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), item.Amount.InexactFloat64())
	}
	row++
	_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), "Total")
	_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), def.TotalAmount.InexactFloat64())
	row++
	_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), "Per apartment")
	_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), def.PerApartmentAmount.InexactFloat64())

	if s := input.Summary; s != nil {
		row += 2
		for _, pair := range [][2]any{
			{"Paid", s.PaidCount},
			{"Unpaid", s.UnpaidCount},
			{"Overdue", s.OverdueCount},
			{"Collected", s.Collected.InexactFloat64()},
			{"Outstanding", s.Outstanding.InexactFloat64()},
			{"Collection %", s.CollectionPct.InexactFloat64()},
		} {
			_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), pair[0])
			_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), pair[1])
			row++
		}
	}

	_ = f.SetCellValue(duesSheet, "A1", "Apartment")
	_ = f.SetCellValue(duesSheet, "B1", "Amount")
	_ = f.SetCellValue(duesSheet, "C1", "Status")
	_ = f.SetCellValue(duesSheet, "D1", "Paid at")
	_ = f.SetCellValue(duesSheet, "E1", "Payment order")
	for i, due := range input.Dues {
		r := i + 2
		_ = f.SetCellValue(duesSheet, fmt.Sprintf("A%d", r), label(input.Labels, due.ApartmentID))
		_ = f.SetCellValue(duesSheet, fmt.Sprintf("B%d", r), due.Amount.InexactFloat64())
		_ = f.SetCellValue(duesSheet, fmt.Sprintf("C%d", r), string(due.Status))
		if due.PaidAt != nil {
			_ = f.SetCellValue(duesSheet, fmt.Sprintf("D%d", r), due.PaidAt.Format(time.RFC3339))
		}
		_ = f.SetCellValue(duesSheet, fmt.Sprintf("E%d", r), due.PaymentOrderID)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func label(labels map[string]string, apartmentID string) string {
	if l, ok := labels[apartmentID]; ok && l != "" {
		return l
	}
	return apartmentID
}
