package receipts

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"
)

const (
	pageMargin = 15.0
	lineHeight = 7.0
)

// Render draws the receipt PDF for an order.
func Render(order *models.Order, issuedAt time.Time) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetTitle("Order Receipt "+order.ID.String(), true)
	pdf.SetCreationDate(issuedAt)
	pdf.AddPage()
	// core fonts are cp1252
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 12, "Order Receipt", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "", 11)
	writeRow(pdf, "Order ID", order.ID.String())
	writeRow(pdf, "Date", order.CreatedAt.UTC().Format("2006-01-02 15:04 MST"))
	writeRow(pdf, "Payment method", humanize(string(order.PaymentMethod)))
	writeRow(pdf, "Payment status", humanize(string(order.PaymentStatus)))
	if order.PaidAt != nil {
		writeRow(pdf, "Paid at", order.PaidAt.UTC().Format("2006-01-02 15:04 MST"))
	}
	writeRow(pdf, "Ship to", tr(strings.Join(nonEmpty(
		order.ShippingInfo.FullName,
		order.ShippingInfo.Address,
		order.ShippingInfo.City,
		order.ShippingInfo.Country,
	), ", ")))
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(90, lineHeight, "Item", "B", 0, "L", false, 0, "")
	pdf.CellFormat(30, lineHeight, "Price", "B", 0, "R", false, 0, "")
	pdf.CellFormat(20, lineHeight, "Qty", "B", 0, "R", false, 0, "")
	pdf.CellFormat(40, lineHeight, "Total", "B", 1, "R", false, 0, "")

	pdf.SetFont("Helvetica", "", 11)
	for i, item := range order.Items {
		pdf.CellFormat(90, lineHeight, tr(fmt.Sprintf("%d. %s", i+1, truncate(item.Name, 48))), "", 0, "L", false, 0, "")
		pdf.CellFormat(30, lineHeight, money(item.UnitPrice, order.Currency), "", 0, "R", false, 0, "")
		pdf.CellFormat(20, lineHeight, fmt.Sprintf("%d", item.Quantity), "", 0, "R", false, 0, "")
		pdf.CellFormat(40, lineHeight, money(item.LineTotal, order.Currency), "", 1, "R", false, 0, "")
	}
	pdf.Ln(4)

	writeTotal(pdf, "Subtotal", money(order.ItemsPrice, order.Currency), false)
	writeTotal(pdf, "Tax", money(order.TaxPrice, order.Currency), false)
	writeTotal(pdf, "Shipping", money(order.ShippingPrice, order.Currency), false)
	writeTotal(pdf, "Total", money(order.TotalPrice, order.Currency), true)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render receipt: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRow(pdf *fpdf.Fpdf, label, value string) {
	pdf.CellFormat(45, lineHeight, label+":", "", 0, "L", false, 0, "")
	pdf.CellFormat(0, lineHeight, value, "", 1, "L", false, 0, "")
}

func writeTotal(pdf *fpdf.Fpdf, label, value string, bold bool) {
	style := ""
	if bold {
		style = "B"
	}
	pdf.SetFont("Helvetica", style, 11)
	pdf.CellFormat(140, lineHeight, label, "", 0, "R", false, 0, "")
	pdf.CellFormat(40, lineHeight, value, "", 1, "R", false, 0, "")
}

func money(amount decimal.Decimal, currency string) string {
	return amount.StringFixed(2) + " " + strings.ToUpper(currency)
}

func humanize(value string) string {
	return strings.ReplaceAll(value, "_", " ")
}

func truncate(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max-3]) + "..."
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}
