package export

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/phpdave11/gofpdf"

	"github.com/devblac/chain-statement/internal/transfer"
)

type pdfColumn struct {
	title string
	width float64
	align string
	value func(r transfer.Record) string
}

const (
	pdfMargin = 10.0
	pdfRowH   = 5.5
)

var pdfColumns = []pdfColumn{
	{"Block", 20, "R", func(r transfer.Record) string { return r.BlockNumberString() }},
	{"Time (UTC)", 32, "L", func(r transfer.Record) string { return pdfTime(r.Timestamp) }},
	{"Type", 32, "L", func(r transfer.Record) string { return string(r.Category) }},
	{"From", 38, "L", func(r transfer.Record) string { return shortAddr(r.From) }},
	{"To", 38, "L", func(r transfer.Record) string { return shortAddr(r.To) }},
	{"Amount", 55, "R", pdfAmount},
	{"Asset", 32, "L", func(r transfer.Record) string { return shortAddr(r.AssetContractAddress) }},
	{"Transaction", 30, "L", func(r transfer.Record) string { return shortAddr(r.TransactionHash) }},
}

// WritePDF renders the report as a landscape A4 statement: run summary,
// category outcomes, then one table row per transfer.
func WritePDF(w io.Writer, r Report) error {
	if err := buildPDF(r).Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

func buildPDF(r Report) *gofpdf.Fpdf {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(false, pdfMargin)
	pdf.SetTitle("Transaction history "+r.Wallet, false)
	pdf.SetCreator("chain-statement", false)
	if !r.FinishedAt.IsZero() {
		pdf.SetCreationDate(r.FinishedAt.UTC())
	}
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 8, "Transaction history", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.SetTextColor(60, 60, 60)
	pdf.CellFormat(0, 5, "Wallet: "+ascii(r.Wallet), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 5, "Run: "+ascii(r.RunID), "", 1, "L", false, 0, "")
	if !r.StartedAt.IsZero() {
		pdf.CellFormat(0, 5, "Generated: "+r.StartedAt.UTC().Format("2006-01-02 15:04:05"), "", 1, "L", false, 0, "")
	}
	pdf.CellFormat(0, 5, fmt.Sprintf("Transfers: %d  Failed categories: %d", len(r.Records), r.Failed()), "", 1, "L", false, 0, "")
	pdf.Ln(2)

	for _, c := range r.Categories {
		state := "ok"
		if c.Error != "" {
			state = ascii(c.Error)
		}
		provider := c.Provider
		if provider == "" {
			provider = "-"
		}
		pdf.CellFormat(0, 4.5, fmt.Sprintf("%s via %s: %d records, %s", c.Category, ascii(provider), c.Records, state), "", 1, "L", false, 0, "")
	}
	pdf.Ln(3)

	_, pageH := pdf.GetPageSize()
	pdfTableHeader(pdf)
	pdf.SetFont("Helvetica", "", 8)
	pdf.SetTextColor(20, 20, 20)
	for i, rec := range r.Records {
		if pdf.GetY()+pdfRowH > pageH-pdfMargin {
			pdf.AddPage()
			pdfTableHeader(pdf)
			pdf.SetFont("Helvetica", "", 8)
			pdf.SetTextColor(20, 20, 20)
		}
		fill := i%2 == 1
		pdf.SetFillColor(244, 244, 244)
		for _, col := range pdfColumns {
			text := fit(pdf, ascii(col.value(rec)), col.width-2)
			pdf.CellFormat(col.width, pdfRowH, text, "", 0, col.align, fill, 0, "")
		}
		pdf.Ln(-1)
	}
	if len(r.Records) == 0 {
		pdf.CellFormat(0, pdfRowH, "(no transfers)", "", 1, "L", false, 0, "")
	}
	return pdf
}

func pdfTableHeader(pdf *gofpdf.Fpdf) {
	pdf.SetFont("Helvetica", "B", 8)
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFillColor(52, 73, 94)
	for _, col := range pdfColumns {
		pdf.CellFormat(col.width, pdfRowH+1, col.title, "", 0, col.align, true, 0, "")
	}
	pdf.Ln(-1)
}

func pdfAmount(r transfer.Record) string {
	amount := DisplayAmount(r)
	if amount == "" {
		amount = r.AmountString()
	}
	if amount == "" {
		return "-"
	}
	if sym := r.Metadata["symbol"]; sym != "" {
		amount += " " + sym
	}
	return amount
}

func pdfTime(ts string) string {
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || sec <= 0 {
		return ts
	}
	return time.Unix(sec, 0).UTC().Format("2006-01-02 15:04")
}

// shortAddr keeps hex strings readable in narrow columns: 0x1234...abcd.
func shortAddr(s string) string {
	if len(s) <= 14 || !strings.HasPrefix(s, "0x") {
		return s
	}
	return s[:6] + "..." + s[len(s)-4:]
}

// ascii replaces what the core PDF fonts cannot draw.
func ascii(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteByte(' ')
		case r >= 32 && r <= 126:
			b.WriteRune(r)
		default:
			b.WriteByte('?')
		}
	}
	return b.String()
}

func fit(pdf *gofpdf.Fpdf, s string, width float64) string {
	if pdf.GetStringWidth(s) <= width {
		return s
	}
	for len(s) > 0 && pdf.GetStringWidth(s+"..") > width {
		s = s[:len(s)-1]
	}
	return s + ".."
}
