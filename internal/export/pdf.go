package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf/v2"

	"github.com/lucianodigital2b/clevernote-sub002/internal/entity"
)

// NotePDF renders the title, summary and Markdown content of a study note.
// Headings become bold lines and list items become bullets; other Markdown is printed as is.
func NotePDF(n *entity.Note) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	// core fonts are cp1252; the translator maps UTF-8 text onto it
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	title := strings.TrimSpace(n.Title)
	if title == "" {
		title = n.OriginalName
	}
	if title == "" {
		title = "Study note"
	}
	pdf.SetTitle(title, true)
	pdf.SetAuthor("CleverNote", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.MultiCell(0, 9, tr(title), "", "L", false)
	pdf.Ln(2)

	pdf.SetFont("Helvetica", "", 10)
	meta := fmt.Sprintf("Source: %s", n.SourceType)
	if n.ProcessedAt != nil {
		meta += " | " + n.ProcessedAt.Format("2006-01-02 15:04")
	}
	pdf.Cell(0, 6, tr(meta))
	pdf.Ln(10)

	if s := strings.TrimSpace(n.Summary); s != "" {
		writeHeading(pdf, tr, "Summary", 14)
		pdf.SetFont("Helvetica", "I", 12)
		pdf.MultiCell(0, 6, tr(s), "", "L", false)
		pdf.Ln(6)
	}

	writeMarkdown(pdf, tr, n.Content)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func writeHeading(pdf *gofpdf.Fpdf, tr func(string) string, text string, size float64) {
	pdf.SetFont("Helvetica", "B", size)
	pdf.MultiCell(0, size/2+1, tr(text), "", "L", false)
	pdf.Ln(2)
}

func writeMarkdown(pdf *gofpdf.Fpdf, tr func(string) string, content string) {
	for _, line := range strings.Split(strings.TrimSpace(content), "\n") {
		line = strings.TrimRight(line, " \t")
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			pdf.Ln(3)
		case strings.HasPrefix(trimmed, "#"):
			level := len(trimmed) - len(strings.TrimLeft(trimmed, "#"))
			size := 16 - float64(level)
			if size < 11 {
				size = 11
			}
			writeHeading(pdf, tr, strings.TrimSpace(strings.TrimLeft(trimmed, "#")), size)
		case strings.HasPrefix(trimmed, "- "), strings.HasPrefix(trimmed, "* "):
			indent := float64(len(line)-len(strings.TrimLeft(line, " "))) * 2
			pdf.SetFont("Helvetica", "", 12)
			pdf.SetX(pdf.GetX() + indent)
			pdf.MultiCell(0, 6, tr("• "+strings.TrimSpace(trimmed[2:])), "", "L", false)
		default:
			pdf.SetFont("Helvetica", "", 12)
			pdf.MultiCell(0, 6, tr(strings.ReplaceAll(trimmed, "**", "")), "", "L", false)
		}
	}
}
