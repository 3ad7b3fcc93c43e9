package artifact

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/kailas-cloud/cceval/internal/usecase/report"
)

// entryRow is the JSON representation of a report entry.
type entryRow struct {
	Type    string `json:"type"`
	Subject string `json:"subject,omitempty"`
	Kind    string `json:"subject_kind"`
	Body    string `json:"body_kind"`
	Text    string `json:"text,omitempty"`
	Error   string `json:"error,omitempty"`
}

type documentRow struct {
	Title     string     `json:"title"`
	CreatedAt string     `json:"created_at"`
	Entries   []entryRow `json:"entries"`
}

func renderJSON(w io.Writer, doc report.Document) error {
	out := documentRow{
		Title:     doc.Title,
		CreatedAt: doc.CreatedAt.Format(time.RFC3339),
		Entries:   make([]entryRow, len(doc.Entries)),
	}
	for i, e := range doc.Entries {
		row := entryRow{
			Type:    e.Type,
			Subject: e.Result.Subject(),
			Kind:    string(e.Result.SubjectKind()),
			Body:    string(e.Result.BodyKind()),
			Text:    e.Result.Text(),
		}
		if e.Result.Failed() {
			row.Error = e.Result.Err().Error()
		}
		out.Entries[i] = row
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

func renderPDF(w io.Writer, doc report.Document) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(doc.Title, true)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, tr(doc.Title), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(0, 6, doc.CreatedAt.Format("2006-01-02 15:04:05 MST"), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	section := ""
	for _, e := range doc.Entries {
		if e.Type != section {
			section = e.Type
			pdf.SetFont("Helvetica", "B", 13)
			pdf.CellFormat(0, 9, tr(section), "B", 1, "L", false, 0, "")
			pdf.Ln(2)
		}

		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(0, 7, tr(e.Result.Heading()), "", 1, "L", false, 0, "")

		pdf.SetFont("Helvetica", "", 10)
		body := e.Result.Text()
		if e.Result.Failed() {
			pdf.SetTextColor(170, 0, 0)
			body = "Error: " + e.Result.Err().Error()
		}
		pdf.MultiCell(0, 5, tr(body), "", "L", false)
		pdf.SetTextColor(0, 0, 0)
		pdf.Ln(3)
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	return nil
}
