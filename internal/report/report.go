package report

import (
	"bytes"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/raaihank/pdf-slicer/internal/slicer"
)

const check = "✓"

// Row is one page of the report
type Row struct {
	Page      int
	OK        bool
	Recipient string
	Email     string
	Protected bool
	Detail    string // artifact path, or the failure message
}

// Report summarizes a pipeline run for review before dispatch
type Report struct {
	Document      string
	Rows          []Row
	DispatchCount int
	TotalCount    int
}

// Build renders outcomes into one row per page, in page order
func Build(result *slicer.Result) *Report {
	r := &Report{
		Document:   result.Document,
		Rows:       make([]Row, 0, len(result.Outcomes)),
		TotalCount: result.PageCount,
	}

	for _, outcome := range result.Outcomes {
		if !outcome.Matched {
			r.Rows = append(r.Rows, Row{Page: outcome.Page, Detail: outcome.Reason})
			continue
		}
		r.DispatchCount++
		r.Rows = append(r.Rows, Row{
			Page:      outcome.Page,
			OK:        true,
			Recipient: outcome.Rule.Keyword,
			Email:     outcome.Email,
			Protected: outcome.Rule.Protected(),
			Detail:    outcome.ArtifactPath,
		})
	}

	return r
}

// Headline is the sentence shown above the table and in the confirmation
func (r *Report) Headline() string {
	return fmt.Sprintf("Successfully sliced and recognized %d of %d pages", r.DispatchCount, r.TotalCount)
}

// Render writes the report table to w
func (r *Report) Render(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"message", "user", "email", "pwd", "attachment"})
	table.SetAutoWrapText(true)
	table.SetAutoFormatHeaders(false)
	table.SetRowLine(false)
	table.SetColMinWidth(0, 7)
	table.SetColMinWidth(1, 20)
	table.SetColMinWidth(2, 30)
	table.SetColMinWidth(4, 35)

	for _, row := range r.Rows {
		if !row.OK {
			table.Append([]string{row.Detail, "", "", "", ""})
			continue
		}
		protected := ""
		if row.Protected {
			protected = check
		}
		table.Append([]string{check, row.Recipient, row.Email, protected, row.Detail})
	}

	table.Render()
}

// String renders the report table
func (r *Report) String() string {
	var buf bytes.Buffer
	r.Render(&buf)
	return buf.String()
}
