package report

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/ppiankov/awsscreener/internal/aggregate"
	"github.com/ppiankov/awsscreener/internal/view"
)

// TextReporter writes human-readable tables.
type TextReporter struct {
	Writer io.Writer
}

// Generate implements Reporter.
func (r *TextReporter) Generate(data Data) error {
	w := r.Writer
	fmt.Fprintf(w, "%s %s\n", data.Tool, data.Version)
	if data.Document == nil {
		fmt.Fprintln(w, "\nNo report data.")
		return nil
	}
	doc := data.Document
	if doc.Metadata.AccountID != "" {
		fmt.Fprintf(w, "Account: %s\n", doc.Metadata.AccountID)
	}
	if doc.Metadata.RunID != "" {
		fmt.Fprintf(w, "Run: %s (%s)\n", doc.Metadata.RunID, doc.Metadata.GeneratedAt)
	}

	d := aggregate.Dashboard(doc, data.Policy)
	fmt.Fprintln(w, "\nSummary")
	t := newTable(w)
	t.AppendHeader(table.Row{"Services", "Findings", "High", "Medium", "Low", "Info", "Suppressed", "Est. Monthly Waste"})
	t.AppendRow(table.Row{
		d.TotalServices, d.TotalFindings, d.HighPriority, d.MediumPriority, d.LowPriority, d.InformationalPriority,
		data.Summary.SuppressedFindings, fmt.Sprintf("$%.2f", data.Summary.EstimatedMonthlyWaste),
	})
	t.Render()

	if cats := aggregate.Categories(doc, data.Policy); len(cats) > 0 {
		fmt.Fprintln(w, "\nBy Category")
		t = newTable(w)
		t.AppendHeader(table.Row{"Category", "Total", "High", "Medium", "Low", "Info"})
		for _, c := range cats {
			t.AppendRow(table.Row{c.Name, c.Total, c.High, c.Medium, c.Low, c.Informational})
		}
		t.Render()
	}

	active := aggregate.ActiveFindings(doc, data.Policy)
	rows := view.Apply(doc, active, data.Filter)
	switch {
	case len(active) == 0:
		fmt.Fprintln(w, "\nNo active findings.")
	case len(rows) == 0:
		fmt.Fprintf(w, "\nNo active findings match %s.\n", data.Filter.Fragment(view.FindingsRoute))
	default:
		if data.Filter.Filtered() {
			fmt.Fprintf(w, "\nFindings (%d of %d, %s)\n", len(rows), len(active), data.Filter.Fragment(view.FindingsRoute))
		} else {
			fmt.Fprintln(w, "\nFindings")
		}
		t = newTable(w)
		t.AppendHeader(table.Row{"Severity", "Service", "Rule", "Region", "Resource", "Description"})
		for _, row := range rows {
			resource := row.ResourceID
			if resource == "" {
				resource = "-"
			}
			t.AppendRow(table.Row{row.Severity, row.Service, row.RuleID, row.Region, resource, shortDescription(doc, row)})
		}
		t.Render()
	}

	for _, service := range data.Policy.DedicatedViewServices {
		page, ok := doc.CustomPages[service]
		if !ok || len(page.Groups) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s\n", service)
		t = newTable(w)
		t.AppendHeader(table.Row{"Severity", "Rule", "Resources"})
		for _, g := range page.Groups {
			for _, rule := range g.Rules {
				t.AppendRow(table.Row{g.Severity, rule.RuleID, rule.Resources})
			}
		}
		t.Render()
	}

	if ids := doc.FrameworkIDs(); len(ids) > 0 {
		fmt.Fprintln(w, "\nCompliance")
		t = newTable(w)
		t.AppendHeader(table.Row{"Framework", "Compliant", "Not Compliant", "Not Available"})
		for _, id := range ids {
			fw := doc.Frameworks[id]
			t.AppendRow(table.Row{fw.Name, fw.Summary.Compliant, fw.Summary.NotCompliant, fw.Summary.NotAvailable})
		}
		t.Render()
	}

	if len(doc.Metadata.Warnings) > 0 {
		fmt.Fprintln(w, "\nWarnings:")
		for _, warn := range doc.Metadata.Warnings {
			fmt.Fprintf(w, "  - %s\n", warn)
		}
	}
	if len(data.Files) > 0 {
		fmt.Fprintln(w, "\nReport files:")
		for _, f := range data.Files {
			fmt.Fprintf(w, "  %s\n", f)
		}
	}
	return nil
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	return t
}
