package report

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"strings"

	"github.com/ppiankov/awsscreener/internal/aggregate"
	"github.com/ppiankov/awsscreener/internal/finding"
	"github.com/ppiankov/awsscreener/internal/view"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

var templateFuncs = template.FuncMap{
	"display":      finding.DisplayText,
	"join":         strings.Join,
	"categoryName": func(c finding.Category) string { return c.Name() },
}

func parsePage(name string) (*template.Template, error) {
	tmpl, err := template.New(name).Funcs(templateFuncs).ParseFS(templatesFS, "templates/layout.tmpl", "templates/"+name)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	return tmpl, nil
}

type navLink struct {
	ID   string
	Name string
}

type nav struct {
	Services   []string
	Dedicated  []string
	Frameworks []navLink
}

type pageData struct {
	Title string
	Nav   nav
	Meta  finding.Metadata
	Body  any
}

type serviceSummary struct {
	Name  string
	Stats finding.ServiceStats
}

type severityCell struct {
	Severity finding.Severity
	Count    int
	Link     string
}

type categoryRow struct {
	aggregate.CategoryStat
	Link       string
	Severities []severityCell
}

type indexBody struct {
	Dashboard  aggregate.DashboardStats
	Cards      []severityCell
	Categories []categoryRow
	Services   []serviceSummary
	Warnings   []string
}

type serviceBody struct {
	Stats    finding.ServiceStats
	Findings []finding.Finding
}

// LegacyHTMLRenderer writes the multi-page HTML report.
type LegacyHTMLRenderer struct {
	Policy aggregate.Policy
	// Prefix is prepended to every output path.
	Prefix string
	// SPA is the path of the single-file report relative to the findings
	// page. When set, the findings page links into it with the same filter.
	SPA string
}

type findingsBody struct {
	finding.CustomPage
	SPA string
}

func findingsLink(fragment string) string {
	return "findings.html" + fragment
}

func (r *LegacyHTMLRenderer) dashboardBody(doc *finding.Document) indexBody {
	body := indexBody{
		Dashboard: aggregate.Dashboard(doc, r.Policy),
		Warnings:  doc.Metadata.Warnings,
	}
	counts := map[finding.Severity]int{
		finding.SeverityHigh:          body.Dashboard.HighPriority,
		finding.SeverityMedium:        body.Dashboard.MediumPriority,
		finding.SeverityLow:           body.Dashboard.LowPriority,
		finding.SeverityInformational: body.Dashboard.InformationalPriority,
	}
	for _, sev := range finding.Severities {
		q := view.Query{Severities: []finding.Severity{sev}}
		body.Cards = append(body.Cards, severityCell{Severity: sev, Count: counts[sev], Link: findingsLink(q.Fragment(view.FindingsRoute))})
	}
	for _, c := range aggregate.Categories(doc, r.Policy) {
		row := categoryRow{CategoryStat: c, Link: findingsLink(view.CategoryLink(c.Category, ""))}
		for _, sev := range finding.Severities {
			row.Severities = append(row.Severities, severityCell{Severity: sev, Count: c.Count(sev), Link: findingsLink(view.CategoryLink(c.Category, sev))})
		}
		body.Categories = append(body.Categories, row)
	}
	for _, name := range doc.ServiceNames() {
		body.Services = append(body.Services, serviceSummary{Name: name, Stats: doc.Services[name].Stats})
	}
	return body
}

// Name implements Renderer.
func (r *LegacyHTMLRenderer) Name() string { return "legacy-html" }

// Render implements Renderer.
func (r *LegacyHTMLRenderer) Render(ctx context.Context, doc *finding.Document) (Artifact, error) {
	n := nav{}
	for _, name := range doc.ServiceNames() {
		if r.Policy.Dedicated(name) {
			n.Dedicated = append(n.Dedicated, name)
			continue
		}
		n.Services = append(n.Services, name)
	}
	for _, id := range doc.FrameworkIDs() {
		n.Frameworks = append(n.Frameworks, navLink{ID: id, Name: doc.Frameworks[id].Name})
	}

	var art Artifact
	add := func(path, tmpl, title string, body any) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		t, err := parsePage(tmpl)
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := t.ExecuteTemplate(&buf, "layout", pageData{Title: title, Nav: n, Meta: doc.Metadata, Body: body}); err != nil {
			return fmt.Errorf("render %s: %w", path, err)
		}
		art.Files = append(art.Files, File{Path: r.Prefix + path, Data: buf.Bytes()})
		return nil
	}

	if err := add("index.html", "index.tmpl", "Dashboard", r.dashboardBody(doc)); err != nil {
		return Artifact{}, err
	}

	page, ok := doc.CustomPages[aggregate.FindingsPage]
	if !ok {
		page = aggregate.FindingsPageFor(doc, r.Policy)
	}
	page.Findings = view.Sort(page.Findings, view.SortSeverity, false)
	page.Suppressed = view.Sort(page.Suppressed, view.SortSeverity, false)
	if err := add("findings.html", "findings.tmpl", "Findings", findingsBody{CustomPage: page, SPA: r.SPA}); err != nil {
		return Artifact{}, err
	}

	for _, name := range n.Services {
		body := serviceBody{Stats: doc.Services[name].Stats, Findings: view.ServiceDetail(doc, name)}
		if err := add(name+".html", "service.tmpl", name, body); err != nil {
			return Artifact{}, err
		}
	}
	for _, name := range n.Dedicated {
		dp, ok := doc.CustomPages[name]
		if !ok {
			dp, _ = aggregate.ServicePage(doc, name)
		}
		if err := add(name+".html", "dedicated.tmpl", name, dp); err != nil {
			return Artifact{}, err
		}
	}
	for _, link := range n.Frameworks {
		if err := add("framework_"+link.ID+".html", "framework.tmpl", link.Name, doc.Frameworks[link.ID]); err != nil {
			return Artifact{}, err
		}
	}
	return art, nil
}
