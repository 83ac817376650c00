// Package aggregate derives dashboard, category and findings-table totals
// from a document. Every aggregator counts through finding.Placements, so
// their totals agree for any input.
package aggregate

import (
	"sort"
	"strings"

	"github.com/ppiankov/awsscreener/internal/finding"
)

// Policy decides which services feed the generic aggregates.
type Policy struct {
	// DedicatedViewServices are reported only on their own custom page.
	DedicatedViewServices []string
}

// DefaultPolicy keeps GuardDuty out of the generic aggregates.
var DefaultPolicy = Policy{DedicatedViewServices: []string{"guardduty"}}

// Dedicated reports whether service has its own view.
func (p Policy) Dedicated(service string) bool {
	for _, s := range p.DedicatedViewServices {
		if strings.EqualFold(s, service) {
			return true
		}
	}
	return false
}

// each visits every finding that feeds the generic aggregates, in sorted
// service then rule order.
func each(doc *finding.Document, p Policy, fn func(service string, f finding.Finding)) {
	for _, name := range doc.ServiceNames() {
		if finding.IsReservedKey(name) || p.Dedicated(name) {
			continue
		}
		eachFinding(doc.Services[name], func(f finding.Finding) {
			if f.Category.UserFacing() {
				fn(name, f)
			}
		})
	}
}

func eachFinding(svc finding.ServiceReport, fn func(f finding.Finding)) {
	ids := make([]string, 0, len(svc.Summary))
	for id := range svc.Summary {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		f := svc.Summary[id]
		if f.RuleID == "" {
			f.RuleID = id
		}
		fn(f)
	}
}

// DashboardStats are the headline totals.
type DashboardStats struct {
	TotalServices         int `json:"totalServices"`
	TotalFindings         int `json:"totalFindings"`
	HighPriority          int `json:"highPriority"`
	MediumPriority        int `json:"mediumPriority"`
	LowPriority           int `json:"lowPriority"`
	InformationalPriority int `json:"informationalPriority"`
}

func (d *DashboardStats) add(sev finding.Severity, n int) {
	d.TotalFindings += n
	switch sev {
	case finding.SeverityHigh:
		d.HighPriority += n
	case finding.SeverityMedium:
		d.MediumPriority += n
	case finding.SeverityLow:
		d.LowPriority += n
	default:
		d.InformationalPriority += n
	}
}

// Dashboard computes the headline totals over active placements.
func Dashboard(doc *finding.Document, p Policy) DashboardStats {
	var d DashboardStats
	for _, name := range doc.ServiceNames() {
		if !finding.IsReservedKey(name) {
			d.TotalServices++
		}
	}
	each(doc, p, func(_ string, f finding.Finding) {
		d.add(f.Severity, f.Weight(finding.ViewActive))
	})
	return d
}

// CategoryStat is the active total of one category.
type CategoryStat struct {
	Category      finding.Category `json:"category"`
	Name          string           `json:"name"`
	Total         int              `json:"total"`
	High          int              `json:"high"`
	Medium        int              `json:"medium"`
	Low           int              `json:"low"`
	Informational int              `json:"informational"`
}

// Count returns the total for one severity.
func (c CategoryStat) Count(sev finding.Severity) int {
	switch sev {
	case finding.SeverityHigh:
		return c.High
	case finding.SeverityMedium:
		return c.Medium
	case finding.SeverityLow:
		return c.Low
	}
	return c.Informational
}

// Categories returns per-category totals ordered by total descending. Ties
// keep first-encountered order over sorted services and rules.
func Categories(doc *finding.Document, p Policy) []CategoryStat {
	var out []CategoryStat
	index := make(map[finding.Category]int)
	each(doc, p, func(_ string, f finding.Finding) {
		i, ok := index[f.Category]
		if !ok {
			i = len(out)
			index[f.Category] = i
			out = append(out, CategoryStat{Category: f.Category, Name: f.Category.Name()})
		}
		n := f.Weight(finding.ViewActive)
		c := &out[i]
		c.Total += n
		switch f.Severity {
		case finding.SeverityHigh:
			c.High += n
		case finding.SeverityMedium:
			c.Medium += n
		case finding.SeverityLow:
			c.Low += n
		default:
			c.Informational += n
		}
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Total > out[j].Total })
	return out
}

// Findings returns one row per placement of every generic finding in view.
func Findings(doc *finding.Document, p Policy, v finding.View) []finding.Row {
	var rows []finding.Row
	each(doc, p, func(service string, f finding.Finding) {
		rows = appendRows(rows, service, f, v)
	})
	return rows
}

// ActiveFindings returns the rows of the findings table.
func ActiveFindings(doc *finding.Document, p Policy) []finding.Row {
	return Findings(doc, p, finding.ViewActive)
}

// SuppressedFindings returns the rows of the suppressed table.
func SuppressedFindings(doc *finding.Document, p Policy) []finding.Row {
	return Findings(doc, p, finding.ViewSuppressed)
}

func appendRows(rows []finding.Row, service string, f finding.Finding, v finding.View) []finding.Row {
	for _, pl := range f.Placements(v) {
		rows = append(rows, finding.Row{
			Service:    service,
			Region:     pl.Region,
			RuleID:     f.RuleID,
			Category:   f.Category,
			ResourceID: pl.ResourceID,
			Severity:   f.Severity,
		})
	}
	return rows
}
