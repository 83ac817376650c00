package aggregate

import (
	"github.com/ppiankov/awsscreener/internal/finding"
)

// Custom page ids.
const (
	FindingsPage  = "findings"
	GuardDutyPage = "guardduty"
)

// FindingsPageFor builds the cross-service findings page.
func FindingsPageFor(doc *finding.Document, p Policy) finding.CustomPage {
	return finding.CustomPage{
		Findings:   ActiveFindings(doc, p),
		Suppressed: SuppressedFindings(doc, p),
	}
}

// ServicePage builds the dedicated page of one service: its rows in both
// views plus active totals grouped by severity. Internal rules are left out.
func ServicePage(doc *finding.Document, service string) (finding.CustomPage, bool) {
	svc, ok := doc.Services[service]
	if !ok {
		return finding.CustomPage{}, false
	}
	var page finding.CustomPage
	groups := make(map[finding.Severity]*finding.SeverityGroup)
	eachFinding(svc, func(f finding.Finding) {
		if !f.Category.UserFacing() {
			return
		}
		page.Findings = appendRows(page.Findings, service, f, finding.ViewActive)
		page.Suppressed = appendRows(page.Suppressed, service, f, finding.ViewSuppressed)

		n := f.Weight(finding.ViewActive)
		if n == 0 {
			return
		}
		g := groups[f.Severity]
		if g == nil {
			g = &finding.SeverityGroup{Severity: f.Severity}
			groups[f.Severity] = g
		}
		g.Resources += n
		g.Rules = append(g.Rules, finding.GroupedRule{
			RuleID:      f.RuleID,
			Description: f.ShortDescription,
			Resources:   n,
		})
	})
	for _, sev := range finding.Severities {
		if g := groups[sev]; g != nil {
			page.Groups = append(page.Groups, *g)
		}
	}
	return page, true
}

// Pages builds every custom page of doc under p.
func Pages(doc *finding.Document, p Policy) map[string]finding.CustomPage {
	pages := map[string]finding.CustomPage{FindingsPage: FindingsPageFor(doc, p)}
	for _, service := range p.DedicatedViewServices {
		if page, ok := ServicePage(doc, service); ok {
			pages[service] = page
		}
	}
	return pages
}
