// Package view implements the interactive findings views of the report:
// filtering, sorting and the deep-link routes the dashboard cards use.
package view

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/ppiankov/awsscreener/internal/finding"
)

// SortKey selects the findings table ordering.
type SortKey string

const (
	SortSeverity SortKey = "severity"
	SortCategory SortKey = "category"
	SortRule     SortKey = "rule"
	SortService  SortKey = "service"
)

// FindingsRoute is the route of the cross-service findings table.
const FindingsRoute = "/findings"

// Query is the state of the findings table.
type Query struct {
	Text       string
	Categories []finding.Category
	Severities []finding.Severity
	Services   []string
	Sort       SortKey
	Desc       bool
}

// Filter returns the rows matching q. Text matches the rule id, the rule
// description or its short description, case-insensitively. Empty filter lists match everything.
func Filter(doc *finding.Document, rows []finding.Row, q Query) []finding.Row {
	text := strings.ToLower(strings.TrimSpace(q.Text))
	out := make([]finding.Row, 0, len(rows))
	for _, r := range rows {
		if len(q.Categories) > 0 && !containsCategory(q.Categories, r.Category) {
			continue
		}
		if len(q.Severities) > 0 && !containsSeverity(q.Severities, r.Severity) {
			continue
		}
		if len(q.Services) > 0 && !containsFold(q.Services, r.Service) {
			continue
		}
		if text != "" && !matchesText(doc, r, text) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func matchesText(doc *finding.Document, r finding.Row, text string) bool {
	if strings.Contains(strings.ToLower(r.RuleID), text) {
		return true
	}
	if doc == nil {
		return false
	}
	f, ok := doc.Services[r.Service].Summary[r.RuleID]
	if !ok {
		return false
	}
	return strings.Contains(strings.ToLower(finding.DisplayText(f.Description)), text) ||
		strings.Contains(strings.ToLower(finding.DisplayText(f.ShortDescription)), text)
}

func containsCategory(list []finding.Category, c finding.Category) bool {
	for _, v := range list {
		if v == c {
			return true
		}
	}
	return false
}

func containsSeverity(list []finding.Severity, s finding.Severity) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// Sort returns a sorted copy of rows. Ties fall back to service, rule,
// region and resource so the order is total.
func Sort(rows []finding.Row, key SortKey, desc bool) []finding.Row {
	out := append([]finding.Row(nil), rows...)
	primary := func(a, b finding.Row) int {
		switch key {
		case SortCategory:
			return strings.Compare(a.Category.Name(), b.Category.Name())
		case SortRule:
			return strings.Compare(a.RuleID, b.RuleID)
		case SortService:
			return strings.Compare(a.Service, b.Service)
		default:
			return a.Severity.Rank() - b.Severity.Rank()
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if c := primary(a, b); c != 0 {
			if desc {
				return c > 0
			}
			return c < 0
		}
		for _, c := range []int{
			strings.Compare(a.Service, b.Service),
			strings.Compare(a.RuleID, b.RuleID),
			strings.Compare(a.Region, b.Region),
			strings.Compare(a.ResourceID, b.ResourceID),
		} {
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
	return out
}

// Apply filters then sorts.
func Apply(doc *finding.Document, rows []finding.Row, q Query) []finding.Row {
	return Sort(Filter(doc, rows, q), q.Sort, q.Desc)
}

// Fragment renders q as a hash route, e.g.
// #/findings?category=S&severity=High.
func (q Query) Fragment(route string) string {
	v := url.Values{}
	for _, c := range q.Categories {
		v.Add("category", string(c))
	}
	for _, s := range q.Severities {
		v.Add("severity", string(s))
	}
	for _, s := range q.Services {
		v.Add("service", s)
	}
	if q.Text != "" {
		v.Set("q", q.Text)
	}
	if q.Sort != "" {
		v.Set("sort", string(q.Sort))
	}
	if q.Desc {
		v.Set("desc", "1")
	}
	if enc := v.Encode(); enc != "" {
		return "#" + route + "?" + enc
	}
	return "#" + route
}

// CategoryLink is the deep link of a dashboard category card, optionally
// narrowed to one severity.
func CategoryLink(c finding.Category, sev finding.Severity) string {
	q := Query{Categories: []finding.Category{c}}
	if sev != "" {
		q.Severities = []finding.Severity{sev}
	}
	return q.Fragment(FindingsRoute)
}

// ParseDeepLink splits a hash route into its path and query.
func ParseDeepLink(fragment string) (string, Query, error) {
	fragment = strings.TrimPrefix(fragment, "#")
	route, raw, _ := strings.Cut(fragment, "?")
	if route == "" {
		route = "/"
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return "", Query{}, fmt.Errorf("parse deep link query: %w", err)
	}
	var q Query
	for _, s := range values["category"] {
		c, err := finding.ParseCategory(s)
		if err != nil {
			return "", Query{}, err
		}
		q.Categories = append(q.Categories, c)
	}
	for _, s := range values["severity"] {
		sev, err := finding.ParseSeverity(s)
		if err != nil {
			return "", Query{}, err
		}
		q.Severities = append(q.Severities, sev)
	}
	q.Services = values["service"]
	q.Text = values.Get("q")
	if s := values.Get("sort"); s != "" {
		switch k := SortKey(strings.ToLower(s)); k {
		case SortSeverity, SortCategory, SortRule, SortService:
			q.Sort = k
		default:
			return "", Query{}, fmt.Errorf("unknown sort key %q", s)
		}
	}
	q.Desc = values.Get("desc") == "1" || values.Get("desc") == "true"
	return route, q, nil
}

// ParseFilter reads a findings filter given either as a deep link such as
// #/findings?severity=High or as its bare query, severity=High.
func ParseFilter(s string) (Query, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Query{}, nil
	}
	if !strings.HasPrefix(s, "#") && !strings.HasPrefix(s, "/") {
		s = FindingsRoute + "?" + strings.TrimPrefix(s, "?")
	}
	route, q, err := ParseDeepLink(s)
	if err != nil {
		return Query{}, err
	}
	if route != FindingsRoute {
		return Query{}, fmt.Errorf("filter must target %s, got %s", FindingsRoute, route)
	}
	return q, nil
}

// Filtered reports whether q narrows the findings table.
func (q Query) Filtered() bool {
	return strings.TrimSpace(q.Text) != "" || len(q.Categories) > 0 || len(q.Severities) > 0 || len(q.Services) > 0
}

// ServiceDetail returns the user-facing findings of one service ordered by
// severity then rule id.
func ServiceDetail(doc *finding.Document, service string) []finding.Finding {
	svc, ok := doc.Services[service]
	if !ok {
		return nil
	}
	out := make([]finding.Finding, 0, len(svc.Summary))
	for id, f := range svc.Summary {
		if !f.Category.UserFacing() {
			continue
		}
		if f.RuleID == "" {
			f.RuleID = id
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if ri, rj := out[i].Severity.Rank(), out[j].Severity.Rank(); ri != rj {
			return ri < rj
		}
		return out[i].RuleID < out[j].RuleID
	})
	return out
}
