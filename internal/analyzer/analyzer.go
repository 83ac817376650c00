// Package analyzer normalizes raw scan results into a report document and
// attaches the derived suppression, compliance and custom-page views.
package analyzer

import (
	"bytes"
	"cmp"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/ppiankov/awsscreener/internal/aggregate"
	"github.com/ppiankov/awsscreener/internal/finding"
	"github.com/ppiankov/awsscreener/internal/framework"
	"github.com/ppiankov/awsscreener/internal/scan"
)

// Build merges scan results into a document. Unusable results are skipped
// with a warning; results for the same service are merged. Rules that never
// fired are left out of the summary. Regions and resources keep the order in
// which they were observed.
func Build(results []*scan.ScanResult, opts Options) (*finding.Document, error) {
	log := opts.logger()
	var warnings []string
	byService := make(map[string][]*scan.ScanResult)

	for i, r := range results {
		if err := r.Validate(); err != nil {
			name := fmt.Sprintf("result %d", i)
			if r != nil && r.Service != "" {
				name = r.Service
			}
			perr := &PartialInputError{Service: name, Err: err}
			log.Warn("Skipping scan result", "service", name, "error", err)
			warnings = append(warnings, perr.Error())
			continue
		}
		for _, e := range r.Errors {
			warnings = append(warnings, fmt.Sprintf("%s: %s", r.Service, e))
		}
		byService[r.Service] = append(byService[r.Service], r)
	}

	if len(byService) == 0 {
		if len(warnings) > 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoUsableInput, strings.Join(warnings, "; "))
		}
		return nil, ErrNoUsableInput
	}

	doc := finding.NewDocument()
	for service, group := range byService {
		doc.Services[service] = buildService(service, group, log)
	}

	sort.Strings(warnings)
	doc.Metadata = finding.Metadata{
		AccountID:   opts.AccountID,
		RunID:       opts.RunID,
		GeneratedAt: opts.GeneratedAt,
		Version:     opts.Version,
		Regions:     append([]string(nil), opts.Regions...),
		Warnings:    warnings,
	}
	return doc, nil
}

func buildService(service string, group []*scan.ScanResult, log *slog.Logger) finding.ServiceReport {
	// Same-service results merge in a total order so input order is irrelevant.
	slices.SortStableFunc(group, compareResults)

	meta := make(map[string]scan.RuleMeta)
	report := finding.ServiceReport{
		Summary: make(map[string]finding.Finding),
		Detail:  make(finding.Detail),
	}
	for _, r := range group {
		for id, m := range r.Rules {
			meta[id] = m
		}
		report.Stats.Resources += r.ResourcesScanned
		report.Stats.TimeSpent += r.TimeSpent
	}
	report.Stats.RulesExecuted = len(meta)

	for _, r := range group {
		for _, o := range r.Observations {
			m, ok := meta[o.RuleID]
			if !ok {
				log.Debug("Observation for unknown rule", "service", service, "rule", o.RuleID)
				continue
			}
			f, ok := report.Summary[o.RuleID]
			if !ok {
				f = newFinding(o.RuleID, m)
			}
			f.AffectedResources.Add(o.Region, o.ResourceID)
			report.Summary[o.RuleID] = f

			if o.ResourceID == "" {
				continue
			}
			resources := report.Detail[o.Region]
			if resources == nil {
				resources = make(map[string]map[string]finding.ResourceFinding)
				report.Detail[o.Region] = resources
			}
			rules := resources[o.ResourceID]
			if rules == nil {
				rules = make(map[string]finding.ResourceFinding)
				resources[o.ResourceID] = rules
			}
			rules[o.RuleID] = finding.ResourceFinding{Value: o.Value}
		}
	}
	return report
}

// compareResults orders same-service results by first region, then by their
// observation sequence, then by their full encoding. Results that compare
// equal encode identically, so their relative order cannot show in the
// output.
func compareResults(a, b *scan.ScanResult) int {
	if c := strings.Compare(a.FirstRegion(), b.FirstRegion()); c != 0 {
		return c
	}
	for i := range min(len(a.Observations), len(b.Observations)) {
		if c := compareObservations(a.Observations[i], b.Observations[i]); c != 0 {
			return c
		}
	}
	if c := cmp.Compare(len(a.Observations), len(b.Observations)); c != 0 {
		return c
	}
	return bytes.Compare(canonical(a), canonical(b))
}

func compareObservations(a, b scan.Observation) int {
	if c := strings.Compare(a.Region, b.Region); c != 0 {
		return c
	}
	if c := strings.Compare(a.ResourceID, b.ResourceID); c != 0 {
		return c
	}
	if c := strings.Compare(a.RuleID, b.RuleID); c != 0 {
		return c
	}
	return bytes.Compare(canonical(a.Value), canonical(b.Value))
}

// canonical encodes v with sorted map keys. Values that cannot be encoded
// compare as empty.
func canonical(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

func newFinding(id string, m scan.RuleMeta) finding.Finding {
	return finding.Finding{
		RuleID:           id,
		Category:         m.Category,
		Severity:         m.Severity,
		Description:      m.Description,
		ShortDescription: m.ShortDescription,
		Links:            append([]string(nil), m.Links...),
		Impact:           m.Impact(),
	}
}

// Finalize returns a copy of doc with suppressions applied, framework
// reports evaluated and custom pages attached. Frameworks see only the
// active view.
func Finalize(doc *finding.Document, opts FinalizeOptions) *finding.Document {
	out := doc
	if opts.Suppressions != nil {
		out = opts.Suppressions.Apply(doc)
		if opts.Logger != nil {
			for _, e := range opts.Suppressions.Unused(doc) {
				opts.Logger.Debug("Suppression matched nothing", "service", e.Service, "rule", e.Rule)
			}
		}
	} else {
		out = doc.Clone()
	}
	for _, fw := range opts.Frameworks {
		out.Frameworks[fw.ID] = framework.Evaluate(out, fw)
	}
	for id, page := range aggregate.Pages(out, opts.Policy) {
		out.CustomPages[id] = page
	}
	return out
}

// Summarize computes headline statistics over the active view.
func Summarize(doc *finding.Document, p aggregate.Policy) Summary {
	s := Summary{
		BySeverity: make(map[string]int),
		ByService:  make(map[string]int),
		Warnings:   len(doc.Metadata.Warnings),
	}
	regions := make(map[string]bool)
	for _, name := range doc.ServiceNames() {
		svc := doc.Services[name]
		s.TotalResourcesScanned += svc.Stats.Resources
		for region := range svc.Detail {
			regions[region] = true
		}
		for _, f := range svc.Summary {
			for _, a := range f.AffectedResources {
				regions[a.Region] = true
			}
		}
		s.EstimatedMonthlyWaste += monthlyWaste(svc)
	}
	for _, r := range aggregate.ActiveFindings(doc, p) {
		s.TotalFindings++
		s.BySeverity[strings.ToLower(string(r.Severity))]++
		s.ByService[r.Service]++
	}
	s.SuppressedFindings = len(aggregate.SuppressedFindings(doc, p))
	s.RegionsScanned = len(regions)
	if len(doc.Metadata.Regions) > s.RegionsScanned {
		s.RegionsScanned = len(doc.Metadata.Regions)
	}
	return s
}

// MonthlyCostKey is the observation value field holding an estimated
// monthly cost in USD.
const MonthlyCostKey = "monthlyCost"

func monthlyWaste(svc finding.ServiceReport) float64 {
	total := 0.0
	for region, resources := range svc.Detail {
		for id, rules := range resources {
			for rule, rf := range rules {
				f, ok := svc.Summary[rule]
				if !ok || f.Category != finding.CategoryCost || !f.AffectedResources.Contains(region, id) {
					continue
				}
				if v, ok := rf.Value.(map[string]any); ok {
					if c, ok := v[MonthlyCostKey].(float64); ok {
						total += c
					}
				}
			}
		}
	}
	return total
}
