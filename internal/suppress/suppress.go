// Package suppress partitions finding resources into active and suppressed
// sets according to a user suppression file.
package suppress

import (
	"strings"

	"github.com/ppiankov/awsscreener/internal/finding"
)

type key struct {
	service string
	rule    string
}

type match struct {
	whole bool
	ids   map[string]bool
}

// Set is an indexed suppression file.
type Set struct {
	file    *File
	matches map[key]*match
}

// NewSet indexes f. A service-level entry dominates every resource-scoped
// entry for the same service and rule.
func NewSet(f *File) *Set {
	if f == nil {
		f = &File{}
	}
	s := &Set{file: f, matches: make(map[key]*match)}
	for _, e := range f.Suppressions {
		k := key{service: strings.ToLower(strings.TrimSpace(e.Service)), rule: strings.TrimSpace(e.Rule)}
		m := s.matches[k]
		if m == nil {
			m = &match{ids: make(map[string]bool)}
			s.matches[k] = m
		}
		if e.ServiceLevel() {
			m.whole = true
			continue
		}
		for _, id := range e.ResourceIDs() {
			m.ids[id] = true
		}
	}
	return s
}

// Len returns the number of entries in the underlying file.
func (s *Set) Len() int {
	return len(s.file.Suppressions)
}

func (s *Set) lookup(service, rule string) *match {
	return s.matches[key{service: strings.ToLower(service), rule: rule}]
}

// Apply returns a copy of doc with suppressions applied. Every affected
// resource ends up in exactly one of AffectedResources or
// SuppressedResources, and per-service Stats.Suppressed is recomputed as the
// weighted suppressed count. The input document is not modified.
func (s *Set) Apply(doc *finding.Document) *finding.Document {
	out := doc.Clone()
	for name, svc := range out.Services {
		suppressed := 0
		for id, f := range svc.Summary {
			if m := s.lookup(name, id); m != nil {
				f = partition(f, m)
			}
			suppressed += f.Weight(finding.ViewSuppressed)
			svc.Summary[id] = f
		}
		svc.Stats.Suppressed = suppressed
		out.Services[name] = svc
	}
	if s.Len() > 0 || len(s.file.Metadata) > 0 {
		out.Metadata.Suppressions = s.config()
	}
	return out
}

func partition(f finding.Finding, m *match) finding.Finding {
	if m.whole {
		all := f.SuppressedResources.Clone()
		for _, rr := range f.AffectedResources {
			all.Add(rr.Region, "")
			for _, id := range rr.Resources {
				all.Add(rr.Region, id)
			}
		}
		f.SuppressedResources = all
		f.AffectedResources = nil
		f.FullySuppressed = true
		return f
	}
	var active finding.AffectedResources
	hidden := f.SuppressedResources.Clone()
	for _, rr := range f.AffectedResources {
		for _, id := range rr.Resources {
			if m.ids[id] {
				hidden.Add(rr.Region, id)
				continue
			}
			active.Add(rr.Region, id)
		}
		if len(rr.Resources) == 0 {
			active.Add(rr.Region, "")
		}
	}
	f.AffectedResources = active
	f.SuppressedResources = hidden
	return f
}

func (s *Set) config() *finding.SuppressionConfig {
	cfg := &finding.SuppressionConfig{Metadata: s.file.Metadata}
	for _, e := range s.file.Suppressions {
		cfg.Entries = append(cfg.Entries, finding.SuppressionEntry{
			Service:   e.Service,
			Rule:      e.Rule,
			Reason:    e.Reason,
			Resources: e.ResourceIDs(),
		})
	}
	return cfg
}

// Unused returns the entries that match no finding of doc. Such entries
// are inert; callers log them at debug level.
func (s *Set) Unused(doc *finding.Document) []Entry {
	var out []Entry
	for _, e := range s.file.Suppressions {
		svc, ok := lookupService(doc, e.Service)
		if !ok {
			out = append(out, e)
			continue
		}
		f, ok := svc.Summary[strings.TrimSpace(e.Rule)]
		if !ok {
			out = append(out, e)
			continue
		}
		if e.ServiceLevel() {
			continue
		}
		hit := false
		for _, id := range e.ResourceIDs() {
			if containsID(f.AffectedResources, id) || containsID(f.SuppressedResources, id) {
				hit = true
				break
			}
		}
		if !hit {
			out = append(out, e)
		}
	}
	return out
}

func lookupService(doc *finding.Document, name string) (finding.ServiceReport, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for n, svc := range doc.Services {
		if strings.ToLower(n) == name {
			return svc, true
		}
	}
	return finding.ServiceReport{}, false
}

func containsID(a finding.AffectedResources, id string) bool {
	for _, rr := range a {
		for _, r := range rr.Resources {
			if r == id {
				return true
			}
		}
	}
	return false
}
