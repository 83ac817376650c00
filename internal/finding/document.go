package finding

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Reserved top-level keys of the serialized document.
const (
	FrameworkPrefix  = "framework_"
	CustomPagePrefix = "customPage_"
	MetadataKey      = "__metadata"
)

// IsReservedKey reports whether a top-level document key is not a service.
func IsReservedKey(key string) bool {
	return strings.HasPrefix(key, FrameworkPrefix) ||
		strings.HasPrefix(key, CustomPagePrefix) ||
		strings.HasPrefix(key, "__")
}

// Row is one affected resource of one finding, the unit of every
// resource-weighted table.
type Row struct {
	Service    string   `json:"service"`
	Region     string   `json:"region"`
	RuleID     string   `json:"ruleId"`
	Category   Category `json:"category"`
	ResourceID string   `json:"resourceId"`
	Severity   Severity `json:"severity"`
}

// SeverityGroup summarizes findings of one severity on a dedicated page.
type SeverityGroup struct {
	Severity  Severity      `json:"severity"`
	Resources int           `json:"resources"`
	Rules     []GroupedRule `json:"rules"`
}

// GroupedRule is a rule line inside a SeverityGroup.
type GroupedRule struct {
	RuleID      string `json:"ruleId"`
	Description string `json:"description"`
	Resources   int    `json:"resources"`
}

// CustomPage is a cross-cutting derived page.
type CustomPage struct {
	Findings   []Row           `json:"findings,omitempty"`
	Suppressed []Row           `json:"suppressed,omitempty"`
	Groups     []SeverityGroup `json:"groups,omitempty"`
}

// ControlStatus is the evaluation outcome of a framework control.
type ControlStatus string

const (
	ControlCompliant    ControlStatus = "Compliant"
	ControlNotCompliant ControlStatus = "NotCompliant"
	ControlNotAvailable ControlStatus = "NotAvailable"
)

// ControlResult is one evaluated framework control.
type ControlResult struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Status    ControlStatus `json:"status"`
	Rules     []string      `json:"rules"`
	Resources int           `json:"resources"`
}

// FrameworkSummary counts controls by status.
type FrameworkSummary struct {
	Compliant    int `json:"compliant"`
	NotCompliant int `json:"notCompliant"`
	NotAvailable int `json:"notAvailable"`
}

// FrameworkReport is the compliance view of one framework.
type FrameworkReport struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Controls    []ControlResult  `json:"controls"`
	Summary     FrameworkSummary `json:"summary"`
}

// SuppressionEntry records one user suppression in the run metadata.
type SuppressionEntry struct {
	Service   string   `json:"service"`
	Rule      string   `json:"rule"`
	Reason    string   `json:"reason,omitempty"`
	Resources []string `json:"resources,omitempty"`
}

// SuppressionConfig is the suppression file as applied to the run.
type SuppressionConfig struct {
	Metadata map[string]any     `json:"metadata,omitempty"`
	Entries  []SuppressionEntry `json:"suppressions"`
}

// Metadata is stored under the __metadata key.
type Metadata struct {
	AccountID    string             `json:"accountId"`
	RunID        string             `json:"runId,omitempty"`
	GeneratedAt  string             `json:"generatedAt,omitempty"`
	Version      string             `json:"version,omitempty"`
	Regions      []string           `json:"regions,omitempty"`
	Suppressions *SuppressionConfig `json:"suppressions,omitempty"`
	Warnings     []string           `json:"warnings,omitempty"`
}

// Document is the normalized output of one scan run. Services, frameworks
// and custom pages live in separate maps; the reserved-prefix convention only
// exists in the serialized form.
type Document struct {
	Services    map[string]ServiceReport
	Frameworks  map[string]FrameworkReport
	CustomPages map[string]CustomPage
	Metadata    Metadata
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{
		Services:    make(map[string]ServiceReport),
		Frameworks:  make(map[string]FrameworkReport),
		CustomPages: make(map[string]CustomPage),
	}
}

// ServiceNames returns service names in sorted order.
func (d *Document) ServiceNames() []string {
	names := make([]string, 0, len(d.Services))
	for name := range d.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FrameworkIDs returns framework ids in sorted order.
func (d *Document) FrameworkIDs() []string {
	ids := make([]string, 0, len(d.Frameworks))
	for id := range d.Frameworks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns a deep copy; transforms never mutate their input.
func (d *Document) Clone() *Document {
	out := NewDocument()
	for name, svc := range d.Services {
		out.Services[name] = svc.Clone()
	}
	for id, fw := range d.Frameworks {
		fw.Controls = append([]ControlResult(nil), fw.Controls...)
		out.Frameworks[id] = fw
	}
	for id, page := range d.CustomPages {
		out.CustomPages[id] = CustomPage{
			Findings:   append([]Row(nil), page.Findings...),
			Suppressed: append([]Row(nil), page.Suppressed...),
			Groups:     append([]SeverityGroup(nil), page.Groups...),
		}
	}
	out.Metadata = d.Metadata
	out.Metadata.Regions = append([]string(nil), d.Metadata.Regions...)
	out.Metadata.Warnings = append([]string(nil), d.Metadata.Warnings...)
	if d.Metadata.Suppressions != nil {
		sc := *d.Metadata.Suppressions
		sc.Entries = append([]SuppressionEntry(nil), sc.Entries...)
		out.Metadata.Suppressions = &sc
	}
	return out
}

// MarshalJSON flattens the document into the api-full.json shape. Keys are
// emitted sorted, so equal documents serialize to identical bytes.
func (d Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(d.Services)+len(d.Frameworks)+len(d.CustomPages)+1)
	for name, svc := range d.Services {
		if IsReservedKey(name) {
			return nil, fmt.Errorf("service name %q uses a reserved prefix", name)
		}
		b, err := json.Marshal(svc)
		if err != nil {
			return nil, fmt.Errorf("marshal service %s: %w", name, err)
		}
		out[name] = b
	}
	for id, fw := range d.Frameworks {
		b, err := json.Marshal(fw)
		if err != nil {
			return nil, fmt.Errorf("marshal framework %s: %w", id, err)
		}
		out[FrameworkPrefix+id] = b
	}
	for id, page := range d.CustomPages {
		b, err := json.Marshal(page)
		if err != nil {
			return nil, fmt.Errorf("marshal custom page %s: %w", id, err)
		}
		out[CustomPagePrefix+id] = b
	}
	b, err := json.Marshal(d.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	out[MetadataKey] = b
	return json.Marshal(out)
}

// UnmarshalJSON partitions top-level keys back into their maps.
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	doc := NewDocument()
	for key, val := range raw {
		switch {
		case key == MetadataKey:
			if err := json.Unmarshal(val, &doc.Metadata); err != nil {
				return fmt.Errorf("decode metadata: %w", err)
			}
		case strings.HasPrefix(key, FrameworkPrefix):
			var fw FrameworkReport
			if err := json.Unmarshal(val, &fw); err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
			doc.Frameworks[strings.TrimPrefix(key, FrameworkPrefix)] = fw
		case strings.HasPrefix(key, CustomPagePrefix):
			var page CustomPage
			if err := json.Unmarshal(val, &page); err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
			doc.CustomPages[strings.TrimPrefix(key, CustomPagePrefix)] = page
		case IsReservedKey(key):
			// unknown reserved key, not a service
		default:
			var svc ServiceReport
			if err := json.Unmarshal(val, &svc); err != nil {
				return fmt.Errorf("decode service %s: %w", key, err)
			}
			doc.Services[key] = svc
		}
	}
	*d = *doc
	return nil
}
