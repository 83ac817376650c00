package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/ppiankov/awsscreener/internal/aggregate"
	"github.com/ppiankov/awsscreener/internal/finding"
)

const sarifSchema = "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/main/sarif-2.1/schema/sarif-schema-2.1.0.json"

// sarifReport is the top-level SARIF v2.1.0 structure.
type sarifReport struct {
	Schema  string     `json:"$schema"`
	Version string     `json:"version"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool    sarifTool     `json:"tool"`
	Results []sarifResult `json:"results"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name    string      `json:"name"`
	Version string      `json:"version"`
	Rules   []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID               string            `json:"id"`
	ShortDescription sarifMessage      `json:"shortDescription"`
	FullDescription  sarifMessage      `json:"fullDescription"`
	HelpURI          string            `json:"helpUri,omitempty"`
	DefaultConfig    sarifDefaultLevel `json:"defaultConfiguration"`
	Props            map[string]any    `json:"properties,omitempty"`
}

type sarifDefaultLevel struct {
	Level string `json:"level"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifResult struct {
	RuleID    string         `json:"ruleId"`
	Level     string         `json:"level"`
	Message   sarifMessage   `json:"message"`
	Locations []sarifLoc     `json:"locations,omitempty"`
	Props     map[string]any `json:"properties,omitempty"`
}

type sarifLoc struct {
	PhysicalLocation sarifPhysical `json:"physicalLocation"`
}

type sarifPhysical struct {
	ArtifactLocation sarifArtifact `json:"artifactLocation"`
}

type sarifArtifact struct {
	URI string `json:"uri"`
}

// SARIFReporter writes active findings as SARIF v2.1.0.
type SARIFReporter struct {
	Writer io.Writer
}

// Generate implements Reporter.
func (r *SARIFReporter) Generate(data Data) error {
	var rules []sarifRule
	results := []sarifResult{}

	if data.Document != nil {
		rows := aggregate.ActiveFindings(data.Document, data.Policy)
		rules = buildSARIFRules(data.Document, rows)
		for _, row := range rows {
			results = append(results, sarifResult{
				RuleID:  sarifRuleID(row),
				Level:   sarifLevel(row.Severity),
				Message: sarifMessage{Text: shortDescription(data.Document, row)},
				Locations: []sarifLoc{
					{PhysicalLocation: sarifPhysical{ArtifactLocation: sarifArtifact{URI: location(row)}}},
				},
				Props: map[string]any{
					"category": row.Category.Name(),
					"region":   row.Region,
				},
			})
		}
	}

	report := sarifReport{
		Schema:  sarifSchema,
		Version: "2.1.0",
		Runs: []sarifRun{
			{
				Tool: sarifTool{
					Driver: sarifDriver{
						Name:    data.Tool,
						Version: data.Version,
						Rules:   rules,
					},
				},
				Results: results,
			},
		},
	}

	enc := json.NewEncoder(r.Writer)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encode SARIF report: %w", err)
	}
	return nil
}

func sarifRuleID(row finding.Row) string {
	return row.Service + "." + row.RuleID
}

func sarifLevel(s finding.Severity) string {
	switch s {
	case finding.SeverityHigh:
		return "error"
	case finding.SeverityMedium:
		return "warning"
	default:
		return "note"
	}
}

// buildSARIFRules describes every rule referenced by rows, sorted by id.
func buildSARIFRules(doc *finding.Document, rows []finding.Row) []sarifRule {
	seen := make(map[string]bool)
	var rules []sarifRule
	for _, row := range rows {
		id := sarifRuleID(row)
		if seen[id] {
			continue
		}
		seen[id] = true
		f := doc.Services[row.Service].Summary[row.RuleID]
		rule := sarifRule{
			ID:               id,
			ShortDescription: sarifMessage{Text: finding.DisplayText(f.ShortDescription)},
			FullDescription:  sarifMessage{Text: finding.DisplayText(f.Description)},
			DefaultConfig:    sarifDefaultLevel{Level: sarifLevel(f.Severity)},
			Props:            map[string]any{"category": f.Category.Name()},
		}
		if len(f.Links) > 0 {
			rule.HelpURI = f.Links[0]
		}
		rules = append(rules, rule)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules
}
