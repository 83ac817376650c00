package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ppiankov/awsscreener/internal/aggregate"
	"github.com/ppiankov/awsscreener/internal/finding"
)

// APIFile is the name of the normalized document file.
const APIFile = "api-full.json"

// JSONRenderer writes the normalized document.
type JSONRenderer struct{}

// Name implements Renderer.
func (JSONRenderer) Name() string { return "json" }

// Render implements Renderer.
func (JSONRenderer) Render(_ context.Context, doc *finding.Document) (Artifact, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return Artifact{}, fmt.Errorf("encode document: %w", err)
	}
	return Artifact{Files: []File{{Path: APIFile, Data: append(data, '\n')}}}, nil
}

// spectreV1 is the spectre/v1 envelope emitted on stdout.
type spectreV1 struct {
	Schema    string           `json:"$schema"`
	Tool      string           `json:"tool"`
	Version   string           `json:"version"`
	Timestamp time.Time        `json:"timestamp"`
	Target    Target           `json:"target"`
	Findings  []spectreFinding `json:"findings"`
	Summary   spectreSummary   `json:"summary"`
	Warnings  []string         `json:"warnings,omitempty"`
}

type spectreFinding struct {
	ID       string `json:"id"`
	Severity string `json:"severity"`
	Location string `json:"location"`
	Message  string `json:"message"`
}

type spectreSummary struct {
	Total  int `json:"total"`
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
	Info   int `json:"info"`
}

// JSONReporter writes active findings as a spectre/v1 envelope.
type JSONReporter struct {
	Writer io.Writer
}

// Generate implements Reporter.
func (r *JSONReporter) Generate(data Data) error {
	env := spectreV1{
		Schema:    "spectre/v1",
		Tool:      data.Tool,
		Version:   data.Version,
		Timestamp: data.Timestamp,
		Target:    data.Target,
		Findings:  []spectreFinding{},
	}
	if data.Document != nil {
		env.Warnings = data.Document.Metadata.Warnings
		for _, row := range aggregate.ActiveFindings(data.Document, data.Policy) {
			sev := spectreSeverity(row.Severity)
			env.Findings = append(env.Findings, spectreFinding{
				ID:       row.RuleID,
				Severity: sev,
				Location: location(row),
				Message:  shortDescription(data.Document, row),
			})
			env.Summary.Total++
			switch sev {
			case "high":
				env.Summary.High++
			case "medium":
				env.Summary.Medium++
			case "low":
				env.Summary.Low++
			default:
				env.Summary.Info++
			}
		}
	}

	enc := json.NewEncoder(r.Writer)
	enc.SetIndent("", "  ")
	if err := enc.Encode(env); err != nil {
		return fmt.Errorf("encode JSON report: %w", err)
	}
	return nil
}

func spectreSeverity(s finding.Severity) string {
	if s == finding.SeverityInformational {
		return "info"
	}
	return strings.ToLower(string(s))
}

// location renders a row as aws://region/service/resource.
func location(row finding.Row) string {
	region := row.Region
	if region == "" {
		region = "global"
	}
	if row.ResourceID == "" {
		return fmt.Sprintf("aws://%s/%s", region, row.Service)
	}
	return fmt.Sprintf("aws://%s/%s/%s", region, row.Service, row.ResourceID)
}

func shortDescription(doc *finding.Document, row finding.Row) string {
	f := doc.Services[row.Service].Summary[row.RuleID]
	if f.ShortDescription != "" {
		return finding.DisplayText(f.ShortDescription)
	}
	return finding.DisplayText(f.Description)
}
