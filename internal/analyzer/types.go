package analyzer

import (
	"errors"
	"log/slog"

	"github.com/ppiankov/awsscreener/internal/aggregate"
	"github.com/ppiankov/awsscreener/internal/framework"
	"github.com/ppiankov/awsscreener/internal/suppress"
)

// ErrNoUsableInput is returned when every scan result was unusable.
var ErrNoUsableInput = errors.New("no usable scan results")

// PartialInputError describes a scan result that was skipped.
type PartialInputError struct {
	Service string
	Err     error
}

func (e *PartialInputError) Error() string {
	return e.Service + ": " + e.Err.Error()
}

func (e *PartialInputError) Unwrap() error { return e.Err }

// Options carries run identity into Build. Nothing in Build reads a clock or
// generates ids, so equal inputs and options give equal documents.
type Options struct {
	AccountID   string
	RunID       string
	GeneratedAt string
	Version     string
	Regions     []string
	Logger      *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// FinalizeOptions controls the derived parts of a document.
type FinalizeOptions struct {
	Suppressions *suppress.Set
	Policy       aggregate.Policy
	Frameworks   []framework.Framework
	Logger       *slog.Logger
}

// Summary holds headline statistics of a finalized document.
type Summary struct {
	TotalResourcesScanned int            `json:"total_resources_scanned"`
	TotalFindings         int            `json:"total_findings"`
	SuppressedFindings    int            `json:"suppressed_findings"`
	EstimatedMonthlyWaste float64        `json:"estimated_monthly_waste"`
	BySeverity            map[string]int `json:"by_severity"`
	ByService             map[string]int `json:"by_service"`
	RegionsScanned        int            `json:"regions_scanned"`
	Warnings              int            `json:"warnings"`
}
