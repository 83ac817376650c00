// Package report renders a finalized document into report artifacts and
// stdout summaries.
package report

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ppiankov/awsscreener/internal/aggregate"
	"github.com/ppiankov/awsscreener/internal/analyzer"
	"github.com/ppiankov/awsscreener/internal/finding"
	"github.com/ppiankov/awsscreener/internal/view"
)

// File is one output file, relative to the output directory.
type File struct {
	Path string
	Data []byte
}

// Artifact is everything one renderer produced.
type Artifact struct {
	Files []File
}

// Size returns the total byte size of the artifact.
func (a Artifact) Size() int {
	n := 0
	for _, f := range a.Files {
		n += len(f.Data)
	}
	return n
}

// Renderer turns a finalized document into files. Every renderer consumes
// the same document, so adding or removing one cannot change the data other
// renderers show.
type Renderer interface {
	Name() string
	Render(ctx context.Context, doc *finding.Document) (Artifact, error)
}

// WriteArtifact writes a under dir and returns the written paths.
func WriteArtifact(dir string, a Artifact) ([]string, error) {
	var written []string
	for _, f := range a.Files {
		clean := filepath.Clean(filepath.FromSlash(f.Path))
		if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
			return written, fmt.Errorf("artifact path %q escapes output directory", f.Path)
		}
		path := filepath.Join(dir, clean)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return written, fmt.Errorf("create report directory: %w", err)
		}
		if err := os.WriteFile(path, f.Data, 0o644); err != nil {
			return written, fmt.Errorf("write %s: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}

// Target identifies what was scanned.
type Target struct {
	Type    string `json:"type"`
	URIHash string `json:"uri_hash"`
}

// ReportConfig records scan parameters for report output.
type ReportConfig struct {
	Regions      []string `json:"regions"`
	Services     []string `json:"services,omitempty"`
	Frameworks   []string `json:"frameworks,omitempty"`
	SuppressFile string   `json:"suppress_file,omitempty"`
}

// Data is the input of the stdout reporters.
type Data struct {
	Tool      string            `json:"tool"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Target    Target            `json:"target"`
	Config    ReportConfig      `json:"config"`
	Summary   analyzer.Summary  `json:"summary"`
	Document  *finding.Document `json:"-"`
	Policy    aggregate.Policy  `json:"-"`
	// Filter narrows and orders the findings table of the text summary.
	Filter    view.Query `json:"-"`
	OutputDir string     `json:"output_dir,omitempty"`
	Files     []string   `json:"files,omitempty"`
}

// Reporter writes a run summary to a stream.
type Reporter interface {
	Generate(data Data) error
}

// NewReporter returns the stdout reporter for format, or nil for "none".
func NewReporter(format string, w io.Writer) (Reporter, error) {
	switch format {
	case "text", "":
		return &TextReporter{Writer: w}, nil
	case "json":
		return &JSONReporter{Writer: w}, nil
	case "sarif":
		return &SARIFReporter{Writer: w}, nil
	case "none":
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported format: %s", format)
}
