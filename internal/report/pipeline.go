package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ppiankov/awsscreener/internal/finding"
)

// Pipeline runs a set of renderers over one document.
type Pipeline struct {
	Renderers []Renderer
	Logger    *slog.Logger
}

// Result lists what a pipeline run produced.
type Result struct {
	Files    []string
	Warnings []string
}

// Run renders doc with every renderer and writes the artifacts under dir.
// A renderer failing with ErrBundleUnavailable is skipped with a warning so
// the remaining output is still produced; any other failure aborts the run.
func (p *Pipeline) Run(ctx context.Context, doc *finding.Document, dir string) (Result, error) {
	log := p.Logger
	if log == nil {
		log = slog.Default()
	}
	var res Result
	for _, r := range p.Renderers {
		art, err := r.Render(ctx, doc)
		if errors.Is(err, ErrBundleUnavailable) {
			log.Warn("Renderer unavailable, continuing with remaining output", "renderer", r.Name(), "error", err)
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %v", r.Name(), err))
			continue
		}
		if err != nil {
			return res, fmt.Errorf("render %s: %w", r.Name(), err)
		}
		written, err := WriteArtifact(dir, art)
		res.Files = append(res.Files, written...)
		if err != nil {
			return res, err
		}
		log.Debug("Renderer finished", "renderer", r.Name(), "files", len(written), "bytes", art.Size())
	}
	return res, nil
}
