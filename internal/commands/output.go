package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ppiankov/awsscreener/internal/aggregate"
	"github.com/ppiankov/awsscreener/internal/analyzer"
	"github.com/ppiankov/awsscreener/internal/finding"
	"github.com/ppiankov/awsscreener/internal/framework"
	"github.com/ppiankov/awsscreener/internal/history"
	"github.com/ppiankov/awsscreener/internal/report"
	"github.com/ppiankov/awsscreener/internal/scan"
	"github.com/ppiankov/awsscreener/internal/suppress"
	"github.com/ppiankov/awsscreener/internal/view"
)

// outputOptions are shared by every command that produces a report.
type outputOptions struct {
	format       string
	outputDir    string
	suppressFile string
	frameworks   []string
	historyDB    string
	beta         bool
	spaBundle    string
	spaBuildCmd  string
	filter       string
}

var outFlags outputOptions

const defaultOutputDir = "awsscreener-report"

func addOutputFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&outFlags.format, "format", "text", "Summary printed to stdout: text, json, sarif, none")
	f.StringVar(&outFlags.outputDir, "output-dir", defaultOutputDir, "Directory for the report files")
	f.StringVar(&outFlags.suppressFile, "suppress-file", "", "Suppression file (YAML or JSON)")
	f.StringSliceVar(&outFlags.frameworks, "frameworks", nil, "Compliance frameworks to evaluate (default: all)")
	f.StringVar(&outFlags.historyDB, "history-db", "", "SQLite file recording run summaries (empty disables)")
	f.BoolVar(&outFlags.beta, "beta", false, "Also write the single-file report to beta/index.html")
	f.StringVar(&outFlags.spaBundle, "spa-bundle", "", "Directory of a prebuilt viewer bundle (default: built-in)")
	f.StringVar(&outFlags.spaBuildCmd, "spa-build-cmd", "", "Shell command that builds the viewer bundle before rendering")
	f.StringVar(&outFlags.filter, "filter", "", "Narrow the text findings table, e.g. 'category=S&severity=High' or '#/findings?q=bucket'")
}

// applyOutputDefaults fills flags the user did not set from the config file.
func applyOutputDefaults(cmd *cobra.Command) {
	f := cmd.Flags()
	if !f.Changed("format") && cfg.Format != "" {
		outFlags.format = cfg.Format
	}
	if !f.Changed("output-dir") && cfg.OutputDir != "" {
		outFlags.outputDir = cfg.OutputDir
	}
	if !f.Changed("suppress-file") && cfg.SuppressFile != "" {
		outFlags.suppressFile = cfg.SuppressFile
	}
	if !f.Changed("frameworks") && len(cfg.Frameworks) > 0 {
		outFlags.frameworks = cfg.Frameworks
	}
	if !f.Changed("history-db") && cfg.HistoryDB != "" {
		outFlags.historyDB = cfg.HistoryDB
	}
	if !f.Changed("beta") && cfg.Beta {
		outFlags.beta = true
	}
	if !f.Changed("spa-bundle") && cfg.SPABundle != "" {
		outFlags.spaBundle = cfg.SPABundle
	}
	if !f.Changed("spa-build-cmd") && cfg.SPABuildCmd != "" {
		outFlags.spaBuildCmd = cfg.SPABuildCmd
	}
}

// runInfo identifies the run a report is produced for.
type runInfo struct {
	AccountID string
	Profile   string
	Regions   []string
	Services  []string
}

// produce turns scan results into the report files, the history entry and
// the stdout summary.
func produce(ctx context.Context, cmd *cobra.Command, results []*scan.ScanResult, info runInfo) error {
	log := slog.Default()
	opts := outFlags
	policy := aggregate.DefaultPolicy

	filter, err := view.ParseFilter(opts.filter)
	if err != nil {
		return fmt.Errorf("parse --filter: %w", err)
	}

	doc, err := analyzer.Build(results, analyzer.Options{
		AccountID:   info.AccountID,
		RunID:       uuid.NewString(),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Version:     version,
		Regions:     info.Regions,
		Logger:      log,
	})
	if err != nil {
		return fmt.Errorf("build report: %w", err)
	}

	sf, err := suppress.Load(opts.suppressFile)
	if err != nil {
		return err
	}
	frameworks, err := framework.Select(opts.frameworks)
	if err != nil {
		return fmt.Errorf("select frameworks: %w", err)
	}
	final := analyzer.Finalize(doc, analyzer.FinalizeOptions{
		Suppressions: suppress.NewSet(sf),
		Policy:       policy,
		Frameworks:   frameworks,
		Logger:       log,
	})

	pipeline := report.Pipeline{Renderers: renderers(opts, policy, log), Logger: log}
	res, err := pipeline.Run(ctx, final, opts.outputDir)
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	log.Info("Report written", "dir", opts.outputDir, "files", len(res.Files))

	if opts.historyDB != "" {
		if err := recordHistory(ctx, opts.historyDB, final, policy, cmd.ErrOrStderr()); err != nil {
			log.Warn("Failed to record run history", "path", opts.historyDB, "error", err)
		}
	}

	reporter, err := report.NewReporter(opts.format, cmd.OutOrStdout())
	if err != nil || reporter == nil {
		return err
	}
	return reporter.Generate(report.Data{
		Tool:      "awsscreener",
		Version:   version,
		Timestamp: time.Now().UTC(),
		Target: report.Target{
			Type:    "aws-account",
			URIHash: computeTargetHash(info.Profile, info.Regions),
		},
		Config: report.ReportConfig{
			Regions:      info.Regions,
			Services:     info.Services,
			Frameworks:   final.FrameworkIDs(),
			SuppressFile: opts.suppressFile,
		},
		Summary:   analyzer.Summarize(final, policy),
		Document:  final,
		Policy:    policy,
		Filter:    filter,
		OutputDir: opts.outputDir,
		Files:     res.Files,
	})
}

func renderers(opts outputOptions, policy aggregate.Policy, log *slog.Logger) []report.Renderer {
	legacy := &report.LegacyHTMLRenderer{Policy: policy}
	rs := []report.Renderer{report.JSONRenderer{}, legacy}
	if opts.beta {
		legacy.SPA = report.SPAPath
		rs = append(rs, &report.SPARenderer{Bundle: bundleSource(opts, log), Logger: log})
	}
	return rs
}

func bundleSource(opts outputOptions, log *slog.Logger) report.BundleSource {
	switch {
	case opts.spaBuildCmd != "":
		return report.CommandBundle{Command: opts.spaBuildCmd, Dir: ".", Output: opts.spaBundle, Logger: log}
	case opts.spaBundle != "":
		return report.DirBundle{Path: opts.spaBundle}
	default:
		return report.EmbeddedBundle{}
	}
}

// recordHistory saves the run and prints the change since the previous run
// of the same account.
func recordHistory(ctx context.Context, path string, doc *finding.Document, policy aggregate.Policy, w io.Writer) error {
	store, err := history.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	run := history.RunFromDocument(doc, policy)
	prev, err := store.Recent(ctx, run.AccountID, 1)
	if err != nil {
		return err
	}
	if _, err := store.Save(ctx, run); err != nil {
		return err
	}
	if len(prev) == 0 {
		return nil
	}
	d := history.Compare(prev[0], run)
	fmt.Fprintf(w, "Since run %s: %+d findings (high %+d, medium %+d, low %+d, info %+d)\n",
		prev[0].RunID, d.Total, d.High, d.Medium, d.Low, d.Info)
	return nil
}
