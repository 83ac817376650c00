package commands

import (
	"github.com/spf13/cobra"

	"github.com/ppiankov/awsscreener/internal/scan"
)

var reportFlags struct {
	input     string
	accountID string
	regions   []string
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Write the report from saved scan results",
	Long: `Aggregate scan result files saved by 'awsscreener scan --save-results' (or by
any tool producing the same JSON) into the report under --output-dir.

--input accepts doublestar patterns, e.g. "scans/**/*.json". Files that
cannot be parsed are skipped with a warning.`,
	RunE: runReport,
}

func init() {
	f := reportCmd.Flags()
	f.StringVar(&reportFlags.input, "input", "scans/*.json", "Scan result files to aggregate (doublestar pattern)")
	f.StringVar(&reportFlags.accountID, "account-id", "", "Account id recorded in the report")
	f.StringSliceVar(&reportFlags.regions, "regions", nil, "Regions recorded in the report (default: regions seen in the results)")
	addOutputFlags(reportCmd)
}

func runReport(cmd *cobra.Command, _ []string) error {
	applyOutputDefaults(cmd)

	results, err := scan.LoadFiles(reportFlags.input)
	if err != nil {
		return err
	}

	regions := reportFlags.regions
	if len(regions) == 0 {
		regions = observedRegions(results)
	}
	services := make([]string, 0, len(results))
	for _, r := range results {
		if r.Err == nil {
			services = append(services, r.Service)
		}
	}
	return produce(cmd.Context(), cmd, results, runInfo{
		AccountID: reportFlags.accountID,
		Profile:   profile,
		Regions:   regions,
		Services:  services,
	})
}

// observedRegions lists the regions of all observations in first-seen order.
func observedRegions(results []*scan.ScanResult) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		for _, o := range r.Observations {
			if o.Region != "" && !seen[o.Region] {
				seen[o.Region] = true
				out = append(out, o.Region)
			}
		}
	}
	return out
}
