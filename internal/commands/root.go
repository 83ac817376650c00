package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ppiankov/awsscreener/internal/config"
	"github.com/ppiankov/awsscreener/internal/logging"
)

var (
	verbose bool
	profile string
	version string
	commit  string
	date    string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:   "awsscreener",
	Short: "awsscreener: AWS configuration and hygiene report generator",
	Long: `awsscreener checks EC2, EBS, security groups, load balancers, RDS, Lambda,
SQS, SNS, S3 and GuardDuty against a catalog of configuration rules and
writes a browsable report of what it found.

Findings can be suppressed with a suppression file and are mapped onto
compliance frameworks such as CIS.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.Init(verbose)
		loaded, err := config.Load(".")
		if err != nil {
			return err
		}
		cfg = loaded
		slog.Debug("Configuration loaded", "profile", cfg.Profile, "regions", cfg.Regions, "services", cfg.Services)
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command with injected build info.
func Execute(v, c, d string) error {
	version = v
	commit = c
	date = d
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "AWS profile name")
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}
