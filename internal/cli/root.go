package cli

import (
	"github.com/spf13/cobra"

	"github.com/lucasnoah/issuemill/internal/config"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var configFile string

var rootCmd = &cobra.Command{
	Use:   "mill",
	Short: "issuemill — an autonomous issue-queue orchestrator",
	Long: `issuemill drives a queue of tracker issues through a coding-agent CLI:
claim the next ready item, let the agent work it, run review prompts against
the diff, run the quality gates, then commit and close.

Configuration is read from ./mill.toml or ~/.issuemill/config.toml.
Run history is stored in SQLite under ~/.issuemill/.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to mill config file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.Load(configFile)
	}
	return config.LoadDefault()
}
