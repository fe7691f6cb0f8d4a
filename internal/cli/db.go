package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/issuemill/internal/db"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Run-history database management",
}

var dbInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the history database and apply the schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		_, cleanup, err := openHistory(cfg)
		if err != nil {
			return err
		}
		defer cleanup()
		cmd.Println("History database ready.")
		return nil
	},
}

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop all run history and re-apply the schema (destructive!)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		history, cleanup, err := openHistory(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := history.Reset(); err != nil {
			return fmt.Errorf("resetting history db: %w", err)
		}
		cmd.Println("History database reset.")
		return nil
	},
}

var dbPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the resolved history database path",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path := cfg.History.Path
		if path == "" {
			path, err = db.DefaultDBPath()
			if err != nil {
				return err
			}
		}
		cmd.Println(path)
		return nil
	},
}

func init() {
	dbCmd.AddCommand(dbInitCmd)
	dbCmd.AddCommand(dbResetCmd)
	dbCmd.AddCommand(dbPathCmd)
}
