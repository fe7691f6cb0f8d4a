package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/issuemill/internal/agent"
	"github.com/lucasnoah/issuemill/internal/config"
	"github.com/lucasnoah/issuemill/internal/db"
	"github.com/lucasnoah/issuemill/internal/gate"
	"github.com/lucasnoah/issuemill/internal/orchestrator"
	"github.com/lucasnoah/issuemill/internal/power"
	"github.com/lucasnoah/issuemill/internal/procs"
	"github.com/lucasnoah/issuemill/internal/prompt"
	"github.com/lucasnoah/issuemill/internal/review"
	"github.com/lucasnoah/issuemill/internal/tracker"
	"github.com/lucasnoah/issuemill/internal/vcs"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the orchestrator loop until the iteration bound is reached",
	Long: `Claims ready items from the tracker one at a time and drives each through
the agent, the review prompts, the quality gates, a commit, and a close.

Stale in_progress items (left by a previous interrupted run) are resumed
before any new work is claimed. The loop stops at the iteration bound, on
an unusable tracker, or on SIGINT/SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if errs := config.Validate(cfg); len(errs) > 0 {
			for _, e := range errs {
				fmt.Fprintf(cmd.ErrOrStderr(), "config error: %s\n", e)
			}
			return fmt.Errorf("config has %d validation error(s)", len(errs))
		}

		workdir, _ := cmd.Flags().GetString("workdir")
		if workdir == "" {
			workdir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("resolving working directory: %w", err)
			}
		}
		if n, _ := cmd.Flags().GetInt("max-iterations"); n > 0 {
			cfg.Loop.MaxIterations = n
		}

		logger := newLogger(cmd)
		pm := procs.NewManager(logger)
		pm.InstallSignalHandler()

		loop, cleanup, err := buildLoop(cmd, cfg, pm, workdir, logger)
		if err != nil {
			return err
		}
		defer cleanup()

		summary, runErr := loop.Run()
		printSummary(cmd, summary)
		if runErr != nil {
			return runErr
		}
		if len(summary.Failed) > 0 {
			return fmt.Errorf("%d item(s) failed", len(summary.Failed))
		}
		return nil
	},
}

// buildLoop wires every collaborator from config. The returned cleanup
// closes the history database.
func buildLoop(cmd *cobra.Command, cfg *config.Config, pm *procs.Manager, workdir string, logger *slog.Logger) (*orchestrator.Loop, func(), error) {
	trk := tracker.NewClient(&tracker.ExecRunner{Command: cfg.Tracker.Command})

	ag := agent.NewClient(cfg.Agent.Command, pm, logger)
	if v, _ := cmd.Flags().GetBool("verbose"); v {
		ag.Stream = cmd.OutOrStdout()
	}
	agentOpts := agent.Options{
		Model:           cfg.Agent.Model,
		MaxTurns:        cfg.Agent.MaxTurns,
		SkipPermissions: cfg.Agent.SkipPermissions,
	}

	git := vcs.NewClient(&vcs.ExecRunner{}, workdir)
	if cfg.Git.Enabled && cfg.Git.StashBeforeRun {
		if r := git.EnsureCleanWorkingCopy(); !r.Success {
			return nil, nil, fmt.Errorf("stashing working copy: %s", r.Err)
		}
	}

	gateSpecs := make([]gate.Spec, len(cfg.Gates))
	for i, g := range cfg.Gates {
		gateSpecs[i] = gate.Spec{Name: g.Name, Command: g.Command}
	}

	history, cleanup, err := openHistory(cfg)
	if err != nil {
		return nil, nil, err
	}

	// Stale in_progress items from an interrupted run come first.
	resumeQueue, err := trk.GetByStatus(tracker.StatusInProgress)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("checking for resumable items: %w", err)
	}
	if len(resumeQueue) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Resuming %d in-progress item(s) from a previous run.\n", len(resumeQueue))
	}

	loop := orchestrator.New(orchestrator.Options{
		Tracker:   trk,
		Agent:     ag,
		VCS:       git,
		Gates:     gate.NewPipeline(&gate.ExecRunner{Procs: pm}),
		Reviews:   review.NewPipeline(ag, git, agentOpts, logger),
		Inhibitor: power.New(pm, logger),
		History:   history,
		Shutdown:  pm,

		Logger:   logger,
		Progress: cmd.OutOrStdout(),

		Workdir:        workdir,
		GateSpecs:      gateSpecs,
		ReviewPrompts:  cfg.Reviews,
		AgentOptions:   agentOpts,
		MaxIterations:  cfg.Loop.MaxIterations,
		MaxRetries:     cfg.Loop.MaxRetries,
		PollInterval:   cfg.Loop.PollIntervalDuration(),
		BackoffBase:    cfg.Loop.BackoffBaseDuration(),
		BackoffCap:     cfg.Loop.BackoffCapDuration(),
		OutputLimit:    cfg.Loop.OutputLimit,
		GitEnabled:     cfg.Git.Enabled,
		CommitTemplate: commitTemplate(cfg),
		ResumeQueue:    resumeQueue,
	})
	return loop, cleanup, nil
}

func openHistory(cfg *config.Config) (*db.DB, func(), error) {
	path := cfg.History.Path
	if path == "" {
		var err error
		path, err = db.DefaultDBPath()
		if err != nil {
			return nil, nil, fmt.Errorf("resolving history db path: %w", err)
		}
	}
	d, err := db.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening history db: %w", err)
	}
	if err := d.Migrate(); err != nil {
		d.Close()
		return nil, nil, fmt.Errorf("migrating history db: %w", err)
	}
	return d, func() { d.Close() }, nil
}

func commitTemplate(cfg *config.Config) string {
	if cfg.Git.CommitTemplate != "" {
		return cfg.Git.CommitTemplate
	}
	return prompt.DefaultCommitTemplate
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if v, _ := cmd.Flags().GetBool("verbose"); v {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

func printSummary(cmd *cobra.Command, s *orchestrator.Summary) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "\nRun finished: %d iteration(s), %d completed, %d failed, %d gate failure(s)\n",
		s.Iterations, len(s.Completed), len(s.Failed), s.GateFailures)
	for _, id := range s.Completed {
		fmt.Fprintf(w, "  closed %s\n", id)
	}
	for _, id := range s.Failed {
		fmt.Fprintf(w, "  FAILED %s\n", id)
	}
}

func init() {
	runCmd.Flags().Int("max-iterations", 0, "override the configured iteration bound")
	runCmd.Flags().String("workdir", "", "working directory for gates and git (default: current directory)")
	runCmd.Flags().BoolP("verbose", "v", false, "stream agent output and debug logs")
}
