package main

import (
	"fmt"
	"io"

	"github.com/i5heu/ouroboros-catalog/pkg/migrate"
	workerpool "github.com/i5heu/ouroboros-catalog/pkg/workerPool"
	"github.com/spf13/cobra"
)

type upgradeFlags struct {
	branch        string
	workingBranch string
	maxPerCommit  int
	workers       int
	dryRun        bool
}

func newUpgradeCommand(g *globals, stdout io.Writer) *cobra.Command {
	f := &upgradeFlags{}
	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Upgrade legacy table metadata pointers on a branch.",
		Long: `Scans the head of the branch for table entries stored with the legacy
metadata pointer encoding, rewrites them on a working branch in bounded
commits and moves the branch to the result.

With --dry-run only the scan runs and the entries that would be upgraded are
printed.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpgrade(cmd, g, f, stdout)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.branch, "branch", "", "Branch to upgrade. Overrides upgrade.branch.")
	flags.StringVar(&f.workingBranch, "working-branch", "", "Branch the upgrade is staged on. Overrides upgrade.workingBranch.")
	flags.IntVar(&f.maxPerCommit, "max-entries-per-commit", 0, "Upper bound of rewritten entries per commit. Overrides upgrade.maxEntriesPerCommit.")
	flags.IntVar(&f.workers, "workers", 0, "Goroutines classifying entries. Overrides upgrade.workers.")
	flags.BoolVar(&f.dryRun, "dry-run", false, "Only report what would be upgraded.")
	return cmd
}

func runUpgrade(cmd *cobra.Command, g *globals, f *upgradeFlags, stdout io.Writer) error {
	ctx := cmd.Context()
	c := g.config.Upgrade
	if cmd.Flags().Changed("branch") {
		c.Branch = f.branch
	}
	if cmd.Flags().Changed("working-branch") {
		c.WorkingBranch = f.workingBranch
	}
	if cmd.Flags().Changed("max-entries-per-commit") {
		c.MaxEntriesPerCommit = f.maxPerCommit
	}
	if cmd.Flags().Changed("workers") {
		c.Workers = f.workers
	}

	store, closeStore, err := g.openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	opts := migrate.Options{
		Branch:              c.Branch,
		WorkingBranch:       c.WorkingBranch,
		MaxEntriesPerCommit: c.MaxEntriesPerCommit,
		Committer:           c.Committer,
		Logger:              g.log,
	}
	if c.Workers > 1 {
		wp := workerpool.NewWorkerPool(workerpool.Config{WorkerCount: c.Workers})
		defer wp.Close()
		opts.TaskPool = wp
	}

	driver, err := migrate.NewDriver(store, opts)
	if err != nil {
		return err
	}

	if f.dryRun {
		scan, err := driver.Scan(ctx)
		if err != nil {
			return err
		}
		for _, e := range scan.Legacy {
			fmt.Fprintf(stdout, "%s\t%s\n", e.Key, e.ContentID)
		}
		batches := len(migrate.Plan(scan.Legacy, opts.MaxEntriesPerCommit))
		fmt.Fprintf(stdout, "%d of %d entries on %s need an upgrade (%d commits)\n",
			len(scan.Legacy), scan.Live, c.Branch, batches)
		if len(scan.Legacy) == 0 {
			return &exitError{code: ExitNoOp, msg: "nothing to upgrade"}
		}
		return nil
	}

	// A store that has never been written to gets the default branch, as
	// catalogs do on first start.
	if err := store.InitializeRepo(ctx, migrate.DefaultBranch); err != nil {
		return err
	}

	res, err := driver.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s: %s, %d entries in %d commits, head %s\n",
		res.Branch, res.State, res.Migrated, res.Batches, res.Head)
	if res.State == migrate.StateNoOp {
		return &exitError{code: ExitNoOp, msg: "nothing to upgrade"}
	}
	return nil
}
