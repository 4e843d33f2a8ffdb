package main

import (
	"fmt"
	"io"

	"github.com/i5heu/ouroboros-catalog/pkg/model"
	"github.com/spf13/cobra"
)

func newBranchesCommand(g *globals, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "branches",
		Short: "List the branches of the store and their heads.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := g.openStore()
			if err != nil {
				return err
			}
			defer closeStore()

			refs, err := store.Branches(cmd.Context())
			if err != nil {
				return err
			}
			for _, ref := range refs {
				fmt.Fprintf(stdout, "%s\t%s\n", ref.Name, ref.Hash)
			}
			return nil
		},
	}
}

func newLogCommand(g *globals, stdout io.Writer) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "log <branch>",
		Short: "Print the commit log of a branch, newest first.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, closeStore, err := g.openStore()
			if err != nil {
				return err
			}
			defer closeStore()

			head, err := store.Read(ctx, args[0])
			if err != nil {
				return err
			}
			it, err := store.CommitLog(ctx, head)
			if err != nil {
				return err
			}

			for n := 0; limit <= 0 || n < limit; n++ {
				c, err := it.Next(ctx)
				if err == io.EOF {
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(stdout, formatCommit(c))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Stop after this many commits. 0 prints the whole log.")
	return cmd
}

func formatCommit(c *model.Commit) string {
	var puts, deletes int
	for _, op := range c.Operations {
		switch op.(type) {
		case model.Put:
			puts++
		case model.Delete:
			deletes++
		}
	}
	mark := ""
	if c.KeyList != nil {
		mark = fmt.Sprintf(" [key list: %d]", len(c.KeyList.Entries))
	}
	return fmt.Sprintf("%s %4d +%d -%d%s %s", c.Hash.Short(), c.Seq, puts, deletes, mark, c.Meta.Message)
}
