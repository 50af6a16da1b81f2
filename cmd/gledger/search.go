package main

import (
	"context"
	"fmt"

	"github.com/gordian-engine/gledger/gindex"
	"github.com/gordian-engine/gledger/gledger"
	"github.com/spf13/cobra"
)

func NewSearchCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use: "search TERM",

		Short: "Print blocks containing a term",

		Long: `Print blocks containing a term, using the search index.

With --scan, every block in the range is read instead,
which also finds blocks that have not been indexed yet.`,

		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := c.open(ctx, nil)
			if err != nil {
				return err
			}
			defer s.Close(context.WithoutCancel(ctx))

			var res gledger.SearchResult
			limit := c.v.GetInt("limit")
			if c.v.GetBool("scan") {
				res, err = s.L.ScanSearch(ctx, args[0], c.flagRange(), limit)
			} else {
				res, err = s.L.Search(ctx, args[0], limit)
			}
			if err != nil {
				return err
			}

			if err := writeBlocks(cmd.OutOrStdout(), s, res.Hits...); err != nil {
				return err
			}
			if res.Truncated {
				fmt.Fprintf(cmd.ErrOrStderr(), "more than %d results; raise --limit to see more\n", len(res.Hits))
			}
			return nil
		},
	}

	cmd.Flags().Int("limit", 0, "maximum results (default the configured maximum)")
	cmd.Flags().Bool("scan", false, "scan blocks instead of using the index")
	addRangeFlags(cmd.Flags())

	return cmd
}

func NewReindexCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use: "reindex",

		Short: "Rebuild search index entries for a range of blocks",

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			s, err := c.open(ctx, nil)
			if err != nil {
				return err
			}
			defer s.Close(context.WithoutCancel(ctx))

			fs, err := s.L.Reindex(ctx, c.flagRange())
			if err != nil {
				return err
			}

			var indexed, failed int
			for _, f := range fs {
				res, err := f.Wait(ctx)
				if err != nil {
					return err
				}
				indexed += res.Indexed
				failed += len(res.Failures)
				if res.State != gindex.StateSucceeded {
					c.log.Warn("Reindex task failed", "range", res.Range, "err", res.Err)
				}
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "indexed %d blocks in %d tasks, %d failed\n", indexed, len(fs), failed)
			return nil
		},
	}

	addRangeFlags(cmd.Flags())
	return cmd
}
