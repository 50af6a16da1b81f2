package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func NewExportCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use: "export FILE",

		Short: "Write committed blocks to a snappy-compressed JSON lines file (- for stdout)",

		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := c.open(ctx, nil)
			if err != nil {
				return err
			}
			defer s.Close(context.WithoutCancel(ctx))

			w, closeOut, err := openOutput(cmd, args[0])
			if err != nil {
				return err
			}

			stats, err := s.L.Export(ctx, w, c.flagRange())
			if cerr := closeOut(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "exported %d blocks in %s\n", stats.Blocks, stats.Range)
			return nil
		},
	}

	addRangeFlags(cmd.Flags())
	return cmd
}

func NewImportCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use: "import FILE",

		Short: "Verify and append blocks from an export file (- for stdin)",

		Long: `Verify and append blocks from an export file (- for stdin).

Blocks already present with the same hash are skipped,
so an interrupted import can be rerun with the same file.`,

		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}

			s, err := c.open(ctx, nil)
			if err != nil {
				return err
			}
			defer s.Close(context.WithoutCancel(ctx))

			stats, err := s.L.Import(ctx, r)
			if err != nil {
				return err
			}

			fmt.Fprintf(
				cmd.ErrOrStderr(), "imported %d blocks, skipped %d already present\n",
				stats.Blocks, stats.Skipped,
			)
			return nil
		},
	}
}
