package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/gordian-engine/gledger/gbatch"
	"github.com/gordian-engine/gledger/gblock"
	"github.com/gordian-engine/gledger/gcrypto"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func NewAppendCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use: "append [TEXT...]",

		Short: "Append one block per argument, as a single batch",

		Long: `Append one block per argument, as a single batch.
All blocks are committed or none are.

With --stdin, a single block is appended with the contents of standard input.
With --genesis, the ledger must be empty and exactly one block is written.`,

		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			payloads, err := c.appendPayloads(cmd, args)
			if err != nil {
				return err
			}

			signer, err := c.signer()
			if err != nil {
				return err
			}

			s, err := c.open(ctx, nil)
			if err != nil {
				return err
			}
			defer s.Close(context.WithoutCancel(ctx))

			out := cmd.OutOrStdout()

			if c.v.GetBool("genesis") {
				if len(payloads) != 1 {
					return errors.New("genesis takes exactly one payload")
				}
				g, err := s.L.InitGenesis(ctx, signer, payloads[0])
				if err != nil {
					return err
				}
				return writeBlocks(out, s, g)
			}

			reqs := make([]gbatch.Request, len(payloads))
			for i, p := range payloads {
				reqs[i] = gbatch.Request{Payload: p, Signer: signer}
			}

			res, err := s.L.SubmitBatch(ctx, reqs)
			if err != nil {
				return err
			}
			c.log.Info("Committed batch", "batch", res.BatchID, "range", res.Range)

			if res.Index != nil && c.v.GetBool("wait") {
				r, err := res.Index.Wait(ctx)
				if err != nil {
					return err
				}
				if r.Err != nil {
					c.log.Warn("Indexing failed", "err", r.Err)
				}
			}

			return writeBlocks(out, s, res.Blocks...)
		},
	}

	addSignerFlags(cmd.Flags())
	cmd.Flags().Bool("stdin", false, "read a single payload from standard input")
	cmd.Flags().String("ref", "", "off-chain reference to attach to every block")
	cmd.Flags().String("encrypt-key", "", "seal payloads with this symmetric key, as ID:HEX_KEY")
	cmd.Flags().Bool("genesis", false, "write the genesis block of an empty ledger")
	cmd.Flags().Bool("wait", false, "wait for the appended blocks to be indexed")

	return cmd
}

func (c *cli) appendPayloads(cmd *cobra.Command, args []string) ([]gblock.Payload, error) {
	var raw [][]byte
	if c.v.GetBool("stdin") {
		if len(args) > 0 {
			return nil, errors.New("--stdin does not take arguments")
		}
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read standard input: %w", err)
		}
		raw = append(raw, b)
	} else {
		for _, a := range args {
			raw = append(raw, []byte(a))
		}
	}

	ref := c.v.GetString("ref")
	if len(raw) == 0 {
		if ref == "" {
			return nil, errors.New("nothing to append")
		}
		// A block may carry only a reference.
		raw = append(raw, nil)
	}

	var key *gcrypto.SymmetricKey
	if val := c.v.GetString("encrypt-key"); val != "" {
		k, err := parseSymmetricKey(val)
		if err != nil {
			return nil, err
		}
		key = &k
	}

	ps := make([]gblock.Payload, len(raw))
	for i, data := range raw {
		p := gblock.Payload{Data: data, OffChainRef: ref}
		if key != nil && len(data) > 0 {
			ct, nonce, err := key.Seal(data)
			if err != nil {
				return nil, fmt.Errorf("failed to seal payload %d: %w", i, err)
			}
			p.Data = ct
			p.Encryption = &gblock.Encryption{
				Algorithm: gcrypto.AlgXChaCha20Poly1305,
				KeyID:     key.ID,
				Nonce:     nonce,
			}
		}
		ps[i] = p
	}
	return ps, nil
}

func NewGetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use: "get SEQ",

		Short: "Print the block at a sequence number",

		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			seq, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid sequence: %w", err)
			}

			s, err := c.open(ctx, nil)
			if err != nil {
				return err
			}
			defer s.Close(context.WithoutCancel(ctx))

			b, err := s.L.Get(ctx, seq)
			if err != nil {
				return err
			}
			return writeBlocks(cmd.OutOrStdout(), s, b)
		},
	}
}

func NewTailCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use: "tail",

		Short: "Print the last committed block",

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			s, err := c.open(ctx, nil)
			if err != nil {
				return err
			}
			defer s.Close(context.WithoutCancel(ctx))

			b, err := s.L.Tail(ctx)
			if err != nil {
				return err
			}
			return writeBlocks(cmd.OutOrStdout(), s, b)
		},
	}
}

func NewVerifyCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use: "verify",

		Short: "Recompute hashes and check signatures, authorization, and linkage",

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			s, err := c.open(ctx, nil)
			if err != nil {
				return err
			}
			defer s.Close(context.WithoutCancel(ctx))

			rep, err := s.L.ValidateRange(ctx, c.flagRange())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "checked %d blocks in %s\n", rep.Checked, rep.Range)
			if rep.Valid() {
				fmt.Fprintln(out, "all valid")
				return nil
			}

			for _, ib := range rep.Invalid {
				fmt.Fprintf(out, "block %d: %v\n", ib.Sequence, ib.Err)
			}
			if rep.Truncated {
				fmt.Fprintf(out, "... %d more not listed\n", rep.InvalidCount-uint64(len(rep.Invalid)))
			}
			return fmt.Errorf("%d invalid blocks", rep.InvalidCount)
		},
	}

	addRangeFlags(cmd.Flags())
	return cmd
}

func addRangeFlags(fs *pflag.FlagSet) {
	fs.Uint64("first", 0, "first sequence of the range")
	fs.Int64("last", -1, "last sequence of the range (default the tail)")
}

func (c *cli) flagRange() gblock.Range {
	r := gblock.RangeFrom(c.v.GetUint64("first"))
	if last := c.v.GetInt64("last"); last >= 0 {
		r.Last = uint64(last)
	}
	return r
}

func writeBlocks(w io.Writer, s *session, bs ...gblock.Block) error {
	codec := gblock.JSONCodec{CryptoRegistry: s.Reg}
	for _, b := range bs {
		j, err := codec.MarshalBlock(b)
		if err != nil {
			return err
		}
		j = append(j, '\n')
		if _, err := w.Write(j); err != nil {
			return err
		}
	}
	return nil
}

// openOutput returns standard output for "-", or creates path.
func openOutput(cmd *cobra.Command, path string) (io.Writer, func() error, error) {
	if path == "-" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}
