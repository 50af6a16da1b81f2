package main

import (
	"fmt"
	"time"

	"github.com/gordian-engine/gledger/cmd/internal/gcmd"
	"github.com/gordian-engine/gledger/gauth"
	"github.com/gordian-engine/gledger/gcrypto"
	"github.com/spf13/cobra"
)

func NewKeygenCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use: "keygen",

		Short: "Create a new signing key and print its public key",

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				signer gcrypto.Ed25519Signer
				err    error
			)
			if p := c.v.GetString("passphrase"); p != "" {
				signer, err = gcmd.SignerFromInsecurePassphrase("gledger|", p)
			} else {
				signer, err = gcmd.GenerateSigner()
			}
			if err != nil {
				return err
			}

			if out := c.v.GetString("out"); out != "" {
				if err := gcmd.WriteKeyFile(out, signer); err != nil {
					return err
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%x\n", signer.PubKey().PubKeyBytes())
			return nil
		},
	}

	cmd.Flags().String("out", "", "write the key seed to this file (must not exist)")
	cmd.Flags().String("passphrase", "", "derive the key from an insecure passphrase instead of generating one")

	return cmd
}

func NewAuthorizeCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use: "authorize PUBKEY_HEX",

		Short: "Authorize a public key to sign blocks, or revoke it",

		Long: `Authorize a public key to sign blocks within a validity window.

With --revoke, the key's window is closed at --until (default now).
Blocks it signed earlier remain valid.`,

		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			pub, err := gcmd.ParsePubKey(args[0])
			if err != nil {
				return err
			}

			db, err := c.openAuth(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			until := c.v.GetTime("until")

			if c.v.GetBool("revoke") {
				if until.IsZero() {
					until = time.Now()
				}
				if err := gauth.Revoke(ctx, db, pub, until); err != nil {
					return err
				}
				c.log.Info("Revoked key", "until", until)
				return nil
			}

			from := c.v.GetTime("from")
			if from.IsZero() {
				from = time.Now()
			}
			return db.PutKey(ctx, gauth.AuthorizedKey{
				PubKey:     pub,
				ValidFrom:  from.UTC(),
				ValidUntil: until.UTC(),
				Status:     gauth.StatusActive,
				Label:      c.v.GetString("label"),
			})
		},
	}

	cmd.Flags().String("from", "", "start of the validity window, RFC 3339 (default now)")
	cmd.Flags().String("until", "", "end of the validity window, RFC 3339 (default open-ended)")
	cmd.Flags().String("label", "", "description of the key holder")
	cmd.Flags().Bool("revoke", false, "close the key's validity window instead of authorizing it")

	return cmd
}
