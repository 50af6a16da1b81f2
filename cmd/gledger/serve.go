package main

import (
	"context"
	"net"

	"github.com/gordian-engine/gledger/ghttp"
	"github.com/gordian-engine/gledger/gmetrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

func NewServeCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use: "serve",

		Short: "Serve the HTTP API until interrupted",

		Long: `Serve the HTTP API until interrupted.

POST /blocks is only available when a signing key is given.
Prometheus metrics are served at /metrics.`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			s, err := c.open(ctx, gmetrics.New(reg))
			if err != nil {
				return err
			}
			defer s.Close(context.WithoutCancel(ctx))

			hcfg := ghttp.HTTPServerConfig{
				Ledger:         s.L,
				CryptoRegistry: s.Reg,
				Gatherer:       reg,
			}
			if c.v.GetString("key-file") != "" || c.v.GetString("passphrase") != "" {
				signer, err := c.signer()
				if err != nil {
					return err
				}
				hcfg.Signer = signer
			}

			ln, err := (new(net.ListenConfig)).Listen(ctx, "tcp", c.v.GetString("listen"))
			if err != nil {
				return err
			}
			hcfg.Listener = ln
			c.log.Info("Serving HTTP API", "addr", ln.Addr().String(), "writes", hcfg.Signer != nil)

			h := ghttp.NewHTTPServer(ctx, c.log.With("sys", "http"), hcfg)
			h.Wait()

			return nil
		},
	}

	addSignerFlags(cmd.Flags())
	cmd.Flags().String("listen", "127.0.0.1:8080", "address to listen on")

	return cmd
}
