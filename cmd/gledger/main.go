package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/gordian-engine/gledger/cmd/internal/gcmd"
	"github.com/gordian-engine/gledger/gledger"
	"github.com/gordian-engine/gledger/gstream"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"
)

const envPrefix = "GLEDGER"

func main() {
	if err := mainE(); err != nil {
		os.Exit(1)
	}
}

func mainE() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	root := NewRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Stderr.Sync()
		return err
	}

	return nil
}

// cli carries the state shared by every subcommand.
type cli struct {
	v   *viper.Viper
	log *slog.Logger
}

func NewRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	rootCmd := &cobra.Command{
		Use: "gledger SUBCOMMAND",

		CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},

		SilenceUsage:  true,
		SilenceErrors: true,

		Long: `gledger manages a tamper-evident, append-only ledger of signed blocks.

Getting started:

1. Create a signing key:
     $ gledger keygen --out my.key
     9f0c...e1 (public key)
2. Authorize it to write:
     $ gledger authorize 9f0c...e1 --label me
3. Append and read back:
     $ gledger append --key-file my.key 'hello world'
     $ gledger tail
     $ gledger verify

Every setting can also come from a config file (--config)
or from GLEDGER_* environment variables, e.g. GLEDGER_DB or GLEDGER_MAX_BATCH_SIZE.
`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init(cmd)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "path to a YAML, TOML, or JSON config file")
	pf.String("backend", "sqlite", "storage backend: sqlite or badger")
	pf.String("db", "gledger.db", "path to the sqlite database file or badger directory")
	pf.String("log-format", "text", "log format: text or json")
	pf.String("log-level", "warn", "minimum log level")
	pf.StringSlice("index-key", nil, "symmetric key for indexing encrypted payloads, as ID:HEX_KEY (repeatable)")

	rootCmd.AddCommand(
		NewKeygenCmd(c),
		NewAuthorizeCmd(c),

		NewAppendCmd(c),
		NewGetCmd(c),
		NewTailCmd(c),
		NewVerifyCmd(c),

		NewExportCmd(c),
		NewImportCmd(c),

		NewSearchCmd(c),
		NewReindexCmd(c),

		NewServeCmd(c),
	)

	return rootCmd
}

func (c *cli) init(cmd *cobra.Command) error {
	v := c.v

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}

	setLedgerDefaults(v)

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	log, err := gcmd.NewLogger(os.Stderr, v.GetString("log-format"), v.GetString("log-level"))
	if err != nil {
		return err
	}
	c.log = log

	return nil
}

func setLedgerDefaults(v *viper.Viper) {
	d := gledger.DefaultConfig()

	v.SetDefault("lock-timeout", d.LockTimeout)
	v.SetDefault("max-batch-size", d.MaxBatchSize)
	v.SetDefault("max-payload-size", d.MaxPayloadSize)
	v.SetDefault("index-workers", d.IndexWorkers)
	v.SetDefault("index-queue-size", d.IndexQueueSize)
	v.SetDefault("index-submit-timeout", d.IndexSubmitTimeout)
	v.SetDefault("index-visibility-target", d.IndexVisibilityTarget)
	v.SetDefault("default-chunk-size", d.DefaultChunkSize)
	v.SetDefault("max-export-blocks", d.MaxExportBlocks)
	v.SetDefault("max-search-results", d.MaxSearchResults)
	v.SetDefault("max-reported-invalid", d.MaxReportedInvalid)
	v.SetDefault("stream-strategy", d.StreamStrategy.String())
	v.SetDefault("reindex-rate", float64(d.ReindexRate))
}

// ledgerConfig reads the ledger limits from flags, environment, and config file.
func (c *cli) ledgerConfig() (gledger.Config, error) {
	v := c.v

	strategy, err := gstream.ParseStrategy(v.GetString("stream-strategy"))
	if err != nil {
		return gledger.Config{}, err
	}

	cfg := gledger.Config{
		LockTimeout:           v.GetDuration("lock-timeout"),
		MaxBatchSize:          v.GetInt("max-batch-size"),
		MaxPayloadSize:        v.GetInt("max-payload-size"),
		IndexWorkers:          v.GetInt("index-workers"),
		IndexQueueSize:        v.GetInt("index-queue-size"),
		IndexSubmitTimeout:    v.GetDuration("index-submit-timeout"),
		IndexVisibilityTarget: v.GetDuration("index-visibility-target"),
		DefaultChunkSize:      v.GetInt("default-chunk-size"),
		MaxExportBlocks:       v.GetUint64("max-export-blocks"),
		MaxSearchResults:      v.GetInt("max-search-results"),
		MaxReportedInvalid:    v.GetInt("max-reported-invalid"),
		StreamStrategy:        strategy,
		ReindexRate:           rate.Limit(v.GetFloat64("reindex-rate")),
	}
	if err := cfg.Validate(); err != nil {
		return gledger.Config{}, errors.Join(errors.New("invalid configuration"), err)
	}
	return cfg, nil
}
