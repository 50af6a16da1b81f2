package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/gordian-engine/gledger/cmd/internal/gcmd"
	"github.com/gordian-engine/gledger/gauth"
	"github.com/gordian-engine/gledger/gbadger"
	"github.com/gordian-engine/gledger/gcrypto"
	"github.com/gordian-engine/gledger/gledger"
	"github.com/gordian-engine/gledger/gmetrics"
	"github.com/gordian-engine/gledger/gsqlite"
	"github.com/spf13/pflag"
)

// session is an open ledger and the stores behind it.
type session struct {
	L    *gledger.Ledger
	Auth gauth.Store
	Reg  *gcrypto.Registry

	closers []func() error
}

func (s *session) Close(ctx context.Context) error {
	var errs []error
	if s.L != nil {
		errs = append(errs, s.L.Close(ctx))
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

// openAuth opens only the key directory, for commands that do not touch blocks.
func (c *cli) openAuth(ctx context.Context) (*gsqlite.Store, error) {
	reg := gcrypto.NewDefaultRegistry()
	path := c.v.GetString("db")
	if c.v.GetString("backend") == "badger" {
		path = badgerMetaPath(path)
	}
	return gsqlite.NewOnDiskStore(ctx, path, reg)
}

func badgerMetaPath(dir string) string {
	return strings.TrimRight(dir, "/") + ".meta.sqlite"
}

// open opens the configured backend and a ledger over it.
// m may be nil.
func (c *cli) open(ctx context.Context, m *gmetrics.Metrics) (*session, error) {
	cfg, err := c.ledgerConfig()
	if err != nil {
		return nil, err
	}

	keys, err := c.keyRing()
	if err != nil {
		return nil, err
	}

	s := &session{Reg: gcrypto.NewDefaultRegistry()}
	be := gledger.Backend{
		Registry: s.Reg,
		Keys:     keys,
		Metrics:  m,
	}

	path := c.v.GetString("db")
	switch backend := c.v.GetString("backend"); backend {
	case "sqlite":
		db, err := gsqlite.NewOnDiskStore(ctx, path, s.Reg)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, db.Close)
		c.log.Debug("Opened sqlite store", "path", path, "build", db.BuildType)

		be.Store = db
		be.Directory = db
		be.Terms = db
		s.Auth = db

	case "badger":
		bs, err := gbadger.Open(c.log.With("sys", "badger"), gbadger.Config{
			Dir:        path,
			SyncWrites: true,
			Registry:   s.Reg,
		})
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, bs.Close)

		// Keys and search terms live in a sqlite file beside the badger directory.
		meta, err := gsqlite.NewOnDiskStore(ctx, badgerMetaPath(path), s.Reg)
		if err != nil {
			_ = s.Close(ctx)
			return nil, err
		}
		s.closers = append(s.closers, meta.Close)

		be.Store = bs
		be.Directory = meta
		be.Terms = meta
		s.Auth = meta

	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}

	l, err := gledger.Open(ctx, c.log, cfg, be)
	if err != nil {
		_ = s.Close(ctx)
		return nil, err
	}
	s.L = l
	return s, nil
}

// keyRing parses the --index-key values, each formatted as ID:HEX_KEY.
func (c *cli) keyRing() (*gcrypto.KeyRing, error) {
	vals := c.v.GetStringSlice("index-key")
	if len(vals) == 0 {
		return nil, nil
	}

	ring := gcrypto.NewKeyRing()
	for _, val := range vals {
		k, err := parseSymmetricKey(val)
		if err != nil {
			return nil, err
		}
		ring.Add(k)
	}
	return ring, nil
}

func parseSymmetricKey(val string) (gcrypto.SymmetricKey, error) {
	id, hexKey, ok := strings.Cut(val, ":")
	if !ok || id == "" {
		return gcrypto.SymmetricKey{}, fmt.Errorf("symmetric key must be formatted as ID:HEX_KEY")
	}
	material, err := hex.DecodeString(hexKey)
	if err != nil {
		return gcrypto.SymmetricKey{}, fmt.Errorf("failed to decode symmetric key %q: %w", id, err)
	}
	return gcrypto.NewSymmetricKey(id, material)
}

func addSignerFlags(fs *pflag.FlagSet) {
	fs.String("key-file", "", "file holding the signing key seed, as written by keygen")
	fs.String("passphrase", "", "derive the signing key from an insecure passphrase instead of a key file")
}

func (c *cli) signer() (gcrypto.Ed25519Signer, error) {
	if path := c.v.GetString("key-file"); path != "" {
		return gcmd.ReadKeyFile(path)
	}
	if p := c.v.GetString("passphrase"); p != "" {
		return gcmd.SignerFromInsecurePassphrase("gledger|", p)
	}
	return gcrypto.Ed25519Signer{}, errors.New("one of --key-file or --passphrase is required")
}
