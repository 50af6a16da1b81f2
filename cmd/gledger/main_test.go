package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gordian-engine/gledger/gblock"
	"github.com/gordian-engine/gledger/gcrypto"
	"github.com/stretchr/testify/require"
)

// run executes one CLI invocation and returns its standard output.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append(args, "--log-level", "error"))

	err := root.ExecuteContext(context.Background())
	if errOut.Len() > 0 {
		t.Logf("stderr: %s", errOut.String())
	}
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	require.NoError(t, err)
	return out
}

func decodeLines(t *testing.T, out string) []gblock.Block {
	t.Helper()

	codec := gblock.JSONCodec{CryptoRegistry: gcrypto.NewDefaultRegistry()}
	var bs []gblock.Block
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		var b gblock.Block
		require.NoError(t, codec.UnmarshalBlock([]byte(line), &b))
		bs = append(bs, b)
	}
	return bs
}

func TestCLI_Workflow(t *testing.T) {
	t.Parallel()

	for _, backend := range []string{"sqlite", "badger"} {
		t.Run(backend, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			db := filepath.Join(dir, "ledger")
			keyFile := filepath.Join(dir, "signer.key")
			common := []string{"--backend", backend, "--db", db}
			with := func(args ...string) []string {
				return append(args, common...)
			}

			pub := strings.TrimSpace(mustRun(t, with("keygen", "--out", keyFile)...))
			require.Len(t, pub, 64)

			// Not authorized yet.
			_, err := run(t, with("append", "--key-file", keyFile, "too early")...)
			require.Error(t, err)

			mustRun(t, with("authorize", pub, "--from", "2000-01-01T00:00:00Z", "--label", "test")...)

			bs := decodeLines(t, mustRun(t, with("append", "--key-file", keyFile, "--genesis", "first entry")...))
			require.Len(t, bs, 1)
			require.True(t, bs[0].IsGenesis())

			bs = decodeLines(t, mustRun(t, with("append", "--key-file", keyFile, "--wait", "second entry", "third entry")...))
			require.Len(t, bs, 2)
			require.Equal(t, uint64(2), bs[1].Sequence)

			tail := decodeLines(t, mustRun(t, with("tail")...))
			require.Equal(t, bs[1].Hash, tail[0].Hash)

			got := decodeLines(t, mustRun(t, with("get", "1")...))
			require.Equal(t, []byte("second entry"), got[0].Payload.Data)

			require.Contains(t, mustRun(t, with("verify")...), "all valid")

			hits := decodeLines(t, mustRun(t, with("search", "third")...))
			require.Len(t, hits, 1)
			require.Equal(t, uint64(2), hits[0].Sequence)

			hits = decodeLines(t, mustRun(t, with("search", "--scan", "entry", "--first", "1")...))
			require.Len(t, hits, 2)

			mustRun(t, with("reindex")...)

			export := filepath.Join(dir, "export.jsonl.sz")
			mustRun(t, with("export", export)...)

			// Replay into a fresh ledger that trusts the same key.
			db2 := filepath.Join(dir, "copy")
			common2 := []string{"--backend", backend, "--db", db2}
			mustRun(t, append([]string{"authorize", pub, "--from", "2000-01-01T00:00:00Z"}, common2...)...)
			mustRun(t, append([]string{"import", export}, common2...)...)

			copyTail := decodeLines(t, mustRun(t, append([]string{"tail"}, common2...)...))
			require.Equal(t, tail[0].Hash, copyTail[0].Hash)

			// Revoked keys can no longer append.
			mustRun(t, with("authorize", pub, "--revoke")...)
			_, err = run(t, with("append", "--key-file", keyFile, "too late")...)
			require.Error(t, err)
		})
	}
}

func TestCLI_PassphraseKeygenIsDeterministic(t *testing.T) {
	t.Parallel()

	a := mustRun(t, "keygen", "--passphrase", "hunter2")
	b := mustRun(t, "keygen", "--passphrase", "hunter2")
	require.Equal(t, a, b)

	c := mustRun(t, "keygen", "--passphrase", "hunter3")
	require.NotEqual(t, a, c)
}

func TestCLI_InvalidConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := run(t, "tail", "--db", filepath.Join(dir, "db"), "--log-format", "xml")
	require.ErrorContains(t, err, "log format")
}
