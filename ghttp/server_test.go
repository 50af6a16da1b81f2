package ghttp_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gordian-engine/gledger/gauth"
	"github.com/gordian-engine/gledger/gbatch"
	"github.com/gordian-engine/gledger/gblock"
	"github.com/gordian-engine/gledger/gchainstore"
	"github.com/gordian-engine/gledger/gchainstore/gchainmemstore"
	"github.com/gordian-engine/gledger/gcrypto"
	"github.com/gordian-engine/gledger/gcrypto/gcryptotest"
	"github.com/gordian-engine/gledger/ghttp"
	"github.com/gordian-engine/gledger/gindex"
	"github.com/gordian-engine/gledger/gledger"
	"github.com/gordian-engine/gledger/gmetrics"
	"github.com/gordian-engine/gledger/internal/gtest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	L      *gledger.Ledger
	Store  *gchainmemstore.Store
	Signer gcrypto.Signer
	Codec  gblock.JSONCodec

	Server *httptest.Server
}

func newFixture(t *testing.T, withSigner bool) *fixture {
	t.Helper()

	ctx := context.Background()
	signers := gcryptotest.DeterministicEd25519Signers(1)
	reg := gcrypto.NewDefaultRegistry()

	auth := gauth.NewMemStore()
	require.NoError(t, auth.PutKey(ctx, gauth.AuthorizedKey{
		PubKey:    signers[0].PubKey(),
		ValidFrom: time.Unix(0, 0),
		Status:    gauth.StatusActive,
	}))

	promReg := prometheus.NewRegistry()
	cfg := gledger.DefaultConfig()
	cfg.MaxSearchResults = 10

	store := gchainmemstore.New(gchainstore.Capabilities{})
	l, err := gledger.Open(ctx, gtest.NewLogger(t), cfg, gledger.Backend{
		Store:     store,
		Directory: auth,
		Registry:  reg,
		Metrics:   gmetrics.New(promReg),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, l.Close(context.Background()))
	})

	hcfg := ghttp.HTTPServerConfig{
		Ledger:         l,
		CryptoRegistry: reg,
		Gatherer:       promReg,
	}
	if withSigner {
		hcfg.Signer = signers[0]
	}
	srv := httptest.NewServer(ghttp.NewHandler(gtest.NewLogger(t), hcfg))
	t.Cleanup(srv.Close)

	return &fixture{
		L:      l,
		Store:  store,
		Signer: signers[0],
		Codec:  gblock.JSONCodec{CryptoRegistry: reg},
		Server: srv,
	}
}

func (f *fixture) fill(t *testing.T, texts ...string) gbatch.Result {
	t.Helper()

	reqs := make([]gbatch.Request, len(texts))
	for i, s := range texts {
		reqs[i] = gbatch.Request{Payload: gblock.Payload{Data: []byte(s)}, Signer: f.Signer}
	}
	res, err := f.L.SubmitBatch(context.Background(), reqs)
	require.NoError(t, err)

	_, err = res.Index.Wait(context.Background())
	require.NoError(t, err)
	return res
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.Server.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(f.Server.URL+path, "application/json", &buf)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) decodeBlock(t *testing.T, r io.Reader) gblock.Block {
	t.Helper()
	j, err := io.ReadAll(r)
	require.NoError(t, err)
	var b gblock.Block
	require.NoError(t, f.Codec.UnmarshalBlock(j, &b))
	return b
}

func TestHTTP_Blocks(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)

	t.Run("tail of empty ledger", func(t *testing.T) {
		resp := f.get(t, "/blocks/tail")
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	res := f.fill(t, "zero", "one", "two")

	t.Run("tail", func(t *testing.T) {
		resp := f.get(t, "/blocks/tail")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		b := f.decodeBlock(t, resp.Body)
		require.Equal(t, res.Blocks[2].Hash, b.Hash)
	})

	t.Run("by sequence", func(t *testing.T) {
		resp := f.get(t, "/blocks/1")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		b := f.decodeBlock(t, resp.Body)
		require.Equal(t, []byte("one"), b.Payload.Data)
	})

	t.Run("missing", func(t *testing.T) {
		resp := f.get(t, "/blocks/99")
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("append route absent without signer", func(t *testing.T) {
		resp := f.post(t, "/blocks", ghttp.AppendRequest{Data: []byte("x")})
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestHTTP_Append(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)

	resp := f.post(t, "/blocks", ghttp.AppendRequest{Data: []byte("posted")})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var ar ghttp.AppendResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ar))
	require.NotZero(t, ar.IndexTask)

	var b gblock.Block
	require.NoError(t, f.Codec.UnmarshalBlock(ar.Block, &b))
	require.Zero(t, b.Sequence)
	require.Equal(t, []byte("posted"), b.Payload.Data)

	t.Run("empty payload rejected", func(t *testing.T) {
		resp := f.post(t, "/blocks", ghttp.AppendRequest{})
		require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("malformed body", func(t *testing.T) {
		resp, err := http.Post(f.Server.URL+"/blocks", "application/json", bytes.NewReader([]byte("{")))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestHTTP_Validate(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	f.fill(t, "a0", "a1", "a2", "a3")

	resp := f.get(t, "/validate")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var vr ghttp.ValidateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&vr))
	require.True(t, vr.Valid)
	require.Equal(t, uint64(4), vr.Checked)

	f.Store.Tamper(2, func(b *gblock.Block) {
		b.Payload.Data = []byte("forged")
	})

	resp = f.get(t, "/validate?first=1&last=3")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	vr = ghttp.ValidateResponse{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&vr))
	require.False(t, vr.Valid)
	require.Equal(t, uint64(3), vr.Checked)
	require.Equal(t, uint64(2), vr.Invalid[0].Sequence)
	require.Equal(t, "hash", vr.Invalid[0].Field)

	resp = f.get(t, "/validate?first=3&last=1")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHTTP_Search(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	f.fill(t, "red apple", "green pear", "red cherry")

	t.Run("index", func(t *testing.T) {
		resp := f.get(t, "/search?q=red")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var sr ghttp.SearchResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&sr))
		require.Equal(t, "red", sr.Term)
		require.Len(t, sr.Hits, 2)
		require.False(t, sr.Truncated)
	})

	t.Run("scan", func(t *testing.T) {
		resp := f.get(t, "/search?q=red&scan=true&first=1")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var sr ghttp.SearchResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&sr))
		require.Len(t, sr.Hits, 1)

		var b gblock.Block
		require.NoError(t, f.Codec.UnmarshalBlock(sr.Hits[0], &b))
		require.Equal(t, uint64(2), b.Sequence)
	})

	t.Run("missing term", func(t *testing.T) {
		resp := f.get(t, "/search")
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("limit over maximum", func(t *testing.T) {
		resp := f.get(t, "/search?q=red&limit=11")
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestHTTP_Index(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	f.fill(t, "one", "two", "three")

	resp := f.post(t, "/index?first=1", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var sr ghttp.ScheduleResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sr))
	require.NotZero(t, sr.TaskID)
	require.Equal(t, uint64(1), sr.First)
	require.Equal(t, uint64(2), sr.Last)

	require.Eventually(t, func() bool {
		resp, err := http.Get(f.Server.URL + "/index/stats")
		if err != nil {
			return false
		}
		defer resp.Body.Close()

		var st gindex.Stats
		if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
			return false
		}
		return st.Succeeded == 2 && st.Pending == 0 && st.Running == 0
	}, time.Duration(gtest.ScaleMs(5000)), 10*time.Millisecond)

	require.NoError(t, f.L.Close(context.Background()))
	resp = f.post(t, "/index", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHTTP_Metrics(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	f.fill(t, "counted")

	resp := f.get(t, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "gledger_")
}

func TestHTTPServer_Lifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	f.fill(t, "served")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln, err := (new(net.ListenConfig)).Listen(ctx, "tcp", "127.0.0.1:0")
	require.NoError(t, err)

	h := ghttp.NewHTTPServer(ctx, gtest.NewLogger(t), ghttp.HTTPServerConfig{
		Listener: ln,
		Ledger:   f.L,
	})

	resp, err := http.Get(fmt.Sprintf("http://%s/blocks/0", ln.Addr()))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()

	done := make(chan struct{})
	go func() {
		h.Wait()
		close(done)
	}()
	_ = gtest.ReceiveSoon(t, done)
}
