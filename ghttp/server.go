// Package ghttp serves a JSON HTTP API over a [*gledger.Ledger].
package ghttp

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/gordian-engine/gledger/gblock"
	"github.com/gordian-engine/gledger/gcrypto"
	"github.com/gordian-engine/gledger/gledger"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServer struct {
	done chan struct{}
}

type HTTPServerConfig struct {
	Listener net.Listener

	Ledger *gledger.Ledger

	// Signer for blocks submitted with POST /blocks.
	// If nil, the route is not registered.
	Signer gcrypto.Signer

	CryptoRegistry *gcrypto.Registry

	// If set, metrics are served at /metrics.
	Gatherer prometheus.Gatherer
}

// NewHTTPServer serves on cfg.Listener until ctx is canceled.
func NewHTTPServer(ctx context.Context, log *slog.Logger, cfg HTTPServerConfig) *HTTPServer {
	srv := &http.Server{
		Handler: NewHandler(log, cfg),

		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	h := &HTTPServer{
		done: make(chan struct{}),
	}
	go h.serve(log, cfg.Listener, srv)
	go h.waitForShutdown(ctx, srv)

	return h
}

// Wait blocks until the server has stopped.
func (h *HTTPServer) Wait() {
	<-h.done
}

func (h *HTTPServer) waitForShutdown(ctx context.Context, srv *http.Server) {
	select {
	case <-h.done:
		return
	case <-ctx.Done():
		_ = srv.Close()
	}
}

func (h *HTTPServer) serve(log *slog.Logger, ln net.Listener, srv *http.Server) {
	defer close(h.done)

	if err := srv.Serve(ln); err != nil {
		if errors.Is(err, net.ErrClosed) || errors.Is(err, http.ErrServerClosed) {
			log.Info("HTTP server shutting down")
		} else {
			log.Info("HTTP server shutting down due to error", "err", err)
		}
	}
}

// NewHandler returns the router for the ledger API,
// for callers that manage their own server.
func NewHandler(log *slog.Logger, cfg HTTPServerConfig) http.Handler {
	if cfg.CryptoRegistry == nil {
		cfg.CryptoRegistry = gcrypto.NewDefaultRegistry()
	}
	a := &api{
		log:    log,
		l:      cfg.Ledger,
		signer: cfg.Signer,
		codec:  gblock.JSONCodec{CryptoRegistry: cfg.CryptoRegistry},
	}

	r := mux.NewRouter()

	r.HandleFunc("/blocks/tail", a.handleTail).Methods("GET")
	r.HandleFunc("/blocks/{seq:[0-9]+}", a.handleGet).Methods("GET")
	if cfg.Signer != nil {
		r.HandleFunc("/blocks", a.handleAppend).Methods("POST")
	}

	r.HandleFunc("/validate", a.handleValidate).Methods("GET")
	r.HandleFunc("/search", a.handleSearch).Methods("GET")

	r.HandleFunc("/index", a.handleSchedule).Methods("POST")
	r.HandleFunc("/index/stats", a.handleIndexStats).Methods("GET")

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	return r
}
