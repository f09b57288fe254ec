package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ineilsen/agent-builder-sub002/internal/connectivity"
	"github.com/ineilsen/agent-builder-sub002/internal/kv"
	"github.com/ineilsen/agent-builder-sub002/internal/poscache"
	"github.com/ineilsen/agent-builder-sub002/internal/trace"
	"github.com/ineilsen/agent-builder-sub002/internal/transport"
)

const httpPoolSize = 4

func openCacheStore() (*kv.SQLiteStore, error) {
	return kv.OpenSQLite(cfg.CachePath)
}

func openPositions() (*poscache.Cache, *kv.SQLiteStore, error) {
	store, err := openCacheStore()
	if err != nil {
		return nil, nil, err
	}
	pc, err := poscache.New(store)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return pc, store, nil
}

func openArchive() (*trace.Store, error) {
	if cfg.TraceDatabaseURL == "" {
		return nil, errors.New("trace_database_url is not set")
	}
	return trace.Open(cfg.TraceDatabaseURL)
}

func connectivityClient() *connectivity.Client {
	return connectivity.NewClient(cfg.APIBase, transport.NewPooledHTTPClient(httpPoolSize, 30*time.Second))
}

// serveMetrics exposes /metrics on addr. It returns nil when addr is empty.
func serveMetrics(addr string) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		slog.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}

func shutdown(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}
