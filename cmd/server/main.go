package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/kaironbot/economy/internal/economy/catalog"
	"github.com/kaironbot/economy/internal/economy/confirm"
	"github.com/kaironbot/economy/internal/economy/ops"
	"github.com/kaironbot/economy/internal/economy/schedule"
	"github.com/kaironbot/economy/internal/economy/tuning"
	"github.com/kaironbot/economy/internal/economy/txn"
	"github.com/kaironbot/economy/internal/persistence/ledgerdb"
	persistlog "github.com/kaironbot/economy/internal/persistence/log"
	"github.com/kaironbot/economy/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		dbPath     = flag.String("db", "", "sqlite ledger path (default: <data>/economy.db)")
		noMirror   = flag.Bool("disable_ledger_mirror", false, "disable the compressed JSONL ledger mirror")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		tune = tuning.Default()
		logger.Printf("no tuning.yaml, using defaults")
	}

	cats, err := catalog.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}
	for file, digest := range cats.Digests {
		logger.Printf("catalog %s digest=%s", file, digest[:12])
	}

	dp := strings.TrimSpace(*dbPath)
	if dp == "" {
		dp = filepath.Join(*dataDir, "economy.db")
	}
	store, err := ledgerdb.Open(dp)
	if err != nil {
		logger.Fatalf("open ledger store: %v", err)
	}
	defer store.Close()

	var mirror txn.Mirror
	if !*noMirror {
		m := persistlog.NewLedgerMirror(*dataDir)
		defer m.Close()
		mirror = m
	}

	composer := txn.NewComposer(store, mirror, logger)
	tokens := confirm.NewStore()
	svc := ops.NewService(cats, store, composer, tokens, tune, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatcher := schedule.NewDispatcher(store, composer, tune.DispatchInterval(), tune.DispatchBatch, logger)
	go dispatcher.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", ws.NewServer(svc, cats.Digests, logger).Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("serve: %v", err)
	}
	logger.Printf("shutdown complete")
}
