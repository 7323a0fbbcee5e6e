package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"scriptoria.org/internal/audit"
	"scriptoria.org/internal/auth"
	"scriptoria.org/internal/authz"
	"scriptoria.org/internal/config"
	"scriptoria.org/internal/httpapi"
	"scriptoria.org/internal/lifecycle"
	"scriptoria.org/internal/notify"
	"scriptoria.org/internal/obs"
	"scriptoria.org/internal/precheck"
	"scriptoria.org/internal/production"
	"scriptoria.org/internal/store/pg"
	"scriptoria.org/internal/stream"
)

// Overridden at build time via -ldflags.
var (
	version = "0.4.1"
	commit  = "dev"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)
	if cfg.Auth.JWTSecret != "" {
		auth.SetSecret(cfg.Auth.JWTSecret)
	}

	store, err := pg.Open(cfg.ConnectionString())
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	ledger := audit.NewLedger(store)
	authorizer := authz.New(authz.Config{EnforceJournalScope: cfg.Editorial.EnforceJournalScope}, store)
	dispatch := notify.LogDispatcher{}
	events := stream.New()

	var pdfScheduler lifecycle.PDFScheduler = lifecycle.PDFSchedulerFunc(func(ctx context.Context, manuscriptID string) error {
		// Rendering runs out of process; the hook only records intent.
		obs.Warn("pdf rendering not wired, skipping", map[string]any{"manuscript_id": manuscriptID})
		return nil
	})

	lifecycleSvc := lifecycle.NewService(store, store, store, ledger, authorizer, dispatch, pdfScheduler)
	precheckSvc := precheck.NewService(store, ledger, authorizer, dispatch)
	productionSvc := production.NewService(production.Config{
		RequireApprovedCycle: cfg.Editorial.RequireApprovedCycle,
		DOIPrefix:            cfg.Editorial.DOIPrefix,
	}, store, store, store, ledger, authorizer, dispatch)

	ready := httpapi.ReadyProbe{DB: store.DB()}
	api := httpapi.New(httpapi.Options{
		Lifecycle:  lifecycleSvc,
		Precheck:   precheckSvc,
		Production: productionSvc,
		Stream:     events,
		Ready:      ready,
		Version:    version,
		RateRPS:    cfg.RateLimit.PerSecond,
		RateBurst:  cfg.RateLimit.Burst,
	})

	srv := &http.Server{
		Addr:              cfg.App.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	grpcSrv := httpapi.NewGRPCServer(rootCtx, ready)
	go func() {
		lis, err := net.Listen("tcp", cfg.App.GRPCAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		if err := grpcSrv.Serve(lis); err != nil {
			log.Printf("grpc serve: %v", err)
		}
	}()

	log.Printf("Starting scriptoria-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	grpcSrv.GracefulStop()
	rootCancel()
	log.Println("Stopped")
}
