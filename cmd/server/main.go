package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/maplepay/matcher/internal/api"
	"github.com/maplepay/matcher/internal/config"
	"github.com/maplepay/matcher/internal/domain"
	"github.com/maplepay/matcher/internal/logging"
	"github.com/maplepay/matcher/internal/matching"
	"github.com/maplepay/matcher/internal/metrics"
	"github.com/maplepay/matcher/internal/notify"
	"github.com/maplepay/matcher/internal/poller"
	"github.com/maplepay/matcher/internal/recon"
	"github.com/maplepay/matcher/internal/repository"
	"github.com/maplepay/matcher/internal/rotation"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional; defaults and env apply)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "matcher: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Env)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer log.Sync() //nolint:errcheck // stdout sync failure at exit is uninteresting

	log.Info("initializing database", zap.String("path", cfg.Database.Path))
	db, err := repository.InitDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("init db: %w", err)
	}
	defer db.Close()

	// Repositories.
	orderRepo := repository.NewOrderRepo(db)
	aliasRepo := repository.NewAliasRepo(db)
	eventRepo := repository.NewEventRepo(db)
	unmatchedRepo := repository.NewUnmatchedRepo(db)
	notifRepo := repository.NewNotificationRepo(db)

	// Seed aliases if the table is empty.
	if err := seedAliases(context.Background(), aliasRepo, log); err != nil {
		log.Warn("alias seeding failed, rotation will use the static default",
			zap.Error(err))
	}

	// Metrics registry.
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry)

	// Services.
	engine := matching.NewEngine(orderRepo, matching.Config{
		TolerancePct:  cfg.Matching.ReferenceTolerancePct,
		RecencyWindow: cfg.Matching.RecencyWindow,
	}, log.Named("matching"))

	sender := notify.NewLogSender(log.Named("notify"))

	processor := recon.NewProcessor(engine, orderRepo, eventRepo, unmatchedRepo,
		sender, m, recon.Config{
			AutoConfirmMin: cfg.Matching.AutoConfirmMin,
			ReviewMin:      cfg.Matching.ReviewMin,
			PendingTTL:     cfg.Orders.PendingTTL,
		}, log.Named("recon"))

	selector := rotation.NewSelector(aliasRepo, rotation.Config{
		OrdersPerRotation: cfg.Rotation.OrdersPerRotation,
		EnforceDailyCap:   cfg.Rotation.EnforceDailyCap,
		MaxWriteAttempts:  cfg.Rotation.MaxWriteAttempts,
		DefaultEmail:      cfg.Rotation.DefaultAliasEmail,
		DefaultLabel:      cfg.Rotation.DefaultAliasLabel,
	}, log.Named("rotation"))

	p := poller.New(notifRepo, processor, poller.Config{
		Interval:  cfg.Poller.Interval,
		BatchSize: cfg.Poller.BatchSize,
	}, log.Named("poller"))

	router := api.NewRouter(api.Deps{
		Orders:       orderRepo,
		Aliases:      aliasRepo,
		Events:       eventRepo,
		Unmatched:    unmatchedRepo,
		Notification: notifRepo,
		Selector:     selector,
		Processor:    processor,
		Metrics:      m,
		Registry:     registry,
		Log:          log.Named("api"),
		PendingTTL:   cfg.Orders.PendingTTL,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pollerDone := make(chan struct{})
	go func() {
		defer close(pollerDone)
		p.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		stop()
		<-pollerDone
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown did not finish cleanly", zap.Error(err))
	}

	// The poller stops between cycles, never mid-flight.
	<-pollerDone

	log.Info("shutdown complete")
	return nil
}

func seedAliases(ctx context.Context, repo *repository.AliasRepo, log *zap.Logger) error {
	existing, err := repo.List(ctx)
	if err != nil {
		return fmt.Errorf("list aliases: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	candidates := []string{
		filepath.Join("testdata", "aliases.json"),
	}
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		candidates = append(candidates,
			filepath.Join(dir, "testdata", "aliases.json"),
			filepath.Join(dir, "..", "..", "testdata", "aliases.json"),
		)
	}

	var data []byte
	var loadErr error
	for _, path := range candidates {
		if data, loadErr = os.ReadFile(path); loadErr == nil {
			log.Info("seeding aliases", zap.String("path", path))
			break
		}
	}
	if loadErr != nil {
		return fmt.Errorf("no aliases.json found: %w", loadErr)
	}

	var aliases []domain.Alias
	if err := json.Unmarshal(data, &aliases); err != nil {
		return fmt.Errorf("unmarshal aliases: %w", err)
	}
	for i := range aliases {
		if _, err := repo.Insert(ctx, &aliases[i]); err != nil {
			return fmt.Errorf("insert alias %s: %w", aliases[i].Email, err)
		}
	}
	log.Info("aliases seeded", zap.Int("count", len(aliases)))
	return nil
}
