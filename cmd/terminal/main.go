package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"offline-pos/config"
	"offline-pos/internal/api"
	"offline-pos/internal/events"
	"offline-pos/internal/models"
	"offline-pos/internal/service"
	"offline-pos/internal/store"
	"offline-pos/internal/syncclient"
	"offline-pos/internal/util"
	"offline-pos/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	app := &cli.App{
		Name:  "pos-terminal",
		Usage: "Offline-first point of sale terminal",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the terminal API and the background sync worker",
				Action: serve,
			},
			{
				Name:   "status",
				Usage:  "Print the sync queue state",
				Action: status,
			},
			{
				Name:   "retry-failed",
				Usage:  "Return every FAILED sync entry to PENDING",
				Action: retryFailed,
			},
			{
				Name:  "reset-local-data",
				Usage: "Delete the local database and start from a fresh bootstrap",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "yes",
						Usage: "Confirm that unsynced local records will be lost",
					},
				},
				Action: resetLocalData,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func openStore(ctx context.Context, cfg *config.Config, bus *events.Bus) (*store.Store, error) {
	s, err := store.Open(ctx, cfg.Store.Path, bus)
	if errors.Is(err, store.ErrCorrupt) {
		return nil, fmt.Errorf("%w; run `pos-terminal reset-local-data --yes` to start over", err)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Bootstrap(ctx, store.BootstrapOptions{
		AdminUsername: cfg.Store.AdminUsername,
		AdminPIN:      cfg.Store.AdminPIN,
	}); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func serve(c *cli.Context) error {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, "terminal"); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting POS terminal", zap.String("terminal_id", cfg.Terminal.ID))

	tp, err := util.InitTracer("pos-terminal", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	if tp != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				log.Printf("Error shutting down tracer: %v", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus()
	db, err := openStore(ctx, cfg, bus)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("Local store opened", zap.String("path", cfg.Store.Path))

	terminal := service.Terminal{
		ID:             cfg.Terminal.ID,
		Name:           cfg.Terminal.Name,
		OrganizationID: cfg.Terminal.OrganizationID,
		SyncEndpoint:   cfg.Sync.Endpoint,
	}
	inventory := service.NewInventoryService(db)
	txManager := service.NewTransactionManager(db, terminal)

	client := syncclient.NewClient(cfg.Sync.Token, cfg.Sync.HealthURL, cfg.Sync.Timeout)
	syncWorker := worker.NewSyncWorker(db, bus, client, service.NewSettingsLicenseGate(db), worker.Config{
		BatchSize:   cfg.Sync.BatchSize,
		MaxRetries:  cfg.Sync.MaxRetries,
		Interval:    cfg.Sync.Interval,
		BackoffBase: cfg.Sync.BackoffBase,
		BackoffMax:  cfg.Sync.BackoffMax,
	})

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	handler := api.NewTerminalHandler(api.TerminalDeps{
		Store:     db,
		Bus:       bus,
		Auth:      service.NewAuthService(db),
		Cart:      service.NewCartService(db, inventory, txManager),
		TxManager: txManager,
		Shifts:    service.NewShiftService(db, terminal),
		Stock:     service.NewStockService(db, terminal),
		Customers: service.NewCustomerService(db),
		Receipts:  service.NewReceiptSource(db, terminal),
		Sync:      syncWorker,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: handler.Router(cfg.Server.AllowedOrigins),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return syncWorker.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down terminal...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Server forced to shutdown", zap.Error(err))
		}
		return nil
	})

	err = g.Wait()
	logger.Info("Terminal exited")
	return err
}

func status(c *cli.Context) error {
	cfg := config.Load()
	db, err := openStore(c.Context, cfg, events.NewBus())
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := db.QueueStats(c.Context)
	if err != nil {
		return err
	}
	fmt.Printf("terminal:   %s\n", cfg.Terminal.ID)
	fmt.Printf("pending:    %d\n", stats.Pending)
	fmt.Printf("processing: %d\n", stats.Processing)
	fmt.Printf("failed:     %d\n", stats.Failed)

	failed, err := db.ListQueue(c.Context, models.QueueFailed)
	if err != nil {
		return err
	}
	for _, item := range failed {
		fmt.Printf("  #%d %s after %d attempts: %s\n",
			item.ID, item.CreatedAt.Format(time.RFC3339), item.RetryCount, item.LastError)
	}
	return nil
}

func retryFailed(c *cli.Context) error {
	cfg := config.Load()
	db, err := openStore(c.Context, cfg, events.NewBus())
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := db.RetryAllFailed(c.Context)
	if err != nil {
		return err
	}
	fmt.Printf("requeued %d entries\n", n)
	return nil
}

func resetLocalData(c *cli.Context) error {
	if !c.Bool("yes") {
		return cli.Exit("refusing to delete local data without --yes", 1)
	}
	cfg := config.Load()

	if err := store.Reset(cfg.Store.Path); err != nil {
		return err
	}
	db, err := openStore(c.Context, cfg, events.NewBus())
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Printf("local data at %s was reset\n", cfg.Store.Path)
	return nil
}
