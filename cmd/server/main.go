package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"offline-pos/config"
	"offline-pos/internal/api"
	"offline-pos/internal/broker"
	"offline-pos/internal/ingest"
	"offline-pos/internal/models"
	"offline-pos/internal/redisclient"
	"offline-pos/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:  "pos-sync-server",
		Usage: "Receiver for terminal sync packets",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Accept sync packets over HTTP",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "port",
						Value:   "8080",
						EnvVars: []string{"SERVER_PORT"},
					},
				},
				Action: serve,
			},
			{
				Name:  "issue-token",
				Usage: "Print a bearer token for a terminal",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "terminal-id", Required: true},
					&cli.StringFlag{Name: "organization-id", Required: true},
					&cli.DurationFlag{Name: "ttl", Usage: "token lifetime, 0 for no expiry"},
				},
				Action: issueToken,
			},
			{
				Name:  "watch-events",
				Usage: "Log receiver events from Kafka",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "group", Value: "pos-sync-watch"},
				},
				Action: watchEvents,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func serve(c *cli.Context) error {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, "server"); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting sync receiver")

	if cfg.Remote.AuthSecret == "" {
		return cli.Exit("AUTH_SECRET is required", 1)
	}

	tp, err := util.InitTracer("pos-sync-server", cfg.Observ.JaegerEndpoint)
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

	db, err := ingest.NewStore(cfg.Remote.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(c.Context); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	logger.Info("Database connected")

	deps := map[string]api.Pinger{"postgres": db}

	var dedupe ingest.Deduper
	if cfg.Remote.RedisAddr != "" {
		redisClient, err := redisclient.NewClient(cfg.Remote.RedisAddr, cfg.Remote.RedisPassword, cfg.Remote.RedisDB)
		if err != nil {
			// Postgres still rejects duplicate packets on its own.
			logger.Warn("Redis unavailable, packet dedupe disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
			dedupe = redisClient
			deps["redis"] = redisClient
			logger.Info("Redis connected")
		}
	}

	var sink ingest.EventSink
	if len(cfg.Remote.KafkaBrokers) > 0 {
		producer := broker.NewProducer(cfg.Remote.KafkaBrokers, cfg.Remote.KafkaTopicSync)
		defer producer.Close()
		sink = broker.NewEventPublisher(producer)
		logger.Info("Kafka producer initialized", zap.String("topic", cfg.Remote.KafkaTopicSync))
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	handler := api.NewSyncHandler(ingest.NewService(db, dedupe, sink), []byte(cfg.Remote.AuthSecret), deps)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", c.String("port")),
		Handler: handler.Router(cfg.Server.AllowedOrigins),
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", c.String("port")))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
	return nil
}

func issueToken(c *cli.Context) error {
	cfg := config.Load()
	token, err := ingest.IssueToken([]byte(cfg.Remote.AuthSecret),
		c.String("terminal-id"), c.String("organization-id"), c.Duration("ttl"))
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func watchEvents(c *cli.Context) error {
	cfg := config.Load()
	if err := util.InitLogger(cfg.Server.Env, "server"); err != nil {
		return err
	}
	defer util.SyncLogger()
	logger := util.GetLogger()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumer := broker.NewConsumer(cfg.Remote.KafkaBrokers, cfg.Remote.KafkaTopicSync, c.String("group"))
	defer consumer.Close()

	handler := broker.NewEventHandler()
	handler.OnPacketIngested(func(ctx context.Context, e *models.SyncPacketIngestedEvent) error {
		logger.Info("Packet ingested",
			zap.String("packet_id", e.PacketID),
			zap.String("terminal_id", e.TerminalID),
			zap.Int("sales", e.Sales),
			zap.Int("stock_movements", e.StockMovements))
		return nil
	})
	handler.OnSaleSynced(func(ctx context.Context, e *models.SaleSyncedEvent) error {
		logger.Info("Sale synced",
			zap.String("terminal_id", e.TerminalID),
			zap.String("invoice", e.InvoiceNumber),
			zap.String("status", string(e.Status)),
			zap.Float64("total", e.TotalAmount))
		return nil
	})

	return consumer.StartConsuming(ctx, handler.HandleMessage)
}
