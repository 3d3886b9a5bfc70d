package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/R3E-Network/imagebulk/internal/app"
	"github.com/R3E-Network/imagebulk/internal/app/events"
	"github.com/R3E-Network/imagebulk/internal/app/storage/postgres"
	"github.com/R3E-Network/imagebulk/internal/app/storage/postgres/migrations"
	"github.com/R3E-Network/imagebulk/internal/app/storage/redisstore"
	"github.com/R3E-Network/imagebulk/internal/config"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background services",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := newLogger(cfg.Logging)
	log.WithField("version", version).WithField("env", cfg.Environment).Info("starting imagebulk")

	var (
		stores app.Stores
		deps   app.Dependencies
	)

	if strings.EqualFold(cfg.Database.Driver, "postgres") {
		db, err := postgres.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
		if err != nil {
			return err
		}
		defer db.Close()

		if cfg.Database.MigrateOnStart {
			if err := migrations.Up(db.DB); err != nil {
				return err
			}
			log.Info("database migrations applied")
		}

		store := postgres.New(db)
		stores = app.Stores{Accounts: store, Downloads: store, Payments: store, Codes: store, Feedback: store}
		deps.Database = db
	} else {
		log.Warn("DATABASE_DRIVER=memory; data is lost on restart")
	}

	if cfg.Redis.Addr != "" {
		client, err := redisstore.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer client.Close()
		stores.Codes = redisstore.New(client, "")
		log.WithField("addr", cfg.Redis.Addr).Info("verification codes stored in redis")
	}

	if cfg.Events.NATSURL != "" {
		publisher, err := events.Connect(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, log.Named("events"))
		if err != nil {
			return err
		}
		defer publisher.Close()
		deps.Events = publisher
	}

	application, err := app.New(cfg, stores, deps, version, log)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	if err := application.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	return application.Stop(shutdownCtx)
}
