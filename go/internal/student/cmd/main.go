package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/classcast/go/internal/broadcast"
	"github.com/mcdev12/classcast/go/internal/config"
	"github.com/mcdev12/classcast/go/internal/gateway"
	"github.com/mcdev12/classcast/go/internal/store"
	"github.com/mcdev12/classcast/go/internal/student"
)

func main() {
	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	log.Info().
		Str("device_id", cfg.DeviceID).
		Str("transport", cfg.Transport).
		Str("namespace", cfg.Namespace).
		Str("store", cfg.Store).
		Msg("starting student device")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	channel, err := setupChannel(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open broadcast channel")
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := channel.Close(closeCtx); err != nil {
			log.Warn().Err(err).Msg("failed to close broadcast channel")
		}
	}()

	st, cleanup, err := setupStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open session store")
	}
	defer cleanup()

	hub := gateway.NewHub(gateway.DefaultConnectionConfig())
	go hub.Start(ctx)

	runtime, err := student.New(ctx, student.Deps{
		Channel:     channel,
		Store:       st,
		Navigator:   hub,
		AckDuration: cfg.AckDuration,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create student runtime")
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h2c.NewHandler(gateway.NewRouter(runtime, hub), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server failed")
			stop()
		}
	}()

	if err := runtime.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("student runtime stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	log.Info().Msg("student device stopped")
}

// networkChannel is a broadcast channel backed by a connection that must be closed.
type networkChannel interface {
	broadcast.Channel
	Close(ctx context.Context) error
}

func setupChannel(ctx context.Context, cfg config.Config) (networkChannel, error) {
	switch cfg.Transport {
	case config.TransportRedis:
		ch, err := broadcast.DialRedis(ctx, broadcast.RedisConfig{
			Addr:              cfg.Redis.Addr,
			Password:          cfg.Redis.Password,
			DB:                cfg.Redis.DB,
			Namespace:         cfg.Namespace,
			DeviceID:          cfg.DeviceID,
			AdvertiseInterval: cfg.AdvertiseInterval,
		})
		if err != nil {
			return nil, err
		}
		return ch, nil
	default:
		natsCfg := broadcast.DefaultNATSConfig()
		natsCfg.URL = cfg.NATSURL
		natsCfg.Namespace = cfg.Namespace
		natsCfg.DeviceID = cfg.DeviceID
		natsCfg.AdvertiseInterval = cfg.AdvertiseInterval
		ch, err := broadcast.DialNATS(natsCfg)
		if err != nil {
			return nil, err
		}
		return ch, nil
	}
}

func setupStore(cfg config.Config) (store.Store, func(), error) {
	switch cfg.Store {
	case config.StorePostgres:
		db, err := sql.Open("postgres", cfg.Database.DSN())
		if err != nil {
			return nil, nil, err
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, nil, err
		}
		log.Info().
			Str("database", cfg.Database.Database).
			Str("host", cfg.Database.Host).
			Msg("connected to preference database")
		return store.NewPostgresStore(db, cfg.DeviceID), func() { db.Close() }, nil
	case config.StoreMemory:
		return store.NewMemoryStore(), func() {}, nil
	default:
		return store.NewFileStore(cfg.StorePath), func() {}, nil
	}
}
