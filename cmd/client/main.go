package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"client/channel"
	"client/config"
	"client/domain"
	"client/game"
	"client/lobby"
	"client/logger"
	"client/storage"
	"client/storage/migrations"
	"client/web"

	"golang.org/x/time/rate"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log := logger.New(false)
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logger.New(cfg.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()

	onAuthError := func(err *domain.AuthError) {
		log.Error().Str("code", err.Code).Str("redirect", err.RedirectTo).Msg(err.Message)
		stop()
	}

	opts := game.Options{
		UserID:          cfg.UserID,
		RoomID:          cfg.RoomID,
		RoomOwnerID:     cfg.RoomOwnerID,
		RequestTimeout:  cfg.RequestTimeout,
		Logger:          log,
		IsAuthenticated: func() bool { return cfg.AccessToken != "" },
		OnAuthError:     onAuthError,
	}

	if cfg.PostgresURL != "" {
		if err := migrations.Migrate(ctx, cfg.PostgresURL, log); err != nil {
			log.Fatal().Err(err).Msg("failed to apply migrations")
		}
		repo, err := storage.NewPostgresRepo(ctx, cfg.PostgresURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open results archive")
		}
		defer repo.Close()
		opts.Recorder = repo
		log.Info().Msg("archiving finished games")
	}

	socket := channel.NewSocket(channel.SocketConfig{
		URL:       cfg.SocketURL,
		EmitRate:  rate.Limit(cfg.EmitRate),
		EmitBurst: cfg.EmitBurst,
	}, log)

	session := game.NewSession(socket, opts)
	if err := session.Open(ctx, cfg.AccessToken); err != nil {
		log.Fatal().Err(err).Msg("failed to open session")
	}
	defer session.Close()

	directory := lobby.NewDirectory(socket, log, lobby.WithAuthHandler(onAuthError))
	unwatch := directory.Watch()
	defer unwatch()

	r := web.NewServer(cfg.AllowedOrigins, log)
	web.NewHandler(session, directory, cfg.RoomID, log).Register(r)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server stopped")
			stop()
		}
	}()
	log.Info().Str("addr", cfg.HTTPAddr).Str("user", cfg.UserID).Msg("client started")

	<-ctx.Done()
	log.Info().Msg("shutting down")
	session.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
}
