package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/exp/slog"

	"possync/internal/app/server/api"
	"possync/internal/config"
	"possync/internal/domain/entity"
	"possync/internal/domain/sync"
	"possync/internal/infrastructure/storage"
	"possync/internal/lib/keylock"
	"possync/internal/utils/logger"
)

func main() {
	conf := config.NewConfig()
	log := logger.New(conf.Env)

	if err := run(conf, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(conf *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	syncCfg, err := conf.SyncConfig()
	if err != nil {
		return err
	}

	st, err := storage.New(ctx, conf, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error("failed to close storage", "error", err)
		}
	}()

	appliers := entity.NewAppliers(st.Entities())
	locks := keylock.New()

	service := sync.NewService(sync.Dependencies{
		Queue:    st.Queue(),
		Appliers: appliers,
		Feed:     st.Feed(),
		Devices:  st.Devices(),
		Locker:   locks,
	}, syncCfg, log)
	processor := sync.NewProcessor(st.Queue(), appliers, locks, syncCfg, log)
	service.SetDrainer(processor)

	procDone := make(chan struct{})
	go func() {
		defer close(procDone)
		processor.Run(ctx)
	}()

	srv := &http.Server{
		Addr:    conf.Server.RunAddress,
		Handler: api.New(api.Services{Sync: service, Pinger: st}, log),
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting server", "address", conf.Server.RunAddress, "env", conf.Env, "storage", conf.Storage)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErr:
		stop()
		<-procDone
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to shutdown server", "error", err)
	}
	<-procDone
	log.Info("server stopped")
	return nil
}
