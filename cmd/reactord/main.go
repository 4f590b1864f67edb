// Command reactord starts the single-process HTTP reactor server: parse
// flags, bring up logging, open the database connection pool, bind the
// listener, and run until SIGINT or SIGTERM triggers a graceful shutdown.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/xtaci/reactord/internal/config"
	"github.com/xtaci/reactord/internal/dbauth"
	"github.com/xtaci/reactord/internal/logging"
	"github.com/xtaci/reactord/internal/reactor"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "reactord:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{
		Enabled:   cfg.LogEnabled,
		Level:     cfg.LogLevel,
		Dir:       cfg.LogDir,
		QueueSize: cfg.LogQueueSize,
	})
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer logger.Sync()

	dbPool, err := dbauth.Open(dbauth.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
		PoolSize: cfg.PoolSize,
	})
	if err != nil {
		return fmt.Errorf("dbauth: %w", err)
	}
	defer dbPool.Close()

	srv, err := reactor.New(reactor.Config{
		Port:        cfg.Port,
		SrcDir:      cfg.SrcDir,
		IdleTimeout: cfg.IdleTimeout,
		WorkerCount: cfg.WorkerCount,
		MaxEvents:   cfg.MaxEvents,
		Verifier:    dbPool,
		Logger:      logger,
	})
	if err != nil {
		// Listener-fatal: nothing has started yet, so there is nothing to
		// tear down beyond what the deferred closes above already handle.
		return fmt.Errorf("reactor: %w", err)
	}

	logger.Info("listening",
		zap.Int("port", cfg.Port),
		zap.String("src_dir", cfg.SrcDir),
		zap.Int("worker_count", cfg.WorkerCount),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		srv.Close()
	}()

	return srv.Run()
}
