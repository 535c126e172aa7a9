package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	clts "botdash/clients"
	"botdash/config"
	"botdash/internal/app"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// .env is optional; real environment variables win.
	envErr := godotenv.Load()

	envConfig := config.Load()
	if result := envConfig.Validate(); !result.Valid {
		for _, e := range result.Errors {
			fmt.Fprintf(os.Stderr, "config: %s: %s\n", e.Field, e.Message)
		}
		os.Exit(2)
	}

	logger, logCloser, err := app.NewLogger(envConfig.Log, envConfig.TUI.Enabled)
	if err != nil {
		panic(err)
	}
	defer logCloser.Close()
	defer logger.Sync()

	if envErr != nil && !os.IsNotExist(envErr) {
		logger.Warn("failed to read .env file", zap.Error(envErr))
	}
	logger.Info("starting dashboard",
		zap.Bool("isProd", envConfig.IsProd),
		zap.String("server", envConfig.Server.BaseURL),
	)

	liveConfig := config.NewLiveConfig(envConfig)

	logger.Info("instantiating clients")
	clients := clts.NewClients(logger, envConfig)
	defer clients.Close()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	go reloadOnHangup(ctx, logger, liveConfig)

	runner := app.NewRunner(clients, liveConfig)
	if err := runner.Run(ctx); err != nil {
		logger.Fatal("runner failed", zap.Error(err))
	}
}

// reloadOnHangup re-reads .env and the environment on SIGHUP and applies
// the result to liveConfig.
func reloadOnHangup(ctx context.Context, logger *zap.Logger, liveConfig *config.LiveConfig) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}

		if err := godotenv.Overload(); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to re-read .env file", zap.Error(err))
		}
		changed, err := liveConfig.Update(config.Load())
		if err != nil {
			logger.Warn("config reload rejected", zap.Error(err))
			continue
		}
		logger.Info("config reloaded", zap.Strings("changedSections", changed))
	}
}
