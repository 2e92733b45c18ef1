package main

import (
	"log"
	"log/slog"
	"os"

	"relay/cmd/internal/app"

	"github.com/joho/godotenv"
)

func main() {
	// Component configs read the process environment directly.
	_ = godotenv.Load()

	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := app.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := app.Run(cfg, logger); err != nil {
		logger.Error("relay.exit", "err", err)
		os.Exit(1)
	}
}
