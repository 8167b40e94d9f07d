// walletrisk - Ethereum wallet risk screening service
package main

import (
	"context"
	"os"

	"github.com/mbd888/walletrisk/internal/config"
	"github.com/mbd888/walletrisk/internal/logging"
	"github.com/mbd888/walletrisk/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting walletrisk",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Switch to the configured handler once config is known
	logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("configuration loaded",
		"env", cfg.Env,
		"port", cfg.Port,
		"alchemy_live", cfg.AlchemyURL != "",
		"etherscan_live", cfg.Etherscan.Key != "",
		"elliptic_live", cfg.Elliptic.Configured(),
		"chainalysis_live", cfg.Chainalysis.Configured(),
		"ofac_live", cfg.OFAC.Configured(),
		"persistent", cfg.DatabaseURL != "",
	)

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(context.Background()); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
