package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/michaelbrown/jsbox/internal/client"
	"github.com/michaelbrown/jsbox/internal/config"
	"github.com/michaelbrown/jsbox/internal/logging"
	"github.com/michaelbrown/jsbox/internal/sandbox"
	"github.com/michaelbrown/jsbox/internal/storage"
	"github.com/michaelbrown/jsbox/internal/storage/sqlite"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(configFlag)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.New(cfg.Log.Logging())
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	return logger, nil
}

// sandboxFor returns a remote client when url is set, otherwise the sandbox
// selected by sandbox.isolation.
func sandboxFor(cfg *config.Config, url string) sandbox.Sandbox {
	if url != "" {
		return client.New(url)
	}
	return cfg.Sandbox.New()
}

func openStore() (storage.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return sqlite.Open(cfg.Storage.DBPath)
}
