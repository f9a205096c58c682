package main

import (
	"context"
	"fmt"
	"os"

	"camforge/internal/cli"
	"camforge/internal/config"
	"camforge/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "camforge: load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		logger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
		logger.Warn("file logging unavailable", "error", err)
	}

	root := cli.NewRoot(cfg, logger)
	if err := root.Execute(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "camforge: %v\n", err)
		os.Exit(1)
	}
}
