package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/kailas-cloud/cceval/internal/app"
	"github.com/kailas-cloud/cceval/internal/config"
	logpkg "github.com/kailas-cloud/cceval/internal/logger"
	"github.com/kailas-cloud/cceval/internal/metrics"
	mcpTransport "github.com/kailas-cloud/cceval/internal/transport/mcp"
	"github.com/kailas-cloud/cceval/internal/version"
)

// cceval-mcp serves the session tools over stdio. stdout carries the MCP
// protocol, so all logging goes to stderr.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "cceval-mcp: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	env := config.GetEnv()
	cfg, err := config.Load(env)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting cceval MCP server",
		zap.String("version", version.Version),
		zap.String("env", env),
		zap.String("db_driver", cfg.Database.Driver),
	)

	metrics.RegisterProviderMetrics()
	metrics.RegisterEvaluationMetrics()

	svc, err := app.New(context.Background(), &cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	s := mcpTransport.NewServer(svc.Auth, svc.Sessions, svc.Catalog)
	if err := server.ServeStdio(s); err != nil {
		return fmt.Errorf("serve stdio: %w", err)
	}
	return nil
}
