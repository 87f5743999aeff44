package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	_ "embed"

	"github.com/tigerroll/csvimport/internal/app"
	"github.com/tigerroll/csvimport/pkg/batch/support/util/logger"
)

// embeddedConfig is the application.yaml compiled into the binary.
// ${VAR} placeholders are expanded from the environment at startup.
//
//go:embed resources/application.yaml
var embeddedConfig []byte

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stop the HTTP server and running jobs on Ctrl+C or SIGTERM.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Warnf("Received signal '%v'. Shutting down...", sig)
		cancel()
	}()

	envFilePath := os.Getenv("ENV_FILE_PATH")
	if envFilePath == "" {
		envFilePath = ".env"
	}

	// DB_ADAPTORS selects the database providers, e.g. "sqlite" or "postgres,mysql".
	dbProviderOptions := app.DBProviderOptions(os.Getenv("DB_ADAPTORS"))

	if err := app.RunApplication(ctx, envFilePath, embeddedConfig, dbProviderOptions); err != nil {
		logger.Fatalf("Application run failed: %v", err)
	}
	os.Exit(0)
}
