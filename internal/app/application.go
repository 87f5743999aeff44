package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"

	"github.com/tigerroll/csvimport/internal/customer"
	"github.com/tigerroll/csvimport/internal/web"
	usecase "github.com/tigerroll/csvimport/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/csvimport/pkg/batch/core/config"
	jobRunner "github.com/tigerroll/csvimport/pkg/batch/core/job/runner"
	inframetrics "github.com/tigerroll/csvimport/pkg/batch/infrastructure/metrics"
	"github.com/tigerroll/csvimport/pkg/batch/infrastructure/migration"
	sqlrepo "github.com/tigerroll/csvimport/pkg/batch/infrastructure/repository/sql"
	batchlistener "github.com/tigerroll/csvimport/pkg/batch/listener"
	"github.com/tigerroll/csvimport/pkg/batch/support/util/logger"
)

// stopGrace is added to the HTTP shutdown timeout so running chunks can record
// their final state after the server has drained.
const stopGrace = 20 * time.Second

// Options returns the Fx options of the application for cfg.
//
// Invokes run in the order listed and lifecycle hooks stop in reverse, so the
// HTTP server stops first, then the launcher cancels running jobs, and telemetry
// and database connections are closed last.
func Options(cfg *config.Config, dbProviderOptions []fx.Option) []fx.Option {
	return []fx.Option{
		fx.Supply(cfg),
		fx.StopTimeout(time.Duration(cfg.Surfin.System.HTTP.ShutdownTimeoutSeconds)*time.Second + stopGrace),

		fx.Options(dbProviderOptions...),
		logger.Module,
		Module,
		migration.Module,
		inframetrics.Module,

		fx.Provide(sqlrepo.NewJobRepository),
		batchlistener.Module,
		jobRunner.Module,
		customer.Module,
		usecase.Module,
		web.Module,
	}
}

// RunApplication loads the configuration, starts the application and blocks until
// appCtx is cancelled or Fx receives a shutdown signal.
func RunApplication(appCtx context.Context, envFilePath string, embeddedConfig config.EmbeddedConfig, dbProviderOptions []fx.Option) error {
	cfg, err := config.LoadConfig(envFilePath, embeddedConfig)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger.SetLogLevel(cfg.Surfin.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.Surfin.System.Logging.Level)

	if err := applyTimezone(cfg.Surfin.System.Timezone); err != nil {
		return err
	}

	app := fx.New(Options(cfg, dbProviderOptions)...)

	startCtx, cancelStart := context.WithTimeout(appCtx, app.StartTimeout())
	defer cancelStart()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("application start failed: %w", err)
	}
	logger.Infof("Application started. Job '%s' can be triggered over HTTP.", cfg.Surfin.Batch.JobName)

	select {
	case <-appCtx.Done():
		logger.Infof("Application context cancelled.")
	case sig := <-app.Done():
		logger.Infof("Received %s.", sig)
	}

	logger.Infof("Application is shutting down.")
	stopCtx, cancelStop := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil {
		return fmt.Errorf("application stop failed: %w", err)
	}
	return nil
}

func applyTimezone(name string) error {
	if name == "" {
		return nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fmt.Errorf("invalid system.timezone '%s': %w", name, err)
	}
	time.Local = loc
	return nil
}
