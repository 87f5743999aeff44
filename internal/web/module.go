package web

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/fx"

	port "github.com/tigerroll/csvimport/pkg/batch/core/application/port"
	"github.com/tigerroll/csvimport/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/csvimport/pkg/batch/core/config"
)

// ServerParams are the Fx inputs of the HTTP server.
type ServerParams struct {
	fx.In
	Lifecycle   fx.Lifecycle
	Cfg         *config.Config
	Launcher    usecase.JobLauncher
	Operator    usecase.JobOperator
	Explorer    usecase.JobExplorer
	Incrementer port.JobParametersIncrementer
	Health      HealthCheck  `optional:"true"`
	Metrics     http.Handler `name:"metricsHandler" optional:"true"`
}

// NewServerFromConfig builds the server and ties it to the Fx lifecycle.
func NewServerFromConfig(p ServerParams) *Server {
	handler := NewHandler(Options{
		JobName:     p.Cfg.Surfin.Batch.JobName,
		Launcher:    p.Launcher,
		Operator:    p.Operator,
		Explorer:    p.Explorer,
		Incrementer: p.Incrementer,
		Health:      p.Health,
		Metrics:     p.Metrics,
	})
	httpCfg := p.Cfg.Surfin.System.HTTP
	server := NewServer(httpCfg.Addr, handler.Routes(), time.Duration(httpCfg.ShutdownTimeoutSeconds)*time.Second)
	p.Lifecycle.Append(fx.Hook{
		OnStart: server.Start,
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
	return server
}

// Module starts the HTTP server with the application. It must be listed after
// usecase.Module so the server stops before running jobs are cancelled.
var Module = fx.Options(
	fx.Provide(NewServerFromConfig),
	fx.Invoke(func(*Server) {}),
)
