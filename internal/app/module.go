// Package app wires the customer import application together with Fx.
package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/fx"

	"github.com/tigerroll/csvimport/internal/customer"
	"github.com/tigerroll/csvimport/internal/web"
	"github.com/tigerroll/csvimport/pkg/batch/adapter/database"
	gormadapter "github.com/tigerroll/csvimport/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/csvimport/pkg/batch/adapter/database/gorm/mysql"
	"github.com/tigerroll/csvimport/pkg/batch/adapter/database/gorm/postgres"
	"github.com/tigerroll/csvimport/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/csvimport/pkg/batch/adapter/storage"
	"github.com/tigerroll/csvimport/pkg/batch/adapter/storage/gcs"
	"github.com/tigerroll/csvimport/pkg/batch/adapter/storage/local"
	port "github.com/tigerroll/csvimport/pkg/batch/core/application/port"
	config "github.com/tigerroll/csvimport/pkg/batch/core/config"
	"github.com/tigerroll/csvimport/pkg/batch/core/support/incrementer"
	tx "github.com/tigerroll/csvimport/pkg/batch/core/tx"
	inframetrics "github.com/tigerroll/csvimport/pkg/batch/infrastructure/metrics"
	"github.com/tigerroll/csvimport/pkg/batch/support/util/logger"
)

// DBProviderMap maps a DB_ADAPTORS entry to the module contributing its provider.
var DBProviderMap = map[string]fx.Option{
	"postgres": postgres.Module,
	"mysql":    mysql.Module,
	"sqlite":   sqlite.Module,
}

// DefaultDBAdaptors is used when DB_ADAPTORS is unset.
const DefaultDBAdaptors = "sqlite,mysql,postgres"

// DBProviderOptions registers the providers named in the comma separated adaptors
// list. Unknown names are skipped with a warning.
func DBProviderOptions(adaptors string) []fx.Option {
	if strings.TrimSpace(adaptors) == "" {
		adaptors = DefaultDBAdaptors
	}
	options := make([]fx.Option, 0)
	seen := make(map[string]bool)
	for _, name := range strings.Split(adaptors, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		module, ok := DBProviderMap[name]
		if !ok {
			logger.Warnf("DB Provider '%s' is configured but not recognized/supported. Skipping.", name)
			continue
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		options = append(options, module)
		logger.Debugf("DB Provider '%s' selected and registered.", name)
	}
	return options
}

// TxManagerParams are the inputs of the named transaction managers.
type TxManagerParams struct {
	fx.In
	Cfg       *config.Config
	TxFactory tx.TransactionManagerFactory
}

// NewMetadataTxManager returns the transaction manager of the job repository connection.
func NewMetadataTxManager(p TxManagerParams) tx.TransactionManager {
	return p.TxFactory.NewTransactionManager(p.Cfg.Surfin.Infrastructure.JobRepositoryDBRef)
}

// NewWorkloadTxManager returns the transaction manager of the connection customers are written to.
func NewWorkloadTxManager(p TxManagerParams) tx.TransactionManager {
	return p.TxFactory.NewTransactionManager(p.Cfg.Surfin.Infrastructure.WorkloadDBRef)
}

// inputConnectionName names the storage connection in logs.
const inputConnectionName = "input"

// NewStorageConnection opens the storage the input file is read from and closes it on stop.
func NewStorageConnection(lc fx.Lifecycle, cfg *config.Config) (storage.StorageConnection, error) {
	sc := cfg.Surfin.Storage
	var (
		conn storage.StorageConnection
		err  error
	)
	switch sc.Type {
	case local.ProviderType, "":
		conn, err = local.NewLocalAdapter(sc, inputConnectionName)
	case gcs.ProviderType:
		conn, err = gcs.NewGCSAdapter(context.Background(), sc, inputConnectionName)
	default:
		return nil, fmt.Errorf("unsupported storage type '%s'", sc.Type)
	}
	if err != nil {
		return nil, err
	}
	logger.Infof("Storage connection '%s' opened (type: %s).", conn.Name(), conn.Type())
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return conn.Close()
		},
	})
	return conn, nil
}

// NewHealthCheck pings the job repository connection.
func NewHealthCheck(cfg *config.Config, resolver database.DBConnectionResolver) web.HealthCheck {
	name := cfg.Surfin.Infrastructure.JobRepositoryDBRef
	return func(ctx context.Context) error {
		conn, err := resolver.ResolveDBConnection(ctx, name)
		if err != nil {
			return err
		}
		return conn.RefreshConnection(ctx)
	}
}

// NewMetricsHandler exposes the Prometheus registry. It is nil for other backends.
func NewMetricsHandler(t *inframetrics.Telemetry) http.Handler {
	return t.Handler()
}

// NewLaunchIncrementer stamps every triggered launch with a fresh startAt.
func NewLaunchIncrementer() port.JobParametersIncrementer {
	return incrementer.NewTimestampIncrementer(customer.StartAtParam)
}

// Module provides the application level components: transaction managers,
// input storage, and the collaborators of the HTTP server.
var Module = fx.Options(
	gormadapter.Module,
	fx.Provide(
		fx.Annotate(NewMetadataTxManager, fx.ResultTags(`name:"metadata"`)),
		fx.Annotate(NewWorkloadTxManager, fx.ResultTags(`name:"workload"`)),
	),
	fx.Provide(NewStorageConnection),
	fx.Provide(NewHealthCheck),
	fx.Provide(fx.Annotate(NewMetricsHandler, fx.ResultTags(`name:"metricsHandler"`))),
	fx.Provide(NewLaunchIncrementer),
)
