package gorm

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"github.com/tigerroll/csvimport/pkg/batch/adapter/database"
	config "github.com/tigerroll/csvimport/pkg/batch/core/config"
	"github.com/tigerroll/csvimport/pkg/batch/support/util/logger"
)

// GormDBConnectionResolver is the GORM implementation of database.DBConnectionResolver.
type GormDBConnectionResolver struct {
	dbProviders map[string]database.DBProvider // keyed by database type
	cfg         *config.Config
}

// ResolverParams are the Fx inputs of NewGormDBConnectionResolver.
type ResolverParams struct {
	fx.In
	DBProviders []database.DBProvider `group:"db_providers"`
	Cfg         *config.Config
}

// NewGormDBConnectionResolver indexes the grouped providers by type.
func NewGormDBConnectionResolver(p ResolverParams) *GormDBConnectionResolver {
	providerMap := make(map[string]database.DBProvider, len(p.DBProviders))
	for _, provider := range p.DBProviders {
		providerMap[provider.Type()] = provider
	}
	return &GormDBConnectionResolver{dbProviders: providerMap, cfg: p.Cfg}
}

// ResolveDBConnection returns the named connection, reconnecting once if a ping fails.
func (r *GormDBConnectionResolver) ResolveDBConnection(ctx context.Context, name string) (database.DBConnection, error) {
	dbCfg, err := lookupDatabaseConfig(r.cfg, name)
	if err != nil {
		return nil, fmt.Errorf("DBConnectionResolver: %w", err)
	}
	provider, ok := r.dbProviders[dbCfg.Type]
	if !ok {
		return nil, fmt.Errorf("DBConnectionResolver: DBProvider for type '%s' not found for connection '%s'", dbCfg.Type, name)
	}

	conn, err := provider.GetConnection(name)
	if err != nil {
		return nil, fmt.Errorf("DBConnectionResolver: failed to get connection '%s': %w", name, err)
	}
	if pingErr := conn.RefreshConnection(ctx); pingErr != nil {
		logger.Warnf("DBConnectionResolver: connection '%s' is invalid (%v). Attempting to reconnect.", name, pingErr)
		reconnected, err := provider.ForceReconnect(name)
		if err != nil {
			return nil, fmt.Errorf("DBConnectionResolver: failed to reconnect connection '%s': %w", name, err)
		}
		return reconnected, nil
	}
	return conn, nil
}

// CloseAll closes every connection opened through the providers.
func (r *GormDBConnectionResolver) CloseAll() error {
	var lastErr error
	for _, p := range r.dbProviders {
		if err := p.CloseAll(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
