package gorm

import (
	"fmt"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
	"gorm.io/gorm"

	"github.com/tigerroll/csvimport/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/csvimport/pkg/batch/adapter/database/config"
	config "github.com/tigerroll/csvimport/pkg/batch/core/config"
	"github.com/tigerroll/csvimport/pkg/batch/support/util/logger"
)

// DialectorFactory generates a gorm.Dialector from a dbconfig.DatabaseConfig.
type DialectorFactory func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error)

var (
	dialectorRegistry = make(map[string]DialectorFactory)
	dialectorMutex    sync.RWMutex
)

// RegisterDialector registers a DialectorFactory for the given database type.
func RegisterDialector(dbType string, factory DialectorFactory) {
	dialectorMutex.Lock()
	defer dialectorMutex.Unlock()
	if _, exists := dialectorRegistry[dbType]; exists {
		logger.Warnf("Dialector for type '%s' already registered. Overwriting.", dbType)
	}
	dialectorRegistry[dbType] = factory
}

// GetDialectorFactory retrieves the DialectorFactory corresponding to the specified DB type.
func GetDialectorFactory(dbType string) (DialectorFactory, error) {
	dialectorMutex.RLock()
	defer dialectorMutex.RUnlock()
	factory, ok := dialectorRegistry[dbType]
	if !ok {
		return nil, fmt.Errorf("no dialector registered for database type: %s", dbType)
	}
	return factory, nil
}

// DecodeDatabaseConfig decodes one entry of the "database" configuration section.
func DecodeDatabaseConfig(raw interface{}) (dbconfig.DatabaseConfig, error) {
	var cfg dbconfig.DatabaseConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		TagName:          "yaml",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return cfg, err
	}
	if err := decoder.Decode(raw); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// lookupDatabaseConfig returns the decoded settings of the connection called name.
func lookupDatabaseConfig(cfg *config.Config, name string) (dbconfig.DatabaseConfig, error) {
	raw, ok := cfg.Surfin.AdapterConfigs[name]
	if !ok {
		return dbconfig.DatabaseConfig{}, fmt.Errorf("database configuration '%s' not found", name)
	}
	dbCfg, err := DecodeDatabaseConfig(raw)
	if err != nil {
		return dbCfg, fmt.Errorf("failed to decode database config for '%s': %w", name, err)
	}
	return dbCfg, nil
}

// BaseProvider implements database.DBProvider for one database type.
// Concrete providers embed it and register their dialector in init.
type BaseProvider struct {
	cfg    *config.Config
	dbType string
	// Adjust lets a concrete provider tune the pool of a freshly opened connection.
	Adjust func(cfg dbconfig.DatabaseConfig, db *gorm.DB) error

	connections map[string]database.DBConnection
	mu          sync.RWMutex
}

// NewBaseProvider creates a new BaseProvider.
func NewBaseProvider(cfg *config.Config, dbType string) *BaseProvider {
	return &BaseProvider{
		cfg:         cfg,
		dbType:      dbType,
		connections: make(map[string]database.DBConnection),
	}
}

// Type returns the database type.
func (p *BaseProvider) Type() string {
	return p.dbType
}

// GetConnection retrieves an existing connection or establishes a new one.
func (p *BaseProvider) GetConnection(name string) (database.DBConnection, error) {
	p.mu.RLock()
	conn, ok := p.connections[name]
	p.mu.RUnlock()
	if ok {
		return conn, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if conn, ok = p.connections[name]; ok {
		return conn, nil
	}
	return p.createAndStoreConnection(name)
}

// ForceReconnect closes the named connection, if open, and opens it again.
func (p *BaseProvider) ForceReconnect(name string) (database.DBConnection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.connections[name]; ok {
		if err := existing.Close(); err != nil {
			logger.Warnf("Failed to close existing connection '%s' before reconnect: %v", name, err)
		}
		delete(p.connections, name)
	}
	conn, err := p.createAndStoreConnection(name)
	if err != nil {
		return nil, err
	}
	logger.Infof("Re-established DB connection: %s (%s)", name, p.dbType)
	return conn, nil
}

// CloseAll closes all connections managed by this provider.
func (p *BaseProvider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var lastErr error
	for name, conn := range p.connections {
		if err := conn.Close(); err != nil {
			logger.Errorf("Failed to close connection '%s': %v", name, err)
			lastErr = err
		}
		delete(p.connections, name)
	}
	return lastErr
}

func (p *BaseProvider) createAndStoreConnection(name string) (database.DBConnection, error) {
	dbCfg, err := lookupDatabaseConfig(p.cfg, name)
	if err != nil {
		return nil, err
	}
	if dbCfg.Type != p.dbType {
		return nil, fmt.Errorf("provider type mismatch: expected '%s', got '%s' for connection '%s'", p.dbType, dbCfg.Type, name)
	}

	gormDB, err := Open(dbCfg)
	if err != nil {
		return nil, err
	}
	if p.Adjust != nil {
		if err := p.Adjust(dbCfg, gormDB); err != nil {
			return nil, err
		}
	}
	conn, err := NewGormDBAdapter(gormDB, dbCfg, name)
	if err != nil {
		return nil, err
	}
	p.connections[name] = conn
	logger.Infof("Established new DB connection: %s (%s)", name, p.dbType)
	return conn, nil
}

// Open opens a gorm connection for dbCfg using the registered dialector and applies pool settings.
func Open(dbCfg dbconfig.DatabaseConfig) (*gorm.DB, error) {
	factory, err := GetDialectorFactory(dbCfg.Type)
	if err != nil {
		return nil, err
	}
	dialector, err := factory(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create dialector for %s: %w", dbCfg.Type, err)
	}
	return OpenDialector(dialector, dbCfg)
}

// OpenDialector opens a gorm connection on dialector. Errors are translated so that
// unique violations surface as gorm.ErrDuplicatedKey where the dialector supports it.
func OpenDialector(dialector gorm.Dialector, dbCfg dbconfig.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         NewGormLogger(dbCfg.LogLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open GORM connection: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(dbCfg.Pool.MaxOpenConns)
	if dbCfg.Pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(dbCfg.Pool.MaxIdleConns)
	}
	if dbCfg.Pool.ConnMaxLifetimeMinutes > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(dbCfg.Pool.ConnMaxLifetimeMinutes) * time.Minute)
	}
	return db, nil
}
