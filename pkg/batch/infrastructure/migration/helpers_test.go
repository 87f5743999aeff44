package migration_test

import (
	gormadapter "github.com/tigerroll/csvimport/pkg/batch/adapter/database/gorm"
)

// typedConn reports a different database type than the connection it wraps.
type typedConn struct {
	*gormadapter.GormDBAdapter
	dbType string
}

func (c *typedConn) Type() string { return c.dbType }
