package test

import (
	"context"
	"fmt"

	"github.com/stretchr/testify/mock"

	dbadapter "github.com/tigerroll/csvimport/pkg/batch/adapter/database"
)

// MockDBConnectionResolver is a testify mock of database.DBConnectionResolver.
type MockDBConnectionResolver struct {
	mock.Mock
}

func (m *MockDBConnectionResolver) ResolveDBConnection(ctx context.Context, name string) (dbadapter.DBConnection, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(dbadapter.DBConnection), args.Error(1)
}

// testConnectionResolver returns preconfigured connections by name.
type testConnectionResolver struct {
	conns    map[string]dbadapter.DBConnection
	fallback dbadapter.DBConnection
}

func (r *testConnectionResolver) ResolveDBConnection(ctx context.Context, name string) (dbadapter.DBConnection, error) {
	if conn, ok := r.conns[name]; ok {
		return conn, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("no test connection named '%s'", name)
}

// NewTestSingleConnectionResolver returns a resolver that answers every name with conn.
func NewTestSingleConnectionResolver(conn dbadapter.DBConnection) dbadapter.DBConnectionResolver {
	return &testConnectionResolver{fallback: conn}
}

// NewTestConnectionResolver returns a resolver over a fixed set of named connections.
func NewTestConnectionResolver(conns map[string]dbadapter.DBConnection) dbadapter.DBConnectionResolver {
	return &testConnectionResolver{conns: conns}
}

var _ dbadapter.DBConnectionResolver = (*testConnectionResolver)(nil)
