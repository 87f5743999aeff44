// Package adapter defines the connection abstractions shared by database and storage adapters.
package adapter

// ResourceConnection represents a connection to an external resource such as a database or an object store.
type ResourceConnection interface {
	// Close closes the resource connection.
	Close() error
	// Type returns the type of the resource (e.g., "mysql", "gcs").
	Type() string
	// Name returns the connection name (e.g., "metadata", "workload").
	Name() string
}

// ResourceProvider hands out resource connections by name.
type ResourceProvider interface {
	GetConnection(name string) (ResourceConnection, error)
	CloseAll() error
	Type() string
}
