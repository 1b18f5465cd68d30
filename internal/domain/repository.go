// Package domain defines the core interfaces and types for Heron.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Order dataset operations
	SaveOrders(ctx context.Context, orders []*Order) error
	ListOrders(ctx context.Context, filter OrderFilter) ([]*Order, error)
	CountOrders(ctx context.Context) (int64, error)

	// CategoryLabels returns the label -> technical code pairs seen in the dataset.
	CategoryLabels(ctx context.Context) (map[string]string, error)

	// Simulation audit records
	SaveSimulation(ctx context.Context, sim *Simulation) error
	GetSimulation(ctx context.Context, id string) (*Simulation, error)
	ListSimulations(ctx context.Context, limit int) ([]*Simulation, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `yaml:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgresHost"`
	PostgresPort     int    `yaml:"postgresPort"`
	PostgresUser     string `yaml:"postgresUser"`
	PostgresPassword string `yaml:"postgresPassword"`
	PostgresDB       string `yaml:"postgresDb"`
	PostgresSSLMode  string `yaml:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}
