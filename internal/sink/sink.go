// Package sink defines the destination contract backup data is written
// through. A sink receives one object's rows between Begin and End and makes
// no assumption about the storage medium behind it.
package sink

import (
	"context"
	"fmt"

	"forcebackup/internal/errors"
)

// DataSink receives the rows of one object at a time. Begin opens a scope
// for an object, Append adds one row with values ordered like the columns
// given to Begin, End closes the scope. Implementations are not required to
// be safe for concurrent use; callers serialize per sink instance.
type DataSink interface {
	Begin(ctx context.Context, object string, columns []string) error
	Append(ctx context.Context, values []string) error
	End(ctx context.Context) error
	Close() error
}

// Type selects a sink implementation.
type Type string

const (
	// TypeCSV writes one CSV file per object.
	TypeCSV Type = "csv"
	// TypeMySQL writes one table per object into a MySQL database.
	TypeMySQL Type = "mysql"
)

// Config selects and parameterizes a sink.
type Config struct {
	Type Type
	// Directory receives per-object CSV files for the CSV sink.
	Directory string
	// DSN is the MySQL connection string for the database sink.
	DSN string
	// BatchSize bounds multi-row inserts for the database sink.
	BatchSize int
	// TablePrefix is prepended to object names for the database sink.
	TablePrefix string
}

// New builds the sink selected by the configuration.
func New(config Config) (DataSink, error) {
	switch config.Type {
	case TypeCSV, "":
		return NewCSVSink(config.Directory)
	case TypeMySQL:
		return NewDatabaseSink(config)
	default:
		return nil, errors.NewAppError(errors.ErrorTypeValidation,
			fmt.Sprintf("unknown sink type: %s", config.Type), nil)
	}
}
