package sink

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"forcebackup/internal/errors"
)

const defaultInsertBatchSize = 100

// DatabaseSink mirrors each object into a MySQL table. Tables are created
// on Begin and rows are flushed in multi-row inserts. All columns are
// stored as TEXT; the table is a landing zone, not a modelled schema.
type DatabaseSink struct {
	db          *sql.DB
	batchSize   int
	tablePrefix string

	table   string
	columns []string
	pending [][]string
}

// NewDatabaseSink opens the MySQL connection behind the sink.
func NewDatabaseSink(config Config) (*DatabaseSink, error) {
	if config.DSN == "" {
		return nil, errors.NewAppError(errors.ErrorTypeValidation,
			"database sink requires a DSN", nil)
	}

	db, err := sql.Open("mysql", config.DSN)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrorTypeValidation,
			"failed to open database connection", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.NewRecoverableError(errors.ErrorTypeNetwork,
			"failed to reach database", err)
	}

	batchSize := config.BatchSize
	if batchSize <= 0 {
		batchSize = defaultInsertBatchSize
	}
	return &DatabaseSink{
		db:          db,
		batchSize:   batchSize,
		tablePrefix: config.TablePrefix,
	}, nil
}

// newDatabaseSinkWithDB wires an existing handle; used by tests.
func newDatabaseSinkWithDB(db *sql.DB, batchSize int, tablePrefix string) *DatabaseSink {
	if batchSize <= 0 {
		batchSize = defaultInsertBatchSize
	}
	return &DatabaseSink{db: db, batchSize: batchSize, tablePrefix: tablePrefix}
}

var identifierChars = regexp.MustCompile(`[^A-Za-z0-9_]`)

// safeIdentifier strips everything MySQL identifiers cannot carry.
func safeIdentifier(name string) string {
	name = identifierChars.ReplaceAllString(name, "_")
	if name == "" {
		name = "_"
	}
	return name
}

// Begin creates (or recreates) the object's table.
func (s *DatabaseSink) Begin(ctx context.Context, object string, columns []string) error {
	if s.table != "" {
		return errors.NewAppError(errors.ErrorTypeValidation,
			fmt.Sprintf("sink scope for table %s still open", s.table), nil)
	}
	if len(columns) == 0 {
		return errors.NewAppError(errors.ErrorTypeValidation,
			"cannot create a table without columns", nil)
	}

	table := safeIdentifier(s.tablePrefix + object)

	defs := make([]string, len(columns))
	for i, col := range columns {
		defs[i] = fmt.Sprintf("`%s` TEXT", safeIdentifier(col))
	}

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS `%s`", table)); err != nil {
		return errors.NewAppError(errors.ErrorTypeValidation,
			"failed to drop existing table "+table, err)
	}
	create := fmt.Sprintf("CREATE TABLE `%s` (%s)", table, strings.Join(defs, ", "))
	if _, err := s.db.ExecContext(ctx, create); err != nil {
		return errors.NewAppError(errors.ErrorTypeValidation,
			"failed to create table "+table, err)
	}

	s.table = table
	s.columns = columns
	s.pending = s.pending[:0]
	return nil
}

// Append buffers one row, flushing when the batch is full.
func (s *DatabaseSink) Append(ctx context.Context, values []string) error {
	if s.table == "" {
		return errors.NewAppError(errors.ErrorTypeValidation, "no open sink scope", nil)
	}
	if len(values) != len(s.columns) {
		return errors.NewAppError(errors.ErrorTypeValidation,
			fmt.Sprintf("row has %d values, table has %d columns", len(values), len(s.columns)), nil)
	}

	row := make([]string, len(values))
	copy(row, values)
	s.pending = append(s.pending, row)

	if len(s.pending) >= s.batchSize {
		return s.flush(ctx)
	}
	return nil
}

// End flushes remaining rows and closes the scope.
func (s *DatabaseSink) End(ctx context.Context) error {
	if s.table == "" {
		return errors.NewAppError(errors.ErrorTypeValidation, "no open sink scope", nil)
	}
	err := s.flush(ctx)
	s.table = ""
	s.columns = nil
	s.pending = nil
	return err
}

// Close releases the connection.
func (s *DatabaseSink) Close() error {
	return s.db.Close()
}

func (s *DatabaseSink) flush(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}

	cols := make([]string, len(s.columns))
	for i, col := range s.columns {
		cols[i] = fmt.Sprintf("`%s`", safeIdentifier(col))
	}

	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?,", len(s.columns)), ",") + ")"
	placeholders := make([]string, len(s.pending))
	args := make([]interface{}, 0, len(s.pending)*len(s.columns))
	for i, row := range s.pending {
		placeholders[i] = placeholder
		for _, v := range row {
			args = append(args, v)
		}
	}

	query := fmt.Sprintf("INSERT INTO `%s` (%s) VALUES %s",
		s.table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.NewAppError(errors.ErrorTypeValidation,
			"failed to insert rows into "+s.table, err)
	}

	s.pending = s.pending[:0]
	return nil
}
