package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/flowstack-labs/flowsql/pkg/core"
)

// BaseSQLStore provides common database/sql functionality for stores.
// Embed this struct in concrete store implementations to get standard
// Close, Ping, and Query implementations.
type BaseSQLStore struct {
	DB     *sql.DB
	Cfg    Config
	Logger *slog.Logger
}

// Connect accepts an already-attached connection. Concrete drivers
// shadow this with a real dial; the base form serves embedded setups
// and tests that hand over a *sql.DB directly.
func (b *BaseSQLStore) Connect(_ context.Context, cfg Config) error {
	if b.DB == nil {
		return fmt.Errorf("store %s: no connection attached", cfg.Name)
	}
	b.Cfg = cfg
	return nil
}

// Close closes the database connection.
func (b *BaseSQLStore) Close() error {
	if b.DB != nil {
		if b.Logger != nil {
			b.Logger.Debug("closing store connection", slog.String("store", b.Cfg.Name))
		}
		return b.DB.Close()
	}
	return nil
}

// Ping probes the connection.
func (b *BaseSQLStore) Ping(ctx context.Context) error {
	if b.DB == nil {
		return fmt.Errorf("store connection not established")
	}
	return b.DB.PingContext(ctx)
}

// IsConnected returns true if the connection is established.
func (b *BaseSQLStore) IsConnected() bool {
	return b.DB != nil
}

// Query executes a parameterized statement and materializes the rows.
// The safety profile's timeout rides on the context so drivers cancel
// server-side; the row cap is a scan guard: one row past the cap aborts
// the query instead of buffering an unbounded result.
func (b *BaseSQLStore) Query(ctx context.Context, q Query) (*core.ResultSet, error) {
	if b.DB == nil {
		return nil, fmt.Errorf("store connection not established")
	}
	if q.Profile.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.Profile.Timeout)
		defer cancel()
	}

	rows, err := b.DB.QueryContext(ctx, q.SQL, q.Params...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return ScanResultSet(rows, q.Profile.RowCap)
}

// ScanResultSet materializes sql.Rows into a ResultSet, enforcing the
// row cap while scanning.
func ScanResultSet(rows *sql.Rows, rowCap int) (*core.ResultSet, error) {
	names, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading result columns: %w", err)
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("reading result column types: %w", err)
	}

	columns := make([]core.Column, len(names))
	for i, name := range names {
		columns[i] = core.Column{Name: name, DType: core.ParseDType(types[i].DatabaseTypeName())}
	}

	rs := &core.ResultSet{Columns: columns}
	for rows.Next() {
		if rowCap > 0 && len(rs.Rows) >= rowCap {
			return nil, &core.ExecutionError{
				Kind:    core.ExecRowCap,
				Message: fmt.Sprintf("result exceeds row cap %d", rowCap),
			}
		}
		values := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		rs.Rows = append(rs.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return rs, nil
}
