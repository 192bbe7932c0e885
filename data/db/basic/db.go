// Package basic provides a minimal database/sql-backed implementation of
// the core.IDatabase abstraction used throughout the store layer.
package basic

import (
	"context"
	"database/sql"
	"time"

	core "flowengine/data/db"
	"flowengine/data/db/dialect"
)

// DB 基于 database/sql 的最小实现，满足 core.IDatabase 抽象
type DB struct {
	db      *sql.DB
	driver  string
	dialect dialect.Dialect
}

// New 根据 core.DBConfig 创建数据库实例。
//
// 调用方必须确保所配置的 Driver 已通过空导入注册
// （例如 `_ "modernc.org/sqlite"`）。
func New(config core.DBConfig) (core.IDatabase, error) {
	driver := config.Driver
	if driver == "" {
		driver = "sqlite"
	}

	sqlDB, err := sql.Open(driver, config.Database)
	if err != nil {
		return nil, err
	}

	if config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(config.ConnMaxLifetime) * time.Second)
	}
	if config.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(time.Duration(config.ConnMaxIdleTime) * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	return &DB{db: sqlDB, driver: driver, dialect: dialect.New(driver)}, nil
}

// Wrap adapts an already-open *sql.DB (e.g. one opened by the caller with a
// driver this package doesn't know the name of) into core.IDatabase.
func Wrap(sqlDB *sql.DB, driverName string) core.IDatabase {
	return &DB{db: sqlDB, driver: driverName, dialect: dialect.New(driverName)}
}

func (d *DB) Query(ctx context.Context, query string, args ...any) (core.IRows, error) {
	q := d.dialect.Rebind(query)
	rows, err := d.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return &Rows{rows: rows}, nil
}

func (d *DB) QueryRow(ctx context.Context, query string, args ...any) core.IRow {
	q := d.dialect.Rebind(query)
	return &Row{row: d.db.QueryRowContext(ctx, q, args...)}
}

func (d *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	q := d.dialect.Rebind(query)
	return d.db.ExecContext(ctx, q, args...)
}

func (d *DB) Begin(ctx context.Context) (core.ITransaction, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{db: d.db, tx: tx, dialect: d.dialect}, nil
}

func (d *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (core.ITransaction, error) {
	tx, err := d.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{db: d.db, tx: tx, dialect: d.dialect}, nil
}

func (d *DB) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }
func (d *DB) Close() error                   { return d.db.Close() }
func (d *DB) Raw() any                       { return d.db }

// GetDialectName 实现 core.IDialectNameProvider
func (d *DB) GetDialectName() string { return d.driver }

// Rows 包装 *sql.Rows 以实现 core.IRows
type Rows struct {
	rows *sql.Rows
}

func (r *Rows) Next() bool                  { return r.rows.Next() }
func (r *Rows) Scan(dest ...any) error      { return r.rows.Scan(dest...) }
func (r *Rows) Close() error                { return r.rows.Close() }
func (r *Rows) Err() error                  { return r.rows.Err() }
func (r *Rows) Columns() ([]string, error)  { return r.rows.Columns() }
func (r *Rows) ColumnTypes() ([]*sql.ColumnType, error) {
	return r.rows.ColumnTypes()
}

// Row 包装 *sql.Row 以实现 core.IRow
type Row struct {
	row *sql.Row
}

func (r *Row) Scan(dest ...any) error { return r.row.Scan(dest...) }
func (r *Row) Err() error             { return r.row.Err() }
