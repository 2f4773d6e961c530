package database

import (
	"database/sql"
	"fmt"
	"io"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/extra/bundebug"
	_ "modernc.org/sqlite"
)

// Open connects to the database described by uri. postgres:// and
// postgresql:// go through pgx; sqlite:// and file: use the embedded driver.
func Open(uri string) (db *bun.DB, err error) {
	switch {
	case strings.HasPrefix(uri, "postgres://"), strings.HasPrefix(uri, "postgresql://"):
		var dbConfig *pgx.ConnConfig
		if dbConfig, err = pgx.ParseConfig(uri); err != nil {
			err = fmt.Errorf("unable to parse postgres uri: %w", err)
			return
		}

		db = bun.NewDB(stdlib.OpenDB(*dbConfig), pgdialect.New())
	case strings.HasPrefix(uri, "sqlite://"), strings.HasPrefix(uri, "file:"):
		var sqldb *sql.DB
		if sqldb, err = sql.Open("sqlite", strings.TrimPrefix(uri, "sqlite://")); err != nil {
			err = fmt.Errorf("unable to open sqlite database: %w", err)
			return
		}

		// SQLite serializes writers; a single connection also keeps :memory: databases alive.
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	default:
		err = fmt.Errorf("unsupported database uri %q", uri)
	}
	return
}

// EnableQueryLog mirrors every executed query into w.
func EnableQueryLog(db *bun.DB, w io.Writer) {
	db.AddQueryHook(bundebug.NewQueryHook(
		bundebug.WithVerbose(true),
		bundebug.WithWriter(w),
	))
}

func IsPostgres(db bun.IDB) bool {
	return db.Dialect().Name() == dialect.PG
}
