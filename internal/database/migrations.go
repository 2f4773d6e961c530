package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pressly/goose/v3"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/eashman/realtime-chat/internal/database/models"
)

var schemaModels = []interface{}{
	(*models.User)(nil),
	(*models.Room)(nil),
	(*models.RoomUser)(nil),
	(*models.Message)(nil),
	(*models.Attachment)(nil),
	(*models.RoomActivity)(nil),
}

type index struct {
	model   interface{}
	name    string
	unique  bool
	columns []string
}

var schemaIndexes = []index{
	{(*models.RoomUser)(nil), "rooms_users_room_id_user_id_idx", true, []string{"room_id", "user_id"}},
	{(*models.RoomActivity)(nil), "room_activities_user_id_room_id_idx", true, []string{"user_id", "room_id"}},
	{(*models.Message)(nil), "room_messages_room_id_id_idx", false, []string{"room_id", "id"}},
	{(*models.Attachment)(nil), "attachments_room_message_id_idx", false, []string{"room_message_id"}},
}

// Migrate brings the schema up to date. Migrations run inside goose's
// transaction so a single-connection pool never waits on itself.
func Migrate(ctx context.Context, db *bun.DB) (err error) {
	var provider *goose.Provider
	if provider, err = newProvider(db); err != nil {
		return
	}

	var results []*goose.MigrationResult
	if results, err = provider.Up(ctx); err != nil {
		err = fmt.Errorf("failed to apply migrations: %w", err)
		return
	}

	for _, res := range results {
		zap.L().Info("applied migration",
			zap.Int64("version", res.Source.Version),
			zap.Duration("took", res.Duration),
		)
	}
	return
}

func newProvider(db *bun.DB) (*goose.Provider, error) {
	dialect := goose.DialectSQLite3
	if IsPostgres(db) {
		dialect = goose.DialectPostgres
	}

	return goose.NewProvider(dialect, db.DB, nil,
		goose.WithDisableGlobalRegistry(true),
		goose.WithLogger(gooseLogger{zap.S().With("section", "goose")}),
		goose.WithGoMigrations(
			goose.NewGoMigration(1,
				&goose.GoFunc{RunTx: func(ctx context.Context, tx *sql.Tx) error { return createTables(ctx, db, tx) }},
				&goose.GoFunc{RunTx: func(ctx context.Context, tx *sql.Tx) error { return dropTables(ctx, db, tx) }},
			),
			goose.NewGoMigration(2,
				&goose.GoFunc{RunTx: func(ctx context.Context, tx *sql.Tx) error { return createIndexes(ctx, db, tx) }},
				&goose.GoFunc{RunTx: func(ctx context.Context, tx *sql.Tx) error { return dropIndexes(ctx, db, tx) }},
			),
		),
	)
}

func createTables(ctx context.Context, db *bun.DB, tx *sql.Tx) (err error) {
	for _, model := range schemaModels {
		_, err = db.NewCreateTable().
			Conn(tx).
			Model(model).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return
		}
	}
	return
}

func dropTables(ctx context.Context, db *bun.DB, tx *sql.Tx) (err error) {
	for i := len(schemaModels) - 1; i >= 0; i-- {
		_, err = db.NewDropTable().
			Conn(tx).
			Model(schemaModels[i]).
			IfExists().
			Exec(ctx)
		if err != nil {
			return
		}
	}
	return
}

func createIndexes(ctx context.Context, db *bun.DB, tx *sql.Tx) (err error) {
	for _, idx := range schemaIndexes {
		q := db.NewCreateIndex().
			Conn(tx).
			Model(idx.model).
			Index(idx.name).
			Column(idx.columns...).
			IfNotExists()
		if idx.unique {
			q = q.Unique()
		}

		if _, err = q.Exec(ctx); err != nil {
			return
		}
	}
	return
}

func dropIndexes(ctx context.Context, db *bun.DB, tx *sql.Tx) (err error) {
	for _, idx := range schemaIndexes {
		_, err = db.NewDropIndex().
			Conn(tx).
			Index(idx.name).
			IfExists().
			Exec(ctx)
		if err != nil {
			return
		}
	}
	return
}

type gooseLogger struct {
	log *zap.SugaredLogger
}

func (l gooseLogger) Printf(format string, v ...interface{}) {
	l.log.Debugf(strings.TrimSpace(format), v...)
}

func (l gooseLogger) Fatalf(format string, v ...interface{}) {
	l.log.Fatalf(strings.TrimSpace(format), v...)
}
