package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

//go:embed *.sql
var schema embed.FS

// Migrate brings the results archive schema at pgurl up to date and logs
// each version it applied.
func Migrate(ctx context.Context, pgurl string, log zerolog.Logger) error {
	db, err := sql.Open("pgx", pgurl)
	if err != nil {
		return fmt.Errorf("open archive db: %w", err)
	}
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, schema)
	if err != nil {
		return fmt.Errorf("load archive schema: %w", err)
	}
	applied, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply archive schema: %w", err)
	}
	for _, r := range applied {
		log.Info().Int64("version", r.Source.Version).Dur("took", r.Duration).Msg("archive schema migrated")
	}
	return nil
}
