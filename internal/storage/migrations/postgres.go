package migrations

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"lending-risk-lab/internal/storage/postgres"
)

// RunPostgres applies the embedded PostgreSQL files in lexical order, each
// file in its own transaction. Files use IF NOT EXISTS and are re-applied on
// every start.
func RunPostgres(ctx context.Context, pool *postgres.Pool, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	files, err := sqlFiles(PostgresFS, "postgres")
	if err != nil {
		return err
	}

	for _, file := range files {
		data, err := fs.ReadFile(PostgresFS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		stmts := splitStatements(string(data))
		if len(stmts) == 0 {
			continue
		}

		err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			for i, stmt := range stmts {
				if _, err := tx.Exec(ctx, stmt); err != nil {
					return fmt.Errorf("statement %d: %w", i+1, err)
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
		logger.Debug("migration applied",
			zap.String("database", "postgres"),
			zap.String("file", file),
			zap.Int("statements", len(stmts)))
	}

	return nil
}
