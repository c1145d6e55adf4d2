package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/log"
	"github.com/jackc/pgx/v5"
)

type Migration struct {
	ID          string
	Description string
	Up          func(ctx context.Context, tx pgx.Tx) error
}

var migrations = []Migration{
	{
		ID:          "001_initial_schema",
		Description: "Create conversations and turns",
		Up: func(ctx context.Context, tx pgx.Tx) error {
			schema, err := sqlFS.ReadFile("db_init.sql")
			if err != nil {
				return fmt.Errorf("failed to read embedded db_init.sql: %w", err)
			}
			_, err = tx.Exec(ctx, string(schema))
			return err
		},
	},
	{
		ID:          "002_config_table",
		Description: "Create the config override table",
		Up: func(ctx context.Context, tx pgx.Tx) error {
			_, err := tx.Exec(ctx, `
				CREATE TABLE IF NOT EXISTS config (
					key TEXT PRIMARY KEY,
					value TEXT NOT NULL,
					updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
				)
			`)
			return err
		},
	},
}

// Confirm decides whether a pending migration is applied. A nil Confirm
// applies everything.
type Confirm func(m Migration) (bool, error)

// ConfirmInteractively asks on the terminal before each migration.
func ConfirmInteractively(m Migration) (bool, error) {
	var confirm bool
	err := huh.NewConfirm().
		Title(fmt.Sprintf("New migration found: %s", m.ID)).
		Description(m.Description).
		Value(&confirm).
		Run()
	if err != nil {
		return false, fmt.Errorf("error getting user confirmation: %w", err)
	}
	return confirm, nil
}

type Beginner interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

func Migrate(ctx context.Context, conn Beginner, logger *log.Logger, confirm Confirm) error {
	_, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS migration_history (
			id TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("error creating migration_history table: %w", err)
	}

	for _, migration := range migrations {
		var applied int
		err := conn.QueryRow(ctx,
			"SELECT 1 FROM migration_history WHERE id = $1", migration.ID,
		).Scan(&applied)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("error checking migration status: %w", err)
		}
		if applied == 1 {
			logger.Debug("migration already applied", "id", migration.ID)
			continue
		}

		if confirm != nil {
			ok, err := confirm(migration)
			if err != nil {
				return err
			}
			if !ok {
				logger.Info("migration skipped", "id", migration.ID)
				continue
			}
		}

		logger.Info("applying migration", "id", migration.ID)
		if err := apply(ctx, conn, migration); err != nil {
			return err
		}
	}

	return nil
}

func apply(ctx context.Context, conn Beginner, migration Migration) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := migration.Up(ctx, tx); err != nil {
		return fmt.Errorf("error applying migration %s: %w", migration.ID, err)
	}
	_, err = tx.Exec(ctx,
		"INSERT INTO migration_history (id, applied_at) VALUES ($1, now())",
		migration.ID,
	)
	if err != nil {
		return fmt.Errorf("error recording migration %s: %w", migration.ID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("error committing migration %s: %w", migration.ID, err)
	}
	return nil
}
