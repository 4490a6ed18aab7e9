// Command migrate applies the acquisition schema migrations.
//
// Migrations come from the set embedded in the binary unless --path or
// database.migration_path names a directory.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/document-acquisition-service/internal/app"
	"github.com/helixir/document-acquisition-service/internal/config"
	"github.com/helixir/document-acquisition-service/internal/database"
	"github.com/helixir/document-acquisition-service/internal/observability"
)

const connectTimeout = 30 * time.Second

// schemaMigrator is the part of *database.Migrator the commands use.
type schemaMigrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Force(version int) error
	Version() (uint, bool, error)
	Close() error
}

var _ schemaMigrator = (*database.Migrator)(nil)

// openFunc opens a migrator reading from dir, or the embedded set when dir
// is empty. The returned func releases everything it opened.
type openFunc func(dir string) (schemaMigrator, func(), error)

func main() {
	logger := observability.NewLogger(config.LoggingConfig{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	}, "migrate")

	if err := newRootCmd(openFromConfig(logger), logger).Execute(); err != nil {
		os.Exit(1)
	}
}

func openFromConfig(logger zerolog.Logger) openFunc {
	return func(dir string) (schemaMigrator, func(), error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, nil, fmt.Errorf("load config: %w", err)
		}
		if dir == "" {
			dir = cfg.Database.MigrationPath
		}

		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		db, err := database.New(ctx, &cfg.Database, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		m, err := app.NewMigrator(db, dir, logger)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return m, func() {
			if err := m.Close(); err != nil {
				logger.Warn().Err(err).Msg("close migrator")
			}
			db.Close()
		}, nil
	}
}

func newRootCmd(open openFunc, logger zerolog.Logger) *cobra.Command {
	var dir string

	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Apply document acquisition schema migrations",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&dir, "path", "", "read migrations from this directory instead of the embedded set")

	// with opens the migrator, runs op and reports the resulting version.
	with := func(op func(m schemaMigrator) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			m, release, err := open(dir)
			if err != nil {
				return err
			}
			defer release()
			if err := op(m); err != nil {
				return err
			}
			return printVersion(cmd.OutOrStdout(), m)
		}
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: with(func(m schemaMigrator) error {
				logger.Info().Msg("applying pending migrations")
				return wrapOp("up", m.Up())
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back every migration",
			Args:  cobra.NoArgs,
			RunE: with(func(m schemaMigrator) error {
				logger.Warn().Msg("rolling back all migrations")
				return wrapOp("down", m.Down())
			}),
		},
		&cobra.Command{
			Use:   "steps [--] N",
			Short: "Move N migrations up, or down when N is negative (use -- before a negative N)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := strconv.Atoi(args[0])
				if err != nil || n == 0 {
					return fmt.Errorf("steps: %q is not a non-zero integer", args[0])
				}
				return with(func(m schemaMigrator) error {
					logger.Info().Int("steps", n).Msg("moving migrations")
					return wrapOp("steps", m.Steps(n))
				})(cmd, args)
			},
		},
		&cobra.Command{
			Use:   "force VERSION",
			Short: "Mark VERSION as applied and clear the dirty flag",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil || v < 0 {
					return fmt.Errorf("force: %q is not a version", args[0])
				}
				return with(func(m schemaMigrator) error {
					logger.Warn().Int("version", v).Msg("forcing migration version")
					return wrapOp("force", m.Force(v))
				})(cmd, args)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied migration version",
			Args:  cobra.NoArgs,
			RunE:  with(func(schemaMigrator) error { return nil }),
		},
	)
	return root
}

func wrapOp(op string, err error) error {
	if err != nil {
		return fmt.Errorf("migrate %s: %w", op, err)
	}
	return nil
}

func printVersion(w io.Writer, m schemaMigrator) error {
	v, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("read migration version: %w", err)
	}
	if dirty {
		_, err = fmt.Fprintf(w, "version %d (dirty)\n", v)
	} else {
		_, err = fmt.Fprintf(w, "version %d\n", v)
	}
	return err
}
