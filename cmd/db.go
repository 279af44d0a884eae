package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/council-search/config"
	"github.com/otherjamesbrown/council-search/credentials"
	cserrors "github.com/otherjamesbrown/council-search/pkg/errors"
	"github.com/otherjamesbrown/council-search/pkg/db"
	"github.com/otherjamesbrown/council-search/pkg/logging"
)

// NewDbCommand creates the db command group.
func NewDbCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
		Long: `Database management commands.

With the sqlite driver the schema is created when the database is opened, so
only 'db status' has anything to report. With the postgres driver the schema
is managed by the embedded migrations, tracked in schema_migrations.

The postgres password can be kept out of the config file: 'db login' stores it
in the system keyring and every command reads it from there when
postgres.password and postgres.dsn are both unset.`,
		Aliases: []string{"database"},
	}

	cmd.AddCommand(newDbMigrateCommand(deps))
	cmd.AddCommand(newDbStatusCommand(deps))
	cmd.AddCommand(newDbLoginCommand(deps))
	cmd.AddCommand(newDbLogoutCommand(deps))
	return cmd
}

// connectPostgres resolves the keyring password and connects, retrying per
// postgres.connect_attempts.
func connectPostgres(ctx context.Context, cfg *config.Config, creds *credentials.Store, logger logging.Logger) (*pgxpool.Pool, error) {
	if creds != nil {
		if err := creds.Resolve(&cfg.Postgres); err != nil {
			logger.Warn("Could not read postgres password from keyring", logging.Err(err))
		}
	}
	pool, err := db.ConnectWithRetry(ctx, &cfg.Postgres, cfg.Postgres.ConnectAttempts, cfg.Postgres.ConnectRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return pool, nil
}

func newDbMigrateCommand(deps *Deps) *cobra.Command {
	var dryRun, yes bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending PostgreSQL migrations",
		Long: `Apply pending database migrations. Each migration runs in its own
transaction; the first failure stops the run.

Examples:
  council db migrate --dry-run
  council db migrate --yes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.config()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if cfg.Storage.Driver != config.DriverPostgres {
				fmt.Fprintln(out, "The sqlite schema is applied automatically; nothing to migrate.")
				return nil
			}

			ctx := cmd.Context()
			pool, err := connectPostgres(ctx, cfg, deps.Credentials, deps.logger(cfg))
			if err != nil {
				return err
			}
			defer pool.Close()

			status, err := db.GetMigrationStatus(ctx, pool, db.Migrations())
			if err != nil {
				return fmt.Errorf("getting migration status: %w", err)
			}
			if len(status.Pending) == 0 {
				fmt.Fprintln(out, "No pending migrations.")
				return nil
			}

			fmt.Fprintf(out, "Pending migrations (%d):\n", len(status.Pending))
			for _, m := range status.Pending {
				fmt.Fprintf(out, "  %s - %s\n", m.Version, m.Name)
			}
			fmt.Fprintln(out)

			if dryRun {
				fmt.Fprintln(out, "Dry run mode: no migrations applied.")
				return nil
			}
			if !yes && !confirm(cmd.InOrStdin(), out, "Apply these migrations?") {
				fmt.Fprintln(out, "Migration cancelled.")
				return nil
			}

			result, err := db.RunMigrations(ctx, pool, db.Migrations())
			if result != nil {
				for _, v := range result.Applied {
					fmt.Fprintf(out, "  %s %s\n", colored(colorGreen, "✓"), v)
				}
			}
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintln(out, colored(colorGreen, "Migrations completed successfully."))
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be applied without executing")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Apply without asking for confirmation")
	return cmd
}

// storageStatus is the db status report.
type storageStatus struct {
	Driver     string              `json:"driver" yaml:"driver"`
	Location   string              `json:"location" yaml:"location"`
	Healthy    bool                `json:"healthy" yaml:"healthy"`
	Migrations *db.MigrationStatus `json:"migrations,omitempty" yaml:"migrations,omitempty"`
}

func newDbStatusCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show storage and migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.config()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			status := storageStatus{Driver: cfg.Storage.Driver}

			if cfg.Storage.Driver == config.DriverPostgres {
				status.Location = fmt.Sprintf("%s:%d/%s", cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.Database)
				pool, err := connectPostgres(ctx, cfg, deps.Credentials, deps.logger(cfg))
				if err != nil {
					return err
				}
				defer pool.Close()

				status.Healthy = db.Check(ctx, pool).Healthy
				status.Migrations, err = db.GetMigrationStatus(ctx, pool, db.Migrations())
				if err != nil {
					return fmt.Errorf("getting migration status: %w", err)
				}
			} else {
				status.Location, err = cfg.SQLitePath()
				if err != nil {
					return err
				}
				rt, err := deps.OpenRuntime(ctx, cfg, deps.Credentials, deps.logger(cfg))
				if err != nil {
					return err
				}
				defer rt.Close()
				status.Healthy = rt.Health(ctx) == nil
			}

			return render(cmd.OutOrStdout(), deps.outputFormat(cfg), status, func(w io.Writer) error {
				return printStorageStatus(w, status)
			})
		},
	}
}

func printStorageStatus(w io.Writer, s storageStatus) error {
	health := colored(colorGreen, "healthy")
	if !s.Healthy {
		health = colored(colorRed, "unreachable")
	}
	fmt.Fprintf(w, "Driver:   %s\n", s.Driver)
	fmt.Fprintf(w, "Location: %s\n", s.Location)
	fmt.Fprintf(w, "Status:   %s\n", health)

	if s.Migrations == nil {
		return nil
	}
	m := s.Migrations
	fmt.Fprintln(w)
	for _, e := range m.Applied {
		at := "-"
		if e.AppliedAt != nil {
			at = e.AppliedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "  %s %-26s %-33s %s\n", colored(colorGreen, "applied"), truncate(e.Version, 26), truncate(e.Name, 33), at)
	}
	for _, e := range m.Pending {
		fmt.Fprintf(w, "  %s %-26s %s\n", colored(colorYellow, "pending"), truncate(e.Version, 26), e.Name)
	}
	for _, e := range m.Drift {
		fmt.Fprintf(w, "  %s   %-26s %s\n", colored(colorRed, "drift"), truncate(e.Version, 26), e.Name)
	}
	fmt.Fprintf(w, "\nSummary: %d applied, %d pending", len(m.Applied), len(m.Pending))
	if len(m.Drift) > 0 {
		fmt.Fprintf(w, ", %s", colored(colorRed, fmt.Sprintf("%d drift", len(m.Drift))))
	}
	fmt.Fprintln(w)
	return nil
}

func newDbLoginCommand(deps *Deps) *cobra.Command {
	var skipCheck bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store the PostgreSQL password in the system keyring",
		Long: `Prompt for the PostgreSQL password and store it in the system keyring
under the account user@host:port/database from the postgres config section.
The connection is tested first unless --skip-check is given.

Examples:
  council db login
  echo "$PGPASSWORD" | council db login --skip-check`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.config()
			if err != nil {
				return err
			}
			account := credentials.Account(&cfg.Postgres)
			out := cmd.OutOrStdout()

			fmt.Fprintf(cmd.ErrOrStderr(), "Password for %s: ", account)
			password, err := deps.ReadPassword()
			if err != nil {
				return err
			}
			if password == "" {
				return fmt.Errorf("no password entered: %w", cserrors.ErrValidation)
			}

			if !skipCheck {
				check := cfg.Postgres
				check.Password = password
				check.DSN = ""
				pool, err := db.Connect(cmd.Context(), &check)
				if err != nil {
					return fmt.Errorf("testing connection: %w", err)
				}
				pool.Close()
			}

			if err := deps.Credentials.SavePassword(account, password); err != nil {
				return err
			}
			fmt.Fprintf(out, "Password for %s stored in %s (%s)\n",
				account, credentials.Description(), credentials.MaskCredential(password))
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipCheck, "skip-check", false, "Store without testing the connection")
	return cmd
}

func newDbLogoutCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored PostgreSQL password",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.config()
			if err != nil {
				return err
			}
			account := credentials.Account(&cfg.Postgres)
			if err := deps.Credentials.Delete(account); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed stored password for %s\n", account)
			return nil
		},
	}
}

// confirm asks a yes/no question on out and reads the answer from in.
func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s (y/N): ", question)
	answer, _ := bufio.NewReader(in).ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
