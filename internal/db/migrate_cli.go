package db

import (
	"fmt"
	"io"
	"io/fs"
	"strconv"
)

// RunMigrateCommand handles the 'migrate' subcommand. The database is
// opened without applying migrations so every action starts from the
// stored version.
func RunMigrateCommand(args []string, dbPath string, out io.Writer) error {
	if len(args) < 1 {
		PrintMigrateHelp(out)
		return fmt.Errorf("missing migrate action")
	}

	database, err := openRaw(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	switch action := args[0]; action {
	case "up":
		if err := database.MigrateUp(Migrations); err != nil {
			return err
		}
		fmt.Fprintln(out, "All migrations applied")
		return printVersion(database, Migrations, out)

	case "down":
		if err := database.MigrateDown(Migrations); err != nil {
			return err
		}
		fmt.Fprintln(out, "Rolled back one migration")
		return printVersion(database, Migrations, out)

	case "status":
		return printVersion(database, Migrations, out)

	case "to":
		v, err := versionArg(args, action)
		if err != nil {
			return err
		}
		if err := database.MigrateTo(Migrations, uint(v)); err != nil {
			return err
		}
		return printVersion(database, Migrations, out)

	case "force":
		v, err := versionArg(args, action)
		if err != nil {
			return err
		}
		if err := database.MigrateForce(Migrations, v); err != nil {
			return err
		}
		fmt.Fprintf(out, "Migration version forced to %d\n", v)
		return nil

	case "help":
		PrintMigrateHelp(out)
		return nil

	default:
		PrintMigrateHelp(out)
		return fmt.Errorf("unknown migrate action: %s", action)
	}
}

func versionArg(args []string, action string) (int, error) {
	if len(args) < 2 {
		return 0, fmt.Errorf("usage: migrate %s <version_number>", action)
	}
	v, err := strconv.Atoi(args[1])
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid version number: %s", args[1])
	}
	return v, nil
}

func printVersion(database *DB, migrationsFS fs.FS, out io.Writer) error {
	version, dirty, err := database.MigrateVersion(migrationsFS)
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	fmt.Fprintf(out, "Current version: %d (dirty: %v)\n", version, dirty)
	if dirty {
		fmt.Fprintln(out, "WARNING: a migration failed mid-execution; inspect the database, then run: migrate force <version>")
	}
	return nil
}

// PrintMigrateHelp writes the migrate usage.
func PrintMigrateHelp(out io.Writer) {
	fmt.Fprint(out, `Usage: anticheat-inspect migrate <action> [args]

Actions:
  up              Apply all pending migrations
  down            Roll back the most recent migration
  status          Show the current migration version
  to <version>    Migrate up or down to a specific version
  force <version> Set the version without running migrations (recovery only)
  help            Show this help
`)
}
