package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/bsvalues/TerraBuild-sub001/internal/adapter/postgres"
	"github.com/bsvalues/TerraBuild-sub001/internal/config"
	"github.com/bsvalues/TerraBuild-sub001/internal/domain/curve"
)

// runAdmin dispatches admin subcommands (migrate, import-dataset,
// list-datasets, delete-dataset).
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "migrate":
		return runAdminMigrate(args[1:])
	case "import-dataset":
		return runAdminImportDataset(args[1:])
	case "list-datasets":
		return runAdminListDatasets(args[1:])
	case "delete-dataset":
		return runAdminDeleteDataset(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: swarm admin <command> [options]

Commands:
  migrate          Apply, roll back or inspect database migrations
  import-dataset   Store a cost dataset from a JSON or CSV file
  list-datasets    List stored datasets
  delete-dataset   Delete a stored dataset
  help             Show this help message

Examples:
  swarm admin migrate
  swarm admin migrate --down 1
  swarm admin migrate --version
  swarm admin import-dataset --name benton-2024 --file costs.csv
  swarm admin list-datasets
  swarm admin delete-dataset --name benton-2024
`)
}

func adminConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Postgres.DSN == "" {
		return nil, errors.New("postgres.dsn is not configured (set DATABASE_URL)")
	}
	return cfg, nil
}

func loadAdminStore(ctx context.Context) (*postgres.Store, func(), error) {
	cfg, err := adminConfig()
	if err != nil {
		return nil, nil, err
	}
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrations: %w", err)
	}
	return postgres.NewStore(pool), pool.Close, nil
}

func runAdminMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	down := fs.Int("down", 0, "roll back this many migrations")
	showVersion := fs.Bool("version", false, "print the current schema version")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := adminConfig()
	if err != nil {
		return err
	}
	dsn := cfg.Postgres.DSN
	ctx := context.Background()

	switch {
	case *showVersion:
		v, err := postgres.MigrationVersion(ctx, dsn)
		if err != nil {
			return fmt.Errorf("migration version: %w", err)
		}
		fmt.Printf("schema version: %d\n", v)
	case *down > 0:
		if err := postgres.RollbackMigrations(ctx, dsn, *down); err != nil {
			return fmt.Errorf("rollback: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Rolled back %d migration(s)\n", *down)
	default:
		if err := postgres.RunMigrations(ctx, dsn); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		fmt.Fprintln(os.Stderr, "Migrations applied")
	}
	return nil
}

func runAdminImportDataset(args []string) error {
	fs := flag.NewFlagSet("import-dataset", flag.ContinueOnError)
	name := fs.String("name", "", "dataset name (required)")
	file := fs.String("file", "", "path to a .json or .csv file (required)")
	format := fs.String("format", "", "json or csv (default: from file extension)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *name == "" {
		return fmt.Errorf("--name is required")
	}
	if *file == "" {
		return fmt.Errorf("--file is required")
	}
	if err := postgres.ValidateDatasetName(*name); err != nil {
		return err
	}

	f, err := os.Open(*file)
	if err != nil {
		return fmt.Errorf("open %s: %w", *file, err)
	}
	defer f.Close()

	kind := *format
	if kind == "" {
		kind = strings.TrimPrefix(strings.ToLower(filepath.Ext(*file)), ".")
	}
	points, err := curve.ReadPoints(f, kind)
	if err != nil {
		return fmt.Errorf("read %s: %w", *file, err)
	}

	ctx := context.Background()
	store, cleanup, err := loadAdminStore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := store.Save(ctx, *name, points); err != nil {
		return fmt.Errorf("save dataset: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Dataset %s stored (%d points)\n", *name, len(points))
	return nil
}

func runAdminListDatasets(args []string) error {
	fs := flag.NewFlagSet("list-datasets", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	store, cleanup, err := loadAdminStore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	infos, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("list datasets: %w", err)
	}
	if len(infos) == 0 {
		fmt.Println("No datasets found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPOINTS")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%d\n", info.Name, info.Points)
	}
	return w.Flush()
}

func runAdminDeleteDataset(args []string) error {
	fs := flag.NewFlagSet("delete-dataset", flag.ContinueOnError)
	name := fs.String("name", "", "dataset name (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return fmt.Errorf("--name is required")
	}

	ctx := context.Background()
	store, cleanup, err := loadAdminStore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := store.Delete(ctx, *name); err != nil {
		return fmt.Errorf("delete dataset: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Dataset %s deleted\n", *name)
	return nil
}
