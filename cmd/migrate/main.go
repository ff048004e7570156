package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/edihub/edi-backend/pkg/config"
	"github.com/edihub/edi-backend/pkg/db"
	"github.com/edihub/edi-backend/pkg/logger"
	"github.com/edihub/edi-backend/pkg/migrate"
)

const usage = `usage: migrate [flags] <command>

commands:
  up         apply all pending migrations
  down       roll back the newest migration
  redo       roll back and re-apply the newest migration
  status     list migrations and when they were applied
  to         migrate up or down to -version
  create     write a new migration named -name into -dir
  validate   check migration files in -dir
`

var errUsage = errors.New("invalid usage")

func main() {
	dir := flag.String("dir", migrate.DefaultDir, "migrations directory used by create and validate")
	name := flag.String("name", "", "migration name for create")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for to")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	command := flag.Arg(0)
	if command == "" {
		command = "up"
	}

	if err := run(command, *dir, *name, *version); err != nil {
		if errors.Is(err, errUsage) {
			flag.Usage()
		}
		os.Exit(1)
	}
}

func run(command, dir, name, version string) error {
	_ = godotenv.Load()
	logg := logger.New(logger.Options{ServiceName: "migrate"})
	ctx := logg.WithField(context.Background(), "command", command)

	switch command {
	case "create":
		if name == "" {
			logg.Warn(ctx, "create requires -name")
			return errUsage
		}
		path, err := migrate.CreateSQLMigration(dir, name)
		if err != nil {
			logg.Error(ctx, "create migration failed", err)
			return err
		}
		logg.Info(logg.WithField(ctx, "path", path), "migration created")
		return nil
	case "validate":
		if err := migrate.ValidateDir(dir); err != nil {
			logg.Error(ctx, "migration validation failed", err)
			return err
		}
		logg.Info(logg.WithField(ctx, "dir", dir), "migrations valid")
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(ctx, "failed to load config", err)
		return err
	}
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		return err
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		logg.Error(ctx, "failed to extract sql.DB", err)
		return err
	}
	runner, err := migrate.NewRunner(sqlDB, migrate.Migrations(), logg)
	if err != nil {
		logg.Error(ctx, "failed to create migration runner", err)
		return err
	}

	switch command {
	case "up":
		err = runner.Up(ctx)
	case "down":
		err = runner.Down(ctx)
	case "redo":
		err = runner.Redo(ctx)
	case "status":
		err = printStatus(ctx, runner)
	case "to":
		var target int64
		if target, err = migrate.ParseVersion(version); err == nil {
			err = runner.To(ctx, target)
		}
	default:
		logg.Warn(ctx, "unknown command")
		return errUsage
	}
	if err != nil {
		logg.Error(ctx, "migration command failed", err)
		return err
	}
	return nil
}

func printStatus(ctx context.Context, runner *migrate.Runner) error {
	statuses, err := runner.Status(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tSTATE\tAPPLIED AT\tFILE")
	for _, st := range statuses {
		applied := "-"
		if !st.AppliedAt.IsZero() {
			applied = st.AppliedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", st.Source.Version, st.State, applied, st.Source.Path)
	}
	return tw.Flush()
}
