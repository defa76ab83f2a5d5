package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/angelmondragon/marketplace-backend/internal/bootstrap"
	"github.com/angelmondragon/marketplace-backend/pkg/db"
	"github.com/angelmondragon/marketplace-backend/pkg/migrate"
)

func main() {
	cmd := flag.String("cmd", "up", "up|down|status|to|create|validate")
	dir := flag.String("dir", migrate.DefaultDir, "migrations directory")
	name := flag.String("name", "", "migration name for -cmd=create")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=to")
	flag.Parse()

	// create and validate work on the filesystem only
	switch *cmd {
	case "create":
		if *name == "" {
			fail("missing -name for create")
		}
		path, err := migrate.CreateSQLMigration(*dir, *name)
		if err != nil {
			fail("create migration: %v", err)
		}
		fmt.Println("created", path)
		return
	case "validate":
		if err := migrate.ValidateDir(*dir); err != nil {
			fail("validate: %v", err)
		}
		fmt.Println("migrations ok")
		return
	}

	rt, err := bootstrap.Load("migrate")
	if err != nil {
		fail("%v", err)
	}
	cfg, logg := rt.Config, rt.Logger
	ctx := logg.WithFields(context.Background(), map[string]any{"env": cfg.App.Env, "cmd": *cmd, "dir": *dir})

	dbClient, err := db.New(ctx, cfg.DB, false, logg)
	if err != nil {
		logg.Error(ctx, "database unavailable", err)
		os.Exit(1)
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		logg.Error(ctx, "sql handle unavailable", err)
		os.Exit(1)
	}
	runner, err := migrate.NewRunner(sqlDB, *dir)
	if err != nil {
		logg.Error(ctx, "migration runner unavailable", err)
		os.Exit(1)
	}

	if err := run(ctx, runner, *cmd, *version); err != nil {
		logg.Error(ctx, "migration command failed", err)
		os.Exit(1)
	}
	logg.Info(ctx, "migration command finished")
}

func run(ctx context.Context, runner *migrate.Runner, cmd, version string) error {
	switch cmd {
	case "up":
		applied, err := runner.Up(ctx)
		fmt.Printf("applied %d migration(s)\n", applied)
		return err
	case "down":
		return runner.Down(ctx)
	case "to":
		if version == "" {
			return fmt.Errorf("missing -version for to")
		}
		return runner.To(ctx, version)
	case "status":
		statuses, err := runner.Status(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "VERSION\tAPPLIED\tFILE")
		for _, st := range statuses {
			fmt.Fprintf(w, "%d\t%t\t%s\n", st.Version, st.Applied, st.File)
		}
		return w.Flush()
	default:
		return fmt.Errorf("unknown -cmd %q", cmd)
	}
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
