package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/woodland.report/internal/api"
	"github.com/banshee-data/woodland.report/internal/db"
	"github.com/banshee-data/woodland.report/internal/version"
)

func printMigrateHelp(a *app) {
	fmt.Fprintln(a.stdout, `Usage: woodmap migrate <action>

Actions:
  up              apply all pending migrations
  down            roll back the most recent migration
  status          show current and latest schema versions
  to <version>    migrate up or down to a version
  force <version> set the version without running migrations (recovery only)`)
}

func runMigrate(ctx context.Context, a *app, args []string) error {
	if len(args) < 1 || args[0] == "help" {
		printMigrateHelp(a)
		if len(args) < 1 {
			return errUsage
		}
		return nil
	}
	reg, err := db.NewDBWithMigrationCheck(a.env.DBPath, false)
	if err != nil {
		return fmt.Errorf("open registry %s: %w", a.env.DBPath, err)
	}
	defer reg.Close()

	versionArg := func() (int, error) {
		if len(args) < 2 {
			return 0, fmt.Errorf("usage: woodmap migrate %s <version>", args[0])
		}
		v, err := strconv.Atoi(args[1])
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid version number: %s", args[1])
		}
		return v, nil
	}

	switch args[0] {
	case "up":
		err = reg.MigrateUp()
	case "down":
		err = reg.MigrateDown()
	case "to":
		var v int
		if v, err = versionArg(); err == nil {
			err = reg.MigrateTo(uint(v))
		}
	case "force":
		var v int
		if v, err = versionArg(); err == nil {
			err = reg.MigrateForce(v)
		}
	case "status":
	default:
		printMigrateHelp(a)
		return fmt.Errorf("unknown migrate action %q", args[0])
	}
	if err != nil {
		return err
	}

	st, err := reg.Status()
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Current version: %d\nLatest version:  %d\nDirty: %v\n", st.Current, st.Latest, st.Dirty)
	if n := st.Pending(); n > 0 {
		fmt.Fprintf(a.stdout, "%d migration(s) pending. Run: woodmap migrate up\n", n)
	}
	if st.Dirty {
		fmt.Fprintln(a.stdout, "WARNING: a migration failed mid-execution. Inspect the database, then run: woodmap migrate force <version>")
	}
	return nil
}

// newServeMux mounts the registry API and the admin debug routes.
func newServeMux(reg *db.DB) (*http.ServeMux, error) {
	mux := http.NewServeMux()
	if err := reg.AttachAdminRoutes(mux); err != nil {
		return nil, err
	}
	mux.Handle("/", api.NewServer(reg).Router())
	return mux, nil
}

func runServe(ctx context.Context, a *app, args []string) error {
	fset := newFlagSet(a, "serve")
	listen := fset.String("listen", a.env.Listen, "listen address")
	if err := fset.Parse(args); err != nil {
		return err
	}
	reg, err := db.NewDBWithMigrationCheck(a.env.DBPath, true)
	if err != nil {
		return err
	}
	defer reg.Close()

	mux, err := newServeMux(reg)
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:              *listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logf("serving registry %s on %s", a.env.DBPath, *listen)
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logf("server stopped")
	return nil
}

func runVersion(ctx context.Context, a *app, args []string) error {
	fset := newFlagSet(a, "version")
	asJSON := fset.Bool("json", false, "print JSON")
	if err := fset.Parse(args); err != nil {
		return err
	}
	info := version.Current()
	if *asJSON {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(a.stdout, info)
	return nil
}
