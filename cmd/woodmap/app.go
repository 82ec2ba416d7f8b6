package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/banshee-data/woodland.report/internal/config"
	"github.com/banshee-data/woodland.report/internal/db"
	"github.com/banshee-data/woodland.report/internal/fsutil"
	"github.com/banshee-data/woodland.report/internal/httputil"
	"github.com/banshee-data/woodland.report/internal/monitoring"
	"github.com/banshee-data/woodland.report/internal/scene"
	"github.com/banshee-data/woodland.report/internal/timeutil"
)

// app carries process-wide settings into subcommands.
type app struct {
	env    *config.Environment
	fs     fsutil.FileSystem
	clock  timeutil.Clock
	client httputil.HTTPClient
	stdout io.Writer
}

func newApp(env *config.Environment, stdout io.Writer) *app {
	return &app{
		env:    env,
		fs:     fsutil.OSFileSystem{},
		clock:  timeutil.RealClock{},
		client: httputil.NewStandardClient(&http.Client{Timeout: env.HTTPTimeout}),
		stdout: stdout,
	}
}

func newFlagSet(a *app, name string) *flag.FlagSet {
	fset := flag.NewFlagSet("woodmap "+name, flag.ContinueOnError)
	fset.SetOutput(a.stdout)
	return fset
}

// loadRunConfig reads path, or returns defaults when path is empty.
func loadRunConfig(path string) (*config.RunConfig, error) {
	if path == "" {
		return config.EmptyRunConfig(), nil
	}
	return config.LoadRunConfig(path)
}

func (a *app) retryPolicy() httputil.RetryPolicy {
	return httputil.RetryPolicy{
		MaxAttempts: a.env.Retry.Attempts,
		BaseDelay:   a.env.Retry.BaseDelay,
		MaxDelay:    a.env.Retry.MaxDelay,
	}
}

func isURL(root string) bool {
	return strings.HasPrefix(root, "http://") || strings.HasPrefix(root, "https://")
}

// backend builds the scene backend named by the run config.
func (a *app) backend(rc *config.RunConfig) (scene.Backend, error) {
	root := rc.GetSceneRoot()
	switch rc.GetSceneBackend() {
	case config.BackendLocal:
		return scene.NewLocalBackend(a.fs, root), nil
	case config.BackendHTTP:
		return scene.NewHTTPBackend(root, a.client, a.clock, a.retryPolicy()), nil
	case config.BackendSTAC:
		if a.env.STACBaseURL != "" {
			root = a.env.STACBaseURL
		}
		var inner scene.Backend = scene.NewLocalBackend(a.fs, root)
		if isURL(root) {
			inner = scene.NewHTTPBackend(root, a.client, a.clock, a.retryPolicy())
		}
		return scene.NewSTACBackend(inner), nil
	}
	return nil, fmt.Errorf("unknown scene backend %q", rc.GetSceneBackend())
}

func (a *app) store(rc *config.RunConfig) (*scene.Store, error) {
	b, err := a.backend(rc)
	if err != nil {
		return nil, err
	}
	return scene.NewStore(b, scene.StoreOptions{CacheEntries: rc.GetCacheEntries()}), nil
}

// sceneIDs returns explicit IDs, the run config's list, or every scene the
// backend can enumerate, in that order of preference.
func sceneIDs(ctx context.Context, store *scene.Store, rc *config.RunConfig, explicit []string) ([]string, error) {
	if len(explicit) > 0 {
		return explicit, nil
	}
	if len(rc.Scenes) > 0 {
		return rc.Scenes, nil
	}
	ids, err := store.ListScenes(ctx)
	if err != nil {
		return nil, fmt.Errorf("no scenes configured and %w", err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no scenes found under %s", rc.GetSceneRoot())
	}
	return ids, nil
}

// splitList parses a comma separated flag value.
func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (a *app) openRegistry() (*db.DB, error) {
	reg, err := db.NewDB(a.env.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open registry %s: %w", a.env.DBPath, err)
	}
	return reg, nil
}

var logf = monitoring.Component("woodmap")
