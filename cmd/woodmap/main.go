// Command woodmap trains and applies wooded/non-wooded segmentation models
// over four-band satellite scenes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/banshee-data/woodland.report/internal/config"
	"github.com/banshee-data/woodland.report/internal/monitoring"
)

type command struct {
	summary string
	run     func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"train":        {"train a model from a run config", runTrain},
	"predict":      {"predict wooded masks for scenes with a checkpoint", runPredict},
	"evaluate":     {"score predictions against reference labels", runEvaluate},
	"rank":         {"rank scenes by clear pixels and mean NDVI", runRank},
	"temporal":     {"build temporal NDVI layers for a scene", runTemporal},
	"import-label": {"import a TIFF reference label raster", runImportLabel},
	"migrate":      {"manage the run registry schema", runMigrate},
	"serve":        {"serve the run registry over HTTP", runServe},
	"version":      {"print build information", runVersion},
}

// errUsage reports a bad command line; the flag set has already printed help.
var errUsage = errors.New("invalid usage")

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: woodmap <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-13s %s\n", name, commands[name].summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Process settings are read from %s* environment variables.\n", config.EnvPrefix)
}

// run dispatches args to a subcommand.
func run(ctx context.Context, a *app, args []string) error {
	if len(args) < 1 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		usage(a.stdout)
		if len(args) < 1 {
			return errUsage
		}
		return nil
	}
	cmd, ok := commands[args[0]]
	if !ok {
		usage(a.stdout)
		return fmt.Errorf("unknown command %q", args[0])
	}
	err := cmd.run(ctx, a, args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	return err
}

func main() {
	env, err := config.LoadEnvironment()
	if err != nil {
		log.Fatalf("Failed to load environment: %v", err)
	}
	if env.Quiet {
		monitoring.SetLogger(nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := newApp(env, os.Stdout)
	if err := run(ctx, a, os.Args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		log.Fatalf("woodmap %s: %v", os.Args[1], err)
	}
}
