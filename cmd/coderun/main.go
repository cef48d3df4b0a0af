// Command coderun submits code to a remote execution service and reports the
// outcome.
//
// Usage:
//
//	coderun [-config FILE] <command> [flags] [args]
//
// Commands: run, wait, status, cancel, artifacts, download, languages, health.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/seantiz/coderun/internal/config"
	"github.com/seantiz/coderun/pkg/catalog"
	"github.com/seantiz/coderun/pkg/client"
	"github.com/seantiz/coderun/pkg/runner"
)

// Exit codes.
const (
	exitOK      = 0
	exitJobFail = 1
	exitError   = 2
	exitAborted = 130
)

// app bundles the collaborators every command needs.
type app struct {
	cfg     *config.Config
	client  *client.Client
	runner  *runner.Runner
	catalog *catalog.Catalog
	logger  *slog.Logger
	out     io.Writer
}

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, a *app, args []string) error
}

var commands = []command{
	{"run", "submit code and wait for the result", cmdRun},
	{"wait", "wait for an existing job to finish", cmdWait},
	{"status", "show the current status of one or more jobs", cmdStatus},
	{"cancel", "cancel a job", cmdCancel},
	{"artifacts", "list the files a job produced", cmdArtifacts},
	{"download", "download one artifact", cmdDownload},
	{"languages", "list supported languages", cmdLanguages},
	{"health", "check that the service is reachable", cmdHealth},
}

func main() {
	os.Exit(realMain(os.Args[1:]))
}

func realMain(args []string) int {
	fs := flag.NewFlagSet("coderun", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	fs.Usage = func() { usage(fs.Output()) }
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if fs.NArg() == 0 {
		usage(os.Stderr)
		return exitError
	}

	name, rest := fs.Arg(0), fs.Args()[1:]
	var cmd *command
	for i := range commands {
		if commands[i].name == name {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		fmt.Fprintf(os.Stderr, "coderun: unknown command %q\n\n", name)
		usage(os.Stderr)
		return exitError
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "coderun: %v\n", err)
		return exitError
	}

	a, err := newApp(cfg, os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "coderun: %v\n", err)
		return exitError
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = cmd.run(ctx, a, rest)
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errJobFailed):
		return exitJobFail
	case errors.Is(err, flag.ErrHelp):
		return exitOK
	case errors.Is(err, errUsage):
		return exitError
	case ctx.Err() != nil:
		fmt.Fprintln(os.Stderr, "coderun: interrupted")
		return exitAborted
	default:
		printError(os.Stderr, err)
		return exitError
	}
}

func newApp(cfg *config.Config, out, logOut io.Writer) (*app, error) {
	logger := config.NewLogger(logOut, cfg.Level())

	c, err := client.New(cfg.ClientConfig(), client.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:     cfg,
		client:  c,
		runner:  runner.New(c, cfg.RunnerConfig(), logger),
		catalog: catalog.New(c, catalog.WithTTL(cfg.CatalogTTL), catalog.WithFetchTimeout(cfg.RequestTimeout), catalog.WithLogger(logger)),
		logger:  logger,
		out:     out,
	}, nil
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: coderun [-config FILE] <command> [flags] [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-10s %s\n", c.name, c.summary)
	}
}
