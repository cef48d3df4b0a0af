package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	"github.com/seantiz/coderun/pkg/catalog"
	"github.com/seantiz/coderun/pkg/model"
	"github.com/seantiz/coderun/pkg/runner"
)

// statusConcurrency caps parallel GetStatus calls for the status command.
const statusConcurrency = 4

// errJobFailed marks a job that finished without succeeding. The result has
// already been printed; only the exit code is left to set.
var errJobFailed = errors.New("job did not succeed")

// errUsage marks a command invoked with the wrong arguments. Usage has
// already been printed.
var errUsage = errors.New("usage error")

func usageError(fs *flag.FlagSet) error {
	fs.Usage()
	return errUsage
}

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	warnColor = color.New(color.FgYellow, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
	dimColor  = color.New(color.Faint)
)

// envFlag collects repeated -env KEY=VALUE flags.
type envFlag map[string]string

func (e envFlag) String() string {
	pairs := make([]string, 0, len(e))
	for k, v := range e {
		pairs = append(pairs, k+"="+v)
	}
	return strings.Join(pairs, ",")
}

func (e envFlag) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return fmt.Errorf("want KEY=VALUE, got %q", s)
	}
	e[k] = v
	return nil
}

func newFlagSet(name, args string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: coderun %s [flags] %s\n", name, args)
		fs.PrintDefaults()
	}
	return fs
}

func cmdRun(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("run", "[FILE|-]")
	lang := fs.String("lang", "", "execution language (required)")
	code := fs.String("code", "", "inline source code")
	stdin := fs.String("stdin", "", "text passed to the program's stdin")
	network := fs.String("network", "", "network mode: zerotrust or semitrust")
	ttl := fs.Int("ttl", 0, "server-side execution limit in seconds")
	env := envFlag{}
	fs.Var(env, "env", "environment variable KEY=VALUE (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *lang == "" {
		fmt.Fprintln(fs.Output(), "run: -lang is required")
		return usageError(fs)
	}

	src, err := readSource(*code, fs.Arg(0))
	if err != nil {
		return err
	}

	if err := checkLanguage(ctx, a, *lang); err != nil {
		return err
	}

	req := model.ExecutionRequest{
		Language:    *lang,
		Code:        src,
		Stdin:       *stdin,
		NetworkMode: model.NetworkMode(*network),
		TTLSeconds:  *ttl,
	}
	if len(env) > 0 {
		req.Env = env
	}

	job, err := a.runner.Run(ctx, req)
	if err != nil {
		return err
	}
	return printJob(a.out, job)
}

func cmdWait(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("wait", "JOB_ID")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageError(fs)
	}

	job, err := a.runner.Wait(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	return printJob(a.out, job)
}

func cmdStatus(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("status", "JOB_ID...")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ids := fs.Args()
	if len(ids) == 0 {
		return usageError(fs)
	}

	jobs := make([]*model.Job, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(statusConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			job, err := a.client.GetStatus(gctx, id)
			if err != nil {
				return fmt.Errorf("job %s: %w", id, err)
			}
			jobs[i] = job
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, job := range jobs {
		fmt.Fprintf(a.out, "%s\t%s\n", job.ID, statusColor(job).Sprint(job.Status))
	}
	return nil
}

func cmdCancel(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("cancel", "JOB_ID")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageError(fs)
	}

	job, err := a.client.Cancel(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s\t%s\n", job.ID, statusColor(job).Sprint(job.Status))
	return nil
}

func cmdArtifacts(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("artifacts", "JOB_ID")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageError(fs)
	}

	arts, err := a.client.ListArtifacts(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	if len(arts) == 0 {
		dimColor.Fprintln(a.out, "no artifacts")
		return nil
	}
	for _, art := range arts {
		fmt.Fprintf(a.out, "%s\t%d\t%s\n", art.Name, art.SizeBytes, art.MimeType)
	}
	return nil
}

func cmdDownload(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("download", "JOB_ID NAME")
	output := fs.String("o", "", "output path, - for stdout (default: the artifact name)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return usageError(fs)
	}
	jobID, name := fs.Arg(0), fs.Arg(1)

	arts, err := a.client.ListArtifacts(ctx, jobID)
	if err != nil {
		return err
	}
	var target *model.Artifact
	for i := range arts {
		if arts[i].Name == name {
			target = &arts[i]
		}
	}
	if target == nil {
		return fmt.Errorf("job %s has no artifact %q", jobID, name)
	}

	path := *output
	if path == "" {
		path = name
	}
	if path == "-" {
		_, err := a.client.DownloadArtifact(ctx, *target, a.out)
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	n, err := a.client.DownloadArtifact(ctx, *target, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return err
	}
	fmt.Fprintf(a.out, "wrote %s (%d bytes)\n", path, n)
	return nil
}

func cmdLanguages(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("languages", "")
	refresh := fs.Bool("refresh", false, "bypass the cached list")
	if err := fs.Parse(args); err != nil {
		return err
	}

	langs, err := a.catalog.Languages(ctx, *refresh)
	if err != nil {
		return err
	}
	for _, l := range langs {
		line := l.ID
		if l.Name != "" {
			line += "\t" + l.Name
		}
		if l.Version != "" {
			line += "\t" + l.Version
		}
		fmt.Fprintln(a.out, line)
	}
	return nil
}

func cmdHealth(ctx context.Context, a *app, _ []string) error {
	if !a.client.HealthCheck(ctx) {
		failColor.Fprintf(a.out, "unhealthy: %s\n", a.client.BaseURL())
		return errJobFailed
	}
	okColor.Fprintf(a.out, "ok: %s\n", a.client.BaseURL())
	return nil
}

// checkLanguage rejects languages the service does not list. A catalog that
// cannot be fetched is not fatal; the service has the final word.
func checkLanguage(ctx context.Context, a *app, lang string) error {
	langs, err := a.catalog.Languages(ctx, false)
	if err != nil {
		a.logger.Warn("language catalog unavailable", "error", err)
		return nil
	}
	if catalog.Find(langs, lang) == nil {
		return fmt.Errorf("unsupported language %q (supported: %s)", lang, catalog.Join(langs, ", "))
	}
	return nil
}

// readSource returns inline code, or the contents of path ("-" is stdin).
func readSource(inline, path string) (string, error) {
	switch {
	case inline != "" && path != "":
		return "", errors.New("run: use either -code or a file, not both")
	case inline != "":
		return inline, nil
	case path == "":
		return "", errors.New("run: no code given; pass -code or a file")
	case path == "-":
		b, err := io.ReadAll(os.Stdin)
		return string(b), err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(b), nil
}

// printJob writes the formatted result with a colored header line and
// returns errJobFailed when the job did not succeed.
func printJob(w io.Writer, job *model.Job) error {
	text := runner.FormatResult(job)
	header, body, _ := strings.Cut(text, "\n")
	statusColor(job).Fprintln(w, header)
	if body != "" {
		fmt.Fprintln(w, body)
	}
	if !job.Succeeded() {
		return errJobFailed
	}
	return nil
}

func statusColor(job *model.Job) *color.Color {
	switch {
	case job.Succeeded():
		return okColor
	case job.Status == model.StatusCompleted, job.Status == model.StatusTimeout:
		return warnColor
	case job.Status == model.StatusCancelled, !job.Status.IsTerminal():
		return dimColor
	}
	return failColor
}

// printError reports err, surfacing the service error code when there is one.
func printError(w io.Writer, err error) {
	if ce, ok := model.AsClientError(err); ok {
		failColor.Fprintf(w, "%s", ce.Code)
		fmt.Fprintf(w, ": %s\n", ce.Message)
		if ce.Code == model.CodePollingTimeout {
			dimColor.Fprintln(w, "the job may still be running; check it later with: coderun wait <job id>")
		}
		return
	}
	fmt.Fprintf(w, "coderun: %v\n", err)
}
