package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/coderun/internal/backend"
	"github.com/seantiz/coderun/internal/config"
	"github.com/seantiz/coderun/internal/engine"
	"github.com/seantiz/coderun/internal/service"
	"github.com/seantiz/coderun/internal/store"
	"github.com/seantiz/coderun/pkg/model"
)

func init() {
	color.NoColor = true
}

// newTestApp starts the stub service in-process and returns an app wired to it.
func newTestApp(t *testing.T) (*app, *bytes.Buffer) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	reg := backend.NewRegistry()
	reg.Register("scripted", &backend.Scripted{
		Name:  "scripted",
		Langs: []model.Language{{ID: "python", Name: "Python"}},
	})
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	eng := engine.NewEngine(s, reg, logger)
	ts := httptest.NewServer(service.NewServer(":0", s, reg, eng, logger).Router())
	t.Cleanup(func() {
		ts.Close()
		eng.Shutdown()
		s.Close()
	})

	cfg := config.Defaults()
	cfg.BaseURL = ts.URL
	cfg.PollInterval = 10 * time.Millisecond
	cfg.LogLevel = "error"

	var out bytes.Buffer
	a, err := newApp(&cfg, &out, io.Discard)
	require.NoError(t, err)
	return a, &out
}

func TestRunSucceeds(t *testing.T) {
	a, out := newTestApp(t)

	err := cmdRun(context.Background(), a, []string{"-lang", "python", "-code", "print('hi')"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Execution succeeded")
	assert.Contains(t, out.String(), "hi")
}

func TestRunProgramFailure(t *testing.T) {
	a, out := newTestApp(t)

	err := cmdRun(context.Background(), a, []string{"-lang", "python", "-code", "raise ValueError"})
	require.ErrorIs(t, err, errJobFailed)
	assert.Contains(t, out.String(), "Program failed")
}

func TestRunUnsupportedLanguage(t *testing.T) {
	a, _ := newTestApp(t)

	err := cmdRun(context.Background(), a, []string{"-lang", "cobol", "-code", "echo hi"})
	assert.ErrorContains(t, err, "python", "error should list the supported languages")
}

func TestRunFromFileWithEnv(t *testing.T) {
	a, out := newTestApp(t)

	path := filepath.Join(t.TempDir(), "main.py")
	require.NoError(t, os.WriteFile(path, []byte("env NAME\n"), 0o644))
	require.NoError(t, cmdRun(context.Background(), a, []string{"-lang", "python", "-env", "NAME=gopher", path}))
	assert.Contains(t, out.String(), "gopher")
}

func TestStatusAndArtifacts(t *testing.T) {
	a, out := newTestApp(t)
	ctx := context.Background()

	job, err := a.runner.Run(ctx, model.ExecutionRequest{Language: "python", Code: "file out.txt hello"})
	require.NoError(t, err)

	require.NoError(t, cmdStatus(ctx, a, []string{job.ID, job.ID}))
	assert.Equal(t, 2, strings.Count(out.String(), "completed"), "status output = %q", out.String())

	out.Reset()
	require.NoError(t, cmdArtifacts(ctx, a, []string{job.ID}))
	assert.Contains(t, out.String(), "out.txt\t5")

	out.Reset()
	require.NoError(t, cmdDownload(ctx, a, []string{"-o", "-", job.ID, "out.txt"}))
	assert.Equal(t, "hello", out.String())
}

func TestStatusUnknownJob(t *testing.T) {
	a, _ := newTestApp(t)

	err := cmdStatus(context.Background(), a, []string{"missing"})
	assert.True(t, model.IsNotFound(err), "got error %v, want not found", err)
}

func TestLanguagesAndHealth(t *testing.T) {
	a, out := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, cmdLanguages(ctx, a, []string{"-refresh"}))
	assert.Contains(t, out.String(), "python\tPython")

	out.Reset()
	require.NoError(t, cmdHealth(ctx, a, nil))
	assert.True(t, strings.HasPrefix(out.String(), "ok:"), "health output = %q", out.String())
}

func TestEnvFlag(t *testing.T) {
	e := envFlag{}
	require.NoError(t, e.Set("A=1"))
	require.NoError(t, e.Set("B=x=y"))
	assert.Equal(t, envFlag{"A": "1", "B": "x=y"}, e)
	assert.Error(t, e.Set("novalue"), "missing = should be rejected")
}

func TestReadSource(t *testing.T) {
	_, err := readSource("", "")
	assert.Error(t, err, "no source")
	_, err = readSource("x", "file.py")
	assert.Error(t, err, "both sources")

	got, err := readSource("echo hi", "")
	require.NoError(t, err)
	assert.Equal(t, "echo hi", got)
}

func TestPrintError(t *testing.T) {
	var buf bytes.Buffer
	printError(&buf, model.NewPollingTimeoutError("j1", 3, model.StatusRunning))
	assert.Contains(t, buf.String(), "POLLING_TIMEOUT")
	assert.Contains(t, buf.String(), "coderun wait")
}

func TestRealMainUnknownCommand(t *testing.T) {
	assert.Equal(t, exitError, realMain([]string{"frobnicate"}))
}

func TestMissingArgumentsIsUsageError(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	cmds := map[string]func(context.Context, *app, []string) error{
		"wait":      cmdWait,
		"status":    cmdStatus,
		"cancel":    cmdCancel,
		"artifacts": cmdArtifacts,
		"download":  cmdDownload,
		"run":       cmdRun,
	}
	for name, run := range cmds {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, run(ctx, a, nil), errUsage)
		})
	}
}

func TestRealMainExitCodesForUsage(t *testing.T) {
	t.Setenv("CODERUN_CONFIG", "")
	t.Chdir(t.TempDir())

	assert.Equal(t, exitError, realMain([]string{"wait"}), "wait without id")
	assert.Equal(t, exitOK, realMain([]string{"wait", "-h"}), "wait -h")
}
