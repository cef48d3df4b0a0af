package backend

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/seantiz/coderun/pkg/model"
)

// Scripted is a Backend that interprets a small line-oriented script instead
// of running real code. It gives the stub service deterministic, controllable
// behavior for every outcome a real sandbox can produce.
//
// Statements, one per line (blank lines and lines starting with # are skipped):
//
//	echo TEXT | print(TEXT)   write TEXT and a newline to stdout
//	error TEXT                write TEXT and a newline to stderr
//	cat                       copy stdin to stdout
//	env KEY                   write the value of KEY to stdout
//	net                       try the network; denied under zerotrust
//	sleep DURATION            wait, honoring the job deadline
//	file NAME TEXT            produce an artifact NAME holding TEXT
//	exit N                    stop with exit code N
//	raise TEXT                stop with a runtime error (exit code 1)
//	crash TEXT                fail the backend itself
//
// Any other line is a syntax error and exits with code 2 before running.
type Scripted struct {
	Name           string
	Langs          []model.Language
	Delay          time.Duration
	MaxConcurrency int
}

// Compile-time interface satisfaction check.
var _ Backend = (*Scripted)(nil)

type statement struct {
	line int
	verb string
	arg  string
}

// Execute runs spec.Code as a script.
func (s *Scripted) Execute(ctx context.Context, spec ExecSpec) (ExecResult, error) {
	start := time.Now()
	var res ExecResult
	var stdout, stderr bytes.Buffer

	finish := func() ExecResult {
		res.Stdout = stdout.Bytes()
		res.Stderr = stderr.Bytes()
		res.DurationMS = time.Since(start).Milliseconds()
		return res
	}

	stmts, err := parseScript(spec.Code)
	if err != nil {
		fmt.Fprintf(&stderr, "%s: %v\n", spec.Language, err)
		res.ExitCode = 2
		res.Error = "syntax error"
		return finish(), nil
	}

	if err := sleep(ctx, s.Delay); err != nil {
		return ExecResult{}, err
	}

	for _, st := range stmts {
		switch st.verb {
		case "echo":
			stdout.WriteString(st.arg + "\n")
		case "error":
			stderr.WriteString(st.arg + "\n")
		case "cat":
			stdout.Write(spec.Stdin)
		case "env":
			stdout.WriteString(spec.Env[st.arg] + "\n")
		case "net":
			if spec.NetworkMode == model.NetworkSemiTrust {
				stdout.WriteString("network ok\n")
				continue
			}
			stderr.WriteString("network access denied\n")
			res.ExitCode = 1
			res.Error = "network access denied"
			return finish(), nil
		case "sleep":
			d, err := time.ParseDuration(st.arg)
			if err != nil {
				d = 0
			}
			if err := sleep(ctx, d); err != nil {
				return ExecResult{}, err
			}
		case "file":
			name, content, _ := strings.Cut(st.arg, " ")
			res.Files = append(res.Files, File{
				Name:     name,
				MimeType: mimeType(name),
				Content:  []byte(content),
			})
		case "exit":
			code, _ := strconv.Atoi(st.arg)
			res.ExitCode = code
			if code != 0 {
				res.Error = fmt.Sprintf("exit status %d", code)
			}
			return finish(), nil
		case "raise":
			fmt.Fprintf(&stderr, "line %d: %s\n", st.line, st.arg)
			res.ExitCode = 1
			res.Error = st.arg
			return finish(), nil
		case "crash":
			return ExecResult{}, fmt.Errorf("backend %s crashed: %s", s.Name, st.arg)
		}
	}

	return finish(), nil
}

// Capabilities reports the configured languages.
func (s *Scripted) Capabilities() Capabilities {
	return Capabilities{
		Name:           s.Name,
		Languages:      s.Langs,
		MaxConcurrency: s.MaxConcurrency,
	}
}

// Cleanup is a no-op; scripts hold no resources.
func (s *Scripted) Cleanup(_ context.Context, _ string) error { return nil }

func parseScript(code string) ([]statement, error) {
	var stmts []statement
	sc := bufio.NewScanner(strings.NewReader(code))
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if inner, ok := strings.CutPrefix(line, "print("); ok && strings.HasSuffix(inner, ")") {
			stmts = append(stmts, statement{line: n, verb: "echo", arg: unquote(strings.TrimSuffix(inner, ")"))})
			continue
		}

		verb, arg, _ := strings.Cut(line, " ")
		switch verb {
		case "echo", "error", "cat", "env", "net", "sleep", "file", "exit", "raise", "crash":
			stmts = append(stmts, statement{line: n, verb: verb, arg: unquote(strings.TrimSpace(arg))})
		default:
			return nil, fmt.Errorf("line %d: unknown statement %q", n, verb)
		}
	}
	return stmts, sc.Err()
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
			return s[1 : len(s)-1]
		}
	}
	return s
}

func mimeType(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
