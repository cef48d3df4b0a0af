package runner

import (
	"fmt"
	"strings"

	"github.com/seantiz/coderun/pkg/model"
)

// FormatResult renders a terminal job as compact text for a chat agent.
// Platform outcomes (failed, timeout, cancelled) are reported separately from
// program outcomes (exit code and success flag of a completed job).
func FormatResult(job *model.Job) string {
	if job == nil {
		return "no job"
	}

	var b strings.Builder
	switch job.Status {
	case model.StatusCompleted:
		if job.Succeeded() {
			fmt.Fprintf(&b, "Execution succeeded (job %s)", job.ID)
		} else {
			fmt.Fprintf(&b, "Program failed (job %s)", job.ID)
		}
	case model.StatusFailed:
		fmt.Fprintf(&b, "Execution platform failed (job %s)", job.ID)
	case model.StatusTimeout:
		fmt.Fprintf(&b, "Execution timed out on the service (job %s)", job.ID)
	case model.StatusCancelled:
		fmt.Fprintf(&b, "Execution cancelled (job %s)", job.ID)
	default:
		fmt.Fprintf(&b, "Job %s is %s", job.ID, job.Status)
	}
	if job.ExecutionTimeMs != nil {
		fmt.Fprintf(&b, " in %dms", *job.ExecutionTimeMs)
	}
	b.WriteString("\n")

	if res := job.Result; res != nil {
		if res.Language != "" {
			fmt.Fprintf(&b, "language: %s\n", res.Language)
		}
		fmt.Fprintf(&b, "exit code: %d\n", res.ExitCode)
		if res.Error != nil && *res.Error != "" {
			fmt.Fprintf(&b, "error: %s\n", *res.Error)
		}
		writeSection(&b, "stdout", res.Stdout)
		writeSection(&b, "stderr", res.Stderr)
	}

	if len(job.Artifacts) > 0 {
		b.WriteString("artifacts:\n")
		for _, a := range job.Artifacts {
			fmt.Fprintf(&b, "  - %s (%d bytes", a.Name, a.SizeBytes)
			if a.MimeType != "" {
				fmt.Fprintf(&b, ", %s", a.MimeType)
			}
			b.WriteString(")\n")
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func writeSection(b *strings.Builder, name, text string) {
	if text == "" {
		return
	}
	fmt.Fprintf(b, "%s:\n%s", name, text)
	if !strings.HasSuffix(text, "\n") {
		b.WriteString("\n")
	}
}
