package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/seantiz/coderun/pkg/model"
)

func TestFormatResult(t *testing.T) {
	ms := int64(42)
	errMsg := "exit status 2"

	tests := []struct {
		name     string
		job      *model.Job
		contains []string
		absent   []string
	}{
		{
			name:     "nil job",
			job:      nil,
			contains: []string{"no job"},
		},
		{
			name: "success with output",
			job: &model.Job{
				ID:              "j1",
				Status:          model.StatusCompleted,
				ExecutionTimeMs: &ms,
				Result:          &model.ExecutionResult{Success: true, Stdout: "hello\n", Language: "python"},
			},
			contains: []string{"Execution succeeded (job j1) in 42ms", "language: python", "exit code: 0", "stdout:\nhello"},
			absent:   []string{"stderr:", "error:"},
		},
		{
			name: "completed program failure",
			job: &model.Job{
				ID:     "j2",
				Status: model.StatusCompleted,
				Result: &model.ExecutionResult{Success: false, Stderr: "boom", ExitCode: 2, Error: &errMsg},
			},
			contains: []string{"Program failed (job j2)", "exit code: 2", "error: exit status 2", "stderr:\nboom"},
		},
		{
			name:     "platform failure",
			job:      &model.Job{ID: "j3", Status: model.StatusFailed},
			contains: []string{"Execution platform failed (job j3)"},
			absent:   []string{"exit code"},
		},
		{
			name:     "service timeout",
			job:      &model.Job{ID: "j4", Status: model.StatusTimeout},
			contains: []string{"timed out on the service"},
		},
		{
			name:     "cancelled",
			job:      &model.Job{ID: "j5", Status: model.StatusCancelled},
			contains: []string{"Execution cancelled (job j5)"},
		},
		{
			name: "artifacts",
			job: &model.Job{
				ID:     "j6",
				Status: model.StatusCompleted,
				Result: &model.ExecutionResult{Success: true},
				Artifacts: []model.Artifact{
					{Name: "plot.png", SizeBytes: 100, MimeType: "image/png"},
					{Name: "raw.bin", SizeBytes: 3},
				},
			},
			contains: []string{"artifacts:", "- plot.png (100 bytes, image/png)", "- raw.bin (3 bytes)"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatResult(tt.job)
			for _, s := range tt.contains {
				assert.Contains(t, got, s)
			}
			for _, s := range tt.absent {
				assert.NotContains(t, got, s)
			}
			assert.NotEqual(t, '\n', rune(got[len(got)-1]))
		})
	}
}
