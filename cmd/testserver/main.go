// testserver runs the stub execution service with scripted backends, for
// local development and end-to-end testing of the coderun client.
// Usage: go run ./cmd/testserver [-config coderun.yaml]
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/seantiz/coderun/internal/backend"
	"github.com/seantiz/coderun/internal/config"
	"github.com/seantiz/coderun/internal/engine"
	"github.com/seantiz/coderun/internal/service"
	"github.com/seantiz/coderun/internal/store"
	"github.com/seantiz/coderun/pkg/model"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.Level())

	logger.Info("testserver: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	reg := backend.NewRegistry()
	reg.Register("interpreted", &backend.Scripted{
		Name: "interpreted",
		Langs: []model.Language{
			{ID: "python", Name: "Python", Category: "interpreted", Runtime: "python3", Version: "3.12"},
			{ID: "javascript", Name: "JavaScript", Category: "interpreted", Runtime: "node", Version: "22"},
			{ID: "bash", Name: "Bash", Category: "shell", Runtime: "bash", Version: "5.2"},
		},
		Delay:          100 * time.Millisecond,
		MaxConcurrency: 10,
	})
	reg.Register("compiled", &backend.Scripted{
		Name: "compiled",
		Langs: []model.Language{
			{ID: "go", Name: "Go", Category: "compiled", Runtime: "go", Version: "1.25"},
			{ID: "rust", Name: "Rust", Category: "compiled", Runtime: "rustc", Version: "1.90"},
			{ID: "c", Name: "C", Category: "compiled", Runtime: "gcc", Version: "14"},
		},
		Delay:          500 * time.Millisecond,
		MaxConcurrency: 4,
	})

	eng := engine.NewEngine(db, reg, logger)
	defer eng.Shutdown()

	srv := service.NewServer(cfg.ListenAddr, db, reg, eng, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
