// Command intakectl queues entity mutations locally and replays them
// against the intake API when it is reachable.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kirillkom/intake-scheduler/internal/config"
	"github.com/kirillkom/intake-scheduler/internal/core/usecase"
	"github.com/kirillkom/intake-scheduler/internal/infrastructure/remote"
	"github.com/kirillkom/intake-scheduler/internal/infrastructure/repository/sqlite"
	"github.com/kirillkom/intake-scheduler/internal/infrastructure/resilience"
	"github.com/kirillkom/intake-scheduler/internal/observability/logging"
)

const usage = "Usage: intakectl <queue|flush|pending|watch> [options]"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "queue":
		runQueue(os.Args[2:])
	case "flush":
		runFlush(os.Args[2:])
	case "pending":
		runPending(os.Args[2:])
	case "watch":
		runWatch(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %q\n", os.Args[1])
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}
}

// client bundles the replay queue with the API it replays against.
type client struct {
	queue *usecase.ReplayQueue
	api   *remote.API
	close func()
}

func newClient(ctx context.Context, cfg config.Config) (*client, error) {
	logger := logging.NewJSONLogger("intakectl", cfg.LogLevel)
	slog.SetDefault(logger)

	if dir := filepath.Dir(cfg.OfflineQueuePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create queue dir: %w", err)
		}
	}
	db, err := sqlite.Open(ctx, cfg.OfflineQueuePath)
	if err != nil {
		return nil, err
	}

	// The replay queue counts its own retries; one attempt per flush.
	api := remote.NewAPI(remote.NewClient("intake_api", cfg.IntakeAPIURL, remote.Options{
		Token:    cfg.IntakeAPIToken,
		Executor: resilience.NewExecutor(resilience.DefaultConfig().WithoutRetry(), logger),
	}))

	gateway := usecase.NewEntityRegistry()
	for _, kind := range []string{usecase.EntityDocuments, usecase.EntityBatches} {
		gateway.Register(kind, api.Entities(kind))
	}

	queue := usecase.NewReplayQueue(sqlite.NewActionStore(db), gateway, logNotifier{logger: logger}, usecase.ReplayConfig{
		MaxRetries: cfg.ReplayMaxRetries,
		RetryDelay: cfg.ReplayRetryDelay(),
	}, logger)

	return &client{
		queue: queue,
		api:   api,
		close: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func mustClient(ctx context.Context, cmd string) *client {
	c, err := newClient(ctx, config.Load())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}
	return c
}

// logNotifier surfaces replay notices through the structured logger.
type logNotifier struct {
	logger *slog.Logger
}

func (n logNotifier) Notify(level, message string) {
	n.logger.Log(context.Background(), logging.ParseLevel(level), "replay_notice", "message", message)
}
