package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kirillkom/intake-scheduler/internal/core/domain"
)

func runQueue(args []string) {
	fs := flag.NewFlagSet("queue", flag.ExitOnError)
	kind := fs.String("kind", "", "mutation kind: insert, update or delete (required)")
	entity := fs.String("entity", "", "target entity kind, e.g. documents (required)")
	data := fs.String("data", "{}", "JSON object; update and delete need an \"id\" field")
	_ = fs.Parse(args)

	if *kind == "" || *entity == "" {
		fmt.Fprintln(os.Stderr, "queue: --kind and --entity are required")
		fs.Usage()
		os.Exit(1)
	}
	actionKind, err := domain.ParseActionKind(*kind)
	if err != nil {
		fmt.Fprintf(os.Stderr, "queue: %v\n", err)
		os.Exit(1)
	}
	payload, err := parseData(*data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "queue: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	c := mustClient(ctx, "queue")
	defer c.close()

	c.queue.SetOnline(ctx, c.api.Healthy(ctx))
	id, err := c.queue.QueueAction(ctx, actionKind, *entity, payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "queue: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("queued %s %s action %s (online=%v)\n", actionKind, *entity, id, c.queue.Online())
}

// parseData decodes the --data flag; it must be a JSON object.
func parseData(raw string) (map[string]any, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("invalid --data: %w", err)
	}
	if data == nil {
		return nil, errors.New("invalid --data: expected a JSON object")
	}
	return data, nil
}
