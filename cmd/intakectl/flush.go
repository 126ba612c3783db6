package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"
)

func runFlush(args []string) {
	fs := flag.NewFlagSet("flush", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "print the flush report as JSON")
	_ = fs.Parse(args)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	c := mustClient(ctx, "flush")
	defer c.close()

	if !c.api.Healthy(ctx) {
		fmt.Fprintln(os.Stderr, "flush: intake API is unreachable, actions stay queued")
		os.Exit(1)
	}
	report, err := c.queue.Flush(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "flush: %v\n", err)
		os.Exit(1)
	}

	if *asJSON {
		_ = json.NewEncoder(os.Stdout).Encode(report)
		return
	}
	fmt.Printf("replayed=%d retrying=%d dropped=%d\n", report.Replayed, report.Retrying, len(report.PermanentlyFailed))
	for _, action := range report.PermanentlyFailed {
		fmt.Printf("dropped %s %s %s\n", action.ID, action.Kind, action.TargetEntity)
	}
}

func runPending(args []string) {
	fs := flag.NewFlagSet("pending", flag.ExitOnError)
	_ = fs.Parse(args)

	ctx := context.Background()
	c := mustClient(ctx, "pending")
	defer c.close()

	actions, err := c.queue.Pending(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pending: %v\n", err)
		os.Exit(1)
	}
	if len(actions) == 0 {
		fmt.Println("no queued actions")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tENTITY\tQUEUED AT\tRETRIES")
	for _, action := range actions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", action.ID, action.Kind, action.TargetEntity, action.Timestamp.Local().Format(time.RFC3339), action.RetryCount)
	}
	_ = w.Flush()
}
