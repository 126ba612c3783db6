package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/kirillkom/intake-scheduler/internal/config"
)

// runWatch probes the API and replays the queue whenever it comes back.
func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	interval := fs.Duration("interval", 0, "connectivity probe interval (default CONNECTIVITY_INTERVAL_SECONDS)")
	_ = fs.Parse(args)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg := config.Load()
	if *interval <= 0 {
		*interval = cfg.ConnectivityInterval()
	}
	c := mustClient(ctx, "watch")
	defer c.close()

	fmt.Printf("watching %s every %s (ctrl-c to stop)\n", cfg.IntakeAPIURL, *interval)
	c.queue.Watch(ctx, c.api, *interval)
}
