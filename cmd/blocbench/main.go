package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/ryandielhenn/bloc/internal/transport"
	"github.com/ryandielhenn/bloc/pkg/client"
)

type options struct {
	addr     string
	n        int
	interval time.Duration
	wait     time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:          "blocbench",
		Short:        "Join N clients to a coordinator and time how long they take to settle",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.addr, "addr", "http://localhost:8989", "coordinator address")
	f.IntVarP(&opts.n, "clients", "n", 32, "number of clients")
	f.DurationVar(&opts.interval, "interval", time.Second, "heartbeat interval")
	f.DurationVar(&opts.wait, "wait", 2*time.Minute, "give up after this long")
	return cmd
}

func run(ctx context.Context, opts *options, out io.Writer) error {
	tr := transport.NewHTTP(&http.Client{Timeout: 5 * time.Second})
	clients := make([]*client.Client, 0, opts.n)
	for i := 0; i < opts.n; i++ {
		c, err := client.New(client.Config{URL: opts.addr, Interval: opts.interval}, client.WithTransport(tr))
		if err != nil {
			return err
		}
		clients = append(clients, c)
	}

	start := time.Now()
	for _, c := range clients {
		c.Start()
	}
	defer stopAll(clients)

	deadline := time.NewTimer(opts.wait)
	defer deadline.Stop()
	poll := time.NewTicker(opts.interval / 4)
	defer poll.Stop()
	for {
		if dense(clients) {
			fmt.Fprintf(out, "%d clients settled in %s\n", len(clients), time.Since(start).Round(time.Millisecond))
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%d clients did not settle within %s", len(clients), opts.wait)
		case <-poll.C:
		}
	}
}

// dense reports whether every client holds a distinct index in 1..N of the
// same generation size N.
func dense(clients []*client.Client) bool {
	seen := make(map[int]bool, len(clients))
	for _, c := range clients {
		i, total, ok := c.IndexTotal()
		if !ok || total != len(clients) || i < 1 || i > total || seen[i] {
			return false
		}
		seen[i] = true
	}
	return true
}

func stopAll(clients []*client.Client) {
	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *client.Client) {
			defer wg.Done()
			c.Stop()
		}(c)
	}
	wg.Wait()
}
