package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ryandielhenn/bloc/discovery"
	"github.com/ryandielhenn/bloc/internal/logging"
	"github.com/ryandielhenn/bloc/pkg/client"
)

var (
	settledStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("76")).Bold(true)
	settlingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
)

type options struct {
	server        string
	etcdEndpoints string
	name          string
	interval      time.Duration
	timeout       time.Duration
	sessionID     string
	every         time.Duration
	logLevel      string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:          "blocwatch",
		Short:        "Join a bloc group and print the assigned index",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.server, "server", "http://localhost:8989", "Coordinator URL")
	f.StringVar(&opts.etcdEndpoints, "etcd-endpoints", "", "Resolve the coordinator URL from these etcd endpoints instead of --server")
	f.StringVar(&opts.name, "name", "default", "Coordinator name to resolve in etcd")
	f.DurationVar(&opts.interval, "interval", 3*time.Second, "Heartbeat interval")
	f.DurationVar(&opts.timeout, "timeout", 0, "Heartbeat request timeout (defaults to the interval)")
	f.StringVar(&opts.sessionID, "session-id", "", "Fixed session id (generated when empty)")
	f.DurationVar(&opts.every, "print-every", 5*time.Second, "How often to print the cached index")
	f.StringVar(&opts.logLevel, "log-level", logging.LevelWarn, "Log level: debug, info, warn, error")
	return cmd
}

func run(ctx context.Context, opts *options, out io.Writer) error {
	log, err := logging.New(opts.logLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	url := opts.server
	if opts.etcdEndpoints != "" {
		if url, err = resolve(ctx, opts); err != nil {
			return err
		}
		log.Info("resolved coordinator", zap.String("url", url))
	}

	c, err := client.New(client.Config{
		URL:       url,
		Interval:  opts.interval,
		Timeout:   opts.timeout,
		SessionID: opts.sessionID,
	}, client.WithLogger(log))
	if err != nil {
		return err
	}
	c.Start()
	defer c.Stop()
	fmt.Fprintf(out, "%s %s\n", mutedStyle.Render("session"), c.SessionID())

	ticker := time.NewTicker(opts.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			printStatus(out, c.Status())
		}
	}
}

func printStatus(out io.Writer, s client.Status) {
	if !s.Settled {
		fmt.Fprintf(out, "%s %s\n", mutedStyle.Render("index"), settlingStyle.Render("settling"))
		return
	}
	fmt.Fprintf(out, "%s %s\n", mutedStyle.Render("index"), settledStyle.Render(fmt.Sprintf("%d/%d", s.Index, s.Total)))
}

func resolve(ctx context.Context, opts *options) (string, error) {
	var endpoints []string
	for _, p := range strings.Split(opts.etcdEndpoints, ",") {
		if s := strings.TrimSpace(p); s != "" {
			endpoints = append(endpoints, s)
		}
	}
	cli, err := discovery.NewClient(endpoints)
	if err != nil {
		return "", err
	}
	defer cli.Close()
	rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return discovery.Resolve(rctx, cli, opts.name)
}
