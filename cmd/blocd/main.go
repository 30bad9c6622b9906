package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ryandielhenn/bloc/discovery"
	"github.com/ryandielhenn/bloc/internal/clock"
	"github.com/ryandielhenn/bloc/internal/config"
	"github.com/ryandielhenn/bloc/internal/logging"
	"github.com/ryandielhenn/bloc/internal/telemetry"
	"github.com/ryandielhenn/bloc/pkg/membership"
	"github.com/ryandielhenn/bloc/pkg/server"
)

var (
	version = "dev"
	gitSHA  = "unknown"
)

func main() {
	cmd, _ := newRootCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type options struct {
	configPath string
	flags      *config.Server
}

func newRootCmd() (*cobra.Command, *options) {
	opts := &options{flags: config.Default()}

	cmd := &cobra.Command{
		Use:          "blocd",
		Short:        "bloc group membership coordinator",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	flags := opts.flags
	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "YAML config file")
	f.StringVarP(&flags.Listen, "listen", "l", flags.Listen, "Address to listen on")
	f.DurationVarP(&flags.Timeout, "timeout", "t", flags.Timeout, "Evict clients silent for longer than this")
	f.DurationVarP(&flags.Settle, "settle", "s", flags.Settle, "Membership quiet period before indices are assigned")
	f.DurationVar(&flags.Interval, "interval", flags.Interval, "Liveness sweep interval")
	f.StringVar(&flags.LogLevel, "log-level", flags.LogLevel, "Log level: debug, info, warn, error")
	f.StringVar(&flags.Etcd.EndpointsCSV, "etcd-endpoints", "", "Comma-separated etcd endpoints to advertise this coordinator in")
	f.StringVar(&flags.Etcd.Name, "name", flags.Etcd.Name, "Name to advertise under in etcd")
	f.StringVar(&flags.Etcd.Advertise, "advertise", "", "URL clients should use to reach this coordinator")
	f.Int64Var(&flags.Etcd.TTL, "etcd-ttl", flags.Etcd.TTL, "etcd lease TTL in seconds")
	return cmd, opts
}

// loadConfig reads the config file, if any, lays explicitly set flags over it
// and validates the result.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Server, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	applyFlags(cmd, cfg, opts.flags)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFlags copies explicitly set flags over cfg.
func applyFlags(cmd *cobra.Command, cfg, flags *config.Server) {
	set := cmd.Flags().Changed
	if set("listen") {
		cfg.Listen = flags.Listen
	}
	if set("timeout") {
		cfg.Timeout = flags.Timeout
	}
	if set("settle") {
		cfg.Settle = flags.Settle
	}
	if set("interval") {
		cfg.Interval = flags.Interval
	}
	if set("log-level") {
		cfg.LogLevel = flags.LogLevel
	}
	if set("etcd-endpoints") {
		cfg.Etcd.EndpointsCSV = flags.Etcd.EndpointsCSV
	}
	if set("name") {
		cfg.Etcd.Name = flags.Etcd.Name
	}
	if set("advertise") {
		cfg.Etcd.Advertise = flags.Etcd.Advertise
	}
	if set("etcd-ttl") {
		cfg.Etcd.TTL = flags.Etcd.TTL
	}
}

func run(ctx context.Context, cfg *config.Server) error {
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()
	telemetry.SetBuildInfo(version, gitSHA)

	// 1. Membership authority
	svc := membership.New(cfg.Membership(), clock.Real{}, log)
	defer svc.Close()

	// 2. HTTP surface
	srv := server.New(cfg.Listen, svc, log.Named("http"))
	errc := make(chan error, 1)
	go func() {
		log.Info("bloc coordinator listening",
			zap.String("addr", cfg.Listen),
			zap.Duration("timeout", cfg.Timeout),
			zap.Duration("settle", cfg.Settle))
		errc <- srv.Start()
	}()

	// 3. Optional etcd advertisement
	if len(cfg.Etcd.Endpoints) > 0 {
		cli, err := discovery.NewClient(cfg.Etcd.Endpoints)
		if err != nil {
			return err
		}
		defer cli.Close()
		lease, cancel, err := discovery.Register(ctx, cli, cfg.Etcd.Name, cfg.Etcd.Advertise, cfg.Etcd.TTL)
		if err != nil {
			return err
		}
		log.Info("advertised in etcd", zap.String("key", discovery.Key(cfg.Etcd.Name)), zap.String("url", cfg.Etcd.Advertise))
		defer func() {
			cancel()
			rctx, rcancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer rcancel()
			_, _ = cli.Revoke(rctx, lease)
		}()
	}

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(sctx); err != nil {
		log.Warn("graceful shutdown error", zap.Error(err))
	}
	return nil
}
