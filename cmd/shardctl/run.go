package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/shardline/internal/admin"
	"github.com/danmuck/shardline/internal/config"
	"github.com/danmuck/shardline/internal/dispatch"
	"github.com/danmuck/shardline/internal/engine"
	"github.com/danmuck/shardline/internal/logging"
	"github.com/danmuck/shardline/internal/protocol/transport"
	logs "github.com/danmuck/smplog"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newRunCmd() *cobra.Command {
	var (
		path      string
		logEvents bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect every configured shard and serve the admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logging.ConfigureRuntime()
			gin.SetMode(gin.ReleaseMode)
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if err := cfg.RequireToken(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, nil, logEvents)
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", defaultConfigPath, "config file path")
	cmd.Flags().BoolVar(&logEvents, "log-events", false, "log every delivered event at debug level")
	return cmd
}

// run blocks until ctx ends or the supervisor gives up, then shuts the
// engine down. A nil dialer uses the websocket transport.
func run(ctx context.Context, cfg config.Config, dialer transport.Dialer, logEvents bool) error {
	e := engine.New(cfg.Engine(dialer))
	if logEvents {
		go logDeliveries(e.Subscribe(dispatch.All))
	}
	if err := e.Start(ctx); err != nil {
		return err
	}

	srv := admin.New(e, admin.Options{
		Name:        "shardline",
		CORSOrigins: cfg.CORSOrigins,
		Token:       cfg.AdminToken,
	})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx, cfg.AdminAddr) })
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-e.Fatal():
			return err
		}
	})
	err := g.Wait()
	if err != nil {
		logs.Errf("shardctl.run stopping: %v", err)
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := e.Shutdown(sctx); serr != nil && err == nil {
		err = serr
	}
	return err
}

func logDeliveries(sub *dispatch.Subscription) {
	for ev := range sub.Events() {
		logs.Debugf("shardctl.event shard=%d seq=%d event=%s guild=%s", ev.Shard, ev.Sequence, ev.Name, ev.GuildID())
	}
}
