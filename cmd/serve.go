package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mohammad-safakhou/seshat/config"
	"github.com/mohammad-safakhou/seshat/internal/errors"
	srv "github.com/mohammad-safakhou/seshat/internal/server"
)

func serveCMD(flags *globalFlags) *cobra.Command {
	var serveAddr string
	var withRelay bool
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := flags.service(cmd.Context(), listenOverride(serveAddr))
			if err != nil {
				return err
			}
			defer closeService(svc)

			cfg := svc.Config
			addr := cfg.General.Listen
			if withRelay && svc.Relay == nil {
				return errors.Misconfigured("--with-relay needs queue.provider=%s", config.QueueRedis)
			}

			e := srv.New(srv.Options{
				Syncer:         svc.Syncer,
				Trigger:        svc.Trigger,
				Worker:         svc.Worker,
				AdminTokenHash: cfg.Server.AdminTokenHash,
				RequestTimeout: cfg.Server.RequestTimeout,
				Logger:         svc.Logger,
			})
			if cfg.WorkerURL() == "" {
				svc.Logger.Info("no app.base_url configured, generations call the worker directly", zap.String("worker", cfg.LocalWorkerURL()))
			}

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error { return srv.Run(ctx, e, addr, svc.Logger) })
			if withRelay {
				g.Go(func() error { return svc.Relay.Run(ctx) })
			}
			return g.Wait()
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (default general.listen)")
	serve.Flags().BoolVar(&withRelay, "with-relay", false, "also run the Redis relay loops in this process")

	return serve
}

// listenOverride points both the listener and the direct worker calls at addr.
func listenOverride(addr string) func(*config.Config) {
	return func(cfg *config.Config) { cfg.OverrideListen(addr) }
}
