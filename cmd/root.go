package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/seshat/config"
	"github.com/mohammad-safakhou/seshat/internal/runtime"
)

type globalFlags struct {
	configPath string
	envFile    string
}

func main() {
	flags := &globalFlags{}
	var root = &cobra.Command{
		Use:           "seshat",
		Short:         "Scheduled AI blog post generation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file (default is ./config/config.*)")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", "", "dotenv file to load before reading config (default .env when present)")

	root.AddCommand(
		serveCMD(flags),
		migrateCMD(flags),
		syncCMD(flags),
		triggerCMD(flags),
		relayCMD(flags),
		hashTokenCMD(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		cancel()
		os.Exit(1)
	}
}

// load reads the dotenv file, the config and builds the logger.
func (f *globalFlags) load() (*config.Config, *zap.Logger, error) {
	if f.envFile != "" {
		if err := godotenv.Load(f.envFile); err != nil {
			return nil, nil, fmt.Errorf("load env file: %w", err)
		}
	} else {
		_ = godotenv.Load()
	}
	cfg, err := config.LoadConfig(f.configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := runtime.NewLogger(cfg.General.LogLevel, cfg.General.Debug)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// service builds the wired pipeline; the caller closes it and syncs the logger.
// Overrides run on the loaded config before anything is built from it.
func (f *globalFlags) service(ctx context.Context, overrides ...func(*config.Config)) (*runtime.Service, error) {
	cfg, logger, err := f.load()
	if err != nil {
		return nil, err
	}
	for _, override := range overrides {
		override(cfg)
	}
	svc, err := runtime.NewService(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return svc, nil
}

func closeService(svc *runtime.Service) {
	if err := svc.Close(); err != nil {
		svc.Logger.Warn("close service", zap.Error(err))
	}
	_ = svc.Logger.Sync()
}
