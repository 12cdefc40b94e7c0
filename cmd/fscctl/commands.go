package main

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/danmuck/fsconnect/internal/admin"
	"github.com/danmuck/fsconnect/internal/catalog"
	"github.com/danmuck/fsconnect/internal/logging"
	"github.com/danmuck/fsconnect/internal/observability"
	"github.com/danmuck/fsconnect/internal/site"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

// appLogger installs the runtime logger tagged with the app name. It runs
// before any command builds a service, so every component logger carries
// the app field.
var appLogger = sync.OnceValue(func() zerolog.Logger {
	logging.ConfigureRuntime()
	return observability.InitLogger("fscctl")
})

func newRootCmd(getenv func(string) string) *cobra.Command {
	var configPath string
	var logLevel string

	root := &cobra.Command{
		Use:           "fscctl",
		Short:         "Forecourt connector: keeps a site connected to its forecourt controller",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			appLogger()
			if lvl, ok := logging.ParseLevel(logLevel); ok {
				zerolog.SetGlobalLevel(lvl)
			}
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "fscctl.toml", "runtime config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the log level (debug, info, warn, error)")

	root.AddCommand(
		newRunCmd(&configPath, getenv),
		newCheckCmd(&configPath, getenv),
		newInitCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

func newRunCmd(configPath *string, getenv func(string) string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the forecourt controller and serve the site catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, svc, err := prepare(*configPath, getenv)
			if err != nil {
				return err
			}
			logger := appLogger()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			adminErr := make(chan error, 1)
			if cfg.AdminAddr != "" {
				srv := admin.New(svc, admin.Config{CORSOrigins: cfg.CORSOrigins, Logger: &logger})
				go func() { adminErr <- srv.ListenAndServe(ctx, cfg.AdminAddr) }()
			}

			runErr := make(chan error, 1)
			go func() { runErr <- svc.Run(ctx) }()

			select {
			case err := <-runErr:
				stop()
				return err
			case err := <-adminErr:
				if err == nil {
					return <-runErr
				}
				stop()
				<-runErr
				return fmt.Errorf("admin: %w", err)
			}
		},
	}
}

func newCheckCmd(configPath *string, getenv func(string) string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config and catalog without connecting",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := prepare(*configPath, getenv)
			if err != nil {
				return err
			}
			source := cfg.CatalogPath
			if source == "" {
				source = "built-in demo"
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "ok: endpoint=%s policy=%s sessions=%d catalog=%s\n",
				cfg.Site.Endpoint, cfg.Site.Policy, len(cfg.Site.Sessions), source)
			return err
		},
	}
}

func newInitCmd(configPath *string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config and site catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := writeConfigTemplate(*configPath, force); err != nil {
				return err
			}
			catalogPath := filepath.Join(filepath.Dir(*configPath), "site.toml")
			if err := catalog.WriteTemplate(catalogPath, force); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %s\n", *configPath, catalogPath)
			return err
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}

// prepare loads the config and catalog and builds the service without
// dialing.
func prepare(path string, getenv func(string) string) (runtimeConfig, *site.Service, error) {
	cfg, err := loadRuntimeConfig(path, getenv)
	if err != nil {
		return runtimeConfig{}, nil, err
	}
	s, err := loadSite(cfg)
	if err != nil {
		return runtimeConfig{}, nil, err
	}
	svc, err := site.NewService(cfg.Site, s)
	if err != nil {
		return runtimeConfig{}, nil, err
	}
	return cfg, svc, nil
}
