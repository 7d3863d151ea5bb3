package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/vango-dev/conduit"
	"github.com/vango-dev/conduit/internal/config"
	cerrors "github.com/vango-dev/conduit/internal/errors"
)

func serveCmd(load func() (*config.Config, error)) *cobra.Command {
	var (
		address     string
		metricsAddr string
		force       bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the runtime",
		Long: `Run the runtime until interrupted.

At startup the configured template directories are scanned so that
reconnecting clients find their components, the startup checks run, and a
cleaner pass runs if one is due.

Examples:
  conduit serve
  conduit serve --address :9000 --metrics-address :9100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if address != "" {
				cfg.Address = address
			}
			return runServe(cfg, metricsAddr, force)
		},
	}

	cmd.Flags().StringVarP(&address, "address", "a", "", "Listen address (default from config)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-address", ":9090", "Prometheus listen address, empty to disable")
	cmd.Flags().BoolVar(&force, "force", false, "Start even when checks report errors")

	return cmd
}

func runServe(cfg *config.Config, metricsAddr string, force bool) error {
	logger := newLogger(cfg)
	app, err := conduit.New(cfg, conduit.WithLogger(logger))
	if err != nil {
		return err
	}
	defer app.Close()

	found, failed, err := app.Discover()
	if err != nil {
		return fmt.Errorf("discovering components: %w", err)
	}
	logger.Info("components discovered", "found", len(found), "failed", len(failed))

	issues := app.Check()
	cerrors.PrintIssues(os.Stderr, issues)
	if cerrors.HasErrors(issues) && !force {
		return errors.New("startup checks failed (use --force to start anyway)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if res, err := app.StartupClean(ctx); err != nil {
		logger.Warn("startup clean failed", "code", "R002", "error", err)
	} else {
		logger.Info("startup clean", "sessions", res.Sessions, "user_data", res.UserData)
	}

	if metricsAddr != "" {
		r := chi.NewRouter()
		r.Handle("/metrics", app.MetricsHandler())
		ms := &http.Server{Addr: metricsAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer ms.Close()
	}

	return app.ListenAndServe(ctx)
}
