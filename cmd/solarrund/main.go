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

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/awaistahir/solar-run/internal/app"
	"github.com/awaistahir/solar-run/internal/config"
	"github.com/awaistahir/solar-run/internal/logging"
	"github.com/awaistahir/solar-run/internal/uiapi"
)

var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	var cfgFile, dbPath, logFormat string
	var port int

	rootCmd := &cobra.Command{
		Use:          "solarrund",
		Short:        "Solar Run HTTP API server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.New(), cfgFile)
			if err != nil {
				return err
			}
			if dbPath != "" {
				cfg.Database.Path = dbPath
			}
			if cmd.Flags().Changed("port") {
				cfg.API.Port = port
			}
			cfg.Logging.Format = logFormat

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return run(ctx, cfg)
		},
	}

	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.solarrun/config.yaml)")
	rootCmd.Flags().StringVar(&dbPath, "db", "", "database path")
	rootCmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP port")
	rootCmd.Flags().StringVar(&logFormat, "log-format", "json", "log format: json or text")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	log := logging.New(cfg.Logging, "solarrund", version)
	log.Info("starting Solar Run server", "version", version)

	a, err := app.Open(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing resources")
		if closeErr := a.Close(); closeErr != nil {
			log.Error("error closing resources", "error", closeErr)
		}
	}()

	zone, err := cfg.Site.Zone()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           uiapi.NewServer(a.Store, a.Planner, zone, log, version).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.API.Timeout,
		WriteTimeout:      cfg.API.Timeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", "addr", srv.Addr, "database", cfg.Database.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serving HTTP: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutdown signal received, stopping HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down HTTP server: %w", err)
	}
	return nil
}
