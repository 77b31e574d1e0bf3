package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/aretw0/tendril"
	"github.com/aretw0/tendril/internal/cli"
	"github.com/aretw0/tendril/internal/config"
	api "github.com/aretw0/tendril/pkg/adapters/http"
	"github.com/aretw0/tendril/pkg/observability"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve [dir]",
	Short: "Start the HTTP server",
	Long: `Serves the REST API of the assistant: webhook, tracker operations,
Server-Sent Events per conversation and Prometheus metrics.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := projectDir(cmd, args)

		path := configPath(cmd)
		if path == "" {
			path = filepath.Join(dir, config.DefaultFile)
		}
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		logger := cli.NewLogger(cfg, debugEnabled(cmd), false)

		sigCtx := cli.NewSignalContext(cmd.Context())
		defer sigCtx.Cancel()

		metrics := observability.NewMetrics()
		streams := api.NewStreamManager(logger)
		stack, err := cli.Build(sigCtx, cli.Options{
			ProjectPath: dir,
			ConfigPath:  path,
			Logger:      logger,
			Metrics:     metrics,
			Streams:     streams,
		})
		if err != nil {
			return err
		}
		defer stack.Close()
		if err := stack.Agent.Start(sigCtx); err != nil {
			return err
		}

		opts := []api.Option{
			api.WithLogger(logger),
			api.WithStreams(streams),
			api.WithMetrics(metrics),
			api.WithVersion(tendril.Version),
		}
		if rl := cfg.HTTP.RateLimit; rl.RPS > 0 {
			opts = append(opts, api.WithRateLimit(rl.RPS, rl.Burst))
		}
		handler, err := api.NewHandler(stack.Agent, opts...)
		if err != nil {
			return err
		}

		port := cfg.HTTP.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("server listening", "addr", srv.Addr, "project", dir, "version", tendril.Version)
			serverErrors <- srv.ListenAndServe()
		}()

		select {
		case err := <-serverErrors:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		case <-sigCtx.Done():
			logger.Info("shutting down", "signal", sigCtx.Signal())

			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				logger.Error("graceful shutdown did not complete", "timeout", shutdownTimeout, "err", err)
				return srv.Close()
			}
			logger.Info("server stopped gracefully")
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on (overrides http.port)")
}
