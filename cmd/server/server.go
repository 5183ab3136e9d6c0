// Package server implements the HTTP API server command.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/trayvision/trayvision-go/internal/api"
	"github.com/trayvision/trayvision-go/internal/conf"
	"github.com/trayvision/trayvision-go/internal/datastore"
	"github.com/trayvision/trayvision-go/internal/jobqueue"
	"github.com/trayvision/trayvision-go/internal/logging"
	"github.com/trayvision/trayvision-go/internal/observability"
)

// Command creates the server command: the kiosk/worker-facing HTTP API.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the checkout API server",
		Long:  "Serve the session, job, event and catalog admin endpoints over HTTP.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(settings)
		},
	}

	setupFlags(cmd, settings)
	return cmd
}

func setupFlags(cmd *cobra.Command, settings *conf.Settings) {
	cmd.Flags().StringVar(&settings.WebServer.Port, "port", viper.GetString("webserver.port"), "HTTP listen port")
	cmd.Flags().BoolVar(&settings.Metrics.Enabled, "metrics", viper.GetBool("metrics.enabled"), "Expose Prometheus metrics on /metrics")
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		fmt.Printf("error binding flags: %v\n", err)
	}
}

func runServer(settings *conf.Settings) error {
	store := datastore.New(settings)
	if store == nil {
		return fmt.Errorf("no database configured, enable output.sqlite or output.mysql")
	}
	if err := store.Open(); err != nil {
		return fmt.Errorf("open datastore: %w", err)
	}
	defer func() { _ = store.Close() }()

	queue := jobqueue.NewService(store, settings.Session)

	var opts []api.Option
	if settings.Metrics.Enabled {
		opts = append(opts, api.WithMetrics(observability.NewMetrics()))
	}
	controller := api.New(settings, store, queue, opts...)

	errCh := make(chan error, 1)
	go func() { errCh <- controller.Start() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logging.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return controller.Shutdown(ctx)
}
