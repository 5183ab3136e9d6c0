// Package worker implements the recognition worker command.
package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/trayvision/trayvision-go/internal/catalog"
	"github.com/trayvision/trayvision-go/internal/conf"
	"github.com/trayvision/trayvision-go/internal/datastore"
	"github.com/trayvision/trayvision-go/internal/errors"
	"github.com/trayvision/trayvision-go/internal/jobqueue"
	"github.com/trayvision/trayvision-go/internal/logging"
	"github.com/trayvision/trayvision-go/internal/observability"
	"github.com/trayvision/trayvision-go/internal/recognition"
	"github.com/trayvision/trayvision-go/internal/worker"
)

// Command creates the worker command: the job queue drainer.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a recognition worker",
		Long:  "Claim tray jobs from the queue, run recognition and store decisions.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), settings)
		},
	}

	setupFlags(cmd, settings)
	return cmd
}

func setupFlags(cmd *cobra.Command, settings *conf.Settings) {
	cmd.Flags().StringVar(&settings.Worker.ID, "id", viper.GetString("worker.id"), "Worker identity recorded on claimed jobs")
	cmd.Flags().DurationVar(&settings.Worker.PollInterval, "poll", viper.GetDuration("worker.pollinterval"), "Sleep between empty queue polls")
	cmd.Flags().BoolVar(&settings.Recognition.MockMode, "mock", viper.GetBool("recognition.mockmode"), "Use mock detector and encoder capabilities")
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		fmt.Printf("error binding flags: %v\n", err)
	}
}

func runWorker(ctx context.Context, settings *conf.Settings) error {
	store := datastore.New(settings)
	if store == nil {
		return fmt.Errorf("no database configured, enable output.sqlite or output.mysql")
	}
	if err := store.Open(); err != nil {
		return fmt.Errorf("open datastore: %w", err)
	}
	defer func() { _ = store.Close() }()

	detector, encoder, err := buildCapabilities(settings)
	if err != nil {
		return err
	}

	index, err := catalog.LoadActive(store)
	if err != nil {
		if !errors.Is(err, datastore.ErrNotFound) {
			return fmt.Errorf("load catalog: %w", err)
		}
		// No active set yet: every decision is UNKNOWN until one is
		// activated.
		logging.Warn("no active prototype set, decisions will be UNKNOWN")
		index = nil
	}

	pipeline := recognition.NewPipeline(detector, encoder, index, settings.Recognition)
	queue := jobqueue.NewService(store, settings.Session)
	reporter := worker.NewReporter(settings.Worker.Report)
	fetcher := worker.NewHTTPFetcher(10 * time.Second)

	w := worker.New(queue, pipeline, fetcher, reporter, settings.Worker)
	if settings.Metrics.Enabled {
		w.SetMetrics(observability.NewMetrics())
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-quit
		logging.Info("shutting down", "signal", sig.String())
		cancel()
	}()

	err = w.Run(runCtx)
	if reporter != nil {
		reporter.Flush()
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// buildCapabilities resolves the detector and encoder backends. Real model
// serving is deployment infrastructure; this binary ships the mock
// capabilities used for integration environments.
func buildCapabilities(settings *conf.Settings) (recognition.ObjectDetector, recognition.Encoder, error) {
	if !settings.Recognition.MockMode {
		return nil, nil, fmt.Errorf("no capability endpoints configured, run with recognition.mockmode enabled")
	}
	detector := &recognition.MockDetector{Detections: []recognition.Detection{
		{BBox: recognition.BBox{X: 40, Y: 40, W: 160, H: 160}, Confidence: 0.92},
	}}
	return detector, &recognition.MockEncoder{Dim: 128}, nil
}
