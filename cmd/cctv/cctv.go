// Package cctv implements the safety event pipeline command.
package cctv

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/trayvision/trayvision-go/internal/cctv"
	"github.com/trayvision/trayvision-go/internal/conf"
	"github.com/trayvision/trayvision-go/internal/datastore"
	"github.com/trayvision/trayvision-go/internal/logging"
	"github.com/trayvision/trayvision-go/internal/mqtt"
	"github.com/trayvision/trayvision-go/internal/notification"
	"github.com/trayvision/trayvision-go/internal/observability"
)

var (
	framesDir  string
	storeCode  string
	deviceCode string
)

// Command creates the cctv command: run the event detectors over a captured
// frame sequence and publish confirmed events.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cctv",
		Short: "Run the safety event detector pipeline",
		Long:  "Scan a frame sequence for falls, violence and mobility aids and publish confirmed events.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), settings)
		},
	}

	cmd.Flags().StringVar(&framesDir, "frames", "", "Directory of captured camera frames, ordered by filename")
	cmd.Flags().StringVar(&storeCode, "store", "", "Store code tagged on emitted events")
	cmd.Flags().StringVar(&deviceCode, "device", "", "Camera device code tagged on emitted events")
	cmd.Flags().IntVar(&settings.CCTV.FPS, "fps", viper.GetInt("cctv.fps"), "Frame rate of the captured sequence")
	_ = cmd.MarkFlagRequired("frames")
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		fmt.Printf("error binding flags: %v\n", err)
	}
	return cmd
}

func runPipeline(ctx context.Context, settings *conf.Settings) error {
	store := datastore.New(settings)
	if store == nil {
		return fmt.Errorf("no database configured, enable output.sqlite or output.mysql")
	}
	if err := store.Open(); err != nil {
		return fmt.Errorf("open datastore: %w", err)
	}
	defer func() { _ = store.Close() }()

	sinks := []cctv.EventSink{&cctv.DatastoreSink{Store: store}}

	if settings.MQTT.Enabled {
		client := mqtt.NewClient(settings)
		if err := client.Connect(ctx); err != nil {
			logging.Warn("broker unavailable, events will not be published", "error", err)
		} else {
			defer client.Disconnect()
			sinks = append(sinks, &cctv.MQTTSink{Client: client, Topic: settings.MQTT.Topic})
		}
	}

	notifier, err := notification.NewNotifier(settings.Notification)
	if err != nil {
		return err
	}
	if notifier != nil {
		sinks = append(sinks, &cctv.NotificationSink{Notifier: notifier})
	}

	detectors := buildDetectors(settings)
	if len(detectors) == 0 {
		return fmt.Errorf("all detectors are disabled")
	}

	opts := []cctv.PipelineOption{
		cctv.WithSinks(sinks...),
		cctv.WithSource(storeCode, deviceCode),
	}
	if settings.Metrics.Enabled {
		opts = append(opts, cctv.WithMetrics(observability.NewMetrics().CCTV))
	}
	pipeline := cctv.NewPipeline(detectors, settings.CCTV, opts...)

	frames, err := loadFrames(framesDir, settings.CCTV.FPS)
	if err != nil {
		return err
	}
	logging.Info("scanning frame sequence",
		"frames", len(frames),
		"detectors", len(detectors))

	events := pipeline.ProcessBatch(ctx, frames)
	pipeline.Wait()

	// Scan results go to the operator's console, not the JSON stream.
	console := logging.HumanReadable()
	if console == nil {
		console = slog.Default()
	}
	for i := range events {
		console.Info("confirmed event",
			"type", events[i].Type,
			"frame", events[i].FrameIndex,
			"confidence", events[i].Confidence)
	}
	console.Info("scan finished", "events", len(events))
	return nil
}

// buildDetectors wires the enabled detectors to the heuristic capabilities
// bundled with this binary. Real model serving replaces these in deployment.
func buildDetectors(settings *conf.Settings) []cctv.Detector {
	var detectors []cctv.Detector
	if settings.CCTV.Fall.Enabled {
		detectors = append(detectors, cctv.NewFallDetector(heuristicPoses{}, settings.CCTV.Fall))
	}
	if settings.CCTV.Violence.Enabled {
		detectors = append(detectors, cctv.NewViolenceDetector(&heuristicMotion{}, settings.CCTV.Violence))
	}
	if settings.CCTV.MobilityAid.Enabled {
		detectors = append(detectors, cctv.NewMobilityAidDetector(heuristicObjects{}, settings.CCTV.MobilityAid))
	}
	return detectors
}

// loadFrames decodes the directory's images into an ordered frame sequence.
func loadFrames(dir string, fps int) ([]cctv.Frame, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frames directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	if fps <= 0 {
		fps = 30
	}
	interval := time.Second / time.Duration(fps)
	base := time.Now()

	frames := make([]cctv.Frame, 0, len(names))
	for i, name := range names {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("open frame %s: %w", name, err)
		}
		img, _, err := image.Decode(f)
		_ = f.Close()
		if err != nil {
			logging.Warn("skipping undecodable frame", "file", name, "error", err)
			continue
		}
		frames = append(frames, cctv.Frame{
			Index:      i,
			CapturedAt: base.Add(time.Duration(i) * interval),
			Image:      img,
		})
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("no decodable frames in %s", dir)
	}
	return frames, nil
}
