package cctv

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/trayvision/trayvision-go/internal/datastore"
	"github.com/trayvision/trayvision-go/internal/mqtt"
	"github.com/trayvision/trayvision-go/internal/notification"
)

// DatastoreSink persists confirmed events as OPEN rows for later
// acknowledgement.
type DatastoreSink struct {
	Store datastore.Interface
}

func (s *DatastoreSink) Publish(ctx context.Context, event Event) error {
	_ = ctx
	meta := map[string]any{
		"detector":   event.Detector,
		"frame":      event.FrameIndex,
		"clip_start": event.ClipStart,
		"clip_end":   event.ClipEnd,
	}
	for k, v := range event.Meta {
		meta[k] = v
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode event metadata: %w", err)
	}

	return s.Store.SaveCCTVEvent(&datastore.CCTVEvent{
		StoreCode:  event.StoreCode,
		DeviceCode: event.DeviceCode,
		EventType:  string(event.Type),
		Confidence: event.Confidence,
		Status:     datastore.EventOpen,
		StartedAt:  event.StartedAt,
		EndedAt:    event.EndedAt,
		MetaJSON:   string(metaJSON),
	})
}

// mqttEvent is the wire shape published to the broker.
type mqttEvent struct {
	Type       string  `json:"type"`
	Detector   string  `json:"detector"`
	Confidence float64 `json:"confidence"`
	StoreCode  string  `json:"store_code"`
	DeviceCode string  `json:"device_code"`
	FrameIndex int     `json:"frame_index"`
	StartedAt  string  `json:"started_at"`
}

// MQTTSink publishes events to <topic>/<event-type>.
type MQTTSink struct {
	Client mqtt.Client
	Topic  string
}

func (s *MQTTSink) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(mqttEvent{
		Type:       string(event.Type),
		Detector:   event.Detector,
		Confidence: event.Confidence,
		StoreCode:  event.StoreCode,
		DeviceCode: event.DeviceCode,
		FrameIndex: event.FrameIndex,
		StartedAt:  event.StartedAt.Format("2006-01-02T15:04:05.000Z07:00"),
	})
	if err != nil {
		return fmt.Errorf("encode event payload: %w", err)
	}

	topic := s.Topic + "/" + strings.ToLower(string(event.Type))
	return s.Client.Publish(ctx, topic, string(payload))
}

// NotificationSink pushes a human readable alert for each event.
type NotificationSink struct {
	Notifier *notification.Notifier
}

func (s *NotificationSink) Publish(ctx context.Context, event Event) error {
	title := fmt.Sprintf("Safety event: %s", event.Type)
	message := fmt.Sprintf("%s detected at store %s device %s (confidence %.2f)",
		event.Type, event.StoreCode, event.DeviceCode, event.Confidence)
	return s.Notifier.Send(ctx, title, message)
}
