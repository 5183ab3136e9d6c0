package cctv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trayvision/trayvision-go/internal/conf"
	"github.com/trayvision/trayvision-go/internal/datastore"
)

func TestDatastoreSinkPersistsEvent(t *testing.T) {
	settings := &conf.Settings{}
	settings.Output.SQLite = conf.SQLiteSettings{Enabled: true, Path: ":memory:"}
	store := datastore.New(settings)
	require.NotNil(t, store)
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })

	sink := &DatastoreSink{Store: store}
	now := time.Now()
	err := sink.Publish(context.Background(), Event{
		Type:       EventFall,
		Detector:   "fall",
		Confidence: 0.87,
		StoreCode:  "S001",
		DeviceCode: "CAM-1",
		FrameIndex: 42,
		StartedAt:  now,
		EndedAt:    now,
		ClipStart:  32,
		ClipEnd:    52,
	})
	require.NoError(t, err)

	events, err := store.ListCCTVEvents(10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "FALL", events[0].EventType)
	assert.Equal(t, datastore.EventOpen, events[0].Status)
	assert.InDelta(t, 0.87, events[0].Confidence, 1e-9)
	assert.Contains(t, events[0].MetaJSON, `"clip_start":32`)
}
