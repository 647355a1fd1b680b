package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"medtrack-compliance/internal/config"
	"medtrack-compliance/internal/models"
	"medtrack-compliance/internal/redisx"
)

func setupListenerTest(t *testing.T) (*miniredis.Miniredis, *redis.Client, *config.Config) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cfg := &config.Config{}
	cfg.Stream.Name = "intake:events"
	cfg.Stream.Group = "compliance-monitor"
	cfg.Stream.Consumer = "monitor-test"
	cfg.Listener.RetryDelay = 10 * time.Millisecond

	return mr, client, cfg
}

func publishEvent(t *testing.T, client *redis.Client, stream string, event *models.IntakeEvent) {
	_, err := redisx.PublishJSON(context.Background(), client, stream, event)
	require.NoError(t, err)
}

func waitForRecords(t *testing.T, store *fakeStore, want int) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if store.count() >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d records, got %d", want, store.count())
}

func TestListener_ProcessesNewEvent(t *testing.T) {
	_, client, cfg := setupListenerTest(t)

	store := newFakeStore()
	processor := NewProcessor(&fakeClassifier{}, store, nil, zap.NewNop())
	listener := NewListener(cfg, client, processor, zap.NewNop())
	listener.readBlock = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	event := completeEvent("event-1", "patient-1", 8*time.Minute, models.ActionAccepted)
	publishEvent(t, client, cfg.Stream.Name, event)

	done := make(chan struct{})
	go func() {
		listener.Run(ctx)
		close(done)
	}()

	waitForRecords(t, store, 1)

	record := store.get("event-1")
	require.NotNil(t, record)
	assert.Equal(t, models.VerdictCompliant, record.Verdict)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop after cancel")
	}
	assert.Equal(t, StateStopped, listener.State())
}

func TestListener_DuplicateDeliveryCreatesOneRecord(t *testing.T) {
	_, client, cfg := setupListenerTest(t)

	store := newFakeStore()
	cls := &fakeClassifier{}
	processor := NewProcessor(cls, store, nil, zap.NewNop())
	listener := NewListener(cfg, client, processor, zap.NewNop())
	listener.readBlock = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Same event delivered twice, as the stream may do.
	event := completeEvent("event-1", "patient-1", time.Minute, models.ActionAccepted)
	publishEvent(t, client, cfg.Stream.Name, event)
	publishEvent(t, client, cfg.Stream.Name, event)

	go listener.Run(ctx)

	waitForRecords(t, store, 1)
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 1, store.count())
	assert.Equal(t, 1, cls.callCount())
}

func TestListener_SkipsIncompleteEvents(t *testing.T) {
	_, client, cfg := setupListenerTest(t)

	store := newFakeStore()
	processor := NewProcessor(&fakeClassifier{}, store, nil, zap.NewNop())
	listener := NewListener(cfg, client, processor, zap.NewNop())
	listener.readBlock = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Incomplete event (no consumption data yet), then a complete one.
	incomplete := &models.IntakeEvent{EventID: "event-partial", PatientID: "patient-1"}
	publishEvent(t, client, cfg.Stream.Name, incomplete)

	complete := completeEvent("event-2", "patient-1", time.Minute, models.ActionAccepted)
	publishEvent(t, client, cfg.Stream.Name, complete)

	go listener.Run(ctx)

	waitForRecords(t, store, 1)

	assert.Nil(t, store.get("event-partial"))
	assert.NotNil(t, store.get("event-2"))
}

func TestListener_SkipsMalformedPayload(t *testing.T) {
	_, client, cfg := setupListenerTest(t)

	store := newFakeStore()
	processor := NewProcessor(&fakeClassifier{}, store, nil, zap.NewNop())
	listener := NewListener(cfg, client, processor, zap.NewNop())
	listener.readBlock = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Garbage entry straight onto the stream.
	err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: cfg.Stream.Name,
		Values: map[string]interface{}{"data": "not json"},
	}).Err()
	require.NoError(t, err)

	publishEvent(t, client, cfg.Stream.Name, completeEvent("event-1", "patient-1", time.Minute, models.ActionAccepted))

	go listener.Run(ctx)

	waitForRecords(t, store, 1)
	assert.Equal(t, 1, store.count())
}

func TestListener_RecoversAfterStreamError(t *testing.T) {
	mr, client, cfg := setupListenerTest(t)

	store := newFakeStore()
	processor := NewProcessor(&fakeClassifier{}, store, nil, zap.NewNop())
	listener := NewListener(cfg, client, processor, zap.NewNop())
	listener.readBlock = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	publishEvent(t, client, cfg.Stream.Name, completeEvent("event-1", "patient-1", time.Minute, models.ActionAccepted))

	go listener.Run(ctx)
	waitForRecords(t, store, 1)

	// Drop the connection; the listener should retry and resume.
	mr.SetError("transient failure")
	time.Sleep(100 * time.Millisecond)
	mr.SetError("")

	publishEvent(t, client, cfg.Stream.Name, completeEvent("event-2", "patient-1", time.Minute, models.ActionAccepted))
	waitForRecords(t, store, 2)
}

func TestListener_InitialStateIsStopped(t *testing.T) {
	_, client, cfg := setupListenerTest(t)
	listener := NewListener(cfg, client, NewProcessor(&fakeClassifier{}, newFakeStore(), nil, zap.NewNop()), zap.NewNop())
	assert.Equal(t, StateStopped, listener.State())
}
