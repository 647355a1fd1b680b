package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"medtrack-compliance/internal/config"
	"medtrack-compliance/internal/models"
	"medtrack-compliance/internal/monitor"
)

// fakeFinder serves a fixed set of unclassified events, shrinking as the
// processor classifies them.
type fakeFinder struct {
	mu     sync.Mutex
	events []models.IntakeEvent
	err    error
	done   map[string]bool
}

func newFakeFinder(events ...models.IntakeEvent) *fakeFinder {
	return &fakeFinder{events: events, done: make(map[string]bool)}
}

func (f *fakeFinder) FindUnclassified(ctx context.Context) ([]models.IntakeEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []models.IntakeEvent
	for _, e := range f.events {
		if !f.done[e.EventID] {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeFinder) markDone(eventID string) {
	f.mu.Lock()
	f.done[eventID] = true
	f.mu.Unlock()
}

// fakeProcessor scripted per-event results.
type fakeProcessor struct {
	mu      sync.Mutex
	calls   []string
	created map[string]bool
	errs    map[string]error
	finder  *fakeFinder
	block   chan struct{} // when set, Process waits until closed
}

func (p *fakeProcessor) Process(ctx context.Context, event *models.IntakeEvent) (bool, error) {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	p.calls = append(p.calls, event.EventID)
	p.mu.Unlock()

	if err := p.errs[event.EventID]; err != nil {
		return false, err
	}
	if p.finder != nil {
		p.finder.markDone(event.EventID)
	}
	if p.created != nil && !p.created[event.EventID] {
		return false, nil
	}
	return true, nil
}

func (p *fakeProcessor) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Sweep.Interval = time.Hour
	cfg.Sweep.StartupDelay = time.Millisecond
	cfg.Sweep.EventPacing = time.Millisecond
	return cfg
}

func event(id string) models.IntakeEvent {
	scheduled := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	actual := scheduled.Add(5 * time.Minute)
	action := models.ActionAccepted
	return models.IntakeEvent{
		EventID:       id,
		PatientID:     "patient-1",
		ScheduledTime: &scheduled,
		ActualTime:    &actual,
		Action:        &action,
	}
}

func allCreated(ids ...string) map[string]bool {
	m := make(map[string]bool)
	for _, id := range ids {
		m[id] = true
	}
	return m
}

func TestRunSweep_ProcessesAllUnclassified(t *testing.T) {
	finder := newFakeFinder(event("e1"), event("e2"), event("e3"))
	processor := &fakeProcessor{created: allCreated("e1", "e2", "e3"), finder: finder}
	s := NewSweeper(testConfig(), finder, processor, monitor.NewCoordinator(), zap.NewNop())

	result, err := s.RunSweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 0, result.Skipped)
	assert.Equal(t, 0, result.Errors)
}

func TestRunSweep_Idempotent(t *testing.T) {
	finder := newFakeFinder(event("e1"), event("e2"))
	processor := &fakeProcessor{created: allCreated("e1", "e2"), finder: finder}
	s := NewSweeper(testConfig(), finder, processor, monitor.NewCoordinator(), zap.NewNop())

	first, err := s.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.Processed)

	// No new events between runs: the second sweep creates nothing.
	second, err := s.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Processed)
	assert.Equal(t, 0, second.Errors)
	assert.Equal(t, 2, processor.callCount())
}

func TestRunSweep_DuplicateFromListenerIsSkip(t *testing.T) {
	finder := newFakeFinder(event("e1"), event("e2"))
	// e1 comes back created=false: the listener got there first.
	processor := &fakeProcessor{created: allCreated("e2"), finder: finder}
	s := NewSweeper(testConfig(), finder, processor, monitor.NewCoordinator(), zap.NewNop())

	result, err := s.RunSweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, result.Errors)
}

func TestRunSweep_ErrorsCountedAndBatchContinues(t *testing.T) {
	finder := newFakeFinder(event("e1"), event("e2"), event("e3"))
	processor := &fakeProcessor{
		created: allCreated("e1", "e2", "e3"),
		errs:    map[string]error{"e2": errors.New("storage unavailable")},
		finder:  finder,
	}
	coordinator := monitor.NewCoordinator()
	s := NewSweeper(testConfig(), finder, processor, coordinator, zap.NewNop())

	result, err := s.RunSweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Errors)
	// Flag cleared despite the partial failure.
	assert.False(t, coordinator.Running())

	// The failed event is still unclassified and gets retried.
	events, err := finder.FindUnclassified(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "e2", events[0].EventID)
}

func TestRunSweep_RefusedWhileAnotherRuns(t *testing.T) {
	finder := newFakeFinder(event("e1"))
	block := make(chan struct{})
	processor := &fakeProcessor{created: allCreated("e1"), finder: finder, block: block}
	coordinator := monitor.NewCoordinator()
	s := NewSweeper(testConfig(), finder, processor, coordinator, zap.NewNop())

	done := make(chan Result, 1)
	go func() {
		result, _ := s.RunSweep(context.Background())
		done <- result
	}()

	// Wait for the first sweep to take the flag.
	deadline := time.Now().Add(time.Second)
	for !coordinator.Running() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.True(t, coordinator.Running())

	_, err := s.RunSweep(context.Background())
	assert.ErrorIs(t, err, ErrSweepInProgress)

	close(block)
	result := <-done
	assert.Equal(t, 1, result.Processed)
	assert.False(t, coordinator.Running())
}

func TestRunSweep_FinderErrorClearsFlag(t *testing.T) {
	finder := newFakeFinder()
	finder.err = errors.New("db down")
	coordinator := monitor.NewCoordinator()
	s := NewSweeper(testConfig(), finder, &fakeProcessor{}, coordinator, zap.NewNop())

	_, err := s.RunSweep(context.Background())

	require.Error(t, err)
	assert.False(t, coordinator.Running())
}

func TestRunSweep_EmptyBatch(t *testing.T) {
	finder := newFakeFinder()
	s := NewSweeper(testConfig(), finder, &fakeProcessor{}, monitor.NewCoordinator(), zap.NewNop())

	result, err := s.RunSweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Result{}, result)
}

func TestStart_RunsInitialSweep(t *testing.T) {
	finder := newFakeFinder(event("e1"))
	processor := &fakeProcessor{created: allCreated("e1"), finder: finder}
	s := NewSweeper(testConfig(), finder, processor, monitor.NewCoordinator(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for processor.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 1, processor.callCount())

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
