package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"medtrack-compliance/internal/classifier"
	"medtrack-compliance/internal/config"
	"medtrack-compliance/internal/database"
	"medtrack-compliance/internal/httpapi"
	"medtrack-compliance/internal/models"
	"medtrack-compliance/internal/monitor"
	"medtrack-compliance/internal/notifier"
	"medtrack-compliance/internal/redisx"
	"medtrack-compliance/internal/repository"
	"medtrack-compliance/internal/sweeper"
)

// ComplianceService wires the whole pipeline together: storage, stream
// listener, scheduled sweeper, classifier client, and the HTTP API.
type ComplianceService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redisx.Client
	logger      *zap.Logger

	complianceRepo *repository.ComplianceRepository
	intakeRepo     *repository.IntakeEventRepository
	classifier     *classifier.Client
	processor      *monitor.Processor
	coordinator    *monitor.Coordinator
	listener       *monitor.Listener
	sweeper        *sweeper.Sweeper
	notifier       *notifier.MQTTNotifier

	httpServer *http.Server

	wg sync.WaitGroup
}

// NewComplianceService connects to Postgres and Redis and builds every
// component. The MQTT notifier is optional: when disabled or unreachable the
// pipeline runs without alerts.
func NewComplianceService(cfg *config.Config, logger *zap.Logger) (*ComplianceService, error) {
	// 1. Database
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 2. Redis
	redisClient := redisx.NewClient(&cfg.Redis)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisx.Ping(ctx, redisClient); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. Repository layer
	complianceRepo := repository.NewComplianceRepository(db, logger)
	intakeRepo := repository.NewIntakeEventRepository(db, logger)

	// 4. Classifier client (external service with deterministic fallback)
	cls := classifier.NewClient(cfg.Classifier.BaseURL, cfg.Classifier.Timeout, logger)

	// 5. Optional alert notifier
	var mqttNotifier *notifier.MQTTNotifier
	if cfg.MQTT.Enabled {
		mqttNotifier, err = notifier.NewMQTTNotifier(&cfg.MQTT, logger)
		if err != nil {
			logger.Warn("MQTT notifier unavailable, alerts disabled",
				zap.Error(err),
			)
			mqttNotifier = nil
		}
	}

	// 6. Pipeline: shared processor behind both triggers
	var alertSink monitor.AlertNotifier
	if mqttNotifier != nil {
		alertSink = mqttNotifier
	}
	processor := monitor.NewProcessor(cls, complianceRepo, alertSink, logger)
	coordinator := monitor.NewCoordinator()
	listener := monitor.NewListener(cfg, redisClient, processor, logger)
	swp := sweeper.NewSweeper(cfg, complianceRepo, processor, coordinator, logger)

	s := &ComplianceService{
		config:         cfg,
		db:             db,
		redisClient:    redisClient,
		logger:         logger,
		complianceRepo: complianceRepo,
		intakeRepo:     intakeRepo,
		classifier:     cls,
		processor:      processor,
		coordinator:    coordinator,
		listener:       listener,
		sweeper:        swp,
		notifier:       mqttNotifier,
	}

	// 7. HTTP API
	router := httpapi.NewRouter(logger)
	router.RegisterComplianceRoutes(httpapi.NewComplianceHandler(s, logger))
	s.httpServer = &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	return s, nil
}

// Start launches the listener, the sweeper, and the HTTP server. Returns
// once everything is running; Stop tears it down.
func (s *ComplianceService) Start(ctx context.Context) error {
	s.logger.Info("Starting compliance service",
		zap.String("http_addr", s.config.HTTP.Addr),
		zap.String("stream", s.config.Stream.Name),
		zap.Duration("sweep_interval", s.config.Sweep.Interval),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.listener.Run(ctx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.sweeper.Start(ctx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()

	return nil
}

// Stop shuts the service down. The listener and sweeper stop via the context
// passed to Start; Stop waits for them, then closes the connections.
func (s *ComplianceService) Stop() error {
	s.logger.Info("Stopping compliance service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	s.wg.Wait()

	if s.notifier != nil {
		s.notifier.Close()
	}

	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close database", zap.Error(err))
	}

	if err := redisx.Close(s.redisClient); err != nil {
		s.logger.Error("Failed to close redis", zap.Error(err))
	}

	return nil
}

// ============================================================================
// httpapi.ComplianceService implementation
// ============================================================================

// ListenerState reports the stream listener state.
func (s *ComplianceService) ListenerState() monitor.State {
	return s.listener.State()
}

// SweepRunning reports whether a sweep currently holds the flag.
func (s *ComplianceService) SweepRunning() bool {
	return s.coordinator.Running()
}

// RunSweep triggers one reconciliation pass.
func (s *ComplianceService) RunSweep(ctx context.Context) (sweeper.Result, error) {
	return s.sweeper.RunSweep(ctx)
}

// Summary aggregates a patient's compliance over the last N days.
func (s *ComplianceService) Summary(ctx context.Context, patientID string, days int) (*models.ComplianceSummary, error) {
	return s.complianceRepo.AggregateByPatient(ctx, patientID, days)
}

// Records lists a patient's compliance records, newest first.
func (s *ComplianceService) Records(ctx context.Context, patientID string, limit, offset int) ([]models.ComplianceRecord, int, error) {
	return s.complianceRepo.ListByPatient(ctx, patientID, limit, offset)
}

// ClassifyEvent classifies one intake event on demand. Returns the record
// and whether this call created it. An event that already has a record
// returns the existing one with isNew=false.
func (s *ComplianceService) ClassifyEvent(ctx context.Context, eventID string) (*models.ComplianceRecord, bool, error) {
	event, err := s.intakeRepo.GetByID(ctx, eventID)
	if err != nil {
		return nil, false, fmt.Errorf("intake event %s: %w", eventID, err)
	}

	if !event.IsComplete() {
		return nil, false, monitor.ErrEventIncomplete
	}

	created, err := s.processor.Process(ctx, event)
	if err != nil {
		return nil, false, err
	}

	record, err := s.complianceRepo.GetByEventID(ctx, eventID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load compliance record: %w", err)
	}

	return record, created, nil
}

// TestClassifier round-trips a synthetic on-time sample through the
// classifier path and reports which method produced the verdict. A reachable
// external service answers with its own method; otherwise the fallback rule
// does.
func (s *ComplianceService) TestClassifier(ctx context.Context) string {
	scheduled := time.Now().UTC().Truncate(time.Minute)
	actual := scheduled.Add(5 * time.Minute)
	outcome := s.classifier.Classify(ctx, scheduled, actual, models.ActionAccepted)
	return outcome.Method
}
