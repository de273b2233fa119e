package riskservice

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"

	"github.com/synaptica-ai/cardiorisk/pkg/common/logger"
	"github.com/synaptica-ai/cardiorisk/pkg/common/models"
	"github.com/synaptica-ai/cardiorisk/pkg/loader"
	"github.com/synaptica-ai/cardiorisk/pkg/observability/metrics"
	"github.com/synaptica-ai/cardiorisk/pkg/pipeline"
	"github.com/synaptica-ai/cardiorisk/pkg/storage"
)

const (
	EventRiskScored = "risk.scored"
	EventRunRequest = "risk.run.request"
	serviceSource   = "risk-service"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrStoreDisabled  = errors.New("run storage not configured")
	ErrInvalidRequest = errors.New("invalid run request")
)

type RunStore interface {
	SaveRun(ctx context.Context, summary models.RunSummary, records []models.MergedRecord) error
	GetRun(ctx context.Context, id string) (*models.RunSummary, error)
	ListRecords(ctx context.Context, runID string) ([]models.MergedRecord, error)
	LatestForEncounter(ctx context.Context, encounterID string) ([]models.MergedRecord, error)
}

type ScoreCache interface {
	Put(ctx context.Context, runID string, records []models.MergedRecord) error
	Get(ctx context.Context, encounterID string) ([]models.MergedRecord, error)
}

type Publisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

type Option func(*Service)

func WithStore(store RunStore) Option {
	return func(s *Service) { s.store = store }
}

func WithCache(cache ScoreCache) Option {
	return func(s *Service) { s.cache = cache }
}

func WithPublisher(pub Publisher) Option {
	return func(s *Service) { s.publisher = pub }
}

type Service struct {
	pipeline  *pipeline.Pipeline
	store     RunStore
	cache     ScoreCache
	publisher Publisher
}

func NewService(p *pipeline.Pipeline, opts ...Option) *Service {
	svc := &Service{pipeline: p}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Process scores one pair of inputs and fans the result out to the configured sinks.
// Only a persistence failure fails the call.
func (s *Service) Process(ctx context.Context, in pipeline.Inputs) (*pipeline.Result, error) {
	result, err := s.pipeline.Run(ctx, in)
	if err != nil {
		metrics.ObserveFailure()
		return nil, err
	}
	return s.deliver(ctx, result)
}

func (s *Service) ProcessFiles(ctx context.Context, notesPath, labsPath string) (*pipeline.Result, error) {
	result, err := s.pipeline.RunFiles(ctx, notesPath, labsPath)
	if err != nil {
		metrics.ObserveFailure()
		return nil, err
	}
	return s.deliver(ctx, result)
}

func (s *Service) deliver(ctx context.Context, result *pipeline.Result) (*pipeline.Result, error) {
	summary := result.Summary
	log := logger.ForRun(summary.RunID)

	if s.store != nil {
		if err := s.store.SaveRun(ctx, summary, result.Records); err != nil {
			metrics.ObserveFailure()
			return nil, fmt.Errorf("persisting run: %w", err)
		}
	}
	if s.cache != nil {
		if err := s.cache.Put(ctx, summary.RunID, result.Records); err != nil {
			log.WithError(err).Warn("failed to cache encounter scores")
		}
	}
	if s.publisher != nil {
		payload := map[string]interface{}{
			"run_id":                 summary.RunID,
			"reference_date":         summary.ReferenceDate,
			"merged_rows":            summary.Join.MergedRows,
			"labels":                 summary.Labels,
			"multi_match_encounters": summary.Join.MultiMatchEncounters,
		}
		if err := s.publisher.PublishEvent(ctx, EventRiskScored, serviceSource, payload); err != nil {
			log.WithError(err).Warn("failed to publish risk scored event")
		}
	}

	metrics.ObserveRun(summary)
	return result, nil
}

// HandleRunRequest is the event-bus entry point: the event names two input files.
func (s *Service) HandleRunRequest(ctx context.Context, event models.Event) error {
	notesPath, _ := event.Data["notes_path"].(string)
	labsPath, _ := event.Data["labs_path"].(string)
	if notesPath == "" || labsPath == "" {
		logger.Log.WithField("event_id", event.ID).Warn("run request missing input paths")
		return nil
	}
	result, err := s.ProcessFiles(ctx, notesPath, labsPath)
	if err != nil {
		if IsInputError(err) {
			// Redelivery cannot fix a malformed input.
			logger.Log.WithError(err).WithField("event_id", event.ID).Error("run request rejected")
			return nil
		}
		return err
	}
	logger.Log.WithFields(map[string]interface{}{
		"event_id": event.ID,
		"run_id":   result.Summary.RunID,
	}).Info("run request processed")
	return nil
}

func (s *Service) Run(ctx context.Context, id string) (*models.RunSummary, error) {
	if s.store == nil {
		return nil, ErrStoreDisabled
	}
	summary, err := s.store.GetRun(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	return summary, err
}

func (s *Service) Records(ctx context.Context, runID string) ([]models.MergedRecord, error) {
	if _, err := s.Run(ctx, runID); err != nil {
		return nil, err
	}
	return s.store.ListRecords(ctx, runID)
}

// Encounter prefers the cache and falls back to the latest persisted run.
func (s *Service) Encounter(ctx context.Context, encounterID string) ([]models.MergedRecord, error) {
	if s.cache != nil {
		records, err := s.cache.Get(ctx, encounterID)
		if err == nil {
			return records, nil
		}
		if !errors.Is(err, storage.ErrCacheMiss) {
			logger.Log.WithError(err).WithField("encounter_id", encounterID).Warn("score cache lookup failed")
		}
	}
	if s.store == nil {
		return nil, ErrNotFound
	}
	records, err := s.store.LatestForEncounter(ctx, encounterID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	return records, err
}

// IsInputError reports errors caused by the submitted tables rather than the service.
func IsInputError(err error) bool {
	var parseErr *csv.ParseError
	switch {
	case loader.IsMissingColumns(err),
		errors.Is(err, loader.ErrUnknownEncoding),
		errors.Is(err, loader.ErrUnknownFormat),
		errors.Is(err, loader.ErrEmptyTable),
		errors.Is(err, loader.ErrRaggedRow),
		errors.Is(err, fs.ErrNotExist),
		errors.Is(err, ErrInvalidRequest),
		errors.As(err, &parseErr):
		return true
	}
	return false
}
