package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"sentiment-backend/internal/config"
	"sentiment-backend/internal/core"
	"sentiment-backend/internal/core/types"
	"sentiment-backend/internal/database"
	"sentiment-backend/internal/messaging"
	"sentiment-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Predictor interface {
	Predict(text string) (core.Prediction, error)
}

// RunModels resolves the model trained by a run.
type RunModels interface {
	Get(ctx context.Context, runId uuid.UUID) (*core.Predictor, error)
}

type BackendService struct {
	db         *gorm.DB
	publisher  messaging.Publisher
	baseConfig config.Training

	defaultModel Predictor
	runModels    RunModels
}

// NewBackendService builds the HTTP service. defaultModel and runModels may be
// nil, in which case the matching prediction mode is unavailable.
func NewBackendService(db *gorm.DB, publisher messaging.Publisher, baseConfig config.Training, defaultModel Predictor, runModels RunModels) *BackendService {
	return &BackendService{
		db:           db,
		publisher:    publisher,
		baseConfig:   baseConfig,
		defaultModel: defaultModel,
		runModels:    runModels,
	}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Post("/predict", RestHandler(s.Predict))
	r.Route("/runs", func(r chi.Router) {
		r.Get("/", RestHandler(s.ListRuns))
		r.Post("/", RestHandler(s.CreateRun))
		r.Get("/{run_id}", RestHandler(s.GetRun))
	})
}

func (s *BackendService) Predict(r *http.Request) (any, error) {
	req, err := ParseRequest[api.PredictRequest](r)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(req.Text) == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "text must not be empty")
	}

	var model Predictor
	if req.RunId != nil {
		model, err = s.runModel(r.Context(), *req.RunId)
		if err != nil {
			return nil, err
		}
	} else {
		if s.defaultModel == nil {
			return nil, CodedErrorf(http.StatusServiceUnavailable, "no default model is loaded, specify a RunId")
		}
		model = s.defaultModel
	}

	prediction, err := model.Predict(req.Text)
	if err != nil {
		if errors.Is(err, types.ErrTokenization) {
			return nil, CodedError(http.StatusBadRequest, err)
		}
		slog.Error("error running prediction", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error running prediction")
	}

	return api.PredictResponse{Label: prediction.Label, Confidence: prediction.Confidence, RunId: req.RunId}, nil
}

func (s *BackendService) runModel(ctx context.Context, runId uuid.UUID) (Predictor, error) {
	if s.runModels == nil {
		return nil, CodedErrorf(http.StatusBadRequest, "predicting with a specific run is not enabled")
	}

	run, err := database.GetRun(ctx, s.db, runId)
	if err != nil {
		if errors.Is(err, database.ErrRunNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "run %s not found", runId)
		}
		slog.Error("error getting run", "run_id", runId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving run record")
	}
	if run.Status != database.RunTrained {
		return nil, CodedErrorf(http.StatusConflict, "run %s is %s, only TRAINED runs can predict", runId, run.Status)
	}

	model, err := s.runModels.Get(ctx, runId)
	if err != nil {
		slog.Error("error loading run model", "run_id", runId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error loading model for run %s", runId)
	}
	return model, nil
}

var runStatuses = map[string]struct{}{
	database.RunQueued:   {},
	database.RunTraining: {},
	database.RunTrained:  {},
	database.RunFailed:   {},
}

func (s *BackendService) ListRuns(r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[api.ListRunsParams](r)
	if err != nil {
		return nil, err
	}

	status := strings.ToUpper(params.Status)
	if _, ok := runStatuses[status]; status != "" && !ok {
		return nil, CodedErrorf(http.StatusBadRequest, "invalid run status '%s'", params.Status)
	}

	runs, err := database.ListRuns(r.Context(), s.db, status)
	if err != nil {
		slog.Error("error listing runs", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving run records")
	}

	return convertRuns(runs), nil
}

func (s *BackendService) GetRun(r *http.Request) (any, error) {
	runId, err := URLParamUUID(r, "run_id")
	if err != nil {
		return nil, err
	}

	run, err := database.GetRun(r.Context(), s.db, runId)
	if err != nil {
		if errors.Is(err, database.ErrRunNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "run not found")
		}
		slog.Error("error getting run", "run_id", runId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving run record")
	}

	return convertRun(*run), nil
}

func (s *BackendService) CreateRun(r *http.Request) (any, error) {
	req, err := ParseRequest[api.CreateRunRequest](r)
	if err != nil {
		return nil, err
	}

	if err := validateName(req.Name); err != nil {
		return nil, err
	}

	cfg := s.baseConfig
	if err := cfg.ApplyJSON(req.Config); err != nil {
		return nil, CodedError(http.StatusBadRequest, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, CodedError(http.StatusBadRequest, err)
	}

	ctx := r.Context()

	run, err := database.CreateRun(ctx, s.db, req.Name, req.Config)
	if err != nil {
		slog.Error("error creating run", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create run entry")
	}

	if err := s.publisher.PublishTrainTask(ctx, messaging.TrainTaskPayload{RunId: run.Id}); err != nil {
		slog.Error("error publishing train task", "run_id", run.Id, "error", err)
		database.MarkRunFailed(ctx, s.db, run.Id, err) //nolint:errcheck
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue training run")
	}

	slog.Info("submitted training run", "run_id", run.Id, "name", run.Name)
	return api.CreateRunResponse{RunId: run.Id}, nil
}
