package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EpochMetrics struct {
	Epoch     int
	TrainLoss float64
	ValLoss   float64
	Accuracy  float64
	F1        float64
}

type Run struct {
	Id     uuid.UUID
	Name   string
	Status string

	Config json.RawMessage `json:"Config,omitempty"`

	ArtifactKey string   `json:"ArtifactKey,omitempty"`
	Accuracy    *float64 `json:"Accuracy,omitempty"`
	F1          *float64 `json:"F1,omitempty"`
	Error       string   `json:"Error,omitempty"`

	CreationTime   time.Time
	CompletionTime *time.Time `json:"CompletionTime,omitempty"`

	Epochs []EpochMetrics `json:"Epochs,omitempty"`
}

type ListRunsParams struct {
	Status string `schema:"status"`
}

type CreateRunRequest struct {
	Name string

	// Config overrides the server's training settings for this run, using the
	// same keys as the YAML config file.
	Config json.RawMessage
}

type CreateRunResponse struct {
	RunId uuid.UUID
}

type PredictRequest struct {
	Text string

	// RunId selects a trained run; the server's default model is used when unset.
	RunId *uuid.UUID `json:"RunId,omitempty"`
}

type PredictResponse struct {
	Label      string
	Confidence float64

	RunId *uuid.UUID `json:"RunId,omitempty"`
}
