package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v2"
)

// Training holds every knob of one fine-tuning experiment. Values come from
// the environment and can be overridden by a YAML file or by the JSON config
// stored with a queued run.
type Training struct {
	DatasetPath string  `env:"DATASET_PATH" envDefault:"data/IMDBDataset.csv" yaml:"dataset_path" json:"dataset_path"`
	TestSize    float64 `env:"TEST_SIZE" envDefault:"0.2" yaml:"test_size" json:"test_size"`
	OutputDir   string  `env:"OUTPUT_DIR" envDefault:"models/bert_sentiment_model" yaml:"output_dir" json:"output_dir"`
	ReportDir   string  `env:"REPORT_DIR" envDefault:"reports" yaml:"report_dir" json:"report_dir"`

	MaxLen       int     `env:"MAX_LEN" envDefault:"256" yaml:"max_len" json:"max_len"`
	BatchSize    int     `env:"BATCH_SIZE" envDefault:"16" yaml:"batch_size" json:"batch_size"`
	Epochs       int     `env:"EPOCHS" envDefault:"3" yaml:"epochs" json:"epochs"`
	LearningRate float64 `env:"LEARNING_RATE" envDefault:"2e-5" yaml:"learning_rate" json:"learning_rate"`
	WeightDecay  float64 `env:"WEIGHT_DECAY" envDefault:"0.01" yaml:"weight_decay" json:"weight_decay"`
	Dropout      float64 `env:"DROPOUT" envDefault:"0.3" yaml:"dropout" json:"dropout"`
	Seed         int64   `env:"SEED" envDefault:"42" yaml:"seed" json:"seed"`

	TrainableGroups []string `env:"TRAINABLE_GROUPS" envDefault:"encoder.layer.last,pooler" envSeparator:"," yaml:"trainable_groups" json:"trainable_groups"`

	PretrainedDir    string `env:"PRETRAINED_DIR" yaml:"pretrained_dir" json:"pretrained_dir"`
	TokenizerBackend string `env:"TOKENIZER_BACKEND" envDefault:"wordpiece" yaml:"tokenizer_backend" json:"tokenizer_backend"`
	TokenizerPath    string `env:"TOKENIZER_PATH" yaml:"tokenizer_path" json:"tokenizer_path"`
	Device           string `env:"DEVICE" envDefault:"auto" yaml:"device" json:"device"`
	EncodeWorkers    int    `env:"ENCODE_WORKERS" envDefault:"4" yaml:"encode_workers" json:"encode_workers"`

	// Used only when no pretrained checkpoint is found.
	VocabSize        int     `env:"VOCAB_SIZE" envDefault:"8000" yaml:"vocab_size" json:"vocab_size"`
	HiddenSize       int     `env:"HIDDEN_SIZE" envDefault:"128" yaml:"hidden_size" json:"hidden_size"`
	NumLayers        int     `env:"NUM_LAYERS" envDefault:"2" yaml:"num_layers" json:"num_layers"`
	NumHeads         int     `env:"NUM_HEADS" envDefault:"2" yaml:"num_heads" json:"num_heads"`
	IntermediateSize int     `env:"INTERMEDIATE_SIZE" envDefault:"512" yaml:"intermediate_size" json:"intermediate_size"`
	EncoderDropout   float64 `env:"ENCODER_DROPOUT" envDefault:"0.1" yaml:"encoder_dropout" json:"encoder_dropout"`

	SamplePredictions int    `env:"SAMPLE_PREDICTIONS" envDefault:"5" yaml:"sample_predictions" json:"sample_predictions"`
	InferenceText     string `env:"INFERENCE_TEXT" envDefault:"This movie was good. But it could be so much better." yaml:"inference_text" json:"inference_text"`
}

// Storage selects where saved models are uploaded.
type Storage struct {
	ArtifactStore     string `env:"ARTIFACT_STORE" envDefault:"local"`
	ArtifactDir       string `env:"ARTIFACT_DIR" envDefault:"artifacts"`
	ArtifactBucket    string `env:"ARTIFACT_BUCKET" envDefault:"models"`
	S3EndpointURL     string `env:"S3_ENDPOINT_URL"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	S3Region          string `env:"AWS_REGION" envDefault:"us-east-1"`
}

const (
	LocalStore = "local"
	S3Store    = "s3"
)

func LoadTraining() (Training, error) {
	var cfg Training
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("error parsing training config: %w", err)
	}
	return cfg, nil
}

func LoadStorage() (Storage, error) {
	var cfg Storage
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("error parsing storage config: %w", err)
	}
	return cfg, cfg.Validate()
}

// ApplyYAML overrides the fields present in the YAML file at path.
func (t *Training) ApplyYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading config file %s: %w", path, err)
	}
	if err := yaml.UnmarshalStrict(data, t); err != nil {
		return fmt.Errorf("error parsing config file %s: %w", path, err)
	}
	return nil
}

// ApplyJSON overrides the fields present in data. Unknown fields are rejected.
func (t *Training) ApplyJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(t); err != nil {
		return fmt.Errorf("error parsing run config: %w", err)
	}
	return nil
}

func (t Training) Validate() error {
	switch {
	case t.MaxLen < 2:
		return fmt.Errorf("MAX_LEN must be at least 2, got %d", t.MaxLen)
	case t.BatchSize <= 0:
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", t.BatchSize)
	case t.Epochs <= 0:
		return fmt.Errorf("EPOCHS must be positive, got %d", t.Epochs)
	case t.LearningRate <= 0:
		return fmt.Errorf("LEARNING_RATE must be positive, got %v", t.LearningRate)
	case t.WeightDecay < 0:
		return fmt.Errorf("WEIGHT_DECAY must not be negative, got %v", t.WeightDecay)
	case t.Dropout < 0 || t.Dropout >= 1:
		return fmt.Errorf("DROPOUT must be in [0, 1), got %v", t.Dropout)
	case t.EncoderDropout < 0 || t.EncoderDropout >= 1:
		return fmt.Errorf("ENCODER_DROPOUT must be in [0, 1), got %v", t.EncoderDropout)
	case t.TestSize <= 0 || t.TestSize >= 1:
		return fmt.Errorf("TEST_SIZE must be in (0, 1), got %v", t.TestSize)
	case len(t.TrainableGroups) == 0:
		return fmt.Errorf("TRAINABLE_GROUPS must name at least one parameter group")
	case t.TokenizerBackend == "":
		return fmt.Errorf("TOKENIZER_BACKEND must be set")
	}
	return nil
}

func (s Storage) Validate() error {
	switch s.ArtifactStore {
	case LocalStore:
		if s.ArtifactDir == "" {
			return fmt.Errorf("ARTIFACT_DIR must be set for the local artifact store")
		}
	case S3Store:
		if s.ArtifactBucket == "" {
			return fmt.Errorf("ARTIFACT_BUCKET must be set for the s3 artifact store")
		}
	default:
		return fmt.Errorf("unknown ARTIFACT_STORE %q, expected %q or %q", s.ArtifactStore, LocalStore, S3Store)
	}
	return nil
}
