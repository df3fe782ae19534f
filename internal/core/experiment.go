package core

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"sentiment-backend/internal/config"
	"sentiment-backend/internal/core/bert"
	"sentiment-backend/internal/core/checkpoint"
	"sentiment-backend/internal/core/dataset"
	"sentiment-backend/internal/core/model"
	"sentiment-backend/internal/core/tokenizer"
	"sentiment-backend/internal/core/train"
)

// Experiment owns everything one fine-tuning run needs. It is built once and
// passed by reference; nothing about a run lives in package state.
type Experiment struct {
	Config config.Training
	Device string
	Rng    *rand.Rand

	Tokenizer tokenizer.Tokenizer
	Model     *model.Classifier
	Optimizer *train.AdamW

	// Pretrained is false when the encoder was randomly initialised because no
	// checkpoint was found at PretrainedDir.
	Pretrained bool

	TrainSamples []dataset.Sample
	TestSamples  []dataset.Sample
	TrainLoader  *dataset.Loader
	TestLoader   *dataset.Loader
}

// LoadExperiment reads the dataset at cfg.DatasetPath and builds the experiment.
func LoadExperiment(cfg config.Training, loaders tokenizer.Loaders) (*Experiment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	samples, err := dataset.LoadCSV(cfg.DatasetPath)
	if err != nil {
		return nil, err
	}
	slog.Info("loaded dataset", "path", cfg.DatasetPath, "samples", len(samples))
	return NewExperiment(cfg, samples, loaders)
}

func NewExperiment(cfg config.Training, samples []dataset.Sample, loaders tokenizer.Loaders) (*Experiment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	device, err := ResolveDevice(cfg.Device)
	if err != nil {
		return nil, err
	}

	trainSamples, testSamples, err := dataset.Split(samples, cfg.TestSize, cfg.Seed)
	if err != nil {
		return nil, err
	}
	slog.Info("split dataset", "train", len(trainSamples), "test", len(testSamples), "seed", cfg.Seed)

	exp := &Experiment{
		Config:       cfg,
		Device:       device,
		Rng:          rand.New(rand.NewSource(cfg.Seed)),
		TrainSamples: trainSamples,
		TestSamples:  testSamples,
	}

	exp.Tokenizer, err = newTokenizer(cfg, trainSamples, loaders)
	if err != nil {
		return nil, err
	}

	if err := exp.buildModel(); err != nil {
		exp.Close()
		return nil, err
	}
	if err := exp.buildLoaders(); err != nil {
		exp.Close()
		return nil, err
	}

	slog.Info("experiment ready", "device", device, "pretrained", exp.Pretrained,
		"trainable_groups", exp.Model.Groups(), "trainable_params", len(exp.Model.TrainableParams()))
	return exp, nil
}

// newTokenizer prefers an explicit tokenizer path, then the tokenizer shipped
// with the pretrained checkpoint, and finally builds a WordPiece vocabulary
// from the training texts.
func newTokenizer(cfg config.Training, trainSamples []dataset.Sample, loaders tokenizer.Loaders) (tokenizer.Tokenizer, error) {
	switch {
	case cfg.TokenizerPath != "":
		return loaders.Load(cfg.TokenizerBackend, cfg.TokenizerPath)
	case bert.HasPretrained(cfg.PretrainedDir):
		return loaders.Load(cfg.TokenizerBackend, cfg.PretrainedDir)
	case cfg.TokenizerBackend == tokenizer.WordPieceBackend:
		vocab := tokenizer.BuildVocab(dataset.Texts(trainSamples), cfg.VocabSize, true)
		slog.Info("built wordpiece vocabulary from training split", "size", len(vocab))
		return tokenizer.NewWordPiece(vocab, true)
	}
	return nil, fmt.Errorf("tokenizer backend %q needs TOKENIZER_PATH or a pretrained checkpoint", cfg.TokenizerBackend)
}

func (e *Experiment) buildModel() error {
	cfg := e.Config

	var enc *bert.Encoder
	var err error
	if bert.HasPretrained(cfg.PretrainedDir) {
		enc, err = bert.LoadPretrained(cfg.PretrainedDir)
		e.Pretrained = true
	} else {
		if cfg.PretrainedDir != "" {
			slog.Warn("no pretrained checkpoint found, initialising encoder randomly", "dir", cfg.PretrainedDir)
		}
		enc, err = bert.NewRandom(bert.Config{
			VocabSize:             e.Tokenizer.VocabSize(),
			HiddenSize:            cfg.HiddenSize,
			NumHiddenLayers:       cfg.NumLayers,
			NumAttentionHeads:     cfg.NumHeads,
			IntermediateSize:      cfg.IntermediateSize,
			MaxPositionEmbeddings: cfg.MaxLen,
			TypeVocabSize:         2,
			LayerNormEps:          1e-12,
			HiddenDropoutProb:     cfg.EncoderDropout,
			AttentionDropoutProb:  cfg.EncoderDropout,
			HiddenAct:             "gelu",
			PadTokenID:            e.Tokenizer.PadID(),
			ModelType:             "bert",
		}, e.Rng)
	}
	if err != nil {
		return err
	}

	if e.Tokenizer.VocabSize() > enc.Config.VocabSize {
		return fmt.Errorf("tokenizer has %d tokens but the encoder only embeds %d", e.Tokenizer.VocabSize(), enc.Config.VocabSize)
	}
	if cfg.MaxLen > enc.Config.MaxPositionEmbeddings {
		return fmt.Errorf("MAX_LEN %d exceeds the encoder's %d position embeddings", cfg.MaxLen, enc.Config.MaxPositionEmbeddings)
	}

	e.Model, err = model.New(enc, cfg.Dropout, cfg.TrainableGroups, e.Rng)
	if err != nil {
		return err
	}

	adamw := train.DefaultAdamW(cfg.LearningRate)
	adamw.WeightDecay = cfg.WeightDecay
	e.Optimizer, err = train.NewAdamW(e.Model.TrainableParams(), adamw)
	return err
}

func (e *Experiment) buildLoaders() error {
	cfg := e.Config
	trainSet, err := dataset.FromSamples(e.TrainSamples, e.Tokenizer, cfg.MaxLen)
	if err != nil {
		return err
	}
	testSet, err := dataset.FromSamples(e.TestSamples, e.Tokenizer, cfg.MaxLen)
	if err != nil {
		return err
	}
	if e.TrainLoader, err = dataset.NewLoader(trainSet, cfg.BatchSize, true, e.Rng, cfg.EncodeWorkers); err != nil {
		return err
	}
	e.TestLoader, err = dataset.NewLoader(testSet, cfg.BatchSize, false, nil, cfg.EncodeWorkers)
	return err
}

// Run trains for the configured epochs and returns the metrics history along
// with the evaluation of the final epoch.
func (e *Experiment) Run(ctx context.Context, observer train.Observer) ([]train.EpochMetrics, *train.EvalResult, error) {
	trainer, err := train.NewTrainer(e.Model, e.Optimizer, e.TrainLoader, e.TestLoader, e.Rng, train.Config{
		Epochs:      e.Config.Epochs,
		EvalWorkers: e.Config.EncodeWorkers,
	}, observer)
	if err != nil {
		return nil, nil, err
	}
	history, err := trainer.Run(ctx)
	if err != nil {
		return history, nil, err
	}
	return history, trainer.LastEvaluation(), nil
}

func (e *Experiment) Meta() checkpoint.Meta {
	return checkpoint.Meta{
		TokenizerBackend: e.Tokenizer.Backend(),
		MaxLen:           e.Config.MaxLen,
		Dropout:          e.Config.Dropout,
		TrainableGroups:  e.Model.Groups(),
		Labels:           dataset.LabelNames,
		Seed:             e.Config.Seed,
		DatasetPath:      e.Config.DatasetPath,
		TestSize:         e.Config.TestSize,
		BatchSize:        e.Config.BatchSize,
	}
}

// Save writes the trained model, tokenizer and metrics history to dir.
func (e *Experiment) Save(dir string, history []train.EpochMetrics) error {
	return checkpoint.Save(dir, e.Model, e.Tokenizer, e.Meta(), history)
}

func (e *Experiment) Predictor() *Predictor {
	return NewPredictor(e.Model, e.Tokenizer, e.Config.MaxLen)
}

func (e *Experiment) Close() {
	if e.Tokenizer != nil {
		if err := e.Tokenizer.Close(); err != nil {
			slog.Warn("error closing tokenizer", "error", err)
		}
	}
}
