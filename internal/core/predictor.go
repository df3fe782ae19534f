package core

import (
	"fmt"
	"strings"

	"sentiment-backend/internal/core/checkpoint"
	"sentiment-backend/internal/core/dataset"
	"sentiment-backend/internal/core/model"
	"sentiment-backend/internal/core/nn"
	"sentiment-backend/internal/core/tokenizer"
	"sentiment-backend/internal/core/types"
)

type Prediction struct {
	Label      string
	LabelIndex int
	Confidence float64
}

// Predictor classifies single texts. Predict only runs inference passes, so it
// may be called from several goroutines at once.
type Predictor struct {
	model     *model.Classifier
	tokenizer tokenizer.Tokenizer
	maxLen    int
	labels    []string
	owned     bool
}

func NewPredictor(clf *model.Classifier, tok tokenizer.Tokenizer, maxLen int) *Predictor {
	return &Predictor{model: clf, tokenizer: tok, maxLen: maxLen, labels: dataset.LabelNames}
}

// LoadPredictor restores a model saved by Experiment.Save. Closing the
// predictor releases its tokenizer.
func LoadPredictor(dir string, loaders tokenizer.Loaders) (*Predictor, error) {
	loaded, err := checkpoint.Load(dir, loaders)
	if err != nil {
		return nil, err
	}
	p := NewPredictor(loaded.Classifier, loaded.Tokenizer, loaded.Meta.MaxLen)
	if len(loaded.Meta.Labels) == model.NumClasses {
		p.labels = loaded.Meta.Labels
	}
	p.owned = true
	return p, nil
}

func (p *Predictor) Predict(text string) (Prediction, error) {
	if strings.TrimSpace(text) == "" {
		return Prediction{}, types.TokenizationErrorf("cannot classify empty text")
	}
	ids, mask, err := dataset.EncodeText(p.tokenizer, text, p.maxLen)
	if err != nil {
		return Prediction{}, types.TokenizationErrorf("error encoding text: %w", err)
	}
	out, err := p.model.Forward(ids, mask, false, nil)
	if err != nil {
		return Prediction{}, fmt.Errorf("error running model: %w", err)
	}

	probs := nn.Softmax(out.Logits)
	label := nn.ArgMax(probs)
	return Prediction{Label: p.labels[label], LabelIndex: label, Confidence: probs[label]}, nil
}

func (p *Predictor) Model() *model.Classifier { return p.model }

func (p *Predictor) Tokenizer() tokenizer.Tokenizer { return p.tokenizer }

func (p *Predictor) MaxLen() int { return p.maxLen }

func (p *Predictor) Close() error {
	if !p.owned {
		return nil
	}
	return p.tokenizer.Close()
}
