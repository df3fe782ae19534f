package dataset

import (
	"fmt"

	"sentiment-backend/internal/core/tokenizer"
	"sentiment-backend/internal/core/types"
)

// EncodedSample is a fixed-length model input. len(TokenIDs) and
// len(AttentionMask) always equal the adapter's max length.
type EncodedSample struct {
	TokenIDs      []int
	AttentionMask []int
	Label         int
}

// Adapter exposes (text, label) pairs as encoded samples by index.
type Adapter struct {
	texts  []string
	labels []int
	tok    tokenizer.Tokenizer
	maxLen int
}

func NewAdapter(texts []string, labels []int, tok tokenizer.Tokenizer, maxLen int) (*Adapter, error) {
	if len(texts) != len(labels) {
		return nil, types.DataFormatErrorf("got %d texts but %d labels", len(texts), len(labels))
	}
	if maxLen < 2 {
		return nil, fmt.Errorf("max length must leave room for [CLS] and [SEP], got %d", maxLen)
	}
	for i, label := range labels {
		if label != Negative && label != Positive {
			return nil, types.DataFormatErrorf("sample %d has label %d, expected 0 or 1", i, label)
		}
	}
	return &Adapter{texts: texts, labels: labels, tok: tok, maxLen: maxLen}, nil
}

func FromSamples(samples []Sample, tok tokenizer.Tokenizer, maxLen int) (*Adapter, error) {
	return NewAdapter(Texts(samples), Labels(samples), tok, maxLen)
}

func (a *Adapter) Len() int { return len(a.texts) }

func (a *Adapter) MaxLen() int { return a.maxLen }

func (a *Adapter) Text(i int) string { return a.texts[i] }

func (a *Adapter) Label(i int) int { return a.labels[i] }

func (a *Adapter) Encode(i int) (EncodedSample, error) {
	if i < 0 || i >= len(a.texts) {
		return EncodedSample{}, fmt.Errorf("sample index %d out of range [0, %d)", i, len(a.texts))
	}
	ids, mask, err := EncodeText(a.tok, a.texts[i], a.maxLen)
	if err != nil {
		return EncodedSample{}, fmt.Errorf("sample %d: %w", i, err)
	}
	return EncodedSample{TokenIDs: ids, AttentionMask: mask, Label: a.labels[i]}, nil
}

// EncodeText tokenizes text with special tokens, truncates so the final [SEP]
// survives, and right-pads with the tokenizer's pad id.
func EncodeText(tok tokenizer.Tokenizer, text string, maxLen int) ([]int, []int, error) {
	raw, err := tok.Encode(text)
	if err != nil {
		return nil, nil, err
	}
	if len(raw) > maxLen {
		truncated := make([]int, maxLen)
		copy(truncated, raw[:maxLen-1])
		truncated[maxLen-1] = raw[len(raw)-1]
		raw = truncated
	}

	ids := make([]int, maxLen)
	mask := make([]int, maxLen)
	pad := tok.PadID()
	for i := range ids {
		if i < len(raw) {
			ids[i] = raw[i]
			mask[i] = 1
		} else {
			ids[i] = pad
		}
	}
	return ids, mask, nil
}
