// Package hf wraps the HuggingFace tokenizers library (through cgo) behind
// the tokenizer.Tokenizer interface.
package hf

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"sentiment-backend/internal/core/tokenizer"
	"sentiment-backend/internal/core/types"

	"github.com/daulet/tokenizers"
)

const (
	Backend = "hf"

	TokenizerFile = "tokenizer.json"
)

type Tokenizer struct {
	tk     *tokenizers.Tokenizer
	source string
	padID  int
}

// tokenizerJSON is the subset of tokenizer.json needed to find the pad id,
// which the bindings do not expose.
type tokenizerJSON struct {
	Padding *struct {
		PadID int `json:"pad_id"`
	} `json:"padding"`
	AddedTokens []struct {
		ID      int    `json:"id"`
		Content string `json:"content"`
	} `json:"added_tokens"`
	Model struct {
		Vocab map[string]int `json:"vocab"`
	} `json:"model"`
}

// Load accepts a tokenizer.json path or a directory containing one.
func Load(path string) (*Tokenizer, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, TokenizerFile)
	}
	padID, err := findPadID(path)
	if err != nil {
		return nil, err
	}
	tk, err := tokenizers.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("error loading tokenizer from %s: %w", path, err)
	}
	return &Tokenizer{tk: tk, source: path, padID: padID}, nil
}

// Loader adapts Load to tokenizer.Loader.
func Loader(path string) (tokenizer.Tokenizer, error) {
	return Load(path)
}

func findPadID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("error reading tokenizer file: %w", err)
	}
	var parsed tokenizerJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		return 0, fmt.Errorf("error parsing tokenizer file %s: %w", path, err)
	}
	if parsed.Padding != nil {
		return parsed.Padding.PadID, nil
	}
	for _, tok := range parsed.AddedTokens {
		if tok.Content == tokenizer.PadToken {
			return tok.ID, nil
		}
	}
	if id, ok := parsed.Model.Vocab[tokenizer.PadToken]; ok {
		return id, nil
	}
	return 0, nil
}

func (t *Tokenizer) Backend() string { return Backend }

func (t *Tokenizer) PadID() int { return t.padID }

func (t *Tokenizer) VocabSize() int { return int(t.tk.VocabSize()) }

// Encode drops any padding configured in tokenizer.json, so the returned ids
// are real tokens only and callers pad to their own length.
func (t *Tokenizer) Encode(text string) ([]int, error) {
	enc := t.tk.EncodeWithOptions(text, true, tokenizers.WithReturnAttentionMask())
	ids := unpadded(enc.IDs, enc.AttentionMask)
	if len(ids) == 0 {
		return nil, types.TokenizationErrorf("tokenizer produced no ids for %d bytes of text", len(text))
	}
	return ids, nil
}

// unpadded keeps the ids whose attention mask is set. A missing mask means
// every id is a real token.
func unpadded(raw, mask []uint32) []int {
	ids := make([]int, 0, len(raw))
	for i, id := range raw {
		if mask != nil && i < len(mask) && mask[i] == 0 {
			continue
		}
		ids = append(ids, int(id))
	}
	return ids
}

// SaveTo copies the source tokenizer.json into dir.
func (t *Tokenizer) SaveTo(dir string) error {
	src, err := os.Open(t.source)
	if err != nil {
		return fmt.Errorf("error opening tokenizer source: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(filepath.Join(dir, TokenizerFile))
	if err != nil {
		return fmt.Errorf("error creating tokenizer file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("error copying tokenizer file: %w", err)
	}
	return dst.Close()
}

func (t *Tokenizer) Close() error {
	return t.tk.Close()
}
