package tokenizer

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Tokenizer turns text into BERT input ids including [CLS] and [SEP].
// Truncation and padding are the caller's job.
type Tokenizer interface {
	Backend() string
	Encode(text string) ([]int, error)
	PadID() int
	VocabSize() int
	// SaveTo writes the files needed to rebuild the tokenizer into dir.
	SaveTo(dir string) error
	Close() error
}

// Loader restores a tokenizer from a file or directory path.
type Loader func(path string) (Tokenizer, error)

// Loaders maps backend names to loaders. The in-repo WordPiece backend is always
// present; cmd adds the cgo HuggingFace backend.
type Loaders map[string]Loader

func DefaultLoaders() Loaders {
	return Loaders{WordPieceBackend: func(path string) (Tokenizer, error) { return LoadWordPiece(path) }}
}

func (l Loaders) Load(backend, path string) (Tokenizer, error) {
	loader, ok := l[backend]
	if !ok {
		names := make([]string, 0, len(l))
		for name := range l {
			names = append(names, name)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unknown tokenizer backend %q, expected one of %s", backend, strings.Join(names, ", "))
	}
	return loader(path)
}

func writeJSONFile(dir, name string, data []byte) error {
	if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		return fmt.Errorf("error writing %s: %w", name, err)
	}
	return nil
}
