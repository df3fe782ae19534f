package tokenizer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"sentiment-backend/internal/core/types"
)

const (
	WordPieceBackend = "wordpiece"

	VocabFile  = "vocab.txt"
	ConfigFile = "tokenizer_config.json"

	PadToken  = "[PAD]"
	UnkToken  = "[UNK]"
	ClsToken  = "[CLS]"
	SepToken  = "[SEP]"
	MaskToken = "[MASK]"

	continuationPrefix = "##"
	maxCharsPerWord    = 100
	defaultModelMaxLen = 512
)

var specialTokens = []string{PadToken, UnkToken, ClsToken, SepToken, MaskToken}

// WordPiece is BERT's greedy longest-match-first subword tokenizer.
type WordPiece struct {
	vocab     []string
	ids       map[string]int
	lowercase bool

	pad, unk, cls, sep int
}

type wordPieceConfig struct {
	DoLowerCase    bool   `json:"do_lower_case"`
	ModelMaxLength int    `json:"model_max_length"`
	TokenizerClass string `json:"tokenizer_class"`
	PadToken       string `json:"pad_token"`
	UnkToken       string `json:"unk_token"`
	ClsToken       string `json:"cls_token"`
	SepToken       string `json:"sep_token"`
	MaskToken      string `json:"mask_token"`
}

func NewWordPiece(vocab []string, lowercase bool) (*WordPiece, error) {
	wp := &WordPiece{
		vocab:     vocab,
		ids:       make(map[string]int, len(vocab)),
		lowercase: lowercase,
	}
	for i, tok := range vocab {
		if _, dup := wp.ids[tok]; !dup {
			wp.ids[tok] = i
		}
	}
	lookup := func(tok string) (int, error) {
		id, ok := wp.ids[tok]
		if !ok {
			return 0, fmt.Errorf("vocabulary is missing special token %s", tok)
		}
		return id, nil
	}
	var err error
	if wp.pad, err = lookup(PadToken); err != nil {
		return nil, err
	}
	if wp.unk, err = lookup(UnkToken); err != nil {
		return nil, err
	}
	if wp.cls, err = lookup(ClsToken); err != nil {
		return nil, err
	}
	if wp.sep, err = lookup(SepToken); err != nil {
		return nil, err
	}
	return wp, nil
}

// LoadWordPiece accepts either a vocab.txt file or a directory holding one,
// with an optional tokenizer_config.json next to it.
func LoadWordPiece(path string) (*WordPiece, error) {
	dir, vocabPath := path, filepath.Join(path, VocabFile)
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		dir, vocabPath = filepath.Dir(path), path
	}

	vocab, err := readVocab(vocabPath)
	if err != nil {
		return nil, err
	}

	lowercase := true
	if data, err := os.ReadFile(filepath.Join(dir, ConfigFile)); err == nil {
		cfg := wordPieceConfig{DoLowerCase: true}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("error parsing %s: %w", ConfigFile, err)
		}
		lowercase = cfg.DoLowerCase
	}
	return NewWordPiece(vocab, lowercase)
}

func readVocab(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening vocabulary: %w", err)
	}
	defer file.Close()

	var vocab []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		vocab = append(vocab, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading vocabulary: %w", err)
	}
	return vocab, nil
}

func (w *WordPiece) Backend() string { return WordPieceBackend }

func (w *WordPiece) PadID() int { return w.pad }

func (w *WordPiece) VocabSize() int { return len(w.vocab) }

func (w *WordPiece) Close() error { return nil }

// Tokens returns the subword strings for text without special tokens.
func (w *WordPiece) Tokens(text string) []string {
	var out []string
	for _, word := range basicTokenize(text, w.lowercase) {
		out = append(out, w.wordPieces(word)...)
	}
	return out
}

func (w *WordPiece) wordPieces(word string) []string {
	runes := []rune(word)
	if len(runes) > maxCharsPerWord {
		return []string{UnkToken}
	}

	var pieces []string
	for start := 0; start < len(runes); {
		end := len(runes)
		found := ""
		for end > start {
			candidate := string(runes[start:end])
			if start > 0 {
				candidate = continuationPrefix + candidate
			}
			if _, ok := w.ids[candidate]; ok {
				found = candidate
				break
			}
			end--
		}
		if found == "" {
			return []string{UnkToken}
		}
		pieces = append(pieces, found)
		start = end
	}
	return pieces
}

func (w *WordPiece) Encode(text string) ([]int, error) {
	if !utf8.ValidString(text) {
		return nil, types.TokenizationErrorf("text is not valid UTF-8")
	}
	tokens := w.Tokens(text)
	ids := make([]int, 0, len(tokens)+2)
	ids = append(ids, w.cls)
	for _, tok := range tokens {
		ids = append(ids, w.ids[tok])
	}
	return append(ids, w.sep), nil
}

func (w *WordPiece) SaveTo(dir string) error {
	file, err := os.Create(filepath.Join(dir, VocabFile))
	if err != nil {
		return fmt.Errorf("error creating vocabulary file: %w", err)
	}
	writer := bufio.NewWriter(file)
	for _, tok := range w.vocab {
		writer.WriteString(tok)
		writer.WriteByte('\n')
	}
	if err := writer.Flush(); err != nil {
		file.Close()
		return fmt.Errorf("error writing vocabulary: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("error closing vocabulary file: %w", err)
	}

	cfg, err := json.MarshalIndent(wordPieceConfig{
		DoLowerCase:    w.lowercase,
		ModelMaxLength: defaultModelMaxLen,
		TokenizerClass: "BertTokenizer",
		PadToken:       PadToken,
		UnkToken:       UnkToken,
		ClsToken:       ClsToken,
		SepToken:       SepToken,
		MaskToken:      MaskToken,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("error encoding tokenizer config: %w", err)
	}
	return writeJSONFile(dir, ConfigFile, cfg)
}

// BuildVocab derives a WordPiece vocabulary from a corpus when no pretrained
// vocabulary is available. It always contains the special tokens and every
// character seen (as a word start and as a continuation), so nothing in the
// corpus maps to [UNK]; the remaining slots go to the most frequent words.
func BuildVocab(texts []string, size int, lowercase bool) []string {
	wordCounts := make(map[string]int)
	chars := make(map[string]struct{})
	for _, text := range texts {
		for _, word := range basicTokenize(text, lowercase) {
			if utf8.RuneCountInString(word) > maxCharsPerWord {
				continue
			}
			wordCounts[word]++
			for i, r := range []rune(word) {
				if i == 0 {
					chars[string(r)] = struct{}{}
				} else {
					chars[continuationPrefix+string(r)] = struct{}{}
				}
			}
		}
	}

	vocab := append([]string(nil), specialTokens...)
	seen := make(map[string]struct{})
	for _, tok := range vocab {
		seen[tok] = struct{}{}
	}

	charList := make([]string, 0, len(chars))
	for c := range chars {
		charList = append(charList, c)
	}
	sort.Strings(charList)
	for _, c := range charList {
		vocab = append(vocab, c)
		seen[c] = struct{}{}
	}

	words := make([]string, 0, len(wordCounts))
	for word := range wordCounts {
		if _, ok := seen[word]; !ok {
			words = append(words, word)
		}
	}
	sort.Slice(words, func(i, j int) bool {
		if wordCounts[words[i]] != wordCounts[words[j]] {
			return wordCounts[words[i]] > wordCounts[words[j]]
		}
		return words[i] < words[j]
	})
	for _, word := range words {
		if len(vocab) >= size {
			break
		}
		vocab = append(vocab, word)
	}
	return vocab
}
