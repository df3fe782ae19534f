package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"sentiment-backend/internal/core/types"

	"github.com/gocarina/gocsv"
)

const (
	Negative = 0
	Positive = 1
)

var LabelNames = []string{"Negative", "Positive"}

// Sample is one labelled review.
type Sample struct {
	Text  string
	Label int
}

type reviewRow struct {
	Review    string `csv:"review"`
	Sentiment string `csv:"sentiment"`
}

var requiredColumns = []string{"review", "sentiment"}

// ParseSentiment maps "positive"/"negative" (any case, surrounding space
// ignored) to 1/0.
func ParseSentiment(value string) (int, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "positive":
		return Positive, true
	case "negative":
		return Negative, true
	}
	return 0, false
}

// LoadCSV reads a dataset with `review` and `sentiment` columns.
func LoadCSV(path string) ([]Sample, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, types.DataFormatErrorf("error opening dataset: %w", err)
	}
	defer file.Close()

	if err := checkHeader(file); err != nil {
		return nil, err
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("error rewinding dataset: %w", err)
	}

	var rows []reviewRow
	if err := gocsv.UnmarshalFile(file, &rows); err != nil {
		return nil, types.DataFormatErrorf("error parsing dataset %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, types.DataFormatErrorf("dataset %s has no rows", path)
	}

	samples := make([]Sample, len(rows))
	for i, row := range rows {
		label, ok := ParseSentiment(row.Sentiment)
		if !ok {
			// +2 accounts for the header and 1-based line numbers.
			return nil, types.DataFormatErrorf("row %d: unknown sentiment %q, expected positive or negative", i+2, row.Sentiment)
		}
		samples[i] = Sample{Text: row.Review, Label: label}
	}
	return samples, nil
}

func checkHeader(r io.Reader) error {
	header, err := csv.NewReader(r).Read()
	if errors.Is(err, io.EOF) {
		return types.DataFormatErrorf("dataset is empty")
	}
	if err != nil {
		return types.DataFormatErrorf("error reading dataset header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	for _, col := range requiredColumns {
		if !slices.Contains(header, col) {
			return types.DataFormatErrorf("dataset is missing column %q (found %s)", col, strings.Join(header, ", "))
		}
	}
	return nil
}

func Texts(samples []Sample) []string {
	out := make([]string, len(samples))
	for i, s := range samples {
		out[i] = s.Text
	}
	return out
}

func Labels(samples []Sample) []int {
	out := make([]int, len(samples))
	for i, s := range samples {
		out[i] = s.Label
	}
	return out
}
