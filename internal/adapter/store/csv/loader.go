// Package csv reads download lists and writes point series as CSV.
package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strings"
)

// URLEntry is one line of a download list:
//
//	variable,scenario,model,variant,url
type URLEntry struct {
	Variable string
	Scenario string
	Model    string
	Variant  string
	URL      string
}

// Vars returns the entry as pattern substitutions for a target path.
func (e URLEntry) Vars() map[string]string {
	return map[string]string{
		"variable": e.Variable,
		"scenario": e.Scenario,
		"model":    e.Model,
		"variant":  e.Variant,
	}
}

// LoadURLList reads a headerless download list. Blank lines and lines
// starting with '#' are ignored.
func LoadURLList(path string) ([]URLEntry, error) {
	//nolint:gosec // G304: path is supplied by the operator.
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open url list %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()
	return ReadURLList(file)
}

// ReadURLList parses a download list from r.
func ReadURLList(r io.Reader) ([]URLEntry, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.Comment = '#'
	reader.FieldsPerRecord = -1

	entries := make([]URLEntry, 0)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read url list record: %w", err)
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		if len(record) != 5 {
			line, _ := reader.FieldPos(0)
			return nil, fmt.Errorf("invalid url list record on line %d: expected 5 columns, got %d", line, len(record))
		}
		e := URLEntry{
			Variable: strings.TrimSpace(record[0]),
			Scenario: strings.TrimSpace(record[1]),
			Model:    strings.TrimSpace(record[2]),
			Variant:  strings.TrimSpace(record[3]),
			URL:      strings.TrimSpace(record[4]),
		}
		if e.Variable == "" || e.URL == "" {
			line, _ := reader.FieldPos(0)
			return nil, fmt.Errorf("invalid url list record on line %d: variable and url are required", line)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Shuffle reorders entries in place with a deterministic seed so that
// concurrent runs over the same list spread across hosts the same way.
func Shuffle(entries []URLEntry, seed int64) {
	//nolint:gosec // G404: ordering only, not security sensitive.
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(entries), func(i, j int) {
		entries[i], entries[j] = entries[j], entries[i]
	})
}
