// Package evals stores rule-choice examples as an append-only JSONL dataset for
// offline evaluation of prompts and models.
package evals

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Veraticus/the-mail-must-flow/internal/llm"
)

// Recorder appends dataset records to a JSONL file.
type Recorder struct {
	file *os.File
	path string
	mu   sync.Mutex
}

// NewRecorder opens (or creates) the dataset file at path.
func NewRecorder(path string) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating dataset directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening dataset: %w", err)
	}
	return &Recorder{path: path, file: f}, nil
}

// Record writes one record followed by a newline.
func (r *Recorder) Record(_ context.Context, record llm.DatasetRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshalling dataset record: %w", err)
	}
	data = append(data, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.file.Write(data); err != nil {
		return fmt.Errorf("writing dataset record: %w", err)
	}
	return nil
}

// Read returns every record in the dataset. Lines that fail to decode are skipped.
func (r *Recorder) Read() ([]llm.DatasetRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening dataset for reading: %w", err)
	}
	defer func() { _ = f.Close() }()

	var records []llm.DatasetRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var rec llm.DatasetRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning dataset: %w", err)
	}
	return records, nil
}

// Close closes the underlying file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Close()
}
