package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"voucherRelay/internal/model"
)

// JsonlStorage appends listings and execution records to JSONL files under a directory.
type JsonlStorage struct {
	dir string
	mu  sync.Mutex
}

func NewJsonlStorage(dir string) *JsonlStorage {
	return &JsonlStorage{dir: dir}
}

func (s *JsonlStorage) ListingsPath() string {
	return filepath.Join(s.dir, "listings.jsonl")
}

func (s *JsonlStorage) ExecutionsPath() string {
	return filepath.Join(s.dir, "executions.jsonl")
}

// PutListings appends a batch of listing events as JSON lines.
func (s *JsonlStorage) PutListings(listings []model.ListingEvent) error {
	if len(listings) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(listings))
	for _, listing := range listings {
		values = append(values, listing)
	}
	return s.appendLines(s.ListingsPath(), values)
}

// PutExecution appends one execution record.
func (s *JsonlStorage) PutExecution(record model.ExecutionRecord) error {
	return s.appendLines(s.ExecutionsPath(), []interface{}{record})
}

func (s *JsonlStorage) appendLines(path string, values []interface{}) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, value := range values {
		line, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}

	return nil
}
