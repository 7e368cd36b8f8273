package hkg

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kalambet/chatreader/internal/chat"
)

// WriteDelta replaces the file at path with records as an indented JSON
// array. A nil or empty slice is written as []. The file is written to a
// temporary sibling and renamed into place, so readers never observe a
// partial delta.
func WriteDelta(path string, records []chat.DeltaRecord) error {
	if records == nil {
		records = []chat.DeltaRecord{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding delta: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating delta directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".hkg-delta-*.json")
	if err != nil {
		return fmt.Errorf("creating delta file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing delta: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing delta: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing delta file: %w", err)
	}
	return nil
}

// ReadDelta loads a delta file written by WriteDelta.
func ReadDelta(path string) ([]chat.DeltaRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading delta: %w", err)
	}
	var records []chat.DeltaRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decoding delta %s: %w", path, err)
	}
	return records, nil
}
