package result

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// WriteRunFile stores a run as indented JSON, creating parent directories.
func WriteRunFile(path string, run *Run) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating run file dir: %w", err)
	}
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling run: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func ReadRunFile(path string) (*Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run file: %w", err)
	}
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("parsing run file: %w", err)
	}
	return &run, nil
}
