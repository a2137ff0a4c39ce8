package adaptive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Basilakis/kai-sub003/pkg/types"
)

const (
	// StatsFile holds the serialized PerformanceStatistics inside the cache directory
	StatsFile = "adaptive_embedding_stats.json"

	// MaterialMethodsFile holds the material -> sticky method map
	MaterialMethodsFile = "material_methods.json"
)

// StatsPersistence loads and saves the controller's learned state
type StatsPersistence interface {
	// Load returns the stored state. Missing files yield empty state and no error.
	Load() (*PerformanceStatistics, map[string]types.EmbeddingMethod, error)

	// Save replaces the stored state
	Save(stats *PerformanceStatistics, methods map[string]types.EmbeddingMethod) error
}

// FileStatsPersistence implements StatsPersistence with two JSON files in one directory
type FileStatsPersistence struct {
	dir string
}

// NewFileStatsPersistence creates a file-based persistence handler rooted at dir
func NewFileStatsPersistence(dir string) *FileStatsPersistence {
	return &FileStatsPersistence{dir: dir}
}

// Load reads both files. A missing file is treated as empty state.
func (f *FileStatsPersistence) Load() (*PerformanceStatistics, map[string]types.EmbeddingMethod, error) {
	stats := &PerformanceStatistics{}
	methods := make(map[string]types.EmbeddingMethod)

	if err := readJSON(filepath.Join(f.dir, StatsFile), stats); err != nil {
		return nil, nil, err
	}
	stats.normalize()

	if err := readJSON(filepath.Join(f.dir, MaterialMethodsFile), &methods); err != nil {
		return nil, nil, err
	}
	if methods == nil {
		methods = make(map[string]types.EmbeddingMethod)
	}
	for id, m := range methods {
		if !m.Known() {
			delete(methods, id)
		}
	}

	return stats, methods, nil
}

// Save writes both files, each through a temp file and rename
func (f *FileStatsPersistence) Save(stats *PerformanceStatistics, methods map[string]types.EmbeddingMethod) error {
	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory %s: %w", f.dir, err)
	}
	if err := writeJSON(filepath.Join(f.dir, StatsFile), stats); err != nil {
		return err
	}
	if methods == nil {
		methods = map[string]types.EmbeddingMethod{}
	}
	return writeJSON(filepath.Join(f.dir, MaterialMethodsFile), methods)
}

// readJSON leaves v untouched when path does not exist
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", path, err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
