package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"yqhp/orchestration-engine/pkg/types"
)

// ParseModel parses a YAML function model document.
func ParseModel(data []byte) (*types.FunctionModel, error) {
	var m types.FunctionModel
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse model: %w", err)
	}
	if m.ID == "" {
		return nil, fmt.Errorf("model id is required")
	}
	for _, n := range m.Nodes {
		if n.ModelID == "" {
			n.ModelID = m.ID
		}
	}
	return &m, nil
}

// LoadModelFile reads a YAML function model from disk.
func LoadModelFile(path string) (*types.FunctionModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}
	m, err := ParseModel(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// LoadModelDir saves every *.yaml / *.yml model under dir into repo and
// returns the loaded model ids.
func LoadModelDir(ctx context.Context, dir string, repo ModelRepository) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read model dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		m, err := LoadModelFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return ids, err
		}
		if err := repo.SaveModel(ctx, m); err != nil {
			return ids, err
		}
		ids = append(ids, m.ID)
	}
	return ids, nil
}
