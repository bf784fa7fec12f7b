package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/docvault/internal/core/domain"
)

//go:embed categories.yaml
var defaultCategories []byte

type categoryFile struct {
	Categories []domain.Category `yaml:"categories"`
}

// LoadCategories reads the category seed from path, or the embedded default
// when path is empty. Every name must belong to the closed enumeration.
func LoadCategories(path string) ([]domain.Category, error) {
	raw := defaultCategories
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read categories file: %w", err)
		}
		raw = data
	}
	return parseCategories(raw)
}

func parseCategories(raw []byte) ([]domain.Category, error) {
	var file categoryFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse categories: %w", err)
	}
	if len(file.Categories) == 0 {
		return nil, fmt.Errorf("parse categories: no categories defined")
	}

	seen := make(map[string]struct{}, len(file.Categories))
	out := make([]domain.Category, 0, len(file.Categories))
	for _, c := range file.Categories {
		c.Name = strings.ToLower(strings.TrimSpace(c.Name))
		if !domain.IsKnownCategory(c.Name) {
			return nil, fmt.Errorf("parse categories: unknown category %q", c.Name)
		}
		if _, dup := seen[c.Name]; dup {
			return nil, fmt.Errorf("parse categories: duplicate category %q", c.Name)
		}
		seen[c.Name] = struct{}{}
		out = append(out, c)
	}
	return out, nil
}
