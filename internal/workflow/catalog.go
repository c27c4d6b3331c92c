package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultCatalogDir is the conventional location of definition files.
const DefaultCatalogDir = "workflows"

// ParseYAML decodes a definition written in YAML. The document is converted
// to JSON first so both formats go through the same shape detection.
func ParseYAML(data []byte) (*Definition, error) {
	raw, err := YAMLToJSON(data)
	if err != nil {
		return nil, err
	}
	return Load(raw)
}

// YAMLToJSON re-encodes a YAML document as JSON.
func YAMLToJSON(data []byte) ([]byte, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("workflow: decode yaml: %w", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("workflow: encode yaml as json: %w", err)
	}
	return raw, nil
}

// CatalogFile is one definition file found in a catalog directory.
type CatalogFile struct {
	Path string
	// Raw is the JSON form of the file, suitable for publishing.
	Raw        []byte
	Definition *Definition
}

// LoadCatalogDir loads every .yaml, .yml and .json definition in dir, sorted
// by file name.
func LoadCatalogDir(dir string) ([]CatalogFile, error) {
	if dir == "" {
		dir = DefaultCatalogDir
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("workflow: read catalog %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	files := make([]CatalogFile, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("workflow: read %s: %w", path, err)
		}
		raw := content
		if ext := strings.ToLower(filepath.Ext(name)); ext != ".json" {
			if raw, err = YAMLToJSON(content); err != nil {
				return nil, fmt.Errorf("workflow: %s: %w", path, err)
			}
		}
		def, err := Load(raw)
		if err != nil {
			return nil, fmt.Errorf("workflow: %s: %w", path, err)
		}
		files = append(files, CatalogFile{Path: path, Raw: raw, Definition: def})
	}
	return files, nil
}
