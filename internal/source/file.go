package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/OCAP2/trailmap/internal/row"
)

// LoadFile reads a literal row collection from a .json, .yaml or .yml file.
func LoadFile(path string) (Rows, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return Decode(data, filepath.Ext(path))
}

// Decode parses a row collection in the format named by ext.
func Decode(data []byte, ext string) (Rows, error) {
	var rows []row.Row
	switch strings.ToLower(ext) {
	case ".json", "":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&rows); err != nil {
			return nil, fmt.Errorf("failed to decode JSON rows: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &rows); err != nil {
			return nil, fmt.Errorf("failed to decode YAML rows: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported row file extension %q", ext)
	}
	return Rows(rows), nil
}
