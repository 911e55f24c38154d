package cognition

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Format is a definition file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

// FormatFromPath infers the encoding from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
}

// LoadFile reads, decodes and validates a definition file.
func LoadFile(path string) (*Definition, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading definition %s: %w", path, err)
	}
	def, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("parsing definition %s: %w", path, err)
	}
	return def, nil
}

// Parse decodes data in the given format and validates the result.
// Unknown keys are rejected so typos in policy blocks do not silently
// disable quorum or memory settings.
func Parse(data []byte, format Format) (*Definition, error) {
	var def Definition
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&def); err != nil {
			return nil, fmt.Errorf("decoding yaml: %w", err)
		}
	case FormatTOML:
		md, err := toml.Decode(string(data), &def)
		if err != nil {
			return nil, fmt.Errorf("decoding toml: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("decoding toml: unknown keys %s", strings.Join(keys, ", "))
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&def); err != nil {
			return nil, fmt.Errorf("decoding json: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	if err := Validate(&def); err != nil {
		return nil, err
	}
	return &def, nil
}
