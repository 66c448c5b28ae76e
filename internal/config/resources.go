package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// ErrResourcesNotObject is returned when a resource file's top level is not
// a key/value object.
var ErrResourcesNotObject = errors.New("resources: top level must be an object")

// LoadResources reads the nested resource table that feeds substitution.
// The format follows the extension: .json (numbers keep their source
// spelling as json.Number), .yaml/.yml, or .toml. An unknown extension is
// read as JSON.
func LoadResources(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading resources file: %w", err)
	}

	var out map[string]any

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		out, err = decodeYAMLResources(data)
	case ".toml":
		out, err = decodeTOMLResources(data)
	default:
		out, err = decodeJSONResources(data)
	}

	if err != nil {
		return nil, fmt.Errorf("parsing resources file %s: %w", path, err)
	}

	return out, nil
}

func decodeJSONResources(data []byte) (map[string]any, error) {
	var raw any

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}

	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, ErrResourcesNotObject
	}

	return obj, nil
}

func decodeYAMLResources(data []byte) (map[string]any, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	if raw == nil {
		return map[string]any{}, nil
	}

	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, ErrResourcesNotObject
	}

	return obj, nil
}

func decodeTOMLResources(data []byte) (map[string]any, error) {
	out := make(map[string]any)
	if _, err := toml.Decode(string(data), &out); err != nil {
		return nil, err
	}

	return out, nil
}
