package config

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"
)

// ParseYAML reads a YAML config file and feeds it to ff as flag values. Nested keys
// are joined with "-", so
//
//	backend:
//	  url: https://bills.example.com
//
// sets --backend-url. Lists set the flag once per element.
func ParseYAML(r io.Reader, set func(name, value string) error) error {
	var doc map[string]any
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decoding yaml: %w", err)
	}
	return walk("", doc, set)
}

func walk(prefix string, m map[string]any, set func(name, value string) error) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		name := k
		if prefix != "" {
			name = prefix + "-" + k
		}
		if err := setValue(name, m[k], set); err != nil {
			return err
		}
	}
	return nil
}

func setValue(name string, v any, set func(name, value string) error) error {
	switch val := v.(type) {
	case nil:
		return nil
	case map[string]any:
		return walk(name, val, set)
	case []any:
		for _, item := range val {
			if err := setValue(name, item, set); err != nil {
				return err
			}
		}
		return nil
	default:
		if err := set(name, fmt.Sprint(val)); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	}
}
