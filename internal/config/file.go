package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile overlays the YAML file at path onto c. Keys missing from the file
// keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: failed to read config file: %v", ErrInvalid, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("%w: failed to parse config file %s: %v", ErrInvalid, path, err)
	}
	return nil
}
