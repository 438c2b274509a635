package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// YAMLProvider implements ConfigProvider for YAML configuration files
type YAMLProvider struct {
	filename string
}

// NewYAMLProvider creates a new YAML configuration provider
func NewYAMLProvider(filename string) *YAMLProvider {
	return &YAMLProvider{
		filename: filename,
	}
}

// LoadConfig reads the file over the defaults and validates the result.
// Keys absent from the file keep their default values.
func (y *YAMLProvider) LoadConfig() (*ConfigData, error) {
	cfgFile, err := os.ReadFile(y.filename)
	if err != nil {
		return nil, err
	}
	return Parse(cfgFile)
}

// Parse decodes a YAML document over the defaults and validates it
func Parse(b []byte) (*ConfigData, error) {
	config := Default()
	if err := yaml.Unmarshal(b, config); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
