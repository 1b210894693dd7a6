// Package config loads the declarative YAML configuration and assembles
// it into runtime connectors, mappings, and listeners.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root of the YAML configuration file.
type Config struct {
	Connectors []ConnectorEntry `yaml:"connectors"`
	Mappings   []MappingEntry   `yaml:"mappings"`
	Listeners  []ListenerEntry  `yaml:"listeners"`
}

// ConnectorEntry declares a named connector instance of a registered
// module.
type ConnectorEntry struct {
	Name   string         `yaml:"name"`
	Module string         `yaml:"module"`
	Config map[string]any `yaml:"config"`
}

// MappingEntry declares a routing rule that binds a match pattern to a
// connector by name.
type MappingEntry struct {
	Pattern   string `yaml:"pattern"`
	Field     string `yaml:"field"`
	Connector string `yaml:"connector"`
	Parser    string `yaml:"parser"`
}

// ListenerEntry declares an SMTP endpoint. All listeners share the
// assembled mapping set.
type ListenerEntry struct {
	Address            string `yaml:"address"`
	Port               int    `yaml:"port"`
	EnableSMTPS        bool   `yaml:"enable_smtps"`
	EnableStartTLS     bool   `yaml:"enable_starttls"`
	RequireStartTLS    bool   `yaml:"require_starttls"`
	TLSCert            string `yaml:"tls_cert"`
	TLSKey             string `yaml:"tls_key"`
	MinimumTLSProtocol string `yaml:"minimum_tls_protocol"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
}

// LoadFromFile reads and parses the YAML configuration at path. Parse
// errors are returned with the file path for context; semantic
// validation happens during assembly.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}
