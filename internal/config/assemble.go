package config

import (
	"fmt"
	"log/slog"

	"github.com/shineum/mailbridge/internal/bridge"
	"github.com/shineum/mailbridge/internal/connector"
	"github.com/shineum/mailbridge/internal/parser"
	"github.com/shineum/mailbridge/internal/tlsutil"
)

// defaultParser is applied to mapping entries that do not name one.
const defaultParser = "auto"

// BuildConnectors constructs the named connector instances. Names must
// be unique and every module must be registered.
func BuildConnectors(entries []ConnectorEntry) (map[string]connector.Connector, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("at least one connector is required")
	}

	connectors := make(map[string]connector.Connector, len(entries))
	for i, entry := range entries {
		if entry.Name == "" {
			return nil, fmt.Errorf("connector %d: name is required", i)
		}
		if _, exists := connectors[entry.Name]; exists {
			return nil, fmt.Errorf("connector %d: duplicate name %q", i, entry.Name)
		}

		factory, ok := connector.Get(entry.Module)
		if !ok {
			return nil, fmt.Errorf("connector %q: unknown module %q (available: %v)",
				entry.Name, entry.Module, connector.Modules())
		}

		conn, err := factory(entry.Name, entry.Config)
		if err != nil {
			return nil, fmt.Errorf("connector %q: %w", entry.Name, err)
		}
		connectors[entry.Name] = conn
	}

	return connectors, nil
}

// BuildMappings constructs the ordered mapping set, resolving connector
// references against the assembled connectors.
func BuildMappings(entries []MappingEntry, connectors map[string]connector.Connector) ([]*bridge.Mapping, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("at least one mapping is required")
	}

	mappings := make([]*bridge.Mapping, 0, len(entries))
	for i, entry := range entries {
		if entry.Connector == "" {
			return nil, fmt.Errorf("mapping %d: connector is required", i)
		}
		conn, ok := connectors[entry.Connector]
		if !ok {
			return nil, fmt.Errorf("mapping %d: unknown connector %q", i, entry.Connector)
		}

		parserName := entry.Parser
		if parserName == "" {
			parserName = defaultParser
		}
		parserFactory, ok := parser.Get(parserName)
		if !ok {
			return nil, fmt.Errorf("mapping %d: unknown parser %q (available: %v)",
				i, parserName, parser.Names())
		}

		mapping, err := bridge.NewMapping(bridge.MappingConfig{
			Pattern:    entry.Pattern,
			Field:      entry.Field,
			Connector:  conn,
			Parser:     parserFactory,
			ParserName: parserName,
		})
		if err != nil {
			return nil, fmt.Errorf("mapping %d: %w", i, err)
		}
		mappings = append(mappings, mapping)
	}

	return mappings, nil
}

// BuildListeners constructs the listeners, each sharing the assembled
// mapping set.
func BuildListeners(entries []ListenerEntry, mappings []*bridge.Mapping, log *slog.Logger) ([]*bridge.Listener, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("at least one listener is required")
	}

	listeners := make([]*bridge.Listener, 0, len(entries))
	for i, entry := range entries {
		cfg, err := listenerConfig(entry, mappings, log)
		if err != nil {
			return nil, fmt.Errorf("listener %d: %w", i, err)
		}
		listener, err := bridge.NewListener(cfg)
		if err != nil {
			return nil, fmt.Errorf("listener %d: %w", i, err)
		}
		listeners = append(listeners, listener)
	}

	return listeners, nil
}

func listenerConfig(entry ListenerEntry, mappings []*bridge.Mapping, log *slog.Logger) (bridge.ListenerConfig, error) {
	if log == nil {
		log = slog.Default()
	}
	cfg := bridge.ListenerConfig{
		Address:         entry.Address,
		Port:            entry.Port,
		Mappings:        mappings,
		EnableStartTLS:  entry.EnableStartTLS,
		RequireStartTLS: entry.RequireStartTLS,
		AuthUsername:    entry.Username,
		AuthPassword:    entry.Password,
		Logger:          log.With("listener", fmt.Sprintf("%s:%d", entry.Address, entry.Port)),
	}

	if entry.EnableSMTPS && entry.EnableStartTLS {
		return cfg, fmt.Errorf("enable_smtps and enable_starttls are mutually exclusive")
	}
	if entry.RequireStartTLS && !entry.EnableStartTLS {
		return cfg, fmt.Errorf("require_starttls requires enable_starttls")
	}
	if (entry.Username == "") != (entry.Password == "") {
		return cfg, fmt.Errorf("username and password must be set together")
	}

	if entry.EnableSMTPS || entry.EnableStartTLS {
		tlsConfig, err := tlsutil.ServerConfig(entry.TLSCert, entry.TLSKey, entry.MinimumTLSProtocol)
		if err != nil {
			return cfg, err
		}
		cfg.TLSConfig = tlsConfig
	}

	return cfg, nil
}

// Assemble runs the full pipeline: connectors, then mappings, then
// listeners. The returned listeners are ready to start.
func Assemble(cfg *Config, log *slog.Logger) ([]*bridge.Listener, error) {
	connectors, err := BuildConnectors(cfg.Connectors)
	if err != nil {
		return nil, err
	}
	mappings, err := BuildMappings(cfg.Mappings, connectors)
	if err != nil {
		return nil, err
	}
	return BuildListeners(cfg.Listeners, mappings, log)
}
