package connector

import "fmt"

// Config maps are decoded from YAML, so values arrive as any-typed
// strings, bools, ints, and lists. These helpers pull out the shapes the
// built-in connectors recognize and produce validate-phase errors that
// name the offending key.

func cfgString(cfg map[string]any, key string) (string, error) {
	v, ok := cfg[key]
	if !ok {
		return "", fmt.Errorf("config value %q is required", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("config value %q must be a string", key)
	}
	return s, nil
}

func cfgInt(cfg map[string]any, key string) (int, error) {
	v, ok := cfg[key]
	if !ok {
		return 0, fmt.Errorf("config value %q is required", key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("config value %q must be an integer", key)
	}
}

func cfgBool(cfg map[string]any, key string, def bool) (bool, error) {
	v, ok := cfg[key]
	if !ok {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("config value %q must be a bool", key)
	}
	return b, nil
}

func cfgStringList(cfg map[string]any, key string) ([]string, error) {
	v, ok := cfg[key]
	if !ok {
		return nil, fmt.Errorf("config value %q is required", key)
	}
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("config value %q must be a list of strings", key)
			}
			out = append(out, s)
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("config value %q must not be empty", key)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("config value %q must be a list of strings", key)
	}
}
