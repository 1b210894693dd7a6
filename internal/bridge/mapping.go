// Package bridge implements the routing core: mapping rules, match
// resolution, and the listener that dispatches received messages to
// their matched connectors.
package bridge

import (
	"fmt"
	"regexp"

	"github.com/shineum/mailbridge/internal/connector"
	"github.com/shineum/mailbridge/internal/message"
	"github.com/shineum/mailbridge/internal/parser"
)

// DefaultPattern is the sentinel pattern marking a listener's fallback
// mapping. It is never evaluated as a regular expression.
const DefaultPattern = "default"

// MappingConfig holds the parameters for creating a Mapping.
type MappingConfig struct {
	// Pattern is the regular expression tested against the field value,
	// or DefaultPattern for the fallback rule. Required.
	Pattern string

	// Field names the message attribute the pattern is tested against:
	// any header name, "body", or "peer-ip". Defaults to "from".
	Field string

	// Connector receives messages matched by this rule. Required.
	Connector connector.Connector

	// Parser transforms the message body before delivery. Defaults to
	// the plain parser.
	Parser parser.Factory

	// ParserName is the variant name used in logs, matching Parser.
	ParserName string
}

// Mapping is one routing rule: a match pattern, the field it is tested
// against, and the parser/connector pair invoked on a match. Mappings
// are immutable after construction and safe for concurrent use.
type Mapping struct {
	pattern    string
	field      string
	conn       connector.Connector
	newParser  parser.Factory
	parserName string
	re         *regexp.Regexp
}

// NewMapping validates cfg and creates a Mapping. Non-default patterns
// are compiled at construction so malformed expressions surface as
// configuration errors.
func NewMapping(cfg MappingConfig) (*Mapping, error) {
	if cfg.Pattern == "" {
		return nil, fmt.Errorf("mapping pattern must not be empty")
	}
	if cfg.Connector == nil {
		return nil, fmt.Errorf("mapping requires a connector")
	}
	if cfg.Field == "" {
		cfg.Field = "from"
	}
	if cfg.Parser == nil {
		cfg.Parser = parser.NewPlain
		cfg.ParserName = "plain"
	}

	m := &Mapping{
		pattern:    cfg.Pattern,
		field:      cfg.Field,
		conn:       cfg.Connector,
		newParser:  cfg.Parser,
		parserName: cfg.ParserName,
	}

	if cfg.Pattern != DefaultPattern {
		re, err := regexp.Compile(cfg.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid mapping pattern %q: %w", cfg.Pattern, err)
		}
		m.re = re
	}

	return m, nil
}

// Pattern returns the rule's pattern string.
func (m *Mapping) Pattern() string { return m.pattern }

// Field returns the message attribute name the pattern is tested against.
func (m *Mapping) Field() string { return m.field }

// Connector returns the delivery target invoked on a match.
func (m *Mapping) Connector() connector.Connector { return m.conn }

// ParserName returns the variant name of the rule's parser.
func (m *Mapping) ParserName() string { return m.parserName }

// NewParser constructs this rule's parser over msg.
func (m *Mapping) NewParser(msg *message.Msg) parser.Parser {
	return m.newParser(msg, nil)
}

// IsDefault reports whether this is the sentinel fallback rule.
func (m *Mapping) IsDefault() bool { return m.pattern == DefaultPattern }

// IsMatch reports whether value matches the rule's pattern anywhere
// within it. Absent values (ok == false) never match, and the default
// rule never matches by pattern.
func (m *Mapping) IsMatch(value string, ok bool) bool {
	if !ok || m.re == nil {
		return false
	}
	return m.re.MatchString(value)
}

// Matches tests the rule against msg by resolving the rule's field.
func (m *Mapping) Matches(msg *message.Msg) bool {
	return m.IsMatch(msg.Field(m.field))
}
