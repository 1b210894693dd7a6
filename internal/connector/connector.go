// Package connector defines the delivery target contract, the two-phase
// dispatch protocol, and the registry of built-in and externally
// registered connector variants.
package connector

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shineum/mailbridge/internal/parser"
)

// ErrNotImplemented is returned by the base Send, signaling that a
// variant did not provide its own delivery implementation.
var ErrNotImplemented = errors.New("send is not implemented by this connector")

// Connector delivers a parsed message to an external destination.
// Validate runs before every Send and typically checks that the
// required configuration keys are present.
type Connector interface {
	// Name returns the instance name assigned at construction, used for
	// logging and config references.
	Name() string

	// Validate performs pre-send checks for one dispatch.
	Validate(p parser.Parser) error

	// Send delivers the parsed message to the destination.
	Send(p parser.Parser) error
}

// LoggerSetter is implemented by connectors that accept an injected
// logger. The owning listener rebinds its logger into every connector in
// its mapping set.
type LoggerSetter interface {
	SetLogger(log *slog.Logger)
}

// ValidationError is the canonical error kind for validate-phase
// failures. Send-phase errors are returned unmodified.
type ValidationError struct {
	Connector string
	Err       error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("pre-send checks for connector %q failed: %v", e.Connector, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Run executes the two-phase dispatch protocol against c: Validate
// first, then Send only if validation succeeded. Validate failures are
// logged and returned wrapped in a ValidationError; Send failures are
// logged and returned as-is.
func Run(c Connector, p parser.Parser, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}

	if err := c.Validate(p); err != nil {
		log.Error("connector pre-send checks failed",
			"connector", c.Name(),
			"error", err,
		)
		return &ValidationError{Connector: c.Name(), Err: err}
	}

	if err := c.Send(p); err != nil {
		log.Error("connector send failed",
			"connector", c.Name(),
			"error", err,
		)
		return err
	}

	return nil
}

// Factory constructs a connector instance. name is the instance name
// from the configuration entry; cfg is its free-form config map and may
// be nil.
type Factory func(name string, cfg map[string]any) (Connector, error)

var registry = map[string]Factory{}

// Register makes a connector module available for config references
// under the given module name. It returns an error if the name is
// already taken.
func Register(module string, f Factory) error {
	if _, ok := registry[module]; ok {
		return fmt.Errorf("connector module %q is already registered", module)
	}
	registry[module] = f
	return nil
}

// Get returns the factory registered under the given module name.
func Get(module string) (Factory, bool) {
	f, ok := registry[module]
	return f, ok
}

// Modules returns the sorted names of all registered connector modules.
func Modules() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func mustRegister(module string, f Factory) {
	if err := Register(module, f); err != nil {
		panic(err)
	}
}

// Base carries the state shared by all connector variants: the instance
// name, the free-form config map, and the logger bound by the owning
// listener. Variants embed it and override Send (and usually Validate).
type Base struct {
	name string
	cfg  map[string]any
	log  *slog.Logger
}

// NewBase creates the embedded connector state for a variant.
func NewBase(name string, cfg map[string]any) Base {
	if cfg == nil {
		cfg = map[string]any{}
	}
	return Base{name: name, cfg: cfg, log: slog.Default()}
}

// Name returns the instance name.
func (b *Base) Name() string { return b.name }

// Config returns the free-form config map supplied at construction.
func (b *Base) Config() map[string]any { return b.cfg }

// SetLogger rebinds the connector's logger. Called by the owning
// listener whenever its mapping set or logger changes.
func (b *Base) SetLogger(log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	b.log = log
}

// Logger returns the currently bound logger.
func (b *Base) Logger() *slog.Logger { return b.log }

// Validate succeeds by default; variants only override what they need.
func (b *Base) Validate(_ parser.Parser) error { return nil }

// Send fails with ErrNotImplemented. It exists only to be overridden.
func (b *Base) Send(_ parser.Parser) error { return ErrNotImplemented }
