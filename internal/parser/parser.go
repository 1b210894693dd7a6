// Package parser defines the content transformer contract applied to a
// message body before delivery, plus the registry of available variants.
package parser

import (
	"fmt"
	"sort"

	"github.com/shineum/mailbridge/internal/message"
)

// Parser transforms the body of one received message into the
// representation a connector delivers. Parsers are constructed per
// message and must not mutate it.
type Parser interface {
	// Name returns the variant name, used for logging and config lookups.
	Name() string

	// Subject returns the message subject, or a placeholder when absent.
	Subject() string

	// Content returns the transformed message body.
	Content() (string, error)

	// Message returns the message this parser was constructed over.
	Message() *message.Msg
}

// Factory constructs a Parser over a message. cfg carries free-form
// variant options and may be nil.
type Factory func(msg *message.Msg, cfg map[string]any) Parser

var registry = map[string]Factory{}

// Register makes a parser variant available for config references under
// the given name. It returns an error if the name is already taken.
func Register(name string, f Factory) error {
	if _, ok := registry[name]; ok {
		return fmt.Errorf("parser %q is already registered", name)
	}
	registry[name] = f
	return nil
}

// Get returns the factory registered under name.
func Get(name string) (Factory, bool) {
	f, ok := registry[name]
	return f, ok
}

// Names returns the sorted names of all registered parser variants.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func mustRegister(name string, f Factory) {
	if err := Register(name, f); err != nil {
		panic(err)
	}
}

// Base carries the state shared by all parser variants. Variants embed
// it and override Content.
type Base struct {
	name string
	msg  *message.Msg
	cfg  map[string]any
}

// NewBase creates the embedded parser state for a variant.
func NewBase(name string, msg *message.Msg, cfg map[string]any) Base {
	return Base{name: name, msg: msg, cfg: cfg}
}

// Name returns the variant name.
func (b *Base) Name() string { return b.name }

// Message returns the message this parser was constructed over.
func (b *Base) Message() *message.Msg { return b.msg }

// Config returns the free-form variant options supplied at construction.
func (b *Base) Config() map[string]any { return b.cfg }

// Subject returns the message Subject header, defaulting to "No subject".
func (b *Base) Subject() string {
	return b.msg.Header("Subject", "No subject")
}

// Content returns the decoded body unchanged. Variants override this to
// apply their transformation.
func (b *Base) Content() (string, error) {
	return b.msg.Body(), nil
}
