package connector

import "github.com/shineum/mailbridge/internal/parser"

func init() {
	mustRegister("void", NewVoid)
}

// NewVoid returns the discard connector: every message is accepted and
// dropped. Useful as the default mapping target and in tests.
func NewVoid(name string, cfg map[string]any) (Connector, error) {
	return &voidConnector{NewBase(name, cfg)}, nil
}

type voidConnector struct {
	Base
}

func (c *voidConnector) Send(p parser.Parser) error {
	c.Logger().Debug("discarded message",
		"connector", c.Name(),
		"subject", p.Subject(),
	)
	return nil
}
