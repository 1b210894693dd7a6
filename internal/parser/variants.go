package parser

import (
	"fmt"

	"github.com/jaytaylor/html2text"

	"github.com/shineum/mailbridge/internal/message"
)

func init() {
	mustRegister("plain", NewPlain)
	mustRegister("html", NewHTML)
	mustRegister("auto", NewAuto)
}

// NewPlain returns the identity parser: the decoded body is delivered
// as-is.
func NewPlain(msg *message.Msg, cfg map[string]any) Parser {
	return &plainParser{NewBase("plain", msg, cfg)}
}

type plainParser struct {
	Base
}

// NewHTML returns a parser that converts an HTML body into a readable
// plain-text rendering.
func NewHTML(msg *message.Msg, cfg map[string]any) Parser {
	return &htmlParser{NewBase("html", msg, cfg)}
}

type htmlParser struct {
	Base
}

func (p *htmlParser) Content() (string, error) {
	text, err := html2text.FromString(p.Message().Body())
	if err != nil {
		return "", fmt.Errorf("failed to convert HTML body: %w", err)
	}
	return text, nil
}

// NewAuto returns a parser that selects the html or plain variant based
// on the message's declared content type. Unrecognized types fall back
// to plain.
func NewAuto(msg *message.Msg, cfg map[string]any) Parser {
	return &autoParser{NewBase("auto", msg, cfg)}
}

type autoParser struct {
	Base
}

func (p *autoParser) Content() (string, error) {
	return p.delegate().Content()
}

func (p *autoParser) delegate() Parser {
	if p.Message().ContentType() == "text/html" {
		return NewHTML(p.Message(), p.Config())
	}
	return NewPlain(p.Message(), p.Config())
}
