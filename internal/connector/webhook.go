package connector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shineum/mailbridge/internal/parser"
)

// webhookTimeout bounds one outbound webhook call so a slow destination
// cannot pin a session goroutine indefinitely.
const webhookTimeout = 30 * time.Second

func init() {
	mustRegister("slack", NewSlack)
	mustRegister("discord", NewDiscord)
	mustRegister("google_chat", NewGoogleChat)
	mustRegister("microsoft_teams", NewMicrosoftTeams)
}

// NewSlack returns a connector that posts messages to a Slack incoming
// webhook. Requires config value "webhook_url".
func NewSlack(name string, cfg map[string]any) (Connector, error) {
	return newWebhook(name, cfg, "text", "application/json"), nil
}

// NewDiscord returns a connector that posts messages to a Discord
// webhook. Requires config value "webhook_url".
func NewDiscord(name string, cfg map[string]any) (Connector, error) {
	return newWebhook(name, cfg, "content", "application/json"), nil
}

// NewGoogleChat returns a connector that posts messages to a Google Chat
// space webhook. Requires config value "webhook_url".
func NewGoogleChat(name string, cfg map[string]any) (Connector, error) {
	return newWebhook(name, cfg, "text", "application/json; charset=UTF-8"), nil
}

// NewMicrosoftTeams returns a connector that posts messages to a
// Microsoft Teams incoming webhook. Requires config value "webhook_url".
func NewMicrosoftTeams(name string, cfg map[string]any) (Connector, error) {
	return newWebhook(name, cfg, "text", "application/json; charset=utf-8"), nil
}

// webhookConnector covers the structurally identical chat integrations:
// they differ only in the JSON key carrying the message and the declared
// content type.
type webhookConnector struct {
	Base
	payloadKey  string
	contentType string
	client      *http.Client
}

func newWebhook(name string, cfg map[string]any, payloadKey, contentType string) *webhookConnector {
	return &webhookConnector{
		Base:        NewBase(name, cfg),
		payloadKey:  payloadKey,
		contentType: contentType,
		client:      &http.Client{Timeout: webhookTimeout},
	}
}

func (c *webhookConnector) Validate(_ parser.Parser) error {
	_, err := cfgString(c.Config(), "webhook_url")
	return err
}

func (c *webhookConnector) Send(p parser.Parser) error {
	url, err := cfgString(c.Config(), "webhook_url")
	if err != nil {
		return err
	}

	content, err := p.Content()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]string{
		c.payloadKey: fmt.Sprintf("*%s*\n\n%s", p.Subject(), content),
	})
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	resp, err := c.client.Post(url, c.contentType, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook responded with status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	c.Logger().Debug("webhook delivered",
		"connector", c.Name(),
		"status", resp.StatusCode,
	)
	return nil
}
