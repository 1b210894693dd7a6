package connector

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/mail"
	"strconv"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"github.com/shineum/mailbridge/internal/parser"
)

func init() {
	mustRegister("smtp", NewSMTP)
}

// NewSMTP returns a connector that forwards the received message to an
// upstream SMTP server for actual delivery. Config values: "smtp_host"
// and "smtp_port" are required; "smtp_use_tls" selects implicit TLS;
// "smtp_use_login" with "smtp_login_user"/"smtp_login_password" enables
// SASL PLAIN authentication.
func NewSMTP(name string, cfg map[string]any) (Connector, error) {
	return &smtpConnector{Base: NewBase(name, cfg), send: gosmtp.SendMail, sendTLS: gosmtp.SendMailTLS}, nil
}

// sendMailFunc matches the emersion/go-smtp SendMail helpers; indirected
// so tests can capture the outbound call.
type sendMailFunc func(addr string, a sasl.Client, from string, to []string, r io.Reader) error

type smtpConnector struct {
	Base

	send    sendMailFunc
	sendTLS sendMailFunc
}

func (c *smtpConnector) Validate(_ parser.Parser) error {
	host, err := cfgString(c.Config(), "smtp_host")
	if err != nil {
		return err
	}
	if _, err := net.LookupHost(host); err != nil {
		return fmt.Errorf("config value \"smtp_host\" does not resolve: %w", err)
	}

	port, err := cfgInt(c.Config(), "smtp_port")
	if err != nil {
		return err
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("config value \"smtp_port\" must be between 1 and 65535")
	}

	if _, err := cfgBool(c.Config(), "smtp_use_tls", false); err != nil {
		return err
	}

	useLogin, err := cfgBool(c.Config(), "smtp_use_login", false)
	if err != nil {
		return err
	}
	if useLogin {
		if _, err := cfgString(c.Config(), "smtp_login_user"); err != nil {
			return err
		}
		if _, err := cfgString(c.Config(), "smtp_login_password"); err != nil {
			return err
		}
	}

	return nil
}

func (c *smtpConnector) Send(p parser.Parser) error {
	msg := p.Message()

	host, _ := cfgString(c.Config(), "smtp_host")
	port, _ := cfgInt(c.Config(), "smtp_port")
	useTLS, _ := cfgBool(c.Config(), "smtp_use_tls", false)
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	from, err := envelopeFrom(msg.Header("From", ""))
	if err != nil {
		return err
	}
	to, err := envelopeRecipients(msg.Header("To", ""), msg.Header("Cc", ""))
	if err != nil {
		return err
	}

	var auth sasl.Client
	if useLogin, _ := cfgBool(c.Config(), "smtp_use_login", false); useLogin {
		user, _ := cfgString(c.Config(), "smtp_login_user")
		pass, _ := cfgString(c.Config(), "smtp_login_password")
		auth = sasl.NewPlainClient("", user, pass)
	}

	send := c.send
	proto := "smtp"
	if useTLS {
		send = c.sendTLS
		proto = "smtps"
	}

	if err := send(addr, auth, from, to, bytes.NewReader(msg.Raw())); err != nil {
		return fmt.Errorf("failed to forward message to %s://%s: %w", proto, addr, err)
	}

	c.Logger().Debug("forwarded message upstream",
		"connector", c.Name(),
		"upstream", addr,
		"proto", proto,
	)
	return nil
}

// envelopeFrom extracts the sender address used for the upstream MAIL
// FROM command from the From header.
func envelopeFrom(header string) (string, error) {
	if header == "" {
		return "", fmt.Errorf("message has no From header to forward")
	}
	addr, err := mail.ParseAddress(header)
	if err != nil {
		return "", fmt.Errorf("failed to parse From header %q: %w", header, err)
	}
	return addr.Address, nil
}

// envelopeRecipients collects the upstream RCPT TO addresses from the To
// and Cc headers.
func envelopeRecipients(headers ...string) ([]string, error) {
	var out []string
	for _, header := range headers {
		if header == "" {
			continue
		}
		addrs, err := mail.ParseAddressList(header)
		if err != nil {
			return nil, fmt.Errorf("failed to parse recipient header %q: %w", header, err)
		}
		for _, a := range addrs {
			out = append(out, a.Address)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("message has no recipient headers to forward")
	}
	return out, nil
}
